package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/internal/models"
	"github.com/edgelink/ble-gateway/internal/utils"
)

// BrokerPublisher is the slice of the broker connection manager the metrics
// service needs.
type BrokerPublisher interface {
	IsConnected() bool
	Publish(topic string, payload []byte) error
}

// Service periodically collects host metrics and publishes them as JSON.
// Like telemetry, delivery is best-effort: a pass while the broker is down
// is skipped.
type Service struct {
	pubTopic   string
	gatewayID  string
	interval   time.Duration
	timeout    time.Duration
	broker     BrokerPublisher
	logger     zerolog.Logger
	registry   *Registry
	workerPool *utils.WorkerPool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService initializes a metrics service with the default host collectors.
func NewService(pubTopic, gatewayID string, interval, timeout time.Duration,
	broker BrokerPublisher, logger zerolog.Logger) *Service {

	service := &Service{
		pubTopic:   pubTopic,
		gatewayID:  gatewayID,
		interval:   interval,
		timeout:    timeout,
		broker:     broker,
		logger:     logger,
		registry:   NewRegistry(),
		workerPool: utils.NewWorkerPool(4),
	}

	service.registry.Register(&CPUCollector{Logger: logger})
	service.registry.Register(&MemoryCollector{Logger: logger})
	service.registry.Register(&UptimeCollector{Logger: logger})

	return service
}

// Start initiates periodic metrics collection and publishing.
func (s *Service) Start() error {
	if s.ctx != nil {
		s.logger.Warn().Msg("Metrics service is already running")
		return errors.New("metrics service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runCollectionLoop()
	}()

	s.logger.Info().Str("topic", s.pubTopic).Dur("interval", s.interval).Msg("Metrics service started successfully")
	return nil
}

// Stop gracefully stops the metrics service.
func (s *Service) Stop() error {
	if s.ctx == nil {
		s.logger.Warn().Msg("Metrics service is not running")
		return errors.New("metrics service is not running")
	}

	s.cancel()
	s.wg.Wait()
	if !s.workerPool.Shutdown(s.timeout) {
		s.logger.Warn().Msg("Worker pool did not drain before the timeout")
	}

	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("Metrics service stopped successfully")
	return nil
}

func (s *Service) runCollectionLoop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.collectAndPublish()
		case <-s.ctx.Done():
			s.logger.Info().Msg("Metrics service stopping gracefully")
			return
		}
	}
}

// collectAndPublish fans one collection pass out over the worker pool,
// bounded by the configured timeout, and publishes whatever was gathered.
func (s *Service) collectAndPublish() {
	if !s.broker.IsConnected() {
		s.logger.Debug().Msg("Broker not connected, skipping metrics pass")
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	snapshot := models.GatewayMetrics{
		Timestamp: time.Now().UTC(),
		GatewayID: s.gatewayID,
	}

	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, collector := range s.registry.Collectors() {
		wg.Add(1)
		name, collector := name, collector
		s.workerPool.Submit(func() {
			defer wg.Done()

			value := collector.Collect(ctx)
			if value == nil {
				return
			}

			mu.Lock()
			defer mu.Unlock()
			switch name {
			case "cpu":
				if v, ok := value.(*float64); ok {
					snapshot.CPUPercent = v
				}
			case "memory":
				if v, ok := value.(*float64); ok {
					snapshot.MemoryPercent = v
				}
			case "uptime":
				if v, ok := value.(*uint64); ok {
					snapshot.UptimeSeconds = v
				}
			}
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("Metrics collection pass timed out, publishing partial snapshot")
	}

	// A timed-out collector may still be writing; marshal under the lock.
	mu.Lock()
	payload, err := json.Marshal(snapshot)
	mu.Unlock()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to serialize metrics snapshot")
		return
	}

	if err := s.broker.Publish(s.pubTopic, payload); err != nil {
		s.logger.Error().Err(err).Msg("Failed to publish metrics snapshot")
		return
	}

	s.logger.Debug().Msg("Metrics published successfully")
}
