// Package telemetry implements the periodic forwarding loop: on every tick
// it publishes either one message per connected device or a single gateway
// heartbeat, and nothing at all while the broker is down.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/internal/models"
	"github.com/edgelink/ble-gateway/internal/registry"
)

// BrokerPublisher is the slice of the broker connection manager the
// dispatcher needs.
type BrokerPublisher interface {
	IsConnected() bool
	Publish(topic string, payload []byte) error
}

// SessionSource is the slice of the session registry the dispatcher needs.
type SessionSource interface {
	Snapshot() []registry.SessionView
	ConsumeButtonLatch(identity string) (bool, int)
	RestoreButtonLatch(identity string, count int)
}

// Dispatcher publishes telemetry on a fixed period. Delivery is best-effort:
// a tick while the broker is down is skipped entirely, no buffering and no
// backlog. Only the button latch carries over, because it is consumed on the
// tick that reports it.
type Dispatcher struct {
	topic     string
	gatewayID string
	interval  time.Duration
	sessions  SessionSource
	broker    BrokerPublisher
	logger    zerolog.Logger

	// now is swappable for tests.
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher initializes a new Dispatcher.
func NewDispatcher(topic, gatewayID string, interval time.Duration,
	sessions SessionSource, broker BrokerPublisher, logger zerolog.Logger) *Dispatcher {

	return &Dispatcher{
		topic:     topic,
		gatewayID: gatewayID,
		interval:  interval,
		sessions:  sessions,
		broker:    broker,
		logger:    logger,
		now:       time.Now,
	}
}

// Start launches the dispatch loop in a separate goroutine.
func (d *Dispatcher) Start() error {
	if d.ctx != nil {
		d.logger.Warn().Msg("Telemetry dispatcher is already running")
		return errors.New("telemetry dispatcher is already running")
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runDispatchLoop()
	}()

	d.logger.Info().Str("topic", d.topic).Dur("interval", d.interval).Msg("Telemetry dispatcher started successfully")
	return nil
}

// Stop gracefully stops the dispatch loop.
func (d *Dispatcher) Stop() error {
	if d.ctx == nil {
		d.logger.Warn().Msg("Telemetry dispatcher is not running")
		return errors.New("telemetry dispatcher is not running")
	}

	d.cancel()
	d.wg.Wait()

	d.ctx = nil
	d.cancel = nil

	d.logger.Info().Msg("Telemetry dispatcher stopped successfully")
	return nil
}

func (d *Dispatcher) runDispatchLoop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.DispatchOnce()
		case <-d.ctx.Done():
			d.logger.Info().Msg("Telemetry dispatcher stopping gracefully")
			return
		}
	}
}

// DispatchOnce runs a single tick: N device messages when sessions exist,
// exactly one heartbeat when none do, nothing while the broker is down.
func (d *Dispatcher) DispatchOnce() {
	if !d.broker.IsConnected() {
		d.logger.Debug().Msg("Broker not connected, skipping telemetry tick")
		return
	}

	views := d.sessions.Snapshot()
	if len(views) == 0 {
		d.publish(models.NewHeartbeatMessage(d.gatewayID, d.now()))
		return
	}

	for _, view := range views {
		pressed, count := d.sessions.ConsumeButtonLatch(view.Identity)
		msg := models.NewDeviceMessage(
			d.gatewayID, view.Identity, d.now(),
			view.Telemetry.Temperature, view.Telemetry.Humidity, view.Telemetry.Pressure,
			pressed, count,
		)
		if err := d.publish(msg); err != nil && pressed {
			// The press never left the gateway; re-arm the latch so the
			// next successful publish carries it.
			d.sessions.RestoreButtonLatch(view.Identity, count)
		}
	}
}

func (d *Dispatcher) publish(msg models.TelemetryMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		d.logger.Error().Err(err).Msg("Failed to serialize telemetry message")
		return err
	}

	if err := d.broker.Publish(d.topic, payload); err != nil {
		d.logger.Error().Err(err).Str("device", msg.DeviceID).Msg("Failed to publish telemetry message")
		return err
	}

	d.logger.Debug().Str("status", msg.Status).Str("device", msg.DeviceID).Msg("Telemetry published successfully")
	return nil
}
