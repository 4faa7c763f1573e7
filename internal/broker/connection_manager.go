// Package broker owns the single outbound broker connection and its
// connect/retry cycle. The backend client only dials when told to; all retry
// policy lives here.
package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/pkg/brokerclient"
)

// State is the broker connection state.
type State int

const (
	// StateReady means no attempt is in flight and no connection is live.
	StateReady State = iota
	// StateConnecting means one dial attempt is dispatched and its outcome
	// is pending.
	StateConnecting
	// StateConnected means the connection is usable for publishing.
	StateConnected
)

// String returns the state name for logs and the status endpoint.
func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionManager drives the broker connection state machine. A fixed
// retry ticker dispatches a dial attempt only when the state is Ready, which
// bounds attempt concurrency to exactly one in flight. Any failure or loss
// event forces the state back to Ready so the next tick retries.
type ConnectionManager struct {
	client        brokerclient.Client
	retryInterval time.Duration
	logger        zerolog.Logger

	mu    sync.Mutex
	state State

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConnectionManager wires a backend client to the retry cycle.
func NewConnectionManager(client brokerclient.Client, retryInterval time.Duration, logger zerolog.Logger) *ConnectionManager {
	return &ConnectionManager{
		client:        client,
		retryInterval: retryInterval,
		state:         StateReady,
		logger:        logger,
	}
}

// Start launches the connection loop. The first dial attempt is dispatched
// immediately; later attempts follow the retry ticker.
func (m *ConnectionManager) Start() error {
	if m.ctx != nil {
		m.logger.Warn().Msg("Broker connection manager is already running")
		return errors.New("broker connection manager is already running")
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runConnectionLoop()
	}()

	m.logger.Info().Dur("retry_interval", m.retryInterval).Msg("Broker connection manager started successfully")
	return nil
}

// Stop cancels the retry timer and tears down any live or in-flight
// connection.
func (m *ConnectionManager) Stop() error {
	if m.ctx == nil {
		m.logger.Warn().Msg("Broker connection manager is not running")
		return errors.New("broker connection manager is not running")
	}

	m.cancel()
	m.wg.Wait()

	m.ctx = nil
	m.cancel = nil

	if err := m.client.Close(); err != nil {
		m.logger.Warn().Err(err).Msg("Broker client close reported an error")
	}

	m.setState(StateReady)
	m.logger.Info().Msg("Broker connection manager stopped successfully")
	return nil
}

// State returns the current connection state.
func (m *ConnectionManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsConnected reports whether the connection is usable for publishing.
func (m *ConnectionManager) IsConnected() bool {
	return m.State() == StateConnected
}

// Publish sends one payload to a topic, fire-and-forget. It is only
// meaningful while connected; a publish in any other state is dropped and
// reported, never retried or buffered.
func (m *ConnectionManager) Publish(topic string, payload []byte) error {
	if !m.IsConnected() {
		return errors.New("broker is not connected")
	}
	if err := m.client.Publish(topic, payload); err != nil {
		m.logger.Error().Err(err).Str("topic", topic).Msg("Publish failed, message dropped")
		return err
	}
	return nil
}

func (m *ConnectionManager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// runConnectionLoop is the single goroutine that owns state transitions. It
// multiplexes the retry ticker and the backend's lifecycle events, so a
// concurrent tick can never observe a half-applied transition.
func (m *ConnectionManager) runConnectionLoop() {
	ticker := time.NewTicker(m.retryInterval)
	defer ticker.Stop()

	m.dialIfReady()

	for {
		select {
		case <-ticker.C:
			m.dialIfReady()

		case ev, ok := <-m.client.Events():
			if !ok {
				return
			}
			m.handleEvent(ev)

		case <-m.ctx.Done():
			m.logger.Info().Msg("Broker connection loop stopping gracefully")
			return
		}
	}
}

// dialIfReady dispatches one dial attempt, but only from Ready.
func (m *ConnectionManager) dialIfReady() {
	m.mu.Lock()
	if m.state != StateReady {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.mu.Unlock()

	m.logger.Debug().Msg("Dispatching broker connection attempt")
	if err := m.client.Dial(); err != nil {
		m.logger.Error().Err(err).Msg("Failed to dispatch broker connection attempt")
		m.setState(StateReady)
	}
}

func (m *ConnectionManager) handleEvent(ev brokerclient.Event) {
	switch ev.Type {
	case brokerclient.EventConnected:
		m.setState(StateConnected)
		m.logger.Info().Msg("Broker connected")

	case brokerclient.EventConnectFailed:
		m.setState(StateReady)
		m.logger.Warn().Err(ev.Err).Msg("Broker connection attempt failed")

	case brokerclient.EventConnectionLost:
		m.setState(StateReady)
		m.logger.Warn().Err(ev.Err).Msg("Broker connection lost")
	}
}
