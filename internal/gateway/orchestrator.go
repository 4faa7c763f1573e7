// Package gateway composes the gateway subsystems: it owns startup
// sequencing, ordered shutdown and the running/stopping application state.
package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ApplicationState tracks whether the gateway is serving or tearing down.
type ApplicationState int

const (
	// StateRunning means subsystems are live and events are processed.
	StateRunning ApplicationState = iota
	// StateStopping means shutdown has begun; further external events are
	// ignored.
	StateStopping
)

// Orchestrator starts registered services in order after the startup grace
// delay and stops them in reverse order exactly once. Shutdown is idempotent
// so the fatal-error path can invoke it without recursing.
type Orchestrator struct {
	services    map[string]Service
	serviceKeys []string

	startupDelay time.Duration
	logger       zerolog.Logger

	mu      sync.Mutex
	state   ApplicationState
	started bool
	stopped bool
}

// NewOrchestrator initializes an empty orchestrator.
func NewOrchestrator(startupDelay time.Duration, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		services:     make(map[string]Service),
		startupDelay: startupDelay,
		state:        StateRunning,
		logger:       logger,
	}
}

// Register adds a service under a name, preserving registration order for
// startup. Registering the same name twice is ignored with a warning.
func (o *Orchestrator) Register(name string, svc Service) {
	if _, exists := o.services[name]; exists {
		o.logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	o.services[name] = svc
	o.serviceKeys = append(o.serviceKeys, name)
	o.logger.Info().Msgf("Registered service: %s", name)
}

// State returns the current application state.
func (o *Orchestrator) State() ApplicationState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start waits out the startup grace delay, then starts every registered
// service in registration order. If one fails, the already started services
// are stopped in reverse order and the error is returned.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator is already started")
	}
	o.started = true
	o.mu.Unlock()

	if o.startupDelay > 0 {
		o.logger.Info().Dur("delay", o.startupDelay).Msg("Waiting for wireless hardware to become available")
		time.Sleep(o.startupDelay)
	}

	var startedKeys []string
	for _, name := range o.serviceKeys {
		o.logger.Info().Msgf("Starting service: %s", name)
		if err := o.services[name].Start(); err != nil {
			o.logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			o.logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedKeys) - 1; i >= 0; i-- {
				_ = o.services[startedKeys[i]].Stop()
			}
			return fmt.Errorf("failed to start service %s: %w", name, err)
		}
		startedKeys = append(startedKeys, name)
	}

	o.logger.Info().Msg("All services started successfully")
	return nil
}

// Shutdown stops every service in reverse registration order. It is
// idempotent: only the first call does any work, so signal handlers and the
// fatal-error path can both invoke it safely.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		o.logger.Debug().Msg("Shutdown already in progress, ignoring")
		return
	}
	o.stopped = true
	o.state = StateStopping
	o.mu.Unlock()

	o.logger.Info().Msg("Shutting down gracefully...")
	for i := len(o.serviceKeys) - 1; i >= 0; i-- {
		name := o.serviceKeys[i]
		o.logger.Info().Msgf("Stopping service: %s", name)
		if err := o.services[name].Stop(); err != nil {
			o.logger.Error().Err(err).Msgf("Failed to stop service: %s", name)
		}
	}
	o.logger.Info().Msg("All services stopped")
}
