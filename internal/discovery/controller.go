// Package discovery runs the discover, connect, subscribe workflow against
// the allow-listed device identities. It is self-healing: a failed attempt
// leaves the device absent and a later cycle retries it, and a periodic
// restart cycle recovers from scan subsystems that silently stop matching.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/internal/registry"
	"github.com/edgelink/ble-gateway/pkg/identity"
	"github.com/edgelink/ble-gateway/pkg/peripheral"
)

// Phase is the discovery state machine's current phase.
type Phase int

const (
	// PhaseIdle means no discovery requests are outstanding.
	PhaseIdle Phase = iota
	// PhaseScanning means requests are outstanding for missing devices.
	PhaseScanning
	// PhaseCoolingDown means requests were stopped and the controller is
	// waiting for the transport to settle before re-issuing them.
	PhaseCoolingDown
)

// String returns the phase name for logs and the status endpoint.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseScanning:
		return "scanning"
	case PhaseCoolingDown:
		return "cooling_down"
	default:
		return "unknown"
	}
}

// Options are the controller tunables.
type Options struct {
	// StaggerDelay spaces out per-identity discovery requests.
	StaggerDelay time.Duration
	// RestartInterval is the period of the stop, cooldown, re-issue cycle.
	RestartInterval time.Duration
	// Cooldown lets the transport settle between stop and re-issue.
	Cooldown time.Duration
	// ConnectTimeout bounds one connect+setup attempt.
	ConnectTimeout time.Duration
	// ShutdownTimeout bounds best-effort teardown during Stop.
	ShutdownTimeout time.Duration
	// MinFirmware, when set, rejects devices whose firmware revision parses
	// as a semantic version below it.
	MinFirmware *semver.Version
}

// Controller ensures exactly one live, subscribed session exists per
// allow-listed device. All wireless-layer failures are logged and retried on
// a later cycle; none terminates the process.
type Controller struct {
	transport peripheral.Transport
	sessions  *registry.SessionRegistry
	allowList *identity.AllowList
	opts      Options
	logger    zerolog.Logger

	mu       sync.Mutex
	phase    Phase
	stopping bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController initializes a new discovery Controller.
func NewController(transport peripheral.Transport, sessions *registry.SessionRegistry,
	allowList *identity.AllowList, opts Options, logger zerolog.Logger) *Controller {

	return &Controller{
		transport: transport,
		sessions:  sessions,
		allowList: allowList,
		opts:      opts,
		phase:     PhaseIdle,
		logger:    logger,
	}
}

// Start runs one discovery cycle immediately and launches the restart loop.
func (c *Controller) Start() error {
	if c.ctx != nil {
		c.logger.Warn().Msg("Discovery controller is already running")
		return errors.New("discovery controller is already running")
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.mu.Lock()
	c.stopping = false
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.runRestartLoop()
	}()

	c.logger.Info().
		Int("allow_list_size", c.allowList.Size()).
		Bool("accept_any", c.allowList.AcceptsAny()).
		Msg("Discovery controller started successfully")
	return nil
}

// Stop cancels discovery and tears down every live session, best-effort and
// bounded so a stuck transport cannot hang shutdown.
func (c *Controller) Stop() error {
	if c.ctx == nil {
		c.logger.Warn().Msg("Discovery controller is not running")
		return errors.New("discovery controller is not running")
	}

	c.cancel()
	c.wg.Wait()

	c.ctx = nil
	c.cancel = nil

	// Bar connect callbacks still in flight from admitting a session;
	// registerSession checks this flag under the same lock, so everything
	// admitted before this point is visible to the teardown below.
	c.mu.Lock()
	c.stopping = true
	c.mu.Unlock()

	if err := c.transport.StopAllDiscovery(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to stop outstanding discovery requests")
	}
	c.disconnectAllSessions()
	c.setPhase(PhaseIdle)

	c.logger.Info().Msg("Discovery controller stopped successfully")
	return nil
}

// Phase returns the discovery state machine's current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// runRestartLoop issues the first cycle, then periodically stops all
// outstanding requests, waits out the cooldown and re-issues requests for
// any identity still missing. Connected sessions are never disturbed.
func (c *Controller) runRestartLoop() {
	c.issueCycle()

	ticker := time.NewTicker(c.opts.RestartInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.restartCycle()
		case <-c.ctx.Done():
			c.logger.Info().Msg("Discovery restart loop stopping gracefully")
			return
		}
	}
}

func (c *Controller) restartCycle() {
	c.logger.Debug().Msg("Restarting discovery cycle")

	if err := c.transport.StopAllDiscovery(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to stop discovery before restart")
	}

	c.setPhase(PhaseCoolingDown)
	if !c.sleep(c.opts.Cooldown) {
		return
	}

	c.issueCycle()
}

// issueCycle issues one discovery request per allow-listed identity missing
// from the registry, staggered so the scan subsystem never sees a burst of
// concurrent filtered scans. A wildcard allow-list gets a single catch-all
// request per cycle; each match spends the request and the next cycle
// re-issues it.
func (c *Controller) issueCycle() {
	c.setPhase(PhaseScanning)

	if c.allowList.AcceptsAny() {
		c.issueRequest("*", func(adv peripheral.Advertisement) bool {
			return !c.sessions.Has(identity.NormalizeDeviceID(adv.Address()))
		})
		return
	}

	first := true
	for _, id := range c.allowList.Identities() {
		if c.sessions.Has(id) {
			continue
		}
		if !first && !c.sleep(c.opts.StaggerDelay) {
			return
		}
		first = false

		wanted := id
		c.issueRequest(wanted, func(adv peripheral.Advertisement) bool {
			return identity.NormalizeDeviceID(adv.Address()) == wanted
		})
	}
}

func (c *Controller) issueRequest(label string, filter peripheral.Filter) {
	// Match callbacks arrive on transport goroutines; connect+setup runs in
	// its own goroutine so a slow link never blocks the transport. Callbacks
	// landing after Stop see a cancelled context and back out.
	ctx := c.ctx
	requestID, err := c.transport.Discover(ctx, filter, func(adv peripheral.Advertisement) {
		go c.handleMatch(ctx, adv)
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("device", label).Msg("Failed to issue discovery request")
		return
	}
	c.logger.Debug().Str("device", label).Str("request_id", requestID).Msg("Discovery request issued")
}

// handleMatch attempts connect+setup for a matched advertisement. Every
// failure path leaves the device absent from the registry so the next cycle
// retries it.
func (c *Controller) handleMatch(ctx context.Context, adv peripheral.Advertisement) {
	if ctx.Err() != nil {
		return
	}

	deviceID := identity.NormalizeDeviceID(adv.Address())
	if c.sessions.Has(deviceID) {
		return
	}

	c.logger.Info().Str("device", deviceID).Int("rssi", adv.RSSI()).Msg("Device matched, connecting")

	connectCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	conn, err := c.transport.Connect(connectCtx, adv)
	if err != nil {
		c.logger.Warn().Err(err).Str("device", deviceID).Msg("Connect failed, will retry on a later cycle")
		return
	}

	if err := c.checkFirmware(conn); err != nil {
		c.logger.Warn().Err(err).Str("device", deviceID).Msg("Device rejected by firmware gate")
		_ = conn.Close()
		return
	}

	if !c.registerSession(ctx, deviceID, conn) {
		// Shutdown began while the dial was in flight, or another callback
		// already registered this device; drop the link.
		_ = conn.Close()
		return
	}

	conn.OnDisconnect(func(reason error) {
		c.sessions.Remove(deviceID)
		c.logger.Warn().Err(reason).Str("device", deviceID).Msg("Device disconnected")
	})

	if err := c.subscribeStreams(deviceID, conn); err != nil {
		c.logger.Warn().Err(err).Str("device", deviceID).Msg("Stream setup failed, dropping session")
		c.sessions.Remove(deviceID)
		_ = conn.Close()
		return
	}

	c.logger.Info().Str("device", deviceID).Msg("Device connected and subscribed")
}

// registerSession admits a connected peripheral unless shutdown has begun.
// It holds the controller lock, so a connect that completes while Stop runs
// can never insert a session behind the registry teardown.
func (c *Controller) registerSession(ctx context.Context, deviceID string, conn peripheral.Connection) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopping || ctx.Err() != nil {
		return false
	}
	return c.sessions.Upsert(deviceID, conn)
}

// subscribeStreams enables all four notification streams, routing each value
// into the session registry keyed by the identity carried on the connection.
func (c *Controller) subscribeStreams(deviceID string, conn peripheral.Connection) error {
	handlers := map[peripheral.Stream]peripheral.NotificationHandler{
		peripheral.StreamButton: func(value float64) {
			if value != 0 {
				c.sessions.PressButton(deviceID)
			}
		},
		peripheral.StreamTemperature: func(value float64) {
			c.sessions.UpdateField(deviceID, registry.FieldTemperature, value)
		},
		peripheral.StreamHumidity: func(value float64) {
			c.sessions.UpdateField(deviceID, registry.FieldHumidity, value)
		},
		peripheral.StreamPressure: func(value float64) {
			c.sessions.UpdateField(deviceID, registry.FieldPressure, value)
		},
	}

	for _, stream := range peripheral.Streams() {
		if err := conn.EnableStream(stream, handlers[stream]); err != nil {
			return fmt.Errorf("failed to enable %s stream: %w", stream, err)
		}
	}
	return nil
}

// checkFirmware enforces the optional minimum-firmware floor. Devices with
// no or unparseable revision strings are admitted with a warning.
func (c *Controller) checkFirmware(conn peripheral.Connection) error {
	if c.opts.MinFirmware == nil {
		return nil
	}

	revision := conn.FirmwareRevision()
	if revision == "" {
		c.logger.Warn().Str("address", conn.Address()).Msg("Device exposes no firmware revision, admitting")
		return nil
	}

	version, err := semver.NewVersion(strings.TrimPrefix(revision, "v"))
	if err != nil {
		c.logger.Warn().Str("revision", revision).Msg("Unparseable firmware revision, admitting")
		return nil
	}

	if version.LessThan(c.opts.MinFirmware) {
		return fmt.Errorf("firmware %s is below the required %s", version, c.opts.MinFirmware)
	}
	return nil
}

// disconnectAllSessions tears down every live link, bounded by the shutdown
// timeout so an unresponsive transport cannot hang the shutdown path.
func (c *Controller) disconnectAllSessions() {
	conns := c.sessions.Connections()
	for _, id := range c.sessions.Identities() {
		c.sessions.Remove(id)
	}
	if len(conns) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn peripheral.Connection) {
			defer wg.Done()
			_ = conn.Close()
		}(conn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(c.opts.ShutdownTimeout):
		c.logger.Warn().Msg("Timed out waiting for session teardown")
	}
}

// sleep waits for the given duration, returning false if the controller was
// stopped first.
func (c *Controller) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.ctx.Done():
		return false
	}
}
