// Package fakeclient is a deterministic in-memory peripheral farm
// implementing the transport contract. It backs hardware-less deployments
// and demos: configured devices advertise on a fixed cadence, ramp their
// sensor readings and optionally press their button on an interval.
package fakeclient

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/pkg/peripheral"
)

// ErrClosed is reported when the transport has been closed.
var ErrClosed = errors.New("fake transport is closed")

// DeviceSpec describes one simulated peripheral.
type DeviceSpec struct {
	// Address is the hardware address the device advertises.
	Address string
	// LocalName is the advertised name.
	LocalName string
	// Firmware is the revision string exposed after connect.
	Firmware string
	// ButtonInterval, when positive, presses the button that often.
	ButtonInterval time.Duration
}

// Options tune the farm's cadence.
type Options struct {
	// AdvertiseInterval is how often pending discovery requests are matched
	// against the farm.
	AdvertiseInterval time.Duration
	// NotifyInterval is how often connected devices emit sensor readings.
	NotifyInterval time.Duration
}

func (o *Options) applyDefaults() {
	if o.AdvertiseInterval <= 0 {
		o.AdvertiseInterval = 200 * time.Millisecond
	}
	if o.NotifyInterval <= 0 {
		o.NotifyInterval = time.Second
	}
}

type request struct {
	ctx     context.Context
	filter  peripheral.Filter
	onMatch peripheral.MatchHandler
	cancel  context.CancelFunc
	spent   bool
}

type advertisement struct {
	address   string
	localName string
	rssi      int
}

func (a advertisement) Address() string   { return a.address }
func (a advertisement) LocalName() string { return a.localName }
func (a advertisement) RSSI() int         { return a.rssi }

// Transport is the fake peripheral transport.
type Transport struct {
	opts    Options
	devices map[string]DeviceSpec
	logger  zerolog.Logger

	mu       sync.Mutex
	requests map[string]*request
	conns    map[string]*connection
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewTransport builds a farm from the given device specs and starts its
// advertising loop.
func NewTransport(specs []DeviceSpec, opts Options, logger zerolog.Logger) *Transport {
	opts.applyDefaults()

	devices := make(map[string]DeviceSpec, len(specs))
	for _, spec := range specs {
		devices[spec.Address] = spec
	}

	t := &Transport{
		opts:     opts,
		devices:  devices,
		logger:   logger,
		requests: make(map[string]*request),
		conns:    make(map[string]*connection),
		done:     make(chan struct{}),
	}

	t.wg.Add(1)
	go t.runAdvertiseLoop()
	return t
}

// Discover registers a filtered request; the advertising loop matches it
// against the farm. The match handler fires at most once.
func (t *Transport) Discover(ctx context.Context, filter peripheral.Filter, onMatch peripheral.MatchHandler) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", ErrClosed
	}

	requestID := uuid.New().String()
	reqCtx, cancel := context.WithCancel(ctx)
	t.requests[requestID] = &request{
		ctx:     reqCtx,
		filter:  filter,
		onMatch: onMatch,
		cancel:  cancel,
	}

	// Reap the request when its context ends so cancelled discovery does
	// not accumulate.
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		select {
		case <-reqCtx.Done():
		case <-t.done:
		}
		t.mu.Lock()
		delete(t.requests, requestID)
		t.mu.Unlock()
	}()

	return requestID, nil
}

// StopDiscovery cancels one outstanding request.
func (t *Transport) StopDiscovery(requestID string) error {
	t.mu.Lock()
	req, ok := t.requests[requestID]
	t.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown discovery request %s", requestID)
	}
	req.cancel()
	return nil
}

// StopAllDiscovery cancels every outstanding request.
func (t *Transport) StopAllDiscovery() error {
	t.mu.Lock()
	reqs := make([]*request, 0, len(t.requests))
	for _, req := range t.requests {
		reqs = append(reqs, req)
	}
	t.mu.Unlock()

	for _, req := range reqs {
		req.cancel()
	}
	return nil
}

// Connect establishes a simulated link and starts its notification loop.
func (t *Transport) Connect(ctx context.Context, adv peripheral.Advertisement) (peripheral.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrClosed
	}

	spec, ok := t.devices[adv.Address()]
	if !ok {
		return nil, fmt.Errorf("unknown device %s", adv.Address())
	}
	if _, exists := t.conns[spec.Address]; exists {
		return nil, fmt.Errorf("device %s is already connected", spec.Address)
	}

	conn := newConnection(t, spec)
	t.conns[spec.Address] = conn
	return conn, nil
}

// Drop simulates a radio-level link loss for a connected device.
func (t *Transport) Drop(address string) {
	t.mu.Lock()
	conn := t.conns[address]
	t.mu.Unlock()

	if conn != nil {
		conn.drop(errors.New("simulated link loss"))
	}
}

// Close releases the transport, cancelling requests and dropping links.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*connection, 0, len(t.conns))
	for _, conn := range t.conns {
		conns = append(conns, conn)
	}
	t.mu.Unlock()

	_ = t.StopAllDiscovery()
	for _, conn := range conns {
		conn.drop(ErrClosed)
	}

	close(t.done)
	t.wg.Wait()
	return nil
}

func (t *Transport) removeConn(address string) {
	t.mu.Lock()
	delete(t.conns, address)
	t.mu.Unlock()
}

// runAdvertiseLoop periodically replays every unconnected device's
// advertisement against the pending requests.
func (t *Transport) runAdvertiseLoop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.opts.AdvertiseInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.advertiseOnce()
		case <-t.done:
			return
		}
	}
}

func (t *Transport) advertiseOnce() {
	t.mu.Lock()
	type firing struct {
		onMatch peripheral.MatchHandler
		adv     advertisement
	}
	var firings []firing

	for _, spec := range t.devices {
		if _, connected := t.conns[spec.Address]; connected {
			continue
		}
		adv := advertisement{address: spec.Address, localName: spec.LocalName, rssi: -60}
		for _, req := range t.requests {
			if req.spent || req.ctx.Err() != nil || !req.filter(adv) {
				continue
			}
			req.spent = true
			req.cancel()
			firings = append(firings, firing{onMatch: req.onMatch, adv: adv})
			break
		}
	}
	t.mu.Unlock()

	for _, f := range firings {
		f.onMatch(f.adv)
	}
}

// connection is one simulated link. Sensor values follow slow deterministic
// ramps so dashboards show movement without randomness.
type connection struct {
	transport *Transport
	spec      DeviceSpec

	mu           sync.Mutex
	handlers     map[peripheral.Stream]peripheral.NotificationHandler
	onDisconnect peripheral.DisconnectHandler
	closed       bool

	done chan struct{}
	wg   sync.WaitGroup
}

func newConnection(t *Transport, spec DeviceSpec) *connection {
	c := &connection{
		transport: t,
		spec:      spec,
		handlers:  make(map[peripheral.Stream]peripheral.NotificationHandler),
		done:      make(chan struct{}),
	}

	c.wg.Add(1)
	go c.runNotifyLoop()
	return c
}

func (c *connection) Address() string {
	return c.spec.Address
}

func (c *connection) FirmwareRevision() string {
	return c.spec.Firmware
}

func (c *connection) EnableStream(stream peripheral.Stream, h peripheral.NotificationHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	c.handlers[stream] = h
	return nil
}

func (c *connection) OnDisconnect(h peripheral.DisconnectHandler) {
	c.mu.Lock()
	c.onDisconnect = h
	c.mu.Unlock()
}

func (c *connection) Close() error {
	c.drop(nil)
	return nil
}

// drop tears the link down once and fires the disconnect handler.
func (c *connection) drop(reason error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	onDisconnect := c.onDisconnect
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
	c.transport.removeConn(c.spec.Address)

	if onDisconnect != nil {
		onDisconnect(reason)
	}
}

func (c *connection) runNotifyLoop() {
	defer c.wg.Done()

	notify := time.NewTicker(c.transport.opts.NotifyInterval)
	defer notify.Stop()

	var button <-chan time.Time
	if c.spec.ButtonInterval > 0 {
		buttonTicker := time.NewTicker(c.spec.ButtonInterval)
		defer buttonTicker.Stop()
		button = buttonTicker.C
	}

	var step float64
	for {
		select {
		case <-notify.C:
			step++
			c.notify(peripheral.StreamTemperature, 21.0+2.0*math.Sin(step/10))
			c.notify(peripheral.StreamHumidity, 40.0+5.0*math.Sin(step/15))
			c.notify(peripheral.StreamPressure, 1010.0+1.5*math.Sin(step/30))
		case <-button:
			c.notify(peripheral.StreamButton, 1)
		case <-c.done:
			return
		}
	}
}

func (c *connection) notify(stream peripheral.Stream, value float64) {
	c.mu.Lock()
	h := c.handlers[stream]
	c.mu.Unlock()

	if h != nil {
		h(value)
	}
}
