//go:build linux

// Package bleclient adapts the go-ble stack to the gateway's peripheral
// transport contract. One hardware scan is multiplexed across all filtered
// discovery requests, since HCI adapters do not support concurrent scans.
package bleclient

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/pkg/peripheral"
)

// Characteristic UUIDs. The sensor streams follow the GATT Environmental
// Sensing service; the button is the vendor characteristic the supported
// sensor tags expose.
var (
	uuidTemperature = ble.UUID16(0x2A6E)
	uuidHumidity    = ble.UUID16(0x2A6F)
	uuidPressure    = ble.UUID16(0x2A6D)
	uuidFirmware    = ble.UUID16(0x2A26)
	uuidButton      = ble.MustParse("0000ffe1-0000-1000-8000-00805f9b34fb")
)

// ErrClosed is reported when the transport has been closed.
var ErrClosed = errors.New("ble transport is closed")

type bleAdvertisement struct {
	adv ble.Advertisement
}

func (a bleAdvertisement) Address() string   { return a.adv.Addr().String() }
func (a bleAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a bleAdvertisement) RSSI() int         { return a.adv.RSSI() }

type bleRequest struct {
	filter  peripheral.Filter
	onMatch peripheral.MatchHandler
	cancel  context.CancelFunc
	spent   bool
}

// Transport implements peripheral.Transport over a Linux HCI device.
type Transport struct {
	device ble.Device
	logger zerolog.Logger

	mu         sync.Mutex
	requests   map[string]*bleRequest
	scanCancel context.CancelFunc
	closed     bool
}

// NewTransport opens the default HCI device.
func NewTransport(logger zerolog.Logger) (*Transport, error) {
	device, err := linux.NewDevice()
	if err != nil {
		return nil, fmt.Errorf("failed to open HCI device: %w", err)
	}

	return &Transport{
		device:   device,
		logger:   logger,
		requests: make(map[string]*bleRequest),
	}, nil
}

// Discover registers a filtered request and ensures the shared scan is
// running. The match handler fires at most once.
func (t *Transport) Discover(ctx context.Context, filter peripheral.Filter, onMatch peripheral.MatchHandler) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return "", ErrClosed
	}

	requestID := uuid.New().String()
	reqCtx, cancel := context.WithCancel(ctx)
	t.requests[requestID] = &bleRequest{
		filter:  filter,
		onMatch: onMatch,
		cancel:  cancel,
	}

	go func() {
		<-reqCtx.Done()
		t.removeRequest(requestID)
	}()

	t.ensureScanningLocked()
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

// StopAllDiscovery cancels every outstanding request and stops the scan.
func (t *Transport) StopAllDiscovery() error {
	t.mu.Lock()
	reqs := make([]*bleRequest, 0, len(t.requests))
	for _, req := range t.requests {
		reqs = append(reqs, req)
	}
	t.mu.Unlock()

	for _, req := range reqs {
		req.cancel()
	}
	return nil
}

// Connect dials the advertised peripheral and discovers its GATT profile.
func (t *Transport) Connect(ctx context.Context, adv peripheral.Advertisement) (peripheral.Connection, error) {
	bleAdv, ok := adv.(bleAdvertisement)
	if !ok {
		return nil, fmt.Errorf("advertisement %s did not come from this transport", adv.Address())
	}

	client, err := t.device.Dial(ctx, bleAdv.adv.Addr())
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", adv.Address(), err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		_ = client.CancelConnection()
		return nil, fmt.Errorf("failed to discover profile of %s: %w", adv.Address(), err)
	}

	conn := &connection{
		client:  client,
		profile: profile,
		address: adv.Address(),
		logger:  t.logger,
	}
	conn.firmware = conn.readFirmwareRevision()
	conn.watchDisconnect()
	return conn, nil
}

// Close stops scanning and releases the HCI device.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	scanCancel := t.scanCancel
	t.scanCancel = nil
	t.mu.Unlock()

	_ = t.StopAllDiscovery()
	if scanCancel != nil {
		scanCancel()
	}
	return t.device.Stop()
}

func (t *Transport) removeRequest(requestID string) {
	t.mu.Lock()
	delete(t.requests, requestID)
	stop := len(t.requests) == 0
	scanCancel := t.scanCancel
	if stop {
		t.scanCancel = nil
	}
	t.mu.Unlock()

	// The radio only needs to scan while a request is outstanding.
	if stop && scanCancel != nil {
		scanCancel()
	}
}

// ensureScanningLocked starts the shared scan goroutine if it is not already
// running. Callers hold t.mu.
func (t *Transport) ensureScanningLocked() {
	if t.scanCancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.scanCancel = cancel

	go func() {
		err := t.device.Scan(ctx, false, t.handleAdvertisement)
		if err != nil && !errors.Is(err, context.Canceled) {
			t.logger.Warn().Err(err).Msg("BLE scan ended with error")
		}
	}()
}

// handleAdvertisement fans one advertisement out to the pending requests,
// spending the first request whose filter matches.
func (t *Transport) handleAdvertisement(a ble.Advertisement) {
	adv := bleAdvertisement{adv: a}

	t.mu.Lock()
	var fire *bleRequest
	for _, req := range t.requests {
		if req.spent || !req.filter(adv) {
			continue
		}
		req.spent = true
		fire = req
		break
	}
	t.mu.Unlock()

	if fire != nil {
		fire.cancel()
		fire.onMatch(adv)
	}
}

// connection is one live GATT link.
type connection struct {
	client   ble.Client
	profile  *ble.Profile
	address  string
	firmware string
	logger   zerolog.Logger

	mu           sync.Mutex
	onDisconnect peripheral.DisconnectHandler
	dropped      bool
}

func (c *connection) Address() string {
	return c.address
}

func (c *connection) FirmwareRevision() string {
	return c.firmware
}

// EnableStream subscribes to the characteristic backing the stream and
// decodes its notifications.
func (c *connection) EnableStream(stream peripheral.Stream, h peripheral.NotificationHandler) error {
	char, decode, err := c.lookupStream(stream)
	if err != nil {
		return err
	}

	return c.client.Subscribe(char, false, func(data []byte) {
		value, ok := decode(data)
		if !ok {
			c.logger.Warn().Str("device", c.address).Str("stream", string(stream)).
				Int("len", len(data)).Msg("Dropping malformed notification")
			return
		}
		h(value)
	})
}

func (c *connection) OnDisconnect(h peripheral.DisconnectHandler) {
	c.mu.Lock()
	c.onDisconnect = h
	c.mu.Unlock()
}

func (c *connection) Close() error {
	return c.client.CancelConnection()
}

// watchDisconnect fires the disconnect handler exactly once when the link
// drops, whether from radio loss or CancelConnection.
func (c *connection) watchDisconnect() {
	go func() {
		<-c.client.Disconnected()

		c.mu.Lock()
		if c.dropped {
			c.mu.Unlock()
			return
		}
		c.dropped = true
		h := c.onDisconnect
		c.mu.Unlock()

		if h != nil {
			h(errors.New("link to peripheral lost"))
		}
	}()
}

type decoder func(data []byte) (float64, bool)

func (c *connection) lookupStream(stream peripheral.Stream) (*ble.Characteristic, decoder, error) {
	var (
		id  ble.UUID
		dec decoder
	)

	switch stream {
	case peripheral.StreamTemperature:
		// sint16, 0.01 degrees Celsius.
		id = uuidTemperature
		dec = func(data []byte) (float64, bool) {
			if len(data) < 2 {
				return 0, false
			}
			return float64(int16(binary.LittleEndian.Uint16(data))) / 100, true
		}
	case peripheral.StreamHumidity:
		// uint16, 0.01 percent.
		id = uuidHumidity
		dec = func(data []byte) (float64, bool) {
			if len(data) < 2 {
				return 0, false
			}
			return float64(binary.LittleEndian.Uint16(data)) / 100, true
		}
	case peripheral.StreamPressure:
		// uint32, 0.1 pascal, reported as hectopascal.
		id = uuidPressure
		dec = func(data []byte) (float64, bool) {
			if len(data) < 4 {
				return 0, false
			}
			return float64(binary.LittleEndian.Uint32(data)) / 1000, true
		}
	case peripheral.StreamButton:
		// Any non-zero first byte is a press.
		id = uuidButton
		dec = func(data []byte) (float64, bool) {
			if len(data) < 1 {
				return 0, false
			}
			return float64(data[0]), true
		}
	default:
		return nil, nil, fmt.Errorf("unknown stream %q", stream)
	}

	char := c.findCharacteristic(id)
	if char == nil {
		return nil, nil, fmt.Errorf("device %s does not expose the %s characteristic", c.address, stream)
	}
	return char, dec, nil
}

func (c *connection) findCharacteristic(id ble.UUID) *ble.Characteristic {
	for _, svc := range c.profile.Services {
		for _, char := range svc.Characteristics {
			if char.UUID.Equal(id) {
				return char
			}
		}
	}
	return nil
}

// readFirmwareRevision reads the Device Information firmware string; not
// every peripheral exposes it, so failure just yields "".
func (c *connection) readFirmwareRevision() string {
	char := c.findCharacteristic(uuidFirmware)
	if char == nil {
		return ""
	}
	data, err := c.client.ReadCharacteristic(char)
	if err != nil {
		c.logger.Debug().Err(err).Str("device", c.address).Msg("Failed to read firmware revision")
		return ""
	}
	return string(data)
}
