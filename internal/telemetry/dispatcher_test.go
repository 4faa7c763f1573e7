package telemetry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/edgelink/ble-gateway/internal/constants"
	"github.com/edgelink/ble-gateway/internal/models"
	"github.com/edgelink/ble-gateway/internal/registry"
)

// fakePublisher records published payloads.
type fakePublisher struct {
	mu         sync.Mutex
	connected  bool
	publishErr error
	messages   []models.TelemetryMessage
}

func (f *fakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePublisher) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	if f.publishErr != nil {
		defer f.mu.Unlock()
		return f.publishErr
	}
	f.mu.Unlock()

	var msg models.TelemetryMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakePublisher) setPublishErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.publishErr = err
}

func (f *fakePublisher) setConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

func (f *fakePublisher) drain() []models.TelemetryMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.messages
	f.messages = nil
	return out
}

func newTestDispatcher(sessions *registry.SessionRegistry, publisher *fakePublisher) *Dispatcher {
	return NewDispatcher("gateways/gw-1/telemetry", "gw-1", time.Hour, sessions, publisher, zerolog.Nop())
}

func TestDispatcher_StartStopGuards(t *testing.T) {
	d := newTestDispatcher(registry.NewSessionRegistry(zerolog.Nop()), &fakePublisher{})

	err := d.Stop()
	assert.Error(t, err)
	assert.Equal(t, "telemetry dispatcher is not running", err.Error())

	assert.NoError(t, d.Start())
	err = d.Start()
	assert.Error(t, err)
	assert.Equal(t, "telemetry dispatcher is already running", err.Error())

	assert.NoError(t, d.Stop())
}

func TestDispatchOnce_SkipsTickWhileDisconnected(t *testing.T) {
	sessions := registry.NewSessionRegistry(zerolog.Nop())
	publisher := &fakePublisher{}
	d := newTestDispatcher(sessions, publisher)

	d.DispatchOnce()
	assert.Empty(t, publisher.drain(), "a tick while disconnected must produce zero messages")
}

func TestDispatchOnce_EmptyRegistryPublishesOneHeartbeat(t *testing.T) {
	sessions := registry.NewSessionRegistry(zerolog.Nop())
	publisher := &fakePublisher{connected: true}
	d := newTestDispatcher(sessions, publisher)

	d.DispatchOnce()

	msgs := publisher.drain()
	assert.Len(t, msgs, 1)
	assert.Equal(t, constants.StatusGatewayConnected, msgs[0].Status)
	assert.Equal(t, "gw-1", msgs[0].GatewayID)
	assert.Empty(t, msgs[0].DeviceID)
	assert.Nil(t, msgs[0].Temperature)
	assert.Nil(t, msgs[0].Button)
}

func TestDispatchOnce_OneMessagePerSessionNoHeartbeat(t *testing.T) {
	sessions := registry.NewSessionRegistry(zerolog.Nop())
	sessions.Upsert("dev1", nil)
	sessions.Upsert("dev2", nil)
	sessions.Upsert("dev3", nil)

	publisher := &fakePublisher{connected: true}
	d := newTestDispatcher(sessions, publisher)

	d.DispatchOnce()

	msgs := publisher.drain()
	assert.Len(t, msgs, 3)
	seen := make(map[string]bool)
	for _, msg := range msgs {
		assert.Equal(t, constants.StatusDeviceConnected, msg.Status)
		seen[msg.DeviceID] = true
	}
	assert.Len(t, seen, 3)
}

func TestDispatchOnce_CarriesTelemetryAndButtonLatch(t *testing.T) {
	sessions := registry.NewSessionRegistry(zerolog.Nop())
	sessions.Upsert("dev1", nil)
	sessions.UpdateField("dev1", registry.FieldTemperature, 21.5)
	sessions.PressButton("dev1")

	publisher := &fakePublisher{connected: true}
	d := newTestDispatcher(sessions, publisher)

	d.DispatchOnce()

	msgs := publisher.drain()
	assert.Len(t, msgs, 1)
	assert.Equal(t, 21.5, *msgs[0].Temperature)
	assert.True(t, *msgs[0].Button)
	assert.GreaterOrEqual(t, *msgs[0].ButtonCount, 1)

	// The following tick, with no new press, reports button=false.
	d.DispatchOnce()
	msgs = publisher.drain()
	assert.Len(t, msgs, 1)
	assert.Equal(t, 21.5, *msgs[0].Temperature)
	assert.False(t, *msgs[0].Button)
	assert.Equal(t, 0, *msgs[0].ButtonCount)
}

func TestDispatchOnce_FailedPublishKeepsButtonLatchArmed(t *testing.T) {
	sessions := registry.NewSessionRegistry(zerolog.Nop())
	sessions.Upsert("dev1", nil)
	sessions.PressButton("dev1")

	publisher := &fakePublisher{connected: true}
	publisher.setPublishErr(errors.New("write: broken pipe"))
	d := newTestDispatcher(sessions, publisher)

	// The broker reports connected but the write fails: nothing goes out
	// and the press must not be lost.
	d.DispatchOnce()
	assert.Empty(t, publisher.drain())

	publisher.setPublishErr(nil)
	d.DispatchOnce()

	msgs := publisher.drain()
	assert.Len(t, msgs, 1)
	assert.True(t, *msgs[0].Button, "press must survive until a publish succeeds")
	assert.Equal(t, 1, *msgs[0].ButtonCount)

	// Delivered once; the following tick reports the latch clear again.
	d.DispatchOnce()
	msgs = publisher.drain()
	assert.Len(t, msgs, 1)
	assert.False(t, *msgs[0].Button)
}

func TestDispatchOnce_ResumesAfterReconnectWithoutBackfill(t *testing.T) {
	sessions := registry.NewSessionRegistry(zerolog.Nop())
	publisher := &fakePublisher{connected: true}
	d := newTestDispatcher(sessions, publisher)

	d.DispatchOnce()
	assert.Len(t, publisher.drain(), 1)

	// Broker drops: ticks produce nothing and nothing is queued.
	publisher.setConnected(false)
	d.DispatchOnce()
	d.DispatchOnce()
	assert.Empty(t, publisher.drain())

	// Reconnect: exactly one heartbeat per tick again, no duplicates for
	// the missed ones.
	publisher.setConnected(true)
	d.DispatchOnce()
	assert.Len(t, publisher.drain(), 1)
}

func TestDispatchOnce_SessionRemovalShrinksMessageCount(t *testing.T) {
	sessions := registry.NewSessionRegistry(zerolog.Nop())
	sessions.Upsert("dev1", nil)
	sessions.Upsert("dev2", nil)

	publisher := &fakePublisher{connected: true}
	d := newTestDispatcher(sessions, publisher)

	d.DispatchOnce()
	assert.Len(t, publisher.drain(), 2)

	sessions.Remove("dev2")
	d.DispatchOnce()
	msgs := publisher.drain()
	assert.Len(t, msgs, 1)
	assert.Equal(t, "dev1", msgs[0].DeviceID)

	// Last session gone: the tick degrades to a single heartbeat.
	sessions.Remove("dev1")
	d.DispatchOnce()
	msgs = publisher.drain()
	assert.Len(t, msgs, 1)
	assert.Equal(t, constants.StatusGatewayConnected, msgs[0].Status)
}

func TestDispatcher_PeriodicLoopPublishes(t *testing.T) {
	sessions := registry.NewSessionRegistry(zerolog.Nop())
	publisher := &fakePublisher{connected: true}
	d := NewDispatcher("t", "gw-1", 20*time.Millisecond, sessions, publisher, zerolog.Nop())

	assert.NoError(t, d.Start())
	time.Sleep(70 * time.Millisecond)
	assert.NoError(t, d.Stop())

	assert.GreaterOrEqual(t, len(publisher.drain()), 2)
}
