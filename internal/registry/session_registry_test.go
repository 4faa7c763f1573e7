package registry

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/edgelink/ble-gateway/pkg/peripheral"
)

// stubConnection is a minimal peripheral.Connection for registry tests.
type stubConnection struct {
	address string
	closed  bool
}

func (s *stubConnection) Address() string          { return s.address }
func (s *stubConnection) FirmwareRevision() string { return "" }
func (s *stubConnection) EnableStream(peripheral.Stream, peripheral.NotificationHandler) error {
	return nil
}
func (s *stubConnection) OnDisconnect(peripheral.DisconnectHandler) {}
func (s *stubConnection) Close() error {
	s.closed = true
	return nil
}

func newTestRegistry() *SessionRegistry {
	return NewSessionRegistry(zerolog.Nop())
}

func TestUpsert_CreatesAndIsIdempotent(t *testing.T) {
	r := newTestRegistry()
	first := &stubConnection{address: "aabbccddee01"}
	second := &stubConnection{address: "aabbccddee01"}

	assert.True(t, r.Upsert("aabbccddee01", first))
	assert.Equal(t, 1, r.Count())

	// A second upsert must not replace the live connection handle.
	assert.False(t, r.Upsert("aabbccddee01", second))
	assert.Equal(t, 1, r.Count())
	assert.Same(t, first, r.Remove("aabbccddee01").(*stubConnection))
}

func TestUpdateField_UnknownIdentityIsNoOp(t *testing.T) {
	r := newTestRegistry()

	assert.NotPanics(t, func() {
		r.UpdateField("missing", FieldTemperature, 21.5)
		r.PressButton("missing")
	})
	assert.Equal(t, 0, r.Count())

	pressed, count := r.ConsumeButtonLatch("missing")
	assert.False(t, pressed)
	assert.Equal(t, 0, count)
}

func TestUpdateField_MutatesSnapshotValues(t *testing.T) {
	r := newTestRegistry()
	r.Upsert("dev1", &stubConnection{})

	r.UpdateField("dev1", FieldTemperature, 21.5)
	r.UpdateField("dev1", FieldHumidity, 40.2)
	r.UpdateField("dev1", FieldPressure, 1009.8)

	views := r.Snapshot()
	assert.Len(t, views, 1)
	assert.Equal(t, "dev1", views[0].Identity)
	assert.Equal(t, 21.5, views[0].Telemetry.Temperature)
	assert.Equal(t, 40.2, views[0].Telemetry.Humidity)
	assert.Equal(t, 1009.8, views[0].Telemetry.Pressure)
}

func TestConsumeButtonLatch_ReadsAndClears(t *testing.T) {
	r := newTestRegistry()
	r.Upsert("dev1", &stubConnection{})

	r.PressButton("dev1")
	r.PressButton("dev1")

	pressed, count := r.ConsumeButtonLatch("dev1")
	assert.True(t, pressed)
	assert.Equal(t, 2, count)

	// The latch is clear until the next press.
	pressed, count = r.ConsumeButtonLatch("dev1")
	assert.False(t, pressed)
	assert.Equal(t, 0, count)

	r.PressButton("dev1")
	pressed, count = r.ConsumeButtonLatch("dev1")
	assert.True(t, pressed)
	assert.Equal(t, 1, count)
}

func TestRestoreButtonLatch_MergesWithLaterPresses(t *testing.T) {
	r := newTestRegistry()
	r.Upsert("dev1", &stubConnection{})

	r.PressButton("dev1")
	r.PressButton("dev1")
	pressed, count := r.ConsumeButtonLatch("dev1")
	assert.True(t, pressed)
	assert.Equal(t, 2, count)

	// A press lands between consume and restore; the restored count adds
	// to it instead of clobbering it.
	r.PressButton("dev1")
	r.RestoreButtonLatch("dev1", count)

	pressed, count = r.ConsumeButtonLatch("dev1")
	assert.True(t, pressed)
	assert.Equal(t, 3, count)

	assert.NotPanics(t, func() { r.RestoreButtonLatch("missing", 1) })
}

func TestRemove_DeletesSession(t *testing.T) {
	r := newTestRegistry()
	conn := &stubConnection{address: "dev1"}
	r.Upsert("dev1", conn)

	returned := r.Remove("dev1")
	assert.Same(t, conn, returned.(*stubConnection))
	assert.False(t, r.Has("dev1"))
	assert.Equal(t, 0, r.Count())

	assert.Nil(t, r.Remove("dev1"))
}

func TestSnapshot_EmptyRegistry(t *testing.T) {
	r := newTestRegistry()
	assert.Empty(t, r.Snapshot())
	assert.Empty(t, r.Connections())
	assert.Empty(t, r.Identities())
}

// TestConcurrentMutation exercises the per-session lock under parallel
// notification-style updates.
func TestConcurrentMutation(t *testing.T) {
	r := newTestRegistry()
	r.Upsert("dev1", &stubConnection{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			r.UpdateField("dev1", FieldTemperature, v)
			r.PressButton("dev1")
		}(float64(i))
	}
	wg.Wait()

	pressed, count := r.ConsumeButtonLatch("dev1")
	assert.True(t, pressed)
	assert.Equal(t, 50, count)
}
