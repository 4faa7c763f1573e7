// Package registry holds the live per-device telemetry state, keyed by
// normalized device identity. It is the only owner of the identity to
// session mapping; discovery and dispatch mutate it exclusively through
// the operations defined here.
package registry

import (
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/pkg/peripheral"
)

// Field names a single telemetry value on a session.
type Field int

const (
	FieldTemperature Field = iota
	FieldHumidity
	FieldPressure
)

// String returns the field name for logs.
func (f Field) String() string {
	switch f {
	case FieldTemperature:
		return "temperature"
	case FieldHumidity:
		return "humidity"
	case FieldPressure:
		return "pressure"
	default:
		return "unknown"
	}
}

// Telemetry is the latest known sensor readings for one session. Fields are
// zero until the first notification arrives.
type Telemetry struct {
	Temperature float64
	Humidity    float64
	Pressure    float64
}

// session is the mutable per-device record. All mutation goes through the
// registry methods, which take the per-session lock; notification handlers
// for different devices never contend with each other.
type session struct {
	mu          sync.Mutex
	identity    string
	conn        peripheral.Connection
	telemetry   Telemetry
	buttonDown  bool
	buttonCount int
}

// SessionView is an immutable copy of one session's state, safe to read
// without holding any lock.
type SessionView struct {
	Identity  string
	Telemetry Telemetry
}

// SessionRegistry maps device identities to live sessions. The backing map
// is sharded so notification handlers, the discovery controller and the
// dispatcher can touch it concurrently.
type SessionRegistry struct {
	sessions cmap.ConcurrentMap[string, *session]
	logger   zerolog.Logger
}

// NewSessionRegistry creates an empty registry.
func NewSessionRegistry(logger zerolog.Logger) *SessionRegistry {
	return &SessionRegistry{
		sessions: cmap.New[*session](),
		logger:   logger,
	}
}

// Upsert creates a session for the identity with zeroed telemetry, holding a
// non-owning reference to the transport connection. It reports whether a new
// session was created; if one already exists the call is a no-op and the
// existing connection handle is left untouched.
func (r *SessionRegistry) Upsert(identity string, conn peripheral.Connection) bool {
	created := r.sessions.SetIfAbsent(identity, &session{
		identity: identity,
		conn:     conn,
	})
	if created {
		r.logger.Debug().Str("device", identity).Msg("Session registered")
	} else {
		r.logger.Warn().Str("device", identity).Msg("Session already exists, keeping the live connection")
	}
	return created
}

// UpdateField applies one telemetry field mutation. An unknown identity is a
// no-op: the device may have disconnected between notification dispatch and
// arrival, which is expected under concurrent disconnect.
func (r *SessionRegistry) UpdateField(identity string, field Field, value float64) {
	s, ok := r.sessions.Get(identity)
	if !ok {
		return
	}
	s.mu.Lock()
	switch field {
	case FieldTemperature:
		s.telemetry.Temperature = value
	case FieldHumidity:
		s.telemetry.Humidity = value
	case FieldPressure:
		s.telemetry.Pressure = value
	}
	s.mu.Unlock()
}

// PressButton sets the session's button latch and increments the press
// counter. Unknown identities are ignored.
func (r *SessionRegistry) PressButton(identity string) {
	s, ok := r.sessions.Get(identity)
	if !ok {
		return
	}
	s.mu.Lock()
	s.buttonDown = true
	s.buttonCount++
	s.mu.Unlock()
}

// ConsumeButtonLatch atomically reads and clears the button latch, returning
// the pre-clear flag and count. An unknown identity yields false, 0.
func (r *SessionRegistry) ConsumeButtonLatch(identity string) (bool, int) {
	s, ok := r.sessions.Get(identity)
	if !ok {
		return false, 0
	}
	s.mu.Lock()
	pressed, count := s.buttonDown, s.buttonCount
	s.buttonDown = false
	s.buttonCount = 0
	s.mu.Unlock()
	return pressed, count
}

// RestoreButtonLatch re-arms the latch after a report failed to go out,
// merging the returned count with any presses that arrived in between.
// Unknown identities are ignored.
func (r *SessionRegistry) RestoreButtonLatch(identity string, count int) {
	s, ok := r.sessions.Get(identity)
	if !ok {
		return
	}
	s.mu.Lock()
	s.buttonDown = true
	s.buttonCount += count
	s.mu.Unlock()
}

// Has reports whether a session exists for the identity.
func (r *SessionRegistry) Has(identity string) bool {
	return r.sessions.Has(identity)
}

// Count returns the number of live sessions.
func (r *SessionRegistry) Count() int {
	return r.sessions.Count()
}

// Remove deletes the session for the identity, returning its connection
// reference so the caller can tear the link down if it still owns it.
func (r *SessionRegistry) Remove(identity string) peripheral.Connection {
	s, ok := r.sessions.Pop(identity)
	if !ok {
		return nil
	}
	r.logger.Debug().Str("device", identity).Msg("Session removed")
	return s.conn
}

// Snapshot returns an immutable copy of every session's identity and
// telemetry. Iteration order is unspecified. The dispatcher uses this to
// build messages without holding registry locks across publish calls.
func (r *SessionRegistry) Snapshot() []SessionView {
	views := make([]SessionView, 0, r.sessions.Count())
	for item := range r.sessions.IterBuffered() {
		s := item.Val
		s.mu.Lock()
		views = append(views, SessionView{
			Identity:  s.identity,
			Telemetry: s.telemetry,
		})
		s.mu.Unlock()
	}
	return views
}

// Connections returns the connection reference of every live session. Used
// by shutdown to tear links down best-effort.
func (r *SessionRegistry) Connections() []peripheral.Connection {
	conns := make([]peripheral.Connection, 0, r.sessions.Count())
	for item := range r.sessions.IterBuffered() {
		if item.Val.conn != nil {
			conns = append(conns, item.Val.conn)
		}
	}
	return conns
}

// Identities returns the identity of every live session.
func (r *SessionRegistry) Identities() []string {
	return r.sessions.Keys()
}
