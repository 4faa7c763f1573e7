// Package brokerclient defines the surface the gateway core drives on the
// message broker: asynchronous dialing, fire-and-forget publishing and
// connection-lifecycle events. Concrete backends (MQTT, NATS) live in
// subpackages.
package brokerclient

// EventType classifies connection-lifecycle signals from a broker backend.
type EventType int

const (
	// EventConnected reports that a dial attempt completed and the
	// connection is usable for publishing.
	EventConnected EventType = iota
	// EventConnectFailed reports that a dial attempt did not produce a
	// usable connection.
	EventConnectFailed
	// EventConnectionLost reports that a live connection dropped (close,
	// error, end or offline, collapsed into one signal).
	EventConnectionLost
)

// String returns the event type name for logs.
func (t EventType) String() string {
	switch t {
	case EventConnected:
		return "connected"
	case EventConnectFailed:
		return "connect_failed"
	case EventConnectionLost:
		return "connection_lost"
	default:
		return "unknown"
	}
}

// Event is one connection-lifecycle signal. Err is set for failure events.
type Event struct {
	Type EventType
	Err  error
}

// Client is a broker backend. Dial starts one connection attempt; its outcome
// and any later connection loss arrive on the Events channel, so callers can
// own the retry policy themselves.
type Client interface {
	// Dial starts a single asynchronous connection attempt. An immediate
	// error means the attempt could not even be dispatched; otherwise the
	// outcome is delivered as an EventConnected or EventConnectFailed event.
	Dial() error
	// Publish sends one payload to a topic. It is only meaningful while the
	// latest event is EventConnected; failures are reported, not retried.
	Publish(topic string, payload []byte) error
	// Events delivers connection-lifecycle signals. The channel is buffered;
	// backends drop events rather than block if the consumer stalls.
	Events() <-chan Event
	// Close tears down any live or in-flight connection. Safe to call at any
	// time and more than once.
	Close() error
}
