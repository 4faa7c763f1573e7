// Package peripheral defines the surface the gateway core drives on the
// short-range wireless stack: filtered discovery, connection setup and
// notification-stream subscription. Concrete transports (BLE hardware, the
// in-memory fake) live in subpackages.
package peripheral

import "context"

// Stream identifies one of the notification streams a connected peripheral
// exposes.
type Stream string

const (
	StreamButton      Stream = "button"
	StreamTemperature Stream = "temperature"
	StreamHumidity    Stream = "humidity"
	StreamPressure    Stream = "pressure"
)

// Streams returns all notification streams in subscription order.
func Streams() []Stream {
	return []Stream{StreamButton, StreamTemperature, StreamHumidity, StreamPressure}
}

// Advertisement describes a peripheral seen during discovery.
type Advertisement interface {
	Address() string
	LocalName() string
	RSSI() int
}

// Filter decides whether an advertising peripheral matches a discovery
// request.
type Filter func(adv Advertisement) bool

// MatchHandler is invoked at most once per discovery request, with the first
// advertisement that passed the request's filter.
type MatchHandler func(adv Advertisement)

// NotificationHandler receives decoded values from a subscribed stream. For
// the button stream a non-zero value marks a press event; for the sensor
// streams the value is the current reading.
type NotificationHandler func(value float64)

// DisconnectHandler is invoked once when the link to a peripheral drops,
// whether from radio loss or a deliberate Close.
type DisconnectHandler func(reason error)

// Connection is one live, set-up link to a peripheral.
type Connection interface {
	// Address returns the peripheral's hardware address as reported by the
	// transport.
	Address() string
	// FirmwareRevision returns the peripheral's firmware revision string, or
	// "" when the peripheral does not expose one.
	FirmwareRevision() string
	// EnableStream subscribes to a named notification stream. The handler may
	// be invoked from transport goroutines until Close.
	EnableStream(stream Stream, h NotificationHandler) error
	// OnDisconnect installs the handler invoked when the link drops.
	OnDisconnect(h DisconnectHandler)
	// Close tears the link down. Closing a dead connection is a no-op.
	Close() error
}

// Transport is the discovery and connection surface of the wireless stack.
// Implementations must tolerate concurrent discovery requests and deliver
// callbacks from their own goroutines.
type Transport interface {
	// Discover starts a filtered scan and returns a request ID. The match
	// handler fires at most once, after which the request is spent.
	Discover(ctx context.Context, filter Filter, onMatch MatchHandler) (string, error)
	// StopDiscovery cancels a single outstanding request.
	StopDiscovery(requestID string) error
	// StopAllDiscovery cancels every outstanding request.
	StopAllDiscovery() error
	// Connect establishes a link to an advertised peripheral and performs
	// characteristic setup so streams can be enabled.
	Connect(ctx context.Context, adv Advertisement) (Connection, error)
	// Close releases the transport. Outstanding requests are cancelled.
	Close() error
}
