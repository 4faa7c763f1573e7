// Package natsclient adapts a NATS connection to the gateway's broker
// collaborator contract. NATS-level reconnection is disabled: the connection
// manager owns the retry cycle. Topic names keep their slash form in
// configuration and are mapped to NATS subjects here.
package natsclient

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/pkg/brokerclient"
)

// Options configure the NATS backend.
type Options struct {
	// URL is the server address, e.g. nats://localhost:4222.
	URL string
	// Name identifies this client on the server.
	Name string
	// Username and Password are optional credentials.
	Username string
	Password string
}

// NatsClient implements brokerclient.Client over nats.go.
type NatsClient struct {
	opts   Options
	logger zerolog.Logger

	mu   sync.Mutex
	conn *nats.Conn

	events chan brokerclient.Event
}

// NewNatsClient builds the adapter. The connection is not dialed until Dial.
func NewNatsClient(opts Options, logger zerolog.Logger) *NatsClient {
	return &NatsClient{
		opts:   opts,
		logger: logger,
		events: make(chan brokerclient.Event, 8),
	}
}

// Dial starts one asynchronous connection attempt. The outcome arrives on
// Events.
func (n *NatsClient) Dial() error {
	go func() {
		connOpts := []nats.Option{
			nats.Name(n.opts.Name),
			nats.NoReconnect(),
			nats.ClosedHandler(func(conn *nats.Conn) {
				n.emit(brokerclient.Event{Type: brokerclient.EventConnectionLost, Err: conn.LastError()})
			}),
		}
		if n.opts.Username != "" {
			connOpts = append(connOpts, nats.UserInfo(n.opts.Username, n.opts.Password))
		}

		conn, err := nats.Connect(n.opts.URL, connOpts...)
		if err != nil {
			n.emit(brokerclient.Event{Type: brokerclient.EventConnectFailed, Err: err})
			return
		}

		n.mu.Lock()
		n.conn = conn
		n.mu.Unlock()

		n.emit(brokerclient.Event{Type: brokerclient.EventConnected})
	}()

	return nil
}

// Publish sends one payload to the subject derived from the topic.
func (n *NatsClient) Publish(topic string, payload []byte) error {
	n.mu.Lock()
	conn := n.conn
	n.mu.Unlock()

	if conn == nil || !conn.IsConnected() {
		return fmt.Errorf("nats connection is not established")
	}
	return conn.Publish(SubjectFromTopic(topic), payload)
}

// Events delivers connection-lifecycle signals.
func (n *NatsClient) Events() <-chan brokerclient.Event {
	return n.events
}

// Close tears down any live connection. Safe to call repeatedly.
func (n *NatsClient) Close() error {
	n.mu.Lock()
	conn := n.conn
	n.conn = nil
	n.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		conn.Close()
	}
	return nil
}

func (n *NatsClient) emit(ev brokerclient.Event) {
	select {
	case n.events <- ev:
	default:
		n.logger.Warn().Str("event", ev.Type.String()).Msg("Event buffer full, dropping broker event")
	}
}

// SubjectFromTopic maps a slash-separated topic to a NATS subject, e.g.
// "gateways/gw-1/telemetry" becomes "gateways.gw-1.telemetry".
func SubjectFromTopic(topic string) string {
	return strings.ReplaceAll(strings.Trim(topic, "/"), "/", ".")
}
