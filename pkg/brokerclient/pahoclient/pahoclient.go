// Package pahoclient adapts the Eclipse Paho MQTT client to the gateway's
// broker collaborator contract. Auto-reconnect is disabled: the connection
// manager owns the retry cycle.
package pahoclient

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/pkg/brokerclient"
	"github.com/edgelink/ble-gateway/pkg/file"
)

const connectTimeout = 10 * time.Second

// Options configure the MQTT backend.
type Options struct {
	// BrokerURL is the full broker address, e.g. tcp://localhost:1883 or
	// ssl://broker:8883.
	BrokerURL string
	// ClientID is the MQTT client identifier.
	ClientID string
	// Username and Password are optional credentials.
	Username string
	Password string
	// CACertificate is an optional path to a PEM CA certificate; setting it
	// enables TLS server verification against that CA.
	CACertificate string
	// QOS is the publish quality-of-service level.
	QOS byte
}

// PahoClient implements brokerclient.Client over paho.mqtt.golang.
type PahoClient struct {
	opts       Options
	fileClient file.FileOperations
	logger     zerolog.Logger

	mu     sync.Mutex
	client mqtt.Client

	events chan brokerclient.Event
}

// NewPahoClient builds the adapter. The connection is not dialed until Dial.
func NewPahoClient(opts Options, fileClient file.FileOperations, logger zerolog.Logger) *PahoClient {
	return &PahoClient{
		opts:       opts,
		fileClient: fileClient,
		logger:     logger,
		events:     make(chan brokerclient.Event, 8),
	}
}

// Dial starts one asynchronous connection attempt. The outcome arrives on
// Events.
func (p *PahoClient) Dial() error {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(p.opts.BrokerURL)
	clientOpts.SetClientID(p.opts.ClientID)
	clientOpts.SetAutoReconnect(false)
	clientOpts.SetConnectTimeout(connectTimeout)
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.emit(brokerclient.Event{Type: brokerclient.EventConnectionLost, Err: err})
	})

	if p.opts.Username != "" {
		clientOpts.SetUsername(p.opts.Username)
		clientOpts.SetPassword(p.opts.Password)
	}

	if p.opts.CACertificate != "" {
		tlsConfig, err := p.buildTLSConfig()
		if err != nil {
			return err
		}
		clientOpts.SetTLSConfig(tlsConfig)
	}

	client := mqtt.NewClient(clientOpts)

	p.mu.Lock()
	p.client = client
	p.mu.Unlock()

	token := client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.emit(brokerclient.Event{Type: brokerclient.EventConnectFailed, Err: err})
			return
		}
		p.emit(brokerclient.Event{Type: brokerclient.EventConnected})
	}()

	return nil
}

// Publish sends one payload, waiting for the client's acknowledgement at the
// configured QoS.
func (p *PahoClient) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()

	if client == nil || !client.IsConnected() {
		return fmt.Errorf("mqtt client is not connected")
	}

	token := client.Publish(topic, p.opts.QOS, false, payload)
	token.Wait()
	return token.Error()
}

// Events delivers connection-lifecycle signals.
func (p *PahoClient) Events() <-chan brokerclient.Event {
	return p.events
}

// Close disconnects any live connection. Safe to call repeatedly.
func (p *PahoClient) Close() error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(250)
	}
	return nil
}

// emit drops the event when the buffer is full rather than blocking a paho
// callback goroutine.
func (p *PahoClient) emit(ev brokerclient.Event) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn().Str("event", ev.Type.String()).Msg("Event buffer full, dropping broker event")
	}
}

func (p *PahoClient) buildTLSConfig() (*tls.Config, error) {
	caCert, err := p.fileClient.ReadFileRaw(p.opts.CACertificate)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}

	return &tls.Config{RootCAs: caCertPool}, nil
}
