package broker

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/edgelink/ble-gateway/pkg/brokerclient"
)

// fakeBrokerClient is a scriptable brokerclient.Client: tests feed lifecycle
// events through the channel and inspect dial/publish calls.
type fakeBrokerClient struct {
	mu         sync.Mutex
	dialCalls  int
	dialErr    error
	publishErr error
	published  []string
	events     chan brokerclient.Event
	closed     bool
}

func newFakeBrokerClient() *fakeBrokerClient {
	return &fakeBrokerClient{events: make(chan brokerclient.Event, 8)}
}

func (f *fakeBrokerClient) Dial() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dialCalls++
	return f.dialErr
}

func (f *fakeBrokerClient) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, topic)
	return nil
}

func (f *fakeBrokerClient) Events() <-chan brokerclient.Event { return f.events }

func (f *fakeBrokerClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeBrokerClient) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dialCalls
}

func (f *fakeBrokerClient) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func TestConnectionManager_StartStopGuards(t *testing.T) {
	client := newFakeBrokerClient()
	m := NewConnectionManager(client, time.Hour, zerolog.Nop())

	assert.Error(t, m.Stop())

	assert.NoError(t, m.Start())
	err := m.Start()
	assert.Error(t, err)
	assert.Equal(t, "broker connection manager is already running", err.Error())

	assert.NoError(t, m.Stop())
	assert.True(t, client.closed)
	assert.Error(t, m.Stop())
}

func TestConnectionManager_ConnectTransition(t *testing.T) {
	client := newFakeBrokerClient()
	m := NewConnectionManager(client, time.Hour, zerolog.Nop())

	assert.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	// The first attempt is dispatched immediately.
	assert.Eventually(t, func() bool { return client.dials() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, m.State())
	assert.False(t, m.IsConnected())

	client.events <- brokerclient.Event{Type: brokerclient.EventConnected}
	assert.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnected, m.State())
}

func TestConnectionManager_SingleAttemptInFlight(t *testing.T) {
	client := newFakeBrokerClient()
	m := NewConnectionManager(client, 10*time.Millisecond, zerolog.Nop())

	assert.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	// No outcome event arrives, so the state stays Connecting and the
	// ticker must not dispatch a second attempt.
	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, 1, client.dials())
	assert.Equal(t, StateConnecting, m.State())
}

func TestConnectionManager_RetriesAfterFailure(t *testing.T) {
	client := newFakeBrokerClient()
	m := NewConnectionManager(client, 15*time.Millisecond, zerolog.Nop())

	assert.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	assert.Eventually(t, func() bool { return client.dials() == 1 }, time.Second, 5*time.Millisecond)
	client.events <- brokerclient.Event{Type: brokerclient.EventConnectFailed, Err: errors.New("refused")}

	// Failure returns the state to Ready and the next tick redials.
	assert.Eventually(t, func() bool { return client.dials() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestConnectionManager_ReconnectsAfterConnectionLost(t *testing.T) {
	client := newFakeBrokerClient()
	m := NewConnectionManager(client, 15*time.Millisecond, zerolog.Nop())

	assert.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	client.events <- brokerclient.Event{Type: brokerclient.EventConnected}
	assert.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)

	client.events <- brokerclient.Event{Type: brokerclient.EventConnectionLost, Err: errors.New("gone")}
	assert.Eventually(t, func() bool { return !m.IsConnected() }, time.Second, 5*time.Millisecond)

	// The retry timer dials again without operator intervention.
	assert.Eventually(t, func() bool { return client.dials() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestConnectionManager_PublishRequiresConnection(t *testing.T) {
	client := newFakeBrokerClient()
	m := NewConnectionManager(client, time.Hour, zerolog.Nop())

	assert.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	err := m.Publish("t", []byte("x"))
	assert.Error(t, err)
	assert.Equal(t, 0, client.publishCount())

	client.events <- brokerclient.Event{Type: brokerclient.EventConnected}
	assert.Eventually(t, m.IsConnected, time.Second, 5*time.Millisecond)

	assert.NoError(t, m.Publish("t", []byte("x")))
	assert.Equal(t, 1, client.publishCount())
}

func TestConnectionManager_FailedDialDispatchReturnsToReady(t *testing.T) {
	client := newFakeBrokerClient()
	client.dialErr = errors.New("no route")
	m := NewConnectionManager(client, 15*time.Millisecond, zerolog.Nop())

	assert.NoError(t, m.Start())
	defer func() { _ = m.Stop() }()

	// Each failed dispatch drops back to Ready, so the ticker keeps trying.
	assert.Eventually(t, func() bool { return client.dials() >= 3 }, time.Second, 5*time.Millisecond)
}
