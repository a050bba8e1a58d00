package mqtt

import (
	"errors"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Published is one message recorded by FakeClient.
type Published struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// FakeClient is an in-memory Client for tests. Retained payloads are
// delivered to subscribers the way a broker would, and connection state
// follows paho with auto-reconnect on.
type FakeClient struct {
	mu sync.Mutex

	// Retained maps topic to the retained payload delivered on Subscribe.
	Retained map[string][]byte

	// Messages contains every Publish call that reached the broker.
	Messages []Published

	// Queued contains QoS 1 and 2 publishes made while reconnecting. paho
	// keeps these in its store and sends them after the reconnect.
	Queued []Published

	// Unsubscribed lists topics passed to Unsubscribe.
	Unsubscribed []string

	// SubscribeError and PublishError, if set, fail the matching call.
	SubscribeError error
	PublishError   error

	// ConnectError fails Connect. Hang also makes Connect never complete.
	ConnectError error

	// Hang makes Connect, Subscribe and Publish tokens never complete.
	Hang bool

	// Connected means the network connection is open.
	Connected bool

	// Reconnecting means the connection was lost and paho is retrying:
	// IsConnected is true, IsConnectionOpen is false.
	Reconnecting bool

	// Disconnected tracks if Disconnect was called.
	Disconnected bool
}

// NewFakeClient creates a connected FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{Retained: make(map[string][]byte), Connected: true}
}

var errFakeNotConnected = errors.New("not connected")

// IsConnected matches paho: true while connected or reconnecting.
func (f *FakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected || f.Reconnecting
}

// IsConnectionOpen is true only while connected.
func (f *FakeClient) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected && !f.Reconnecting
}

func (f *FakeClient) open() bool { return f.Connected && !f.Reconnecting }

func (f *FakeClient) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Hang {
		return newToken(nil, false)
	}
	if f.ConnectError != nil {
		return newToken(f.ConnectError, true)
	}
	f.Connected = true
	f.Reconnecting = false
	return newToken(nil, true)
}

func (f *FakeClient) Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Hang {
		return newToken(nil, false)
	}
	if !f.open() {
		return newToken(errFakeNotConnected, true)
	}
	if f.SubscribeError != nil {
		return newToken(f.SubscribeError, true)
	}
	if payload, ok := f.Retained[topic]; ok {
		msg := &fakeMessage{topic: topic, qos: qos, payload: append([]byte(nil), payload...)}
		go callback(nil, msg)
	}
	return newToken(nil, true)
}

func (f *FakeClient) Unsubscribe(topics ...string) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Unsubscribed = append(f.Unsubscribed, topics...)
	return newToken(nil, true)
}

func (f *FakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Hang {
		return newToken(nil, false)
	}
	if !f.Connected && !f.Reconnecting {
		return newToken(errFakeNotConnected, true)
	}
	if f.PublishError != nil {
		return newToken(f.PublishError, true)
	}
	var data []byte
	switch p := payload.(type) {
	case []byte:
		data = append([]byte(nil), p...)
	case string:
		data = []byte(p)
	}
	msg := Published{Topic: topic, QoS: qos, Retained: retained, Payload: data}
	if f.Reconnecting {
		if qos == 0 {
			return newToken(nil, true)
		}
		f.Queued = append(f.Queued, msg)
		return newToken(nil, false)
	}
	f.Messages = append(f.Messages, msg)
	return newToken(nil, true)
}

// FinishReconnect opens the connection again and delivers the queued
// publishes, as paho does after a reconnect.
func (f *FakeClient) FinishReconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reconnecting = false
	f.Connected = true
	f.Messages = append(f.Messages, f.Queued...)
	f.Queued = nil
}

func (f *FakeClient) Disconnect(quiesce uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Disconnected = true
	f.Connected = false
	f.Reconnecting = false
}

// Sent returns a copy of the recorded messages.
func (f *FakeClient) Sent() []Published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Published(nil), f.Messages...)
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type fakeMessage struct {
	topic   string
	qos     byte
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return m.qos }
func (m *fakeMessage) Retained() bool    { return true }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}
