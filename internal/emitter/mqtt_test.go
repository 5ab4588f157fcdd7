package emitter

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }

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

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []message
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return completedToken(p.err)
}

func connectedEmitter(cfg Config, pub publisher) *MQTTEmitter {
	e := NewMQTTEmitter(cfg)
	e.pub = pub
	e.connected = true
	e.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return e
}

func TestNewMQTTEmitter_Defaults(t *testing.T) {
	e := NewMQTTEmitter(Config{Broker: "localhost:1883", Topic: "/captions/", QoS: 7})

	assert.Equal(t, "mudra", e.cfg.ClientID)
	assert.Equal(t, byte(1), e.cfg.QoS)
	assert.Equal(t, "captions/s-1/sentence", e.Topic("s-1"))

	assert.Equal(t, "mudra/abc/sentence", NewMQTTEmitter(Config{}).Topic("abc"))
}

func TestBrokerURL(t *testing.T) {
	assert.Equal(t, "tcp://localhost:1883", BrokerURL("localhost:1883"))
	assert.Equal(t, "ssl://broker:8883", BrokerURL("ssl://broker:8883"))
}

func TestMQTTEmitter_Publish(t *testing.T) {
	pub := &fakePublisher{}
	e := connectedEmitter(Config{QoS: 1}, pub)

	require.NoError(t, e.Publish("s-1", "HELLO WORLD"))
	e.Disconnect()

	require.Len(t, pub.sent, 1)
	msg := pub.sent[0]
	assert.Equal(t, "mudra/s-1/sentence", msg.topic)
	assert.Equal(t, byte(1), msg.qos)

	var got Sentence
	require.NoError(t, json.Unmarshal(msg.payload, &got))
	assert.Equal(t, "s-1", got.SessionID)
	assert.Equal(t, "HELLO WORLD", got.Text)
	assert.True(t, got.Time.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	stats := e.Stats()
	assert.Equal(t, uint64(1), stats.Published["mudra/s-1/sentence"])
	assert.Zero(t, stats.Errors)
	assert.False(t, stats.Connected)
}

func TestMQTTEmitter_PublishFailures(t *testing.T) {
	t.Run("not connected", func(t *testing.T) {
		pub := &fakePublisher{}
		e := NewMQTTEmitter(Config{})
		e.pub = pub

		err := e.Publish("s-1", "HI")

		assert.ErrorIs(t, err, ErrNotConnected)
		assert.Empty(t, pub.sent)
		assert.Equal(t, uint64(1), e.Stats().Errors)
	})

	t.Run("broker rejects", func(t *testing.T) {
		pub := &fakePublisher{err: errors.New("not authorized")}
		e := connectedEmitter(Config{}, pub)

		require.NoError(t, e.Publish("s-1", "HI"))
		e.pending.Wait()

		stats := e.Stats()
		assert.Equal(t, uint64(1), stats.Errors)
		assert.Empty(t, stats.Published)
	})

	t.Run("hook swallows errors", func(t *testing.T) {
		e := NewMQTTEmitter(Config{})
		assert.NotPanics(t, func() { e.OnSentence("s-1", "HI") })
		assert.Equal(t, uint64(1), e.Stats().Errors)
	})
}

func TestMQTTEmitter_PublishDoesNotWaitForAck(t *testing.T) {
	tok := &fakeToken{done: make(chan struct{})}
	e := connectedEmitter(Config{}, publisherFunc(func(string, byte, bool, interface{}) mqtt.Token { return tok }))

	returned := make(chan error, 1)
	go func() { returned <- e.Publish("s-1", "HI") }()

	select {
	case err := <-returned:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on the broker acknowledgement")
	}

	close(tok.done)
	e.pending.Wait()
	assert.Equal(t, uint64(1), e.Stats().Published["mudra/s-1/sentence"])
}

type publisherFunc func(topic string, qos byte, retained bool, payload interface{}) mqtt.Token

func (f publisherFunc) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return f(topic, qos, retained, payload)
}
