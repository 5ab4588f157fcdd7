// Package emitter forwards confirmed sentences to an MQTT broker so
// displays and other subscribers can follow a conversation.
package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/ayusman/mudra/internal/observability"
)

// ErrNotConnected is returned when publishing before Connect succeeded
// or while the client is reconnecting.
var ErrNotConnected = errors.New("mqtt not connected")

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 2 * time.Second
)

// Config selects the broker and topic layout.
type Config struct {
	// Broker is host:port or a full URL such as ssl://host:8883.
	Broker   string
	ClientID string
	// Topic is the prefix; sentences go to <Topic>/<session>/sentence.
	Topic string
	QoS   byte
}

// Sentence is the JSON payload of one publish.
type Sentence struct {
	SessionID string    `json:"session_id"`
	Text      string    `json:"text"`
	Time      time.Time `json:"time"`
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

// publisher is the part of mqtt.Client the emitter publishes through.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTEmitter publishes confirmed sentences. Publishing never waits for
// the broker; acknowledgements are collected in the background.
type MQTTEmitter struct {
	cfg    Config
	client mqtt.Client
	pub    publisher
	log    zerolog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
	pending   sync.WaitGroup
}

// NewMQTTEmitter creates an emitter. Connect must be called before
// sentences are published.
func NewMQTTEmitter(cfg Config) *MQTTEmitter {
	if cfg.ClientID == "" {
		cfg.ClientID = "mudra"
	}
	cfg.Topic = strings.Trim(cfg.Topic, "/")
	if cfg.Topic == "" {
		cfg.Topic = "mudra"
	}
	if cfg.QoS > 2 {
		cfg.QoS = 1
	}
	return &MQTTEmitter{
		cfg:       cfg,
		log:       observability.WithComponent("mqtt"),
		now:       time.Now,
		published: make(map[string]uint64),
	}
}

// BrokerURL adds the tcp scheme when the broker is given as host:port.
func BrokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection. The client reconnects on
// its own after a lost connection.
func (e *MQTTEmitter) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(BrokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.log.Info().Str("broker", e.cfg.Broker).Str("client_id", e.cfg.ClientID).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.log.Warn().Err(err).Str("broker", e.cfg.Broker).Msg("mqtt connection lost, reconnecting")
	}

	e.client = mqtt.NewClient(opts)
	e.pub = e.client

	// Connect retries in the background; stop it when the first attempt
	// does not land in time.
	token := e.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		e.client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s: timeout", e.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		e.client.Disconnect(0)
		return fmt.Errorf("mqtt connect to %s: %w", e.cfg.Broker, err)
	}
	e.setConnected(true)
	return nil
}

// Topic returns the sentence topic for a session.
func (e *MQTTEmitter) Topic(sessionID string) string {
	return e.cfg.Topic + "/" + sessionID + "/sentence"
}

// Publish sends one confirmed sentence.
func (e *MQTTEmitter) Publish(sessionID, text string) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	payload, err := json.Marshal(Sentence{SessionID: sessionID, Text: text, Time: e.now().UTC()})
	if err != nil {
		e.countError()
		return fmt.Errorf("marshal sentence: %w", err)
	}

	topic := e.Topic(sessionID)
	token := e.pub.Publish(topic, e.cfg.QoS, false, payload)

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		e.await(topic, token)
	}()
	return nil
}

// OnSentence matches app.App.OnSentence. Failures are logged.
func (e *MQTTEmitter) OnSentence(sessionID, text string) {
	if err := e.Publish(sessionID, text); err != nil {
		e.log.Debug().Err(err).Str("session_id", sessionID).Msg("sentence not published")
	}
}

func (e *MQTTEmitter) await(topic string, token mqtt.Token) {
	if !token.WaitTimeout(publishTimeout) {
		e.countError()
		observability.RecordSentencePublished(false)
		e.log.Warn().Str("topic", topic).Msg("publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		e.countError()
		observability.RecordSentencePublished(false)
		e.log.Warn().Err(err).Str("topic", topic).Msg("publish failed")
		return
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()
	observability.RecordSentencePublished(true)
}

// Disconnect waits for outstanding publishes and closes the connection.
func (e *MQTTEmitter) Disconnect() {
	e.pending.Wait()
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.log.Info().Msg("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter statistics.
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
