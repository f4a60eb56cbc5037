//go:build !no_mqtt

// Package mqtt implements the room transport over an MQTT broker. The shared
// document is a retained message; protocol messages travel on per-channel
// topics wrapped in an envelope naming sender and destination.
package mqtt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"scriptroom/internal/transport"
)

const (
	publishTimeout     = 5 * time.Second
	defaultSyncTimeout = time.Second
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	Room        string
	// SyncTimeout bounds how long GetMetadata waits for the retained
	// document after connecting. An empty room never sends one.
	SyncTimeout time.Duration
}

// Bridge is one participant's connection to a room. It implements
// transport.Transport.
type Bridge struct {
	client  pahomqtt.Client
	id      string
	topics  topics
	logger  *slog.Logger
	publish func(ctx context.Context, topic string, payload []byte, retained bool) error

	syncWait time.Duration
	synced   chan struct{}
	syncOnce sync.Once

	// Inbound broker messages are queued and routed by one goroutine so
	// retained documents apply in arrival order.
	inMu  sync.Mutex
	inbox []inbound
	wake  chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	doc      []byte
	subs     map[string]map[uint64]transport.MessageHandler
	metaSubs map[uint64]func([]byte)
	nextID   uint64
	closed   bool
}

var _ transport.Transport = (*Bridge)(nil)

type inbound struct {
	topic   string
	payload []byte
}

func newBridge(participantID string, cfg Config, logger *slog.Logger) *Bridge {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = defaultSyncTimeout
	}
	b := &Bridge{
		id:       participantID,
		topics:   newTopics(cfg.TopicPrefix, cfg.Room),
		logger:   logger.With("component", "mqtt", "room", cfg.Room),
		syncWait: cfg.SyncTimeout,
		synced:   make(chan struct{}),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		subs:     make(map[string]map[uint64]transport.MessageHandler),
		metaSubs: make(map[uint64]func([]byte)),
	}
	go b.dispatch()
	return b
}

// NewBridge connects participantID to the room named in cfg.
func NewBridge(participantID string, cfg Config, logger *slog.Logger) (*Bridge, error) {
	b := newBridge(participantID, cfg, logger)
	b.publish = b.publishMQTT

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("scriptroom-" + participantID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetOrderMatters(true).
		SetWill(b.topics.presence(participantID), "offline", 1, true).
		SetOnConnectHandler(func(c pahomqtt.Client) {
			b.logger.Info("MQTT connected")
			b.publishPresence("online")
			b.subscribe(c)
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			b.logger.Warn("MQTT connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return b, nil
}

func (b *Bridge) subscribe(c pahomqtt.Client) {
	filters := map[string]byte{
		b.topics.metadata(): 1,
		b.topics.messages(): 1,
	}
	token := c.SubscribeMultiple(filters, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.enqueue(msg.Topic(), msg.Payload())
	})
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			b.logger.Warn("MQTT subscribe timeout")
		} else if err := token.Error(); err != nil {
			b.logger.Error("MQTT subscribe failed", "err", err)
		}
	}()
}

// enqueue hands a broker message to the dispatch goroutine. It never blocks,
// so it is safe on the client's ordered callback path.
func (b *Bridge) enqueue(topic string, payload []byte) {
	b.inMu.Lock()
	b.inbox = append(b.inbox, inbound{topic: topic, payload: bytes.Clone(payload)})
	b.inMu.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bridge) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case <-b.wake:
		}
		for {
			m, ok := b.nextInbound()
			if !ok {
				break
			}
			b.route(m.topic, m.payload)
		}
	}
}

func (b *Bridge) nextInbound() (inbound, bool) {
	b.inMu.Lock()
	defer b.inMu.Unlock()
	select {
	case <-b.done:
		return inbound{}, false
	default:
	}
	if len(b.inbox) == 0 {
		return inbound{}, false
	}
	m := b.inbox[0]
	b.inbox[0] = inbound{}
	b.inbox = b.inbox[1:]
	return m, true
}

// route dispatches one inbound broker message.
func (b *Bridge) route(topic string, payload []byte) {
	if topic == b.topics.metadata() {
		b.handleMetadata(payload)
		return
	}
	channel, ok := b.topics.channel(topic)
	if !ok {
		b.logger.Debug("ignoring topic", "topic", topic)
		return
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("invalid envelope", "topic", topic, "err", err)
		return
	}
	if !transport.Delivers(env.Destination, env.From, b.id) {
		return
	}
	b.deliver(transport.Message{From: env.From, Channel: channel, Payload: env.Payload})
}

func (b *Bridge) handleMetadata(payload []byte) {
	var doc []byte
	if len(payload) > 0 {
		doc = bytes.Clone(payload)
	}
	b.mu.Lock()
	b.doc = doc
	handlers := make([]func([]byte), 0, len(b.metaSubs))
	for _, fn := range b.metaSubs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()
	b.syncOnce.Do(func() { close(b.synced) })

	for _, fn := range handlers {
		fn(bytes.Clone(doc))
	}
}

func (b *Bridge) deliver(m transport.Message) {
	b.mu.Lock()
	handlers := make([]transport.MessageHandler, 0, len(b.subs[m.Channel]))
	for _, h := range b.subs[m.Channel] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(m)
	}
}

// ParticipantID returns the id this bridge publishes as.
func (b *Bridge) ParticipantID() string { return b.id }

// GetMetadata returns the room document, waiting briefly for the retained
// copy after connecting.
func (b *Bridge) GetMetadata(ctx context.Context) ([]byte, error) {
	if b.isClosed() {
		return nil, transport.ErrClosed
	}
	timer := time.NewTimer(b.syncWait)
	defer timer.Stop()
	select {
	case <-b.synced:
	case <-timer.C:
		b.logger.Debug("no retained document, assuming empty room")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.doc == nil {
		return nil, nil
	}
	return bytes.Clone(b.doc), nil
}

// SetMetadata publishes doc as the retained room document. Subscribers,
// including this bridge, are notified when the broker echoes it.
func (b *Bridge) SetMetadata(ctx context.Context, doc []byte) error {
	if b.isClosed() {
		return transport.ErrClosed
	}
	if err := b.publish(ctx, b.topics.metadata(), doc, true); err != nil {
		return fmt.Errorf("publish metadata: %w", err)
	}
	b.mu.Lock()
	b.doc = bytes.Clone(doc)
	b.mu.Unlock()
	return nil
}

func (b *Bridge) OnMetadataChange(fn func(doc []byte)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.metaSubs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.metaSubs, id)
	}
}

// Send delivers LOCAL messages in-process and publishes the rest.
func (b *Bridge) Send(ctx context.Context, channel string, payload any, dest transport.Destination) error {
	if b.isClosed() {
		return transport.ErrClosed
	}
	if err := validChannel(channel); err != nil {
		return err
	}
	if !dest.Valid() {
		return fmt.Errorf("send %s: invalid destination %q", channel, dest)
	}
	data, err := transport.Encode(payload)
	if err != nil {
		return err
	}

	if dest == transport.DestinationLocal {
		b.deliver(transport.Message{From: b.id, Channel: channel, Payload: data})
		return nil
	}

	env, err := json.Marshal(envelope{From: b.id, Destination: dest, Payload: data})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := b.publish(ctx, b.topics.message(channel), env, false); err != nil {
		return fmt.Errorf("send %s: %w", channel, err)
	}
	return nil
}

func (b *Bridge) Subscribe(channel string, h transport.MessageHandler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[uint64]transport.MessageHandler)
	}
	b.subs[channel][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[channel], id)
	}
}

// Close publishes offline presence and disconnects.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = make(map[string]map[uint64]transport.MessageHandler)
	b.metaSubs = make(map[uint64]func([]byte))
	b.mu.Unlock()
	close(b.done)

	if b.client != nil {
		b.publishPresence("offline")
		b.client.Disconnect(1000)
	}
	b.logger.Info("MQTT bridge stopped")
	return nil
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bridge) publishPresence(state string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := b.publish(ctx, b.topics.presence(b.id), []byte(state), true); err != nil {
		b.logger.Warn("MQTT presence publish failed", "state", state, "err", err)
	}
}

func (b *Bridge) publishMQTT(ctx context.Context, topic string, payload []byte, retained bool) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	token := b.client.Publish(topic, 1, retained, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		b.logger.Warn("MQTT publish timeout", "topic", topic)
		return ctx.Err()
	}
}

// envelope wraps a message on the wire.
type envelope struct {
	From        string                `json:"from"`
	Destination transport.Destination `json:"destination"`
	Payload     json.RawMessage       `json:"payload"`
}

func validChannel(channel string) error {
	if channel == "" || strings.ContainsAny(channel, "+#") {
		return fmt.Errorf("invalid channel %q", channel)
	}
	return nil
}
