package transport

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// Hub is an in-process room: every Peer joined to it shares one metadata
// document and one message bus. Used for single-process setups and tests.
type Hub struct {
	mu     sync.Mutex
	doc    []byte
	peers  map[string]*Peer
	logger *slog.Logger
}

// NewHub creates an empty room.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{peers: make(map[string]*Peer), logger: logger}
}

// Join adds a participant to the room.
func (h *Hub) Join(participantID string) *Peer {
	p := &Peer{
		hub:      h,
		id:       participantID,
		subs:     make(map[string]map[uint64]MessageHandler),
		metaSubs: make(map[uint64]func([]byte)),
	}
	h.mu.Lock()
	h.peers[participantID] = p
	h.mu.Unlock()
	return p
}

func (h *Hub) snapshotPeers() []*Peer {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*Peer, 0, len(h.peers))
	for _, p := range h.peers {
		out = append(out, p)
	}
	return out
}

// Peer is one participant's view of a Hub. It implements Transport.
type Peer struct {
	hub *Hub
	id  string

	mu       sync.Mutex
	subs     map[string]map[uint64]MessageHandler
	metaSubs map[uint64]func([]byte)
	nextID   uint64
	closed   bool
}

var _ Transport = (*Peer)(nil)

// ParticipantID returns the id the peer joined with.
func (p *Peer) ParticipantID() string { return p.id }

func (p *Peer) GetMetadata(ctx context.Context) ([]byte, error) {
	if p.isClosed() {
		return nil, ErrClosed
	}
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if p.hub.doc == nil {
		return nil, nil
	}
	return bytes.Clone(p.hub.doc), nil
}

// SetMetadata stores doc and notifies every peer synchronously.
func (p *Peer) SetMetadata(ctx context.Context, doc []byte) error {
	if p.isClosed() {
		return ErrClosed
	}
	p.hub.mu.Lock()
	p.hub.doc = bytes.Clone(doc)
	p.hub.mu.Unlock()

	for _, peer := range p.hub.snapshotPeers() {
		for _, fn := range peer.metaHandlers() {
			fn(bytes.Clone(doc))
		}
	}
	return nil
}

func (p *Peer) OnMetadataChange(fn func(doc []byte)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.metaSubs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.metaSubs, id)
	}
}

// Send delivers payload synchronously to every matching subscriber.
func (p *Peer) Send(ctx context.Context, channel string, payload any, dest Destination) error {
	if p.isClosed() {
		return ErrClosed
	}
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	msg := Message{From: p.id, Channel: channel, Payload: data}
	for _, peer := range p.hub.snapshotPeers() {
		if !Delivers(dest, p.id, peer.id) {
			continue
		}
		for _, h := range peer.handlers(channel) {
			h(msg)
		}
	}
	return nil
}

func (p *Peer) Subscribe(channel string, h MessageHandler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	if p.subs[channel] == nil {
		p.subs[channel] = make(map[uint64]MessageHandler)
	}
	p.subs[channel][id] = h
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs[channel], id)
	}
}

// Close leaves the room.
func (p *Peer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.subs = make(map[string]map[uint64]MessageHandler)
	p.metaSubs = make(map[uint64]func([]byte))
	p.mu.Unlock()

	p.hub.mu.Lock()
	delete(p.hub.peers, p.id)
	p.hub.mu.Unlock()
	return nil
}

func (p *Peer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Peer) handlers(channel string) []MessageHandler {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]MessageHandler, 0, len(p.subs[channel]))
	for _, h := range p.subs[channel] {
		out = append(out, h)
	}
	return out
}

func (p *Peer) metaHandlers() []func([]byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]func([]byte), 0, len(p.metaSubs))
	for _, fn := range p.metaSubs {
		out = append(out, fn)
	}
	return out
}
