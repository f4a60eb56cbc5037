// Package transport defines the session channels a participant talks over:
// a shared metadata document and a broadcast message bus.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Destination selects which participants receive a message.
type Destination string

const (
	// DestinationLocal delivers to the sender only.
	DestinationLocal Destination = "LOCAL"
	// DestinationRemote delivers to every participant except the sender.
	DestinationRemote Destination = "REMOTE"
	// DestinationAll delivers to every participant including the sender.
	DestinationAll Destination = "ALL"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Valid reports whether d is a known destination.
func (d Destination) Valid() bool {
	switch d {
	case DestinationLocal, DestinationRemote, DestinationAll:
		return true
	}
	return false
}

// ParseDestination maps "" to the default (REMOTE) and rejects unknown values.
func ParseDestination(s string) (Destination, error) {
	if s == "" {
		return DestinationRemote, nil
	}
	d := Destination(s)
	if !d.Valid() {
		return "", fmt.Errorf("unknown destination %q", s)
	}
	return d, nil
}

// Message is a delivered broadcast message.
type Message struct {
	From    string          `json:"from"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// MessageHandler receives messages for a subscribed channel.
type MessageHandler func(Message)

// Metadata is the session-wide document channel holding the shared container.
type Metadata interface {
	// GetMetadata returns the current document, nil when none was set.
	GetMetadata(ctx context.Context) ([]byte, error)
	// SetMetadata replaces the whole document.
	SetMetadata(ctx context.Context, doc []byte) error
	// OnMetadataChange registers fn for every new document, including the
	// participant's own writes. Returns an unsubscribe function.
	OnMetadataChange(fn func(doc []byte)) func()
}

// Messenger is the broadcast message channel.
type Messenger interface {
	Send(ctx context.Context, channel string, payload any, dest Destination) error
	Subscribe(channel string, h MessageHandler) func()
}

// Transport is both channels for one participant.
type Transport interface {
	Metadata
	Messenger
	ParticipantID() string
	Close() error
}

// Encode marshals payload unless it is already raw JSON.
func Encode(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, fmt.Errorf("encode payload: invalid json")
		}
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Delivers reports whether a message from sender with dest reaches receiver.
func Delivers(dest Destination, sender, receiver string) bool {
	switch dest {
	case DestinationLocal:
		return sender == receiver
	case DestinationRemote:
		return sender != receiver
	default:
		return true
	}
}
