// Package broadcast implements the cross-participant protocol for running,
// stopping and removing scripts by selector.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"scriptroom/internal/session"
	"scriptroom/internal/transport"
)

// Channel carries protocol messages.
const Channel = "scriptroom/message"

// Type is the message discriminator.
type Type string

const (
	TypeRunScript     Type = "RUN_SCRIPT"
	TypeStopExecution Type = "STOP_EXECUTION"
	TypeRemoveScript  Type = "REMOVE_SCRIPT"
)

var ErrInvalidMessage = errors.New("invalid message")

// Message is one protocol message. A script is selected by ID or, when ID
// is empty, by Name.
type Message struct {
	Type        Type                  `json:"type"`
	ID          string                `json:"id,omitempty"`
	Name        string                `json:"name,omitempty"`
	ReplyTo     string                `json:"replyTo,omitempty"`
	Destination transport.Destination `json:"destination,omitempty"`
	ExecutionID string                `json:"executionId,omitempty"`
}

// Selector returns the script reference the message carries.
func (m Message) Selector() session.Selector {
	if m.ID != "" {
		return session.Selector{ID: m.ID}
	}
	return session.Selector{Name: m.Name}
}

// Reply answers a RUN_SCRIPT carrying replyTo. ExecutionID is nil for
// one-shot or failed runs.
type Reply struct {
	ExecutionID *string `json:"executionId"`
}

const messageSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "enum": ["RUN_SCRIPT", "STOP_EXECUTION", "REMOVE_SCRIPT"] },
    "id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "replyTo": { "type": "string" },
    "destination": { "enum": ["LOCAL", "REMOTE", "ALL"] },
    "executionId": { "type": "string" }
  },
  "anyOf": [
    { "required": ["id"] },
    { "required": ["name"] }
  ],
  "if": { "properties": { "type": { "const": "STOP_EXECUTION" } } },
  "then": { "required": ["executionId"] }
}`

var messageLoader = gojsonschema.NewStringLoader(messageSchema)

// Decode validates raw against the message schema and decodes it.
func Decode(raw []byte) (Message, error) {
	result, err := gojsonschema.Validate(messageLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !result.Valid() {
		var msg strings.Builder
		for _, desc := range result.Errors() {
			fmt.Fprintf(&msg, "- %s\n", desc)
		}
		return Message{}, fmt.Errorf("%w:\n%s", ErrInvalidMessage, msg.String())
	}

	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return m, nil
}

// Validate checks an outgoing message against the same schema receivers
// apply.
func Validate(m Message) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	_, err = Decode(raw)
	return err
}
