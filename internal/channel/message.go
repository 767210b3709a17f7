package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types handled by the manager itself.
const (
	// TypeConnectionID carries the identifier the server assigned to this channel.
	TypeConnectionID = "connectionId"
)

// ActionInit is the handshake action sent right after the channel opens.
const ActionInit = "init"

var errMissingType = errors.New("missing type discriminator")

// Message is one inbound frame after parsing.
type Message struct {
	// Type is the "type" discriminator.
	Type string
	// Text is the "message" field when it is a JSON string.
	Text string
	// Raw is the frame exactly as received.
	Raw []byte
}

// Decode unmarshals the full frame into v, for listeners that need fields
// beyond type and message.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// ParseMessage parses a raw frame. Frames that are not JSON objects or
// that carry no "type" are rejected.
func ParseMessage(raw []byte) (Message, error) {
	var envelope struct {
		Type    *string         `json:"type"`
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Message{}, fmt.Errorf("parse frame: %w", err)
	}
	if envelope.Type == nil || *envelope.Type == "" {
		return Message{}, errMissingType
	}

	msg := Message{
		Type: *envelope.Type,
		Raw:  append([]byte(nil), raw...),
	}
	if len(envelope.Message) > 0 {
		var text string
		if err := json.Unmarshal(envelope.Message, &text); err == nil {
			msg.Text = text
		}
	}
	return msg, nil
}

type initMessage struct {
	Action string `json:"action"`
}
