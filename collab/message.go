package collab

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TypeContentUpdate is the only message type on the wire, in both
// directions.
const TypeContentUpdate = "content_update"

// ErrMalformedMessage is returned for inbound payloads that cannot be
// turned into an edit. The message is dropped; the session stays open.
var ErrMalformedMessage = errors.New("malformed message")

type (
	Message struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}

	// EditEvent is a full replacement of a document's content. An empty
	// OriginSessionID means the edit did not come from a live session
	// and is broadcast to everyone.
	EditEvent struct {
		DocumentID      string
		Content         string
		OriginSessionID string
	}
)

func NewContentUpdate(content string) Message {
	return Message{Type: TypeContentUpdate, Content: content}
}

// DecodeMessage parses an inbound frame. maxContent <= 0 disables the
// size check.
func DecodeMessage(data []byte, maxContent int) (Message, error) {
	var raw struct {
		Type    string  `json:"type"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if raw.Type != TypeContentUpdate {
		return Message{}, fmt.Errorf("%w: unsupported type %q", ErrMalformedMessage, raw.Type)
	}
	if raw.Content == nil {
		return Message{}, fmt.Errorf("%w: missing content", ErrMalformedMessage)
	}
	if maxContent > 0 && len(*raw.Content) > maxContent {
		return Message{}, fmt.Errorf("%w: content is %d bytes, limit %d", ErrMalformedMessage, len(*raw.Content), maxContent)
	}
	return NewContentUpdate(*raw.Content), nil
}

func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
