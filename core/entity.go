package core

import (
	"context"
	"errors"
	"time"
)

// ErrDocumentNotFound is wrapped by stores when an id has no document.
// Any other error returned from a store is treated as transient.
var ErrDocumentNotFound = errors.New("document not found")

// ErrInvalidDocumentID is wrapped by stores for ids they cannot
// address. Retrying with the same id never succeeds.
var ErrInvalidDocumentID = errors.New("invalid document id")

// DefaultLanguage is stored for documents first created by a live edit.
const DefaultLanguage = "text"

type (
	Document struct {
		ID        string    `json:"id"`
		Content   string    `json:"content"`
		Language  string    `json:"language"`
		CreatedAt time.Time `json:"created_at"`
		UpdatedAt time.Time `json:"updated_at"`
	}

	DocumentStore interface {
		FindID(ctx context.Context, id string) (*Document, error)
		Create(ctx context.Context, document *Document) (string, error)
		// SaveContent replaces the content of id, creating the document
		// with DefaultLanguage when it does not exist yet.
		SaveContent(ctx context.Context, id, content string) error
	}

	Room struct {
		ID         string
		LastActive int64
	}

	// RoomActivity is implemented by stores that remember when a
	// document last had a live session.
	RoomActivity interface {
		ListRooms(ctx context.Context) ([]Room, error)
		TouchRoom(ctx context.Context, roomID string) error
	}

	Revision struct {
		ID         string    `json:"id"`
		DocumentID string    `json:"document_id"`
		Content    string    `json:"content,omitempty"`
		Size       int       `json:"size"`
		CreatedAt  time.Time `json:"created_at"`
	}

	// RevisionStore is implemented by stores that keep a bounded history
	// of persisted contents.
	RevisionStore interface {
		ListRevisions(ctx context.Context, documentID string) ([]Revision, error)
		GetRevision(ctx context.Context, id string) (*Revision, error)
	}
)

// IsNotFound reports whether err means the document does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDocumentNotFound)
}

// IsInvalidID reports whether err means the id itself was rejected.
func IsInvalidID(err error) bool {
	return errors.Is(err, ErrInvalidDocumentID)
}
