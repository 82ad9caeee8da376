package collab

import (
	"context"
	"paste-server/clock"
	"paste-server/core"
	"time"
)

const (
	DefaultDebounce        = time.Second
	DefaultFlushAttempts   = 3
	DefaultIdleRetries     = 10
	DefaultMaxContentBytes = 5000000
	DefaultSendBuffer      = 64
	DefaultStoreTimeout    = 10 * time.Second

	// NoIdleRetries as IdleRetries abandons unsaved content as soon as
	// the final flush fails.
	NoIdleRetries = -1
)

// Store is the part of core.DocumentStore the engine needs.
type Store interface {
	FindID(ctx context.Context, id string) (*core.Document, error)
	SaveContent(ctx context.Context, id, content string) error
}

// Options tunes a Registry. Zero values fall back to the defaults.
type Options struct {
	// Debounce is the quiet period before a write, and the delay
	// between retries of a failed write.
	Debounce time.Duration
	// FlushAttempts bounds the synchronous save attempts made when the
	// last session leaves a room.
	FlushAttempts int
	// IdleRetries bounds the background retries of a room whose final
	// flush failed. Once exhausted the unsaved content is abandoned.
	// Zero selects the default; use NoIdleRetries to disable them.
	IdleRetries int
	// MaxContentBytes rejects larger inbound edits as malformed.
	MaxContentBytes int
	// SendBuffer is the per-session outbound queue length. A session
	// whose queue is full is closed as a slow consumer.
	SendBuffer int
	// StoreTimeout bounds every individual store call.
	StoreTimeout time.Duration
	Clock        clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = DefaultDebounce
	}
	if o.FlushAttempts <= 0 {
		o.FlushAttempts = DefaultFlushAttempts
	}
	if o.IdleRetries < 0 {
		o.IdleRetries = 0
	} else if o.IdleRetries == 0 {
		o.IdleRetries = DefaultIdleRetries
	}
	if o.MaxContentBytes <= 0 {
		o.MaxContentBytes = DefaultMaxContentBytes
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = DefaultStoreTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	return o
}
