package collab

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// scheduleFlushLocked arms the debounce timer unless it is already
// armed. Callers hold r.mu.
func (r *Room) scheduleFlushLocked() {
	if r.armed || r.closed {
		return
	}
	r.armed = true
	r.timerGen++
	gen := r.timerGen
	r.timer = r.opts.Clock.AfterFunc(r.opts.Debounce, func() { r.flushTimer(gen) })
}

func (r *Room) cancelTimerLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.timerGen++
	r.armed = false
}

// flushTimer runs when the debounce timer expires. It saves a snapshot
// of the content outside the room lock, then re-checks: content that
// changed during the save, or a failed save, re-arms the timer. A
// callback that was already running when its timer was stopped or
// replaced returns without touching the room.
func (r *Room) flushTimer(gen uint64) {
	r.saveMu.Lock()
	r.mu.Lock()
	if gen != r.timerGen {
		r.mu.Unlock()
		r.saveMu.Unlock()
		return
	}
	r.armed = false
	r.timer = nil
	if r.closed {
		r.mu.Unlock()
		r.saveMu.Unlock()
		return
	}
	snapshot := r.content
	if snapshot == r.persisted {
		drained := r.dormant && len(r.sessions) == 0
		r.mu.Unlock()
		r.saveMu.Unlock()
		r.notifyDrained(drained)
		return
	}
	r.mu.Unlock()

	err := r.save(snapshot)

	r.mu.Lock()
	drained := false
	if err != nil {
		r.failures++
		log := r.log.WithError(err).WithField("attempt", r.failures)
		if r.dormant && len(r.sessions) == 0 && r.failures > r.opts.IdleRetries {
			log.WithField("content_length", len(r.content)).Error("Abandoning unsaved content after retry budget")
			drained = true
		} else {
			log.Warn("Failed to persist document, retrying")
			r.scheduleFlushLocked()
		}
	} else {
		r.persisted = snapshot
		r.failures = 0
		r.log.WithField("content_length", len(snapshot)).Info("Document persisted")
		if r.content != r.persisted {
			r.scheduleFlushLocked()
		} else if r.dormant && len(r.sessions) == 0 {
			drained = true
		}
	}
	r.mu.Unlock()
	r.saveMu.Unlock()

	r.notifyDrained(drained)
}

func (r *Room) notifyDrained(drained bool) {
	if drained && r.onDrained != nil {
		r.onDrained(r)
	}
}

// flushNow cancels any pending timer and saves the current content
// synchronously, trying up to FlushAttempts times with the debounce
// delay between attempts.
func (r *Room) flushNow(ctx context.Context) error {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.mu.Lock()
	r.cancelTimerLocked()
	r.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= r.opts.FlushAttempts; attempt++ {
		r.mu.Lock()
		snapshot, persisted := r.content, r.persisted
		r.mu.Unlock()
		if snapshot == persisted {
			return nil
		}

		lastErr = r.save(snapshot)
		if lastErr == nil {
			r.mu.Lock()
			r.persisted = snapshot
			r.failures = 0
			r.mu.Unlock()
			r.log.WithField("content_length", len(snapshot)).Info("Document flushed")
			continue
		}

		r.log.WithError(lastErr).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": r.opts.FlushAttempts,
		}).Warn("Final flush failed")
		if attempt == r.opts.FlushAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush %s: %w", r.documentID, ctx.Err())
		case <-r.opts.Clock.After(r.opts.Debounce):
		}
	}
	if lastErr == nil {
		return nil
	}
	return fmt.Errorf("flush %s after %d attempts: %w", r.documentID, r.opts.FlushAttempts, lastErr)
}

// markDormant keeps an unflushed, sessionless room alive and lets the
// timer keep retrying in the background.
func (r *Room) markDormant() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dormant = true
	r.failures = 0
	r.scheduleFlushLocked()
}

func (r *Room) save(content string) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.StoreTimeout)
	defer cancel()
	return r.store.SaveContent(ctx, r.documentID, content)
}
