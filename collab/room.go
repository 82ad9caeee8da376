package collab

import (
	"paste-server/clock"
	"sync"

	"github.com/sirupsen/logrus"
)

// Room is the synchronization unit for one document.
type Room struct {
	documentID string
	store      Store
	opts       Options
	log        *logrus.Entry
	// onDrained is called, without any room lock held, when a dormant
	// room has nothing left to persist.
	onDrained func(*Room)

	// saveMu serializes store writes so a timer flush and a final
	// flush never run concurrently. Lock order: saveMu, then mu.
	saveMu sync.Mutex

	mu        sync.Mutex
	content   string
	persisted string
	sessions  map[string]*Session
	armed     bool
	timer     *clock.Timer
	// timerGen identifies the armed timer; a callback carrying an
	// older value was stopped or superseded and must not run.
	timerGen  uint64
	failures  int
	dormant   bool
	closed    bool
}

// RoomSnapshot is a point-in-time view of a room's state.
type RoomSnapshot struct {
	DocumentID       string
	Content          string
	PersistedContent string
	Sessions         int
	PendingFlush     bool
	Dormant          bool
}

func newRoom(documentID, content string, store Store, opts Options, onDrained func(*Room)) *Room {
	return &Room{
		documentID: documentID,
		store:      store,
		opts:       opts,
		onDrained:  onDrained,
		log:        logrus.WithField("document_id", documentID),
		content:    content,
		persisted:  content,
		sessions:   make(map[string]*Session),
	}
}

func (r *Room) DocumentID() string { return r.documentID }

// Content returns the room's current authoritative content.
func (r *Room) Content() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.content
}

func (r *Room) Snapshot() RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RoomSnapshot{
		DocumentID:       r.documentID,
		Content:          r.content,
		PersistedContent: r.persisted,
		Sessions:         len(r.sessions),
		PendingFlush:     r.armed,
		Dormant:          r.dormant,
	}
}

// ApplyEdit makes edit.Content the room's content, broadcasts it to
// every session except the origin and arms the scheduler. Edits equal
// to the current content are discarded. It reports whether the edit
// changed the room.
func (r *Room) ApplyEdit(edit EditEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || edit.Content == r.content {
		return false
	}
	r.content = edit.Content

	msg := NewContentUpdate(edit.Content)
	for id, session := range r.sessions {
		if id == edit.OriginSessionID {
			continue
		}
		session.deliver(msg)
	}
	r.log.WithFields(logrus.Fields{
		"session_id":     edit.OriginSessionID,
		"content_length": len(edit.Content),
		"recipients":     len(r.sessions),
	}).Debug("Applied edit")

	r.scheduleFlushLocked()
	return true
}

// add registers s and queues the current content to it first, so a
// joining client never works from a stale buffer.
func (r *Room) add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[s.ID()] = s
	s.deliver(NewContentUpdate(r.content))
	if r.dormant {
		r.dormant = false
		r.failures = 0
		if r.content != r.persisted {
			r.scheduleFlushLocked()
		}
	}
}

// remove drops s and returns how many sessions remain and whether s was
// a member.
func (r *Room) remove(s *Session) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[s.ID()]; !ok {
		return len(r.sessions), false
	}
	delete(r.sessions, s.ID())
	return len(r.sessions), true
}

// drainSessions removes and returns every attached session.
func (r *Room) drainSessions() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	return sessions
}

func (r *Room) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// drainable reports whether a dormant room can be dropped.
func (r *Room) drainable() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dormant && len(r.sessions) == 0 && !r.armed
}

func (r *Room) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cancelTimerLocked()
}
