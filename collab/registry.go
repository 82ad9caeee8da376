package collab

import (
	"context"
	"errors"
	"fmt"
	"paste-server/core"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	// ErrRoomUnavailable wraps a transient store failure while creating
	// a room. The connection should be rejected and retried later.
	ErrRoomUnavailable = errors.New("room unavailable")
	// ErrRegistryClosed is returned once Shutdown has started.
	ErrRegistryClosed = errors.New("registry closed")
)

// Registry owns every live Room, keyed by document id.
type Registry struct {
	store Store
	opts  Options

	mu     sync.Mutex
	rooms  map[string]*Room
	locks  map[string]*documentLock
	closed bool
}

type documentLock struct {
	mu   sync.Mutex
	refs int
}

func NewRegistry(store Store, opts Options) *Registry {
	return &Registry{
		store: store,
		opts:  opts.withDefaults(),
		rooms: make(map[string]*Room),
		locks: make(map[string]*documentLock),
	}
}

// Options returns the effective options, defaults applied.
func (g *Registry) Options() Options { return g.opts }

// NewSession creates a session using the registry's options.
func (g *Registry) NewSession(documentID string, conn Conn) *Session {
	return NewSession(documentID, conn, g.opts)
}

// lockDocument serializes attach, detach and publish for one document
// without blocking other documents. The returned func unlocks.
func (g *Registry) lockDocument(documentID string) func() {
	g.mu.Lock()
	l, ok := g.locks[documentID]
	if !ok {
		l = &documentLock{}
		g.locks[documentID] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, documentID)
		}
		g.mu.Unlock()
	}
}

func (g *Registry) room(documentID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[documentID]
}

// Attach adds s to the room for documentID, creating and seeding the
// room from the store when none exists. A document the store does not
// know starts empty.
func (g *Registry) Attach(ctx context.Context, documentID string, s *Session) (*Room, error) {
	unlock := g.lockDocument(documentID)
	defer unlock()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	room := g.rooms[documentID]
	g.mu.Unlock()

	log := logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"session_id":  s.ID(),
	})

	if room == nil {
		content, err := g.load(ctx, documentID)
		if err != nil {
			log.WithError(err).Warn("Failed to load document for new room")
			if core.IsInvalidID(err) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrRoomUnavailable, err)
		}
		room = newRoom(documentID, content, g.store, g.opts, g.release)

		g.mu.Lock()
		if g.closed {
			g.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		g.rooms[documentID] = room
		g.mu.Unlock()
		log.WithField("content_length", len(content)).Info("Room created")
	}

	s.setRoom(room)
	room.add(s)
	log.WithField("sessions", room.sessionCount()).Info("Session attached")

	if activity, ok := g.store.(core.RoomActivity); ok {
		if err := activity.TouchRoom(ctx, documentID); err != nil {
			log.WithError(err).Warn("Failed to record room activity")
		}
	}
	return room, nil
}

func (g *Registry) load(ctx context.Context, documentID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.StoreTimeout)
	defer cancel()

	doc, err := g.store.FindID(ctx, documentID)
	if err != nil {
		if core.IsNotFound(err) {
			return "", nil
		}
		return "", err
	}
	return doc.Content, nil
}

// Detach removes s from its room. When s was the last session the room
// is flushed synchronously and removed. If the flush fails the room is
// kept, dormant, so a new attach still sees the unsaved content, and
// the error is returned.
func (g *Registry) Detach(ctx context.Context, documentID string, s *Session) error {
	unlock := g.lockDocument(documentID)
	defer unlock()

	s.setRoom(nil)
	room := g.room(documentID)
	if room == nil {
		return nil
	}
	remaining, removed := room.remove(s)
	if !removed {
		return nil
	}

	log := logrus.WithFields(logrus.Fields{
		"document_id": documentID,
		"session_id":  s.ID(),
		"sessions":    remaining,
	})
	log.Info("Session detached")
	if remaining > 0 {
		return nil
	}

	if err := room.flushNow(ctx); err != nil {
		if g.opts.IdleRetries > 0 {
			log.WithError(err).Warn("Keeping room dormant until its content is persisted")
			room.markDormant()
			return err
		}
		log.WithError(err).WithField("content_length", len(room.Content())).Error("Abandoning unsaved content, background retries disabled")
		g.mu.Lock()
		delete(g.rooms, documentID)
		g.mu.Unlock()
		room.close()
		return err
	}

	g.mu.Lock()
	delete(g.rooms, documentID)
	g.mu.Unlock()
	room.close()
	log.Info("Room closed")
	return nil
}

// release drops a dormant room once its timer has drained it.
func (g *Registry) release(room *Room) {
	unlock := g.lockDocument(room.documentID)
	defer unlock()

	if g.room(room.documentID) != room || !room.drainable() {
		return
	}
	g.mu.Lock()
	delete(g.rooms, room.documentID)
	g.mu.Unlock()
	room.close()
	logrus.WithField("document_id", room.documentID).Info("Dormant room closed")
}

// Publish applies content as an edit with no origin session, for
// writes arriving outside the live channel. Without a live room the
// content goes straight to the store.
func (g *Registry) Publish(ctx context.Context, documentID, content string) error {
	unlock := g.lockDocument(documentID)
	defer unlock()

	if room := g.room(documentID); room != nil {
		room.ApplyEdit(EditEvent{DocumentID: documentID, Content: content})
		return nil
	}
	return g.store.SaveContent(ctx, documentID, content)
}

// Content returns the live content of documentID, if it has a room.
func (g *Registry) Content(documentID string) (string, bool) {
	room := g.room(documentID)
	if room == nil {
		return "", false
	}
	return room.Content(), true
}

// ActiveRooms maps each document with attached sessions to the number
// of sessions.
func (g *Registry) ActiveRooms() map[string]int {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.mu.Unlock()

	active := make(map[string]int, len(rooms))
	for _, room := range rooms {
		if n := room.sessionCount(); n > 0 {
			active[room.documentID] = n
		}
	}
	return active
}

// Shutdown closes every session, flushes every room and refuses new
// attaches. Errors from individual rooms are joined.
func (g *Registry) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	ids := make([]string, 0, len(g.rooms))
	for id := range g.rooms {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := g.shutdownRoom(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	logrus.WithField("rooms", len(ids)).Info("Registry shut down")
	return errors.Join(errs...)
}

func (g *Registry) shutdownRoom(ctx context.Context, documentID string) error {
	unlock := g.lockDocument(documentID)
	defer unlock()

	room := g.room(documentID)
	if room == nil {
		return nil
	}
	for _, s := range room.drainSessions() {
		s.setRoom(nil)
		s.Close()
	}
	err := room.flushNow(ctx)
	if err != nil {
		logrus.WithError(err).WithField("document_id", documentID).Error("Unsaved content lost at shutdown")
	}

	g.mu.Lock()
	delete(g.rooms, documentID)
	g.mu.Unlock()
	room.close()
	return err
}
