package collab

import (
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// ErrNotAttached is returned when a session submits an edit before it
// joined a room or after it left one.
var ErrNotAttached = errors.New("session is not attached to a room")

// Conn is the transport side of a session. Send is only ever called
// from the session's writer goroutine; Close may be called from any
// goroutine, more than once.
type Conn interface {
	Send(msg Message) error
	Close() error
}

// Session is one live connection to one document.
type Session struct {
	id         string
	documentID string
	conn       Conn
	maxContent int
	log        *logrus.Entry

	queue     chan Message
	done      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once

	mu       sync.Mutex
	room     *Room
	lastSent string
	hasSent  bool
}

// NewSession wraps conn and starts its writer goroutine. The session
// runs until Close.
func NewSession(documentID string, conn Conn, opts Options) *Session {
	opts = opts.withDefaults()
	id := ulid.Make().String()
	s := &Session{
		id:         id,
		documentID: documentID,
		conn:       conn,
		maxContent: opts.MaxContentBytes,
		queue:      make(chan Message, opts.SendBuffer),
		done:       make(chan struct{}),
		log: logrus.WithFields(logrus.Fields{
			"document_id": documentID,
			"session_id":  id,
		}),
	}
	go s.writeLoop()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) DocumentID() string { return s.documentID }

// Done is closed once the session has been stopped or closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// HandleMessage decodes one inbound frame and submits it as an edit.
// Malformed frames are logged and dropped; the returned error is only
// informational.
func (s *Session) HandleMessage(data []byte) error {
	msg, err := DecodeMessage(data, s.maxContent)
	if err != nil {
		s.log.WithError(err).Warn("Dropping malformed message")
		return err
	}
	return s.Submit(msg.Content)
}

// Submit records content as the last value this session sent, then
// hands it to the room.
func (s *Session) Submit(content string) error {
	s.mu.Lock()
	room := s.room
	s.lastSent = content
	s.hasSent = true
	s.mu.Unlock()

	if room == nil {
		return ErrNotAttached
	}
	room.ApplyEdit(EditEvent{
		DocumentID:      s.documentID,
		Content:         content,
		OriginSessionID: s.id,
	})
	return nil
}

// Stop ends the writer goroutine without closing the transport, for
// transports that carry several sessions over one connection.
func (s *Session) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// Close stops the writer and closes the transport. Detaching from the
// room is left to the transport's read loop.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.Stop()
		err = s.conn.Close()
	})
	return err
}

func (s *Session) setRoom(room *Room) {
	s.mu.Lock()
	s.room = room
	s.mu.Unlock()
}

// deliver queues msg without blocking; it is called with the room
// lock held so queue order is apply order.
func (s *Session) deliver(msg Message) {
	select {
	case <-s.done:
		return
	default:
	}

	select {
	case s.queue <- msg:
	default:
		s.log.WithField("queue_length", cap(s.queue)).Warn("Outbound queue full, closing slow session")
		go s.Close()
	}
}

// isEcho reports whether msg carries the content this session itself
// last sent. Delivering anything else means the client now holds that
// content, so the recorded value no longer applies.
func (s *Session) isEcho(msg Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasSent && msg.Content == s.lastSent {
		return true
	}
	s.hasSent = false
	s.lastSent = ""
	return false
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			if s.isEcho(msg) {
				s.log.Debug("Suppressed echo of own edit")
				continue
			}
			if err := s.conn.Send(msg); err != nil {
				s.log.WithError(err).Warn("Failed to deliver update, closing session")
				s.Close()
				return
			}
		}
	}
}
