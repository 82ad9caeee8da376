package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"paste-server/collab"
	"reflect"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

var localhostOrigin = regexp.MustCompile(`^https?://(localhost|127\.0\.0\.1|\[::1\])(:\d+)?$`)

type ackInvoker func(err error, payload map[string]any)

// socketPeer is the part of a Socket.IO socket the handlers use.
type socketPeer interface {
	Emit(ev string, args ...any) error
	Disconnect(status bool) *socketio.Socket
}

// socketConn carries one document's updates over a Socket.IO socket.
// Updates are emitted as content_update(documentId, message).
type socketConn struct {
	peer       socketPeer
	documentID string
}

func (c *socketConn) Send(msg collab.Message) error {
	return c.peer.Emit(collab.TypeContentUpdate, c.documentID, map[string]any{
		"type":    msg.Type,
		"content": msg.Content,
	})
}

// Close drops the whole socket. It is only reached for a failed or
// slow session, or on shutdown; leaving one document uses Stop.
func (c *socketConn) Close() error {
	c.peer.Disconnect(true)
	return nil
}

// socketSessions tracks the sessions one socket holds, one per joined
// document.
type socketSessions struct {
	mu       sync.Mutex
	sessions map[string]*collab.Session
}

func (s *socketSessions) get(documentID string) *collab.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[documentID]
}

// only returns the session when exactly one document is joined.
func (s *socketSessions) only() *collab.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sessions) != 1 {
		return nil
	}
	for _, session := range s.sessions {
		return session
	}
	return nil
}

func (s *socketSessions) take(documentID string) *collab.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.sessions[documentID]
	delete(s.sessions, documentID)
	return session
}

func (s *socketSessions) takeAll() []*collab.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := make([]*collab.Session, 0, len(s.sessions))
	for id, session := range s.sessions {
		all = append(all, session)
		delete(s.sessions, id)
	}
	return all
}

func SetupSocketIO(registry *collab.Registry, policy OriginPolicy) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(int64(registry.Options().MaxContentBytes + readLimitSlack))
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	origins := []any{"tauri://localhost", localhostOrigin}
	for _, extra := range policy.Extra {
		origins = append(origins, extra)
	}
	opts.SetCors(&types.Cors{
		Origin:      origins,
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)

	//nolint:errcheck // Socket.IO event handlers do not return useful errors
	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}
		h := newSocketHandler(registry, socket, logrus.WithField("socket_id", string(socket.Id())))

		//nolint:errcheck
		socket.On("join-room", h.join)
		//nolint:errcheck
		socket.On(collab.TypeContentUpdate, h.update)
		//nolint:errcheck
		socket.On("leave-room", h.leave)
		//nolint:errcheck
		socket.On("disconnect", func(...any) {
			h.disconnect()
			socket.RemoveAllListeners("")
		})
	})

	return srv
}

// socketHandler serves the events of one connected socket.
type socketHandler struct {
	registry *collab.Registry
	peer     socketPeer
	joined   *socketSessions
	log      *logrus.Entry
}

func newSocketHandler(registry *collab.Registry, peer socketPeer, log *logrus.Entry) *socketHandler {
	return &socketHandler{
		registry: registry,
		peer:     peer,
		joined:   &socketSessions{sessions: make(map[string]*collab.Session)},
		log:      log,
	}
}

func (h *socketHandler) join(datas ...any) {
	ack, args := extractAck(datas)
	documentID, _ := firstString(args)
	if documentID == "" {
		err := fmt.Errorf("document id is required")
		respondWithAck(h.peer, ack, "join-room-ack", errorPayload(err), err)
		return
	}
	if h.joined.get(documentID) != nil {
		respondWithAck(h.peer, ack, "join-room-ack", map[string]any{"status": "ok", "document_id": documentID}, nil)
		return
	}

	session := h.registry.NewSession(documentID, &socketConn{peer: h.peer, documentID: documentID})
	if _, err := h.registry.Attach(context.Background(), documentID, session); err != nil {
		h.log.WithError(err).WithField("document_id", documentID).Warn("Rejecting Socket.IO join")
		// Other documents may still be joined on this socket.
		session.Stop()
		respondWithAck(h.peer, ack, "join-room-ack", errorPayload(err), err)
		return
	}
	h.joined.mu.Lock()
	h.joined.sessions[documentID] = session
	h.joined.mu.Unlock()

	h.log.WithField("document_id", documentID).Info("Socket joined document")
	respondWithAck(h.peer, ack, "join-room-ack", map[string]any{
		"status":      "ok",
		"document_id": documentID,
		"user_count":  h.registry.ActiveRooms()[documentID],
	}, nil)
}

func (h *socketHandler) update(datas ...any) {
	_, args := extractAck(datas)
	documentID, payload := parseContentArgs(args)
	session := h.joined.only()
	if documentID != "" {
		session = h.joined.get(documentID)
	}
	if session == nil {
		h.log.WithField("document_id", documentID).Warn("Dropping update for a document the socket has not joined")
		return
	}
	data, err := payloadBytes(payload)
	if err != nil {
		h.log.WithError(err).Warn("Dropping malformed Socket.IO update")
		return
	}
	_ = session.HandleMessage(data)
}

func (h *socketHandler) leave(datas ...any) {
	_, args := extractAck(datas)
	documentID, _ := firstString(args)
	if session := h.joined.take(documentID); session != nil {
		h.detach(session)
	}
}

func (h *socketHandler) disconnect() {
	for _, session := range h.joined.takeAll() {
		h.detach(session)
	}
}

// detach stops the session's writer, leaving the socket open, and
// removes it from its room.
func (h *socketHandler) detach(session *collab.Session) {
	session.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
	defer cancel()
	if err := h.registry.Detach(ctx, session.DocumentID(), session); err != nil {
		h.log.WithError(err).WithField("document_id", session.DocumentID()).Warn("Document not yet persisted after last session left")
	}
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	value, ok := args[0].(string)
	return value, ok
}

// parseContentArgs accepts (documentId, message) or (message).
func parseContentArgs(args []any) (documentID string, payload any) {
	switch len(args) {
	case 0:
		return "", nil
	case 1:
		return "", args[0]
	}
	documentID, _ = args[0].(string)
	return documentID, args[1]
}

// payloadBytes turns a decoded Socket.IO argument back into the JSON
// frame the session parses.
func payloadBytes(payload any) ([]byte, error) {
	switch value := payload.(type) {
	case nil:
		return nil, fmt.Errorf("%w: empty payload", collab.ErrMalformedMessage)
	case string:
		return []byte(value), nil
	case []byte:
		return value, nil
	default:
		return json.Marshal(value)
	}
}

func errorPayload(err error) map[string]any {
	return map[string]any{
		"status": "error",
		"error":  err.Error(),
	}
}

func extractAck(datas []any) (ack ackInvoker, args []any) {
	if len(datas) == 0 {
		return nil, datas
	}
	ack = wrapAck(datas[len(datas)-1])
	if ack == nil {
		return nil, datas
	}
	return ack, datas[:len(datas)-1]
}

// wrapAck adapts whatever callback type the client library handed us.
// One-argument and variadic callbacks get the payload, or the error;
// two-argument callbacks get (error, payload).
func wrapAck(candidate any) ackInvoker {
	if candidate == nil {
		return nil
	}
	value := reflect.ValueOf(candidate)
	if value.Kind() != reflect.Func {
		return nil
	}

	typ := value.Type()
	return func(err error, payload map[string]any) {
		numIn := typ.NumIn()
		if typ.IsVariadic() {
			numIn--
		}
		args := make([]reflect.Value, numIn)
		for i := range args {
			var arg any
			switch {
			case numIn == 1 && err != nil:
				arg = err
			case numIn == 1:
				arg = payload
			case i == 0:
				arg = err
			case i == 1:
				arg = payload
			}
			args[i] = coerceValue(arg, typ.In(i))
		}
		if typ.IsVariadic() {
			var rest any = payload
			if err != nil {
				rest = err
			}
			slice := reflect.MakeSlice(typ.In(numIn), 1, 1)
			slice.Index(0).Set(coerceValue(rest, typ.In(numIn).Elem()))
			value.CallSlice(append(args, slice))
			return
		}
		value.Call(args)
	}
}

func coerceValue(value any, target reflect.Type) reflect.Value {
	if value == nil {
		return reflect.Zero(target)
	}
	rv := reflect.ValueOf(value)
	switch {
	case rv.Type().AssignableTo(target):
		return rv
	case rv.Type().ConvertibleTo(target):
		return rv.Convert(target)
	case target.Kind() == reflect.String:
		return reflect.ValueOf(fmt.Sprint(value)).Convert(target)
	}
	return reflect.Zero(target)
}

func respondWithAck(peer socketPeer, ack ackInvoker, event string, payload map[string]any, ackErr error) {
	if ack != nil {
		ack(ackErr, payload)
	}
	if event != "" && payload != nil {
		_ = peer.Emit(event, payload)
	}
}
