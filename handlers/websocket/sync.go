package websocket

import (
	"context"
	"errors"
	"net/http"
	"paste-server/collab"
	"paste-server/core"
	"time"

	"github.com/go-chi/chi/v5"
	gorilla "github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	detachTimeout = 30 * time.Second
	// readLimitSlack covers the JSON framing around the content.
	readLimitSlack = 1024
)

type wsConn struct {
	conn *gorilla.Conn
}

func (c *wsConn) Send(msg collab.Message) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// HandleSync serves the per-document live channel at
// /sync/{documentId}.
func HandleSync(registry *collab.Registry, policy OriginPolicy) http.HandlerFunc {
	upgrader := gorilla.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     policy.CheckOrigin,
	}
	readLimit := int64(registry.Options().MaxContentBytes) + readLimitSlack

	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "documentId")
		if documentID == "" {
			http.Error(w, "document id is required", http.StatusBadRequest)
			return
		}
		log := logrus.WithFields(logrus.Fields{
			"document_id": documentID,
			"remote_addr": r.RemoteAddr,
		})

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		conn.SetReadLimit(readLimit)

		session := registry.NewSession(documentID, &wsConn{conn: conn})
		log = log.WithField("session_id", session.ID())

		if _, err := registry.Attach(r.Context(), documentID, session); err != nil {
			log.WithError(err).Warn("Rejecting sync connection")
			reject(conn, err)
			session.Close()
			return
		}
		defer func() {
			session.Close()
			ctx, cancel := context.WithTimeout(context.Background(), detachTimeout)
			defer cancel()
			if err := registry.Detach(ctx, documentID, session); err != nil {
				log.WithError(err).Warn("Document not yet persisted after last session left")
			}
		}()

		go keepAlive(conn, session.Done())

		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if gorilla.IsUnexpectedCloseError(err, gorilla.CloseNormalClosure, gorilla.CloseGoingAway) {
					log.WithError(err).Warn("Sync connection closed unexpectedly")
				} else {
					log.Debug("Sync connection closed")
				}
				return
			}
			_ = session.HandleMessage(data)
		}
	}
}

// reject sends a close frame telling the client whether retrying makes
// sense.
func reject(conn *gorilla.Conn, err error) {
	code, text := gorilla.CloseTryAgainLater, "document temporarily unavailable"
	switch {
	case errors.Is(err, collab.ErrRegistryClosed):
		code, text = gorilla.CloseGoingAway, "server shutting down"
	case core.IsInvalidID(err):
		code, text = gorilla.ClosePolicyViolation, "invalid document id"
	}
	_ = conn.WriteControl(gorilla.CloseMessage, gorilla.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

func keepAlive(conn *gorilla.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(gorilla.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
