// Package client is a Go client for the live sync channel. It keeps one
// document open, reconnecting through a Reconnector whenever the
// connection drops.
package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"paste-server/clock"
	"paste-server/collab"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrNotConnected is returned by Edit while no connection is open.
// Edits are not queued; the snapshot received on reconnect is
// authoritative.
var ErrNotConnected = errors.New("not connected")

const writeWait = 10 * time.Second

type Options struct {
	Policy Policy
	Clock  clock.Clock
	Dialer *websocket.Dialer
	Header http.Header
	// OnState, when set, observes connection state changes.
	OnState func(State)
}

type Client struct {
	url       string
	dialer    *websocket.Dialer
	header    http.Header
	onContent func(string)
	onState   func(State)
	log       *logrus.Entry

	reconnector *Reconnector

	// writeMu serializes writes on conn.
	writeMu sync.Mutex

	mu       sync.Mutex
	conn     *websocket.Conn
	lastSent string
	hasSent  bool
	closed   bool
}

// SyncURL builds the live channel URL for documentID from an http(s)
// or ws(s) server base URL.
func SyncURL(server, documentID string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	if documentID == "" {
		return "", fmt.Errorf("document id is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/sync/" + url.PathEscape(documentID)
	return u.String(), nil
}

// New prepares a client for documentID. onContent receives every
// update, including the snapshot sent on each (re)connect. Call Start
// to connect.
func New(server, documentID string, onContent func(string), opts Options) (*Client, error) {
	syncURL, err := SyncURL(server, documentID)
	if err != nil {
		return nil, err
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	c := &Client{
		url:       syncURL,
		dialer:    opts.Dialer,
		header:    opts.Header,
		onContent: onContent,
		onState:   opts.OnState,
		log:       logrus.WithField("document_id", documentID),
	}
	c.reconnector = NewReconnector(opts.Clock, opts.Policy, func() { go c.run() })
	return c, nil
}

func (c *Client) Start() { c.reconnector.Start() }

func (c *Client) State() State { return c.reconnector.State() }

func (c *Client) run() {
	c.notify(Connecting)
	conn, _, err := c.dialer.Dial(c.url, c.header)
	if err != nil {
		c.log.WithError(err).WithField("retry_in", c.reconnector.NextDelay(c.reconnector.Attempt()+1)).Warn("Connect failed")
		c.reconnector.Failed()
		c.notify(Disconnected)
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.hasSent = false
	c.mu.Unlock()

	c.reconnector.Opened()
	c.notify(Connected)
	c.log.Info("Connected")

	err = c.readLoop(conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	closed := c.closed
	c.mu.Unlock()
	conn.Close()
	if closed {
		return
	}
	if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		c.log.WithError(err).Error("Server rejected the document, not reconnecting")
		c.reconnector.Stop()
		c.notify(Disconnected)
		return
	}

	c.log.WithError(err).Warn("Connection lost")
	c.reconnector.Closed()
	c.notify(Disconnected)
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := collab.DecodeMessage(data, 0)
		if err != nil {
			c.log.WithError(err).Debug("Ignoring unexpected message")
			continue
		}
		if c.isEcho(msg.Content) {
			continue
		}
		if c.onContent != nil {
			c.onContent(msg.Content)
		}
	}
}

func (c *Client) isEcho(content string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasSent && content == c.lastSent {
		return true
	}
	c.hasSent = false
	return false
}

// Edit sends content as the new full document.
func (c *Client) Edit(content string) error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.lastSent = content
	c.hasSent = true
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(collab.NewContentUpdate(content)); err != nil {
		// the read loop notices the broken connection and reconnects
		return fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	return nil
}

// Close stops reconnecting and closes the connection.
func (c *Client) Close() error {
	c.reconnector.Stop()

	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return conn.Close()
}

func (c *Client) notify(state State) {
	if c.onState != nil {
		c.onState(state)
	}
}
