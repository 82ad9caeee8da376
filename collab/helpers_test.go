package collab

import (
	"context"
	"errors"
	"fmt"
	"paste-server/clock"
	"paste-server/core"
	"sync"
	"testing"
	"time"
)

var (
	epoch        = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	errStoreDown = errors.New("store temporarily unavailable")
)

// Mock document store with injectable failures
type mockStore struct {
	mu        sync.Mutex
	documents map[string]string
	saves     []string
	findErr   error
	failSaves int
	saveHook  func(id, content string)
}

func newMockStore() *mockStore {
	return &mockStore{documents: make(map[string]string)}
}

func (m *mockStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	content, ok := m.documents[id]
	if !ok {
		return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}
	return &core.Document{ID: id, Content: content}, nil
}

func (m *mockStore) SaveContent(ctx context.Context, id, content string) error {
	m.mu.Lock()
	hook := m.saveHook
	m.mu.Unlock()
	if hook != nil {
		hook(id, content)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSaves > 0 {
		m.failSaves--
		return errStoreDown
	}
	m.documents[id] = content
	m.saves = append(m.saves, content)
	return nil
}

func (m *mockStore) setFindErr(err error) {
	m.mu.Lock()
	m.findErr = err
	m.mu.Unlock()
}

func (m *mockStore) failNextSaves(n int) {
	m.mu.Lock()
	m.failSaves = n
	m.mu.Unlock()
}

func (m *mockStore) stored(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.documents[id]
}

func (m *mockStore) saveLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.saves...)
}

// recordingConn captures every message a session writes
type recordingConn struct {
	mu      sync.Mutex
	msgs    []Message
	sendErr error
	gate    chan struct{}
	closed  bool
}

func (c *recordingConn) Send(msg Message) error {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recordingConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *recordingConn) contents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, msg := range c.msgs {
		out[i] = msg.Content
	}
	return out
}

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func testOptions(clk clock.Clock) Options {
	return Options{Clock: clk, SendBuffer: 256}
}

func newTestRegistry(t *testing.T, store *mockStore) (*Registry, *clock.FakeClock) {
	t.Helper()
	clk := clock.Fake(epoch)
	return NewRegistry(store, testOptions(clk)), clk
}

func attach(t *testing.T, registry *Registry, documentID string) (*Session, *recordingConn) {
	t.Helper()
	conn := &recordingConn{}
	session := registry.NewSession(documentID, conn)
	t.Cleanup(func() { session.Close() })
	if _, err := registry.Attach(context.Background(), documentID, session); err != nil {
		t.Fatalf("Attach(%q) failed: %v", documentID, err)
	}
	return session, conn
}

// waitForContents waits until conn has received exactly want.
func waitForContents(t *testing.T, conn *recordingConn, want ...string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := conn.contents()
		if equalStrings(got, want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("received %q, want %q", got, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// settle gives writer goroutines a moment, for asserting absence.
func settle() { time.Sleep(30 * time.Millisecond) }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clockForTest() *clock.FakeClock { return clock.Fake(epoch) }
