package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"paste-server/collab"
	"paste-server/handlers/websocket"
	"paste-server/stores/memory"
	"strings"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*httptest.Server, *collab.Registry) {
	t.Helper()
	store := memory.NewDocumentStore()
	registry := collab.NewRegistry(store, collab.Options{Debounce: 10 * time.Millisecond})
	srv := httptest.NewServer(setupRouter(store, registry, websocket.OriginPolicy{}))
	t.Cleanup(srv.Close)
	return srv, registry
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, string(data)
}

func TestRouter_DocumentLifecycle(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/api/documents", `{"content":"first","language":"go"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", resp.StatusCode, body)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &created); err != nil || created.ID == "" {
		t.Fatalf("create response %q: %v", body, err)
	}

	resp, _ = do(t, http.MethodPut, srv.URL+"/api/documents/"+created.ID, `{"content":"second"}`)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/documents/"+created.ID+"/raw", "")
	if resp.StatusCode != http.StatusOK || body != "second" {
		t.Errorf("raw = %d %q, want 200 second", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/api/documents/"+created.ID, "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"language":"go"`) {
		t.Errorf("get = %d %s", resp.StatusCode, body)
	}
}

func TestRouter_RoomsListsLiveDocuments(t *testing.T) {
	srv, registry := newTestServer(t)

	session := registry.NewSession("live-doc", nopConn{})
	defer session.Close()
	if _, err := registry.Attach(context.Background(), "live-doc", session); err != nil {
		t.Fatalf("Attach() = %v", err)
	}

	_, body := do(t, http.MethodGet, srv.URL+"/api/rooms", "")
	var rooms []struct {
		ID    string `json:"id"`
		Users int    `json:"users"`
	}
	if err := json.Unmarshal([]byte(body), &rooms); err != nil {
		t.Fatalf("decode %q: %v", body, err)
	}
	if len(rooms) != 1 || rooms[0].ID != "live-doc" || rooms[0].Users != 1 {
		t.Errorf("rooms = %+v", rooms)
	}
}

func TestRouter_RevisionsRequireHistoryStore(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/api/revisions/abc", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without a revision store", resp.StatusCode)
	}
}

type nopConn struct{}

func (nopConn) Send(collab.Message) error { return nil }
func (nopConn) Close() error              { return nil }
