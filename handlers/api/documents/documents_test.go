package documents

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"paste-server/core"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

const testMaxContent = 1 << 20

// Mock document store for testing
type mockDocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*core.Document
	createErr error
	findErr   error
}

func newMockStore() *mockDocumentStore {
	return &mockDocumentStore{
		documents: make(map[string]*core.Document),
	}
}

func (m *mockDocumentStore) Create(ctx context.Context, doc *core.Document) (string, error) {
	if m.createErr != nil {
		return "", m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := fmt.Sprintf("mock-id-%d", len(m.documents))
	stored := *doc
	stored.ID = id
	if stored.Language == "" {
		stored.Language = core.DefaultLanguage
	}
	m.documents[id] = &stored
	return id, nil
}

func (m *mockDocumentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.RLock()
	doc, exists := m.documents[id]
	m.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}
	copied := *doc
	return &copied, nil
}

func (m *mockDocumentStore) SaveContent(ctx context.Context, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[id] = &core.Document{ID: id, Content: content, Language: core.DefaultLanguage}
	return nil
}

// Mock live registry recording published content
type mockLive struct {
	mu         sync.Mutex
	live       map[string]string
	published  map[string]string
	publishErr error
}

func newMockLive() *mockLive {
	return &mockLive{live: make(map[string]string), published: make(map[string]string)}
}

func (m *mockLive) Content(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.live[id]
	return content, ok
}

func (m *mockLive) Publish(ctx context.Context, id, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published[id] = content
	return nil
}

func withID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	if id != "" {
		rctx.URLParams.Add("id", id)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestHandleCreate_Success(t *testing.T) {
	store := newMockStore()
	handler := HandleCreate(store, testMaxContent)

	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(`{"content":"print(1)","language":"python"}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusCreated)
	}

	var response DocumentCreateResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if response.ID == "" {
		t.Error("Response ID is empty")
	}

	doc := store.documents[response.ID]
	if doc == nil || doc.Content != "print(1)" || doc.Language != "python" {
		t.Errorf("stored document = %+v", doc)
	}
}

func TestHandleCreate_UTF8Content(t *testing.T) {
	store := newMockStore()
	handler := HandleCreate(store, testMaxContent)

	body, _ := json.Marshal(DocumentCreateRequest{Content: "Hello 世界 🌍"})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	handler(rec, req)

	for _, doc := range store.documents {
		if doc.Content != "Hello 世界 🌍" {
			t.Errorf("UTF-8 content not preserved: got %q", doc.Content)
		}
		if doc.Language != core.DefaultLanguage {
			t.Errorf("Language = %q, want %q", doc.Language, core.DefaultLanguage)
		}
	}
}

func TestHandleCreate_InvalidBody(t *testing.T) {
	handler := HandleCreate(newMockStore(), testMaxContent)

	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader("not json"))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleCreate_TooLarge(t *testing.T) {
	handler := HandleCreate(newMockStore(), 16)

	body, _ := json.Marshal(DocumentCreateRequest{Content: strings.Repeat("x", 4096)})
	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(string(body)))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestHandleCreate_StoreError(t *testing.T) {
	store := newMockStore()
	store.createErr = fmt.Errorf("database error")
	handler := HandleCreate(store, testMaxContent)

	req := httptest.NewRequest(http.MethodPost, "/api/documents", strings.NewReader(`{"content":"x"}`))
	rec := httptest.NewRecorder()
	handler(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if !strings.Contains(rec.Body.String(), "Failed to save") {
		t.Errorf("Error message mismatch: got %q", rec.Body.String())
	}
}

func TestHandleGet_Success(t *testing.T) {
	store := newMockStore()
	store.documents["test-id"] = &core.Document{ID: "test-id", Content: "stored", Language: "go"}
	handler := HandleGet(store, newMockLive())

	rec := httptest.NewRecorder()
	handler(rec, withID(httptest.NewRequest(http.MethodGet, "/api/documents/test-id", http.NoBody), "test-id"))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	var doc core.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if doc.Content != "stored" || doc.Language != "go" {
		t.Errorf("response = %+v", doc)
	}
}

func TestHandleGet_LiveContentOverlay(t *testing.T) {
	store := newMockStore()
	store.documents["doc"] = &core.Document{ID: "doc", Content: "old", Language: "go"}
	live := newMockLive()
	live.live["doc"] = "being edited"
	handler := HandleGet(store, live)

	rec := httptest.NewRecorder()
	handler(rec, withID(httptest.NewRequest(http.MethodGet, "/api/documents/doc", http.NoBody), "doc"))

	var doc core.Document
	if err := json.NewDecoder(rec.Body).Decode(&doc); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if doc.Content != "being edited" {
		t.Errorf("Content = %q, want live content", doc.Content)
	}
	if doc.Language != "go" {
		t.Errorf("Language = %q, want go", doc.Language)
	}
}

func TestHandleGet_OnlyLive(t *testing.T) {
	live := newMockLive()
	live.live["unsaved"] = "draft"
	handler := HandleGet(newMockStore(), live)

	rec := httptest.NewRecorder()
	handler(rec, withID(httptest.NewRequest(http.MethodGet, "/api/documents/unsaved", http.NoBody), "unsaved"))

	if rec.Code != http.StatusOK {
		t.Fatalf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	handler := HandleGet(newMockStore(), newMockLive())

	rec := httptest.NewRecorder()
	handler(rec, withID(httptest.NewRequest(http.MethodGet, "/api/documents/nonexistent", http.NoBody), "nonexistent"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), "not found") {
		t.Errorf("Error message mismatch: got %q", rec.Body.String())
	}
}

func TestHandleGet_StoreError(t *testing.T) {
	store := newMockStore()
	store.findErr = fmt.Errorf("database error")
	handler := HandleGet(store, newMockLive())

	rec := httptest.NewRecorder()
	handler(rec, withID(httptest.NewRequest(http.MethodGet, "/api/documents/test-id", http.NoBody), "test-id"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestHandleGetRaw(t *testing.T) {
	testData := "Hello 世界 🌍\n\t!@#$%^&*()"
	store := newMockStore()
	store.documents["special"] = &core.Document{ID: "special", Content: testData}
	handler := HandleGetRaw(store, newMockLive())

	rec := httptest.NewRecorder()
	handler(rec, withID(httptest.NewRequest(http.MethodGet, "/api/documents/special/raw", http.NoBody), "special"))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != testData {
		t.Errorf("Special characters not preserved: got %q, want %q", string(body), testData)
	}
}

func TestHandleUpdate_Publishes(t *testing.T) {
	live := newMockLive()
	handler := HandleUpdate(live, testMaxContent)

	req := httptest.NewRequest(http.MethodPut, "/api/documents/doc", strings.NewReader(`{"content":"new body"}`))
	rec := httptest.NewRecorder()
	handler(rec, withID(req, "doc"))

	if rec.Code != http.StatusNoContent {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	if live.published["doc"] != "new body" {
		t.Errorf("published = %q, want new body", live.published["doc"])
	}
}

func TestHandleUpdate_EmptyContentAllowed(t *testing.T) {
	live := newMockLive()
	handler := HandleUpdate(live, testMaxContent)

	req := httptest.NewRequest(http.MethodPut, "/api/documents/doc", strings.NewReader(`{"content":""}`))
	rec := httptest.NewRecorder()
	handler(rec, withID(req, "doc"))

	if rec.Code != http.StatusNoContent {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	if content, ok := live.published["doc"]; !ok || content != "" {
		t.Errorf("published = %q, %v", content, ok)
	}
}

func TestHandleUpdate_MissingContent(t *testing.T) {
	handler := HandleUpdate(newMockLive(), testMaxContent)

	req := httptest.NewRequest(http.MethodPut, "/api/documents/doc", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler(rec, withID(req, "doc"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleUpdate_MissingIDParameter(t *testing.T) {
	handler := HandleUpdate(newMockLive(), testMaxContent)

	req := httptest.NewRequest(http.MethodPut, "/api/documents/", strings.NewReader(`{"content":"x"}`))
	rec := httptest.NewRecorder()
	handler(rec, withID(req, ""))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleUpdate_PublishError(t *testing.T) {
	live := newMockLive()
	live.publishErr = fmt.Errorf("store down")
	handler := HandleUpdate(live, testMaxContent)

	req := httptest.NewRequest(http.MethodPut, "/api/documents/doc", strings.NewReader(`{"content":"x"}`))
	rec := httptest.NewRecorder()
	handler(rec, withID(req, "doc"))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestHandleGet_InvalidID(t *testing.T) {
	store := newMockStore()
	store.findErr = fmt.Errorf("%w %q", core.ErrInvalidDocumentID, `a\b`)
	handler := HandleGet(store, newMockLive())

	rec := httptest.NewRecorder()
	handler(rec, withID(httptest.NewRequest(http.MethodGet, "/api/documents/x", http.NoBody), `a\b`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleUpdate_InvalidID(t *testing.T) {
	live := newMockLive()
	live.publishErr = fmt.Errorf("%w %q", core.ErrInvalidDocumentID, `a\b`)
	handler := HandleUpdate(live, testMaxContent)

	req := httptest.NewRequest(http.MethodPut, "/api/documents/x", strings.NewReader(`{"content":"x"}`))
	rec := httptest.NewRecorder()
	handler(rec, withID(req, `a\b`))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Status code mismatch: got %d, want %d", rec.Code, http.StatusBadRequest)
	}
}
