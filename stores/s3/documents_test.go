package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"paste-server/core"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Mock bucket keyed by object key
type mockBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
}

func newMockBucket() *mockBucket {
	return &mockBucket{objects: make(map[string][]byte)}
}

func (m *mockBucket) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	data, ok := m.objects[aws.ToString(params.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockBucket) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.objects[aws.ToString(params.Key)] = data
	m.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func TestCreateAndFind(t *testing.T) {
	bucket := newMockBucket()
	store := newDocumentStore(bucket, "pastes")
	ctx := context.Background()

	id, err := store.Create(ctx, &core.Document{Content: "body", Language: "yaml"})
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if _, ok := bucket.objects["documents/"+id+".json"]; !ok {
		t.Errorf("Create() did not write documents/%s.json", id)
	}

	doc, err := store.FindID(ctx, id)
	if err != nil {
		t.Fatalf("FindID() failed: %v", err)
	}
	if doc.Content != "body" || doc.Language != "yaml" || doc.ID != id {
		t.Errorf("FindID() = %+v", doc)
	}
}

func TestFindID_NoSuchKeyIsNotFound(t *testing.T) {
	store := newDocumentStore(newMockBucket(), "pastes")

	_, err := store.FindID(context.Background(), "missing")
	if !core.IsNotFound(err) {
		t.Errorf("FindID() error should wrap ErrDocumentNotFound, got %v", err)
	}
}

func TestFindID_OtherErrorsAreTransient(t *testing.T) {
	bucket := newMockBucket()
	bucket.getErr = errors.New("connection reset")
	store := newDocumentStore(bucket, "pastes")

	_, err := store.FindID(context.Background(), "doc")
	if err == nil || core.IsNotFound(err) {
		t.Errorf("FindID() = %v, want a transient error", err)
	}
}

func TestSaveContent_Upsert(t *testing.T) {
	store := newDocumentStore(newMockBucket(), "pastes")
	ctx := context.Background()

	if err := store.SaveContent(ctx, "doc-1", "first"); err != nil {
		t.Fatalf("SaveContent() failed: %v", err)
	}
	id, _ := store.Create(ctx, &core.Document{Content: "x", Language: "go"})
	if err := store.SaveContent(ctx, id, "y"); err != nil {
		t.Fatalf("SaveContent() failed: %v", err)
	}

	fresh, _ := store.FindID(ctx, "doc-1")
	if fresh.Content != "first" || fresh.Language != core.DefaultLanguage {
		t.Errorf("FindID(doc-1) = %+v", fresh)
	}
	existing, _ := store.FindID(ctx, id)
	if existing.Content != "y" || existing.Language != "go" {
		t.Errorf("FindID(%s) = %+v", id, existing)
	}
}

func TestInvalidIDs(t *testing.T) {
	store := newDocumentStore(newMockBucket(), "pastes")
	ctx := context.Background()

	for _, id := range []string{"", ".", "..", "a/b"} {
		if err := store.SaveContent(ctx, id, "x"); err == nil {
			t.Errorf("SaveContent(%q) should fail", id)
		}
	}
}
