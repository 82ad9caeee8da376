package filesystem

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"paste-server/core"
	"path/filepath"
	"strings"
	"sync"
	"time"

	stdlog "log"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type documentStore struct {
	basePath string
	// mu serializes read-modify-write cycles on document files.
	mu sync.Mutex
}

// NewDocumentStore keeps one JSON file per document under basePath.
func NewDocumentStore(basePath string) core.DocumentStore {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		stdlog.Fatalf("failed to create base directory: %v", err)
	}
	return &documentStore{basePath: basePath}
}

func (s *documentStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("%w %q", core.ErrInvalidDocumentID, id)
	}
	return filepath.Join(s.basePath, id+".json"), nil
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	filePath, err := s.path(id)
	if err != nil {
		return nil, err
	}

	doc, err := s.read(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}
	log.Debug("Document retrieved successfully")
	return doc, nil
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	filePath, _ := s.path(id)
	now := time.Now().UTC()

	doc := *document
	doc.ID = id
	if doc.Language == "" {
		doc.Language = core.DefaultLanguage
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now

	log := logrus.WithFields(logrus.Fields{
		"document_id": id,
		"file_path":   filePath,
	})

	s.mu.Lock()
	err := s.write(filePath, &doc)
	s.mu.Unlock()
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}
	log.Info("Document created successfully")
	return id, nil
}

func (s *documentStore) SaveContent(ctx context.Context, id, content string) error {
	filePath, err := s.path(id)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(filePath)
	switch {
	case os.IsNotExist(err):
		doc = &core.Document{ID: id, Language: core.DefaultLanguage, CreatedAt: now}
	case err != nil:
		return err
	}
	doc.Content = content
	doc.UpdatedAt = now

	if err := s.write(filePath, doc); err != nil {
		logrus.WithError(err).WithField("document_id", id).Error("Failed to save document")
		return err
	}
	return nil
}

func (s *documentStore) read(filePath string) (*core.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(filePath), err)
	}
	return &doc, nil
}

// write replaces filePath atomically via a temporary file in the same
// directory.
func (s *documentStore) write(filePath string, doc *core.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.basePath, ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filePath)
}
