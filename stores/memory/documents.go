package memory

import (
	"context"
	"fmt"
	"paste-server/core"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

type documentStore struct {
	mu        sync.RWMutex
	documents map[string]core.Document
	rooms     map[string]int64
}

func NewDocumentStore() core.DocumentStore {
	return &documentStore{
		documents: make(map[string]core.Document),
		rooms:     make(map[string]int64),
	}
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	s.mu.RLock()
	doc, ok := s.documents[id]
	s.mu.RUnlock()

	if ok {
		log.Debug("Document retrieved successfully")
		return &doc, nil
	}

	log.Debug("Document with specified ID not found")
	return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	now := time.Now().UTC()

	doc := *document
	doc.ID = id
	if doc.Language == "" {
		doc.Language = core.DefaultLanguage
	}
	doc.CreatedAt = now
	doc.UpdatedAt = now

	s.mu.Lock()
	s.documents[id] = doc
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"content_length": len(doc.Content),
	}).Info("Document created successfully")

	return id, nil
}

func (s *documentStore) SaveContent(ctx context.Context, id, content string) error {
	if id == "" {
		return fmt.Errorf("document id is required")
	}
	now := time.Now().UTC()

	s.mu.Lock()
	doc, ok := s.documents[id]
	if !ok {
		doc = core.Document{ID: id, Language: core.DefaultLanguage, CreatedAt: now}
	}
	doc.Content = content
	doc.UpdatedAt = now
	s.documents[id] = doc
	s.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"content_length": len(content),
		"created":        !ok,
	}).Debug("Document content saved")
	return nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}

	s.mu.Lock()
	s.rooms[roomID] = time.Now().UnixMilli()
	s.mu.Unlock()

	return nil
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]core.Room, 0, len(s.rooms))
	for id, last := range s.rooms {
		rooms = append(rooms, core.Room{ID: id, LastActive: last})
	}

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].LastActive == rooms[j].LastActive {
			return rooms[i].ID < rooms[j].ID
		}
		return rooms[i].LastActive > rooms[j].LastActive
	})

	return rooms, nil
}
