package redis

import (
	"context"
	"fmt"
	"paste-server/core"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	documentKeyPrefix = "document:"
	roomsKey          = "rooms:last_active"
)

// documentStore keeps each document in a hash and room activity in a
// sorted set scored by unix milliseconds.
type documentStore struct {
	client *redis.Client
}

func NewDocumentStore(client *redis.Client) core.DocumentStore {
	return &documentStore{client: client}
}

func documentKey(id string) string {
	return documentKeyPrefix + id
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	fields, err := s.client.HGetAll(ctx, documentKey(id)).Result()
	if err != nil {
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}
	if len(fields) == 0 {
		log.Debug("Document with specified ID not found")
		return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
	}

	created, _ := strconv.ParseInt(fields["created_at"], 10, 64)
	updated, _ := strconv.ParseInt(fields["updated_at"], 10, 64)
	return &core.Document{
		ID:        id,
		Content:   fields["content"],
		Language:  fields["language"],
		CreatedAt: time.UnixMilli(created).UTC(),
		UpdatedAt: time.UnixMilli(updated).UTC(),
	}, nil
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	language := document.Language
	if language == "" {
		language = core.DefaultLanguage
	}
	now := time.Now().UnixMilli()

	err := s.client.HSet(ctx, documentKey(id),
		"content", document.Content,
		"language", language,
		"created_at", now,
		"updated_at", now,
	).Err()
	log := logrus.WithField("document_id", id)
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}
	log.Info("Document created successfully")
	return id, nil
}

func (s *documentStore) SaveContent(ctx context.Context, id, content string) error {
	key := documentKey(id)
	now := time.Now().UnixMilli()

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, "language", core.DefaultLanguage)
		pipe.HSetNX(ctx, key, "created_at", now)
		pipe.HSet(ctx, key, "content", content, "updated_at", now)
		return nil
	})
	if err != nil {
		logrus.WithError(err).WithField("document_id", id).Error("Failed to save document")
	}
	return err
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	return s.client.ZAdd(ctx, roomsKey, redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: roomID,
	}).Err()
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, roomsKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	rooms := make([]core.Room, 0, len(entries))
	for _, entry := range entries {
		id, _ := entry.Member.(string)
		rooms = append(rooms, core.Room{ID: id, LastActive: int64(entry.Score)})
	}
	return rooms, nil
}
