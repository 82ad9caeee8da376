package postgres

import (
	"context"
	"errors"
	"fmt"
	"paste-server/core"
	"time"

	stdlog "log"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	language TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS rooms (
	room_id TEXT PRIMARY KEY,
	last_active BIGINT NOT NULL
);`

type documentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(databaseURL string) core.DocumentStore {
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		stdlog.Fatal(err)
	}
	if err := pool.Ping(ctx); err != nil {
		stdlog.Fatal(err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		stdlog.Fatal(err)
	}
	return &documentStore{pool: pool}
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)

	var doc core.Document
	err := s.pool.QueryRow(ctx,
		"SELECT id, content, language, created_at, updated_at FROM documents WHERE id = $1", id).
		Scan(&doc.ID, &doc.Content, &doc.Language, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			log.Debug("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}
	return &doc, nil
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	language := document.Language
	if language == "" {
		language = core.DefaultLanguage
	}
	log := logrus.WithField("document_id", id)

	_, err := s.pool.Exec(ctx,
		"INSERT INTO documents (id, content, language) VALUES ($1, $2, $3)",
		id, document.Content, language)
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}
	log.Info("Document created successfully")
	return id, nil
}

func (s *documentStore) SaveContent(ctx context.Context, id, content string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, content, language) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, updated_at = NOW()`,
		id, content, core.DefaultLanguage)
	if err != nil {
		logrus.WithError(err).WithField("document_id", id).Error("Failed to save document")
	}
	return err
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (room_id, last_active) VALUES ($1, $2)
		 ON CONFLICT (room_id) DO UPDATE SET last_active = EXCLUDED.last_active`,
		roomID, time.Now().UnixMilli())
	return err
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.pool.Query(ctx, "SELECT room_id, last_active FROM rooms ORDER BY last_active DESC, room_id ASC")
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (core.Room, error) {
		var room core.Room
		err := row.Scan(&room.ID, &room.LastActive)
		return room, err
	})
}

// Close releases the connection pool.
func (s *documentStore) Close() {
	s.pool.Close()
}
