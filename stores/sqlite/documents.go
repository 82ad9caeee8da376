package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"paste-server/core"
	"time"

	stdlog "log"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// MaxRevisions is how many persisted contents are kept per document.
const MaxRevisions = 10

var schema = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		language TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS revisions (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS revisions_document_id ON revisions (document_id, id);`,
	`CREATE TABLE IF NOT EXISTS rooms (
		room_id TEXT PRIMARY KEY,
		last_active INTEGER NOT NULL
	);`,
}

type documentStore struct {
	db *sql.DB
}

func NewDocumentStore(dataSourceName string) core.DocumentStore {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		stdlog.Fatal(err)
	}
	// sqlite allows a single writer; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			stdlog.Fatal(err)
		}
	}
	return &documentStore{db}
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	log := logrus.WithField("document_id", id)
	log.Debug("Retrieving document by ID")

	var (
		doc              core.Document
		created, updated int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, content, language, created_at, updated_at FROM documents WHERE id = ?", id).
		Scan(&doc.ID, &doc.Content, &doc.Language, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Debug("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, err
	}
	doc.CreatedAt = time.UnixMilli(created).UTC()
	doc.UpdatedAt = time.UnixMilli(updated).UTC()
	return &doc, nil
}

func (s *documentStore) Create(ctx context.Context, document *core.Document) (string, error) {
	id := ulid.Make().String()
	language := document.Language
	if language == "" {
		language = core.DefaultLanguage
	}
	now := time.Now().UnixMilli()
	log := logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"content_length": len(document.Content),
	})

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO documents (id, content, language, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
			id, document.Content, language, now, now); err != nil {
			return err
		}
		return addRevision(ctx, tx, id, document.Content, now)
	})
	if err != nil {
		log.WithError(err).Error("Failed to create document")
		return "", err
	}
	log.Info("Document created successfully")
	return id, nil
}

func (s *documentStore) SaveContent(ctx context.Context, id, content string) error {
	now := time.Now().UnixMilli()
	log := logrus.WithFields(logrus.Fields{
		"document_id":    id,
		"content_length": len(content),
	})

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (id, content, language, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
			id, content, core.DefaultLanguage, now, now); err != nil {
			return err
		}
		return addRevision(ctx, tx, id, content, now)
	})
	if err != nil {
		log.WithError(err).Error("Failed to save document")
		return err
	}
	log.Debug("Document content saved")
	return nil
}

// addRevision records content and drops all but the newest
// MaxRevisions revisions of the document.
func addRevision(ctx context.Context, tx *sql.Tx, documentID, content string, now int64) error {
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO revisions (id, document_id, content, created_at) VALUES (?, ?, ?, ?)",
		ulid.Make().String(), documentID, content, now); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`DELETE FROM revisions WHERE document_id = ? AND id NOT IN (
			SELECT id FROM revisions WHERE document_id = ? ORDER BY id DESC LIMIT ?
		)`, documentID, documentID, MaxRevisions)
	return err
}

func (s *documentStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ListRevisions returns the document's revisions newest first, without
// their content.
func (s *documentStore) ListRevisions(ctx context.Context, documentID string) ([]core.Revision, error) {
	log := logrus.WithField("document_id", documentID)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, document_id, length(CAST(content AS BLOB)), created_at FROM revisions WHERE document_id = ? ORDER BY id DESC",
		documentID)
	if err != nil {
		log.WithError(err).Error("Failed to list revisions")
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil {
			log.WithError(cerr).Warn("Failed to close revision rows")
		}
	}()

	revisions := []core.Revision{}
	for rows.Next() {
		var (
			rev     core.Revision
			created int64
		)
		if err := rows.Scan(&rev.ID, &rev.DocumentID, &rev.Size, &created); err != nil {
			return nil, err
		}
		rev.CreatedAt = time.UnixMilli(created).UTC()
		revisions = append(revisions, rev)
	}
	return revisions, rows.Err()
}

func (s *documentStore) GetRevision(ctx context.Context, id string) (*core.Revision, error) {
	var (
		rev     core.Revision
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, document_id, content, created_at FROM revisions WHERE id = ?", id).
		Scan(&rev.ID, &rev.DocumentID, &rev.Content, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("revision with id %s: %w", id, core.ErrDocumentNotFound)
		}
		logrus.WithError(err).WithField("revision_id", id).Error("Failed to retrieve revision")
		return nil, err
	}
	rev.Size = len(rev.Content)
	rev.CreatedAt = time.UnixMilli(created).UTC()
	return &rev, nil
}

func (s *documentStore) TouchRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room id is required")
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO rooms (room_id, last_active) VALUES (?, ?) ON CONFLICT(room_id) DO UPDATE SET last_active = excluded.last_active",
		roomID, time.Now().UnixMilli())
	return err
}

func (s *documentStore) ListRooms(ctx context.Context) ([]core.Room, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT room_id, last_active FROM rooms ORDER BY last_active DESC, room_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := []core.Room{}
	for rows.Next() {
		var room core.Room
		if err := rows.Scan(&room.ID, &room.LastActive); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}
