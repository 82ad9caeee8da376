package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"paste-server/core"
	"path"
	"time"

	stdlog "log"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const keyPrefix = "documents/"

// objectAPI is the part of *s3.Client the store uses.
type objectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type documentStore struct {
	client objectAPI
	bucket string
}

// NewDocumentStore stores each document as a JSON object in bucket,
// using the default AWS credential chain.
func NewDocumentStore(bucket string) core.DocumentStore {
	cfg, err := config.LoadDefaultConfig(context.TODO())
	if err != nil {
		stdlog.Fatalf("unable to load SDK config, %v", err)
	}
	return newDocumentStore(s3.NewFromConfig(cfg), bucket)
}

func newDocumentStore(client objectAPI, bucket string) *documentStore {
	return &documentStore{client: client, bucket: bucket}
}

func objectKey(id string) (string, error) {
	if id == "" || id == "." || id == ".." || path.Base(id) != id {
		return "", fmt.Errorf("invalid document id %q", id)
	}
	return keyPrefix + id + ".json", nil
}

func (s *documentStore) FindID(ctx context.Context, id string) (*core.Document, error) {
	key, err := objectKey(id)
	if err != nil {
		return nil, err
	}
	log := logrus.WithFields(logrus.Fields{"document_id": id, "bucket": s.bucket})

	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var missing *s3types.NoSuchKey
		if errors.As(err, &missing) {
			log.Debug("Document with specified ID not found")
			return nil, fmt.Errorf("document with id %s: %w", id, core.ErrDocumentNotFound)
		}
		log.WithError(err).Error("Failed to retrieve document")
		return nil, fmt.Errorf("failed to get document with id %s: %w", id, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read document data: %w", err)
	}
	var doc core.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", id, err)
	}
	return &doc, nil
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

	if err := s.put(ctx, &doc); err != nil {
		logrus.WithError(err).WithField("document_id", id).Error("Failed to create document")
		return "", err
	}
	logrus.WithField("document_id", id).Info("Document created successfully")
	return id, nil
}

func (s *documentStore) SaveContent(ctx context.Context, id, content string) error {
	now := time.Now().UTC()

	doc, err := s.FindID(ctx, id)
	switch {
	case core.IsNotFound(err):
		doc = &core.Document{ID: id, Language: core.DefaultLanguage, CreatedAt: now}
	case err != nil:
		return err
	}
	doc.Content = content
	doc.UpdatedAt = now
	return s.put(ctx, doc)
}

func (s *documentStore) put(ctx context.Context, doc *core.Document) error {
	key, err := objectKey(doc.ID)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload document: %w", err)
	}
	return nil
}
