package documents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"paste-server/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	DocumentCreateRequest struct {
		Content  string `json:"content"`
		Language string `json:"language"`
	}

	DocumentCreateResponse struct {
		ID string `json:"id"`
	}

	DocumentUpdateRequest struct {
		Content *string `json:"content"`
	}

	// LiveDocuments is the live side of a document: what connected
	// editors currently see, and the way to change it for all of them.
	LiveDocuments interface {
		Content(documentID string) (string, bool)
		Publish(ctx context.Context, documentID, content string) error
	}
)

// HandleCreate stores a new document from a JSON body.
func HandleCreate(documentStore core.DocumentStore, maxContent int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req DocumentCreateRequest
		if !decode(w, r, maxContent, &req) {
			return
		}

		id, err := documentStore.Create(r.Context(), &core.Document{
			Content:  req.Content,
			Language: req.Language,
		})
		if err != nil {
			logrus.WithError(err).Error("Failed to save document")
			http.Error(w, "Failed to save", http.StatusInternalServerError)
			return
		}
		render.Status(r, http.StatusCreated)
		render.JSON(w, r, DocumentCreateResponse{ID: id})
	}
}

// HandleGet returns the document, with the live content when editors
// are connected.
func HandleGet(documentStore core.DocumentStore, live LiveDocuments) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := lookup(w, r, documentStore, live)
		if !ok {
			return
		}
		render.JSON(w, r, doc)
	}
}

// HandleGetRaw returns only the content, as plain text.
func HandleGetRaw(documentStore core.DocumentStore, live LiveDocuments) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, ok := lookup(w, r, documentStore, live)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if _, err := w.Write([]byte(doc.Content)); err != nil {
			logrus.WithError(err).Warn("Failed to write raw document")
		}
	}
}

// HandleUpdate replaces the content through the live registry so
// connected editors receive it too.
func HandleUpdate(live LiveDocuments, maxContent int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == "" {
			http.Error(w, "document id is required", http.StatusBadRequest)
			return
		}

		var req DocumentUpdateRequest
		if !decode(w, r, maxContent, &req) {
			return
		}
		if req.Content == nil {
			http.Error(w, "content is required", http.StatusBadRequest)
			return
		}

		if err := live.Publish(r.Context(), id, *req.Content); err != nil {
			if core.IsInvalidID(err) {
				http.Error(w, "invalid document id", http.StatusBadRequest)
				return
			}
			logrus.WithError(err).WithField("document_id", id).Error("Failed to update document")
			http.Error(w, "Failed to save", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func lookup(w http.ResponseWriter, r *http.Request, documentStore core.DocumentStore, live LiveDocuments) (*core.Document, bool) {
	id := chi.URLParam(r, "id")
	log := logrus.WithField("document_id", id)

	doc, err := documentStore.FindID(r.Context(), id)
	switch {
	case err == nil:
	case core.IsInvalidID(err):
		http.Error(w, "invalid document id", http.StatusBadRequest)
		return nil, false
	case core.IsNotFound(err):
		// a document that only exists in a live room is still readable
		if content, ok := live.Content(id); ok {
			doc = &core.Document{ID: id, Content: content, Language: core.DefaultLanguage}
			break
		}
		http.Error(w, "document not found", http.StatusNotFound)
		return nil, false
	default:
		log.WithError(err).Error("Failed to retrieve document")
		http.Error(w, "Failed to load document", http.StatusInternalServerError)
		return nil, false
	}

	if content, ok := live.Content(id); ok {
		doc.Content = content
	}
	return doc, true
}

func decode(w http.ResponseWriter, r *http.Request, maxContent int, v any) bool {
	body := http.MaxBytesReader(w, r.Body, int64(maxContent)+1024)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "content too large", http.StatusRequestEntityTooLarge)
			return false
		}
		logrus.WithError(err).Debug("Failed to decode request")
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
