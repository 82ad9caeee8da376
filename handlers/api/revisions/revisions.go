package revisions

import (
	"context"
	"net/http"
	"paste-server/core"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	RestoreResponse struct {
		DocumentID string `json:"document_id"`
		RevisionID string `json:"revision_id"`
	}

	// Publisher applies restored content to the live document.
	Publisher interface {
		Publish(ctx context.Context, documentID, content string) error
	}
)

// HandleList lists a document's revisions, newest first.
func HandleList(store core.RevisionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		documentID := chi.URLParam(r, "id")

		revisions, err := store.ListRevisions(r.Context(), documentID)
		if err != nil {
			logrus.WithError(err).WithField("document_id", documentID).Error("Failed to list revisions")
			http.Error(w, "Failed to list revisions", http.StatusInternalServerError)
			return
		}
		if revisions == nil {
			revisions = []core.Revision{}
		}
		render.JSON(w, r, revisions)
	}
}

// HandleGet returns one revision with its content.
func HandleGet(store core.RevisionStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		revision, ok := find(w, r, store)
		if !ok {
			return
		}
		render.JSON(w, r, revision)
	}
}

// HandleRestore publishes a revision's content as a new edit, so
// connected editors see it and it is persisted like any other edit.
func HandleRestore(store core.RevisionStore, publisher Publisher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		revision, ok := find(w, r, store)
		if !ok {
			return
		}

		log := logrus.WithFields(logrus.Fields{
			"document_id": revision.DocumentID,
			"revision_id": revision.ID,
		})
		if err := publisher.Publish(r.Context(), revision.DocumentID, revision.Content); err != nil {
			log.WithError(err).Error("Failed to restore revision")
			http.Error(w, "Failed to restore revision", http.StatusInternalServerError)
			return
		}
		log.Info("Revision restored")
		render.JSON(w, r, RestoreResponse{DocumentID: revision.DocumentID, RevisionID: revision.ID})
	}
}

func find(w http.ResponseWriter, r *http.Request, store core.RevisionStore) (*core.Revision, bool) {
	revisionID := chi.URLParam(r, "revisionId")

	revision, err := store.GetRevision(r.Context(), revisionID)
	if err != nil {
		if core.IsNotFound(err) {
			http.Error(w, "Revision not found", http.StatusNotFound)
			return nil, false
		}
		logrus.WithError(err).WithField("revision_id", revisionID).Error("Failed to get revision")
		http.Error(w, "Failed to get revision", http.StatusInternalServerError)
		return nil, false
	}
	return revision, true
}
