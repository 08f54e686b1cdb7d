package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"reqcore/internal/blob"
	"reqcore/pkg/domain"
)

// attachment routes store binary payloads next to an artifact. Keys are
// minted server-side under the artifact's prefix; clients address existing
// attachments by the returned key.

func (s *Server) listAttachments(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	artifact, err := s.svc.GetArtifact(r.Context(), userID, id)
	if err != nil {
		return err
	}
	infos, err := s.blobs.List(r.Context(), blob.AttachmentPrefix(artifact.ProjectID, id))
	if err != nil {
		return err
	}
	if infos == nil {
		infos = []blob.Info{}
	}
	return writeJSON(w, http.StatusOK, infos)
}

func (s *Server) uploadAttachment(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	artifact, err := s.svc.GetArtifact(r.Context(), userID, id)
	if err != nil {
		return err
	}
	key := blob.AttachmentKey(artifact.ProjectID, id)
	info, err := s.blobs.Put(r.Context(), key, r.Body, blob.PutOptions{
		ContentType: r.Header.Get("Content-Type"),
		Metadata:    map[string]string{"filename": r.URL.Query().Get("filename")},
	})
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, info)
}

func (s *Server) downloadAttachment(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	artifact, err := s.svc.GetArtifact(r.Context(), userID, id)
	if err != nil {
		return err
	}
	key := r.URL.Query().Get("key")
	if key == "" || !attachmentKeyMatches(artifact.ProjectID, id, key) {
		return domain.BadRequestError{Message: "missing or foreign attachment key"}
	}

	// prefer a presigned redirect when the backend can mint one
	if url, err := s.blobs.PresignURL(r.Context(), key, blob.SignedURLOptions{Expiry: 15 * time.Minute}); err == nil {
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return nil
	} else if !errors.Is(err, blob.ErrUnsupported) {
		return err
	}

	info, reader, err := s.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return domain.ResourceNotFoundError{Code: domain.CodeArtifactNotFound, Message: "attachment not found"}
		}
		return err
	}
	defer reader.Close()
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	_, err = io.Copy(w, reader)
	return err
}

func (s *Server) deleteAttachment(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	artifact, err := s.svc.GetArtifact(r.Context(), userID, id)
	if err != nil {
		return err
	}
	key := r.URL.Query().Get("key")
	if key == "" || !attachmentKeyMatches(artifact.ProjectID, id, key) {
		return domain.BadRequestError{Message: "missing or foreign attachment key"}
	}
	removed, err := s.blobs.Delete(r.Context(), key)
	if err != nil {
		return err
	}
	if !removed {
		return domain.ResourceNotFoundError{Code: domain.CodeArtifactNotFound, Message: "attachment not found"}
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func attachmentKeyMatches(projectID, artifactID int64, key string) bool {
	prefix := blob.AttachmentPrefix(projectID, artifactID)
	return len(key) > len(prefix) && key[:len(prefix)] == prefix
}
