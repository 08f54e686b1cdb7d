// Package api exposes the artifact service over HTTP. Routes mirror the
// client gateway: artifact CRUD, batch lock/publish/discard, and workflow
// state transitions. Business errors travel as a JSON envelope with the
// numeric error code the client keys its messages off.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/julienschmidt/httprouter"

	"reqcore/internal/blob"
	"reqcore/internal/core"
	"reqcore/pkg/domain"
)

// Header names identifying the calling user. A real deployment sits behind
// an authenticating proxy that injects these.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserName = "X-User-Name"
)

// Server routes HTTP requests to the core service.
type Server struct {
	svc    *core.Service
	blobs  blob.Store
	router *httprouter.Router
	logf   func(format string, args ...any)
}

// NewServer builds the HTTP surface over svc. Attachments are stored in
// blobs; logf defaults to log.Printf.
func NewServer(svc *core.Service, blobs blob.Store, logf func(format string, args ...any)) *Server {
	if logf == nil {
		logf = log.Printf
	}
	if blobs == nil {
		blobs = blob.NewMemory()
	}
	s := &Server{svc: svc, blobs: blobs, router: httprouter.New(), logf: logf}

	s.router.GET("/artifacts/:id", s.handle(s.getArtifact))
	s.router.PATCH("/artifacts/:id", s.handle(s.saveArtifact))
	s.router.DELETE("/artifacts/:id", s.handle(s.deleteArtifact))
	s.router.GET("/artifacts/:id/relationships", s.handle(s.getRelationships))
	s.router.GET("/artifacts/:id/versioncontrol", s.handle(s.getVersionControlInfo))
	s.router.GET("/artifacts/:id/state", s.handle(s.getState))
	s.router.POST("/artifacts/:id/state", s.handle(s.changeState))
	s.router.POST("/artifacts/:id/moveTo/:parentId", s.handle(s.moveArtifact))
	s.router.POST("/artifacts/:id/copyTo/:parentId", s.handle(s.copyArtifact))
	s.router.GET("/artifacts/:id/attachments", s.handle(s.listAttachments))
	s.router.POST("/artifacts/:id/attachments", s.handle(s.uploadAttachment))
	s.router.GET("/artifacts/:id/attachments/content", s.handle(s.downloadAttachment))
	s.router.DELETE("/artifacts/:id/attachments", s.handle(s.deleteAttachment))

	// batch routes: httprouter cannot mix /artifacts/:id with /artifacts/lock,
	// so batches live under /artifactlists
	s.router.POST("/artifactlists/lock", s.handle(s.lockArtifacts))
	s.router.POST("/artifactlists/publish", s.handle(s.publishArtifacts))
	s.router.POST("/artifactlists/discard", s.handle(s.discardArtifacts))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type errorEnvelope struct {
	StatusCode   int                  `json:"statusCode"`
	ErrorCode    int                  `json:"errorCode"`
	Message      string               `json:"message"`
	ErrorContent *domain.DependentSet `json:"errorContent,omitempty"`
	PropertyIDs  []int64              `json:"propertyIds,omitempty"`
}

type batchRequest struct {
	ArtifactIDs []int64 `json:"artifactIds"`
}

// handle adapts an error-returning handler, translating typed domain errors
// into the JSON envelope.
func (s *Server) handle(fn func(w http.ResponseWriter, r *http.Request, params httprouter.Params) error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
		err := fn(w, r, params)
		if err == nil {
			return
		}
		env := envelopeFor(err)
		if env.StatusCode >= 500 {
			s.logf("%s %s: %v", r.Method, r.URL.Path, err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(env.StatusCode)
		json.NewEncoder(w).Encode(env)
	}
}

func envelopeFor(err error) errorEnvelope {
	var badRequest domain.BadRequestError
	if errors.As(err, &badRequest) {
		return errorEnvelope{StatusCode: http.StatusBadRequest, ErrorCode: int(badRequest.Code), Message: badRequest.Message}
	}
	var conflict domain.ConflictError
	if errors.As(err, &conflict) {
		return errorEnvelope{
			StatusCode:   http.StatusConflict,
			ErrorCode:    int(conflict.Code),
			Message:      conflict.Message,
			ErrorContent: conflict.Dependents,
			PropertyIDs:  conflict.PropertyIDs,
		}
	}
	var authz domain.AuthorizationError
	if errors.As(err, &authz) {
		return errorEnvelope{StatusCode: http.StatusForbidden, ErrorCode: int(authz.Code), Message: authz.Message}
	}
	var notFound domain.ResourceNotFoundError
	if errors.As(err, &notFound) {
		return errorEnvelope{StatusCode: http.StatusNotFound, ErrorCode: int(notFound.Code), Message: notFound.Message}
	}
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		return errorEnvelope{StatusCode: http.StatusConflict, Message: violation.Error()}
	}
	return errorEnvelope{StatusCode: http.StatusInternalServerError, Message: "internal error"}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func pathID(params httprouter.Params, name string) (int64, error) {
	id, err := strconv.ParseInt(params.ByName(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.BadRequestError{Message: fmt.Sprintf("invalid %s", name)}
	}
	return id, nil
}

func callerID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.Header.Get(HeaderUserID), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.AuthorizationError{
			Code:    domain.CodeInsufficientPermissions,
			Message: "missing or invalid user identity",
		}
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return domain.BadRequestError{Message: "malformed request body"}
	}
	return nil
}

func (s *Server) getArtifact(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
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
	return writeJSON(w, http.StatusOK, artifact)
}

// artifactPatch is the client's save payload: the pending change set and the
// base version it was edited against.
type artifactPatch struct {
	ID           int64                  `json:"id"`
	Version      int64                  `json:"version"`
	Name         *string                `json:"name,omitempty"`
	ParentID     *int64                 `json:"parentId,omitempty"`
	OrderIndex   *float64               `json:"orderIndex,omitempty"`
	Properties   []domain.PropertyValue `json:"properties,omitempty"`
	SubArtifacts []subArtifactPatch     `json:"subArtifacts,omitempty"`
	AddedItems   []int64                `json:"addedItems,omitempty"`
	RemovedItems []int64                `json:"removedItems,omitempty"`
}

type subArtifactPatch struct {
	ID         int64                  `json:"id"`
	Name       *string                `json:"name,omitempty"`
	Properties []domain.PropertyValue `json:"properties,omitempty"`
}

func (s *Server) saveArtifact(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	var patch artifactPatch
	if err := decodeBody(r, &patch); err != nil {
		return err
	}
	draft := domain.Draft{
		ArtifactID:   id,
		Name:         patch.Name,
		ParentID:     patch.ParentID,
		OrderIndex:   patch.OrderIndex,
		Properties:   patch.Properties,
		AddedItems:   patch.AddedItems,
		RemovedItems: patch.RemovedItems,
	}
	for _, sub := range patch.SubArtifacts {
		draft.SubArtifacts = append(draft.SubArtifacts, domain.SubArtifactPatch{
			ID:         sub.ID,
			Name:       sub.Name,
			Properties: sub.Properties,
		})
	}
	updated, _, err := s.svc.SaveDraft(r.Context(), userID, draft, patch.Version)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteArtifact(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	affected, _, err := s.svc.DeleteArtifact(r.Context(), userID, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, batchRequest{ArtifactIDs: affected})
}

func (s *Server) getRelationships(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
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
	traces := artifact.Traces
	if traces == nil {
		traces = []domain.Trace{}
	}
	return writeJSON(w, http.StatusOK, traces)
}

func (s *Server) getVersionControlInfo(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	if _, err := callerID(r); err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	info, err := s.svc.VersionControlInfo(r.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, info)
}

func (s *Server) getState(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	result, err := s.svc.GetStateForArtifact(r.Context(), userID, id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

func (s *Server) changeState(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	var req domain.StateChangeRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	author := r.Header.Get(HeaderUserName)
	result, err := s.svc.ChangeStateForArtifact(r.Context(), userID, author, id, req)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, result)
}

func (s *Server) moveArtifact(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	parentID, err := pathID(params, "parentId")
	if err != nil {
		return err
	}
	orderIndex := 0.0
	if raw := r.URL.Query().Get("orderIndex"); raw != "" {
		orderIndex, err = strconv.ParseFloat(raw, 64)
		if err != nil {
			return domain.BadRequestError{Message: "invalid orderIndex"}
		}
	}
	moved, _, err := s.svc.MoveArtifact(r.Context(), userID, id, parentID, orderIndex)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, moved)
}

func (s *Server) copyArtifact(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	id, err := pathID(params, "id")
	if err != nil {
		return err
	}
	parentID, err := pathID(params, "parentId")
	if err != nil {
		return err
	}
	copied, _, err := s.svc.CopyArtifact(r.Context(), userID, id, parentID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, copied)
}

func (s *Server) lockArtifacts(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	results, err := s.svc.LockArtifacts(r.Context(), userID, req.ArtifactIDs)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, results)
}

func (s *Server) publishArtifacts(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if _, err := s.svc.PublishArtifacts(r.Context(), userID, req.ArtifactIDs); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (s *Server) discardArtifacts(w http.ResponseWriter, r *http.Request, params httprouter.Params) error {
	userID, err := callerID(r)
	if err != nil {
		return err
	}
	var req batchRequest
	if err := decodeBody(r, &req); err != nil {
		return err
	}
	if _, err := s.svc.DiscardArtifacts(r.Context(), userID, req.ArtifactIDs); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
