package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"reqcore/pkg/domain"
)

// Notifier delivers workflow-trigger notifications. Implementations are
// best-effort; a failed delivery never aborts the transition that caused it.
type Notifier interface {
	Notify(ctx context.Context, recipients []int64, subject, body string) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, []int64, string, string) error { return nil }

// Service exposes the server-side artifact lifecycle operations: CRUD,
// locking, draft management, workflow transitions, and batch publish/discard.
type Service struct {
	store    domain.PersistentStore
	metrics  MetricsRecorder
	notifier Notifier
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithMetrics injects a metrics recorder observing operation outcomes.
func WithMetrics(rec MetricsRecorder) Option {
	return func(s *Service) { s.metrics = rec }
}

// WithNotifier injects a notification sink for workflow triggers.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{store: store, metrics: NopMetricsRecorder{}, notifier: noopNotifier{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service with an in-memory store and the given
// rules engine. Intended for tests and ephemeral deployments.
func NewInMemoryService(engine *RulesEngine, opts ...Option) *Service {
	return NewService(newMemoryStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

func (s *Service) observe(ctx context.Context, op string, start time.Time, err error) {
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
}

// CreateProject persists a new project.
func (s *Service) CreateProject(ctx context.Context, project Project) (created Project, res Result, err error) {
	defer s.observe(ctx, "create_project", time.Now(), err)
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var txErr error
		created, txErr = tx.CreateProject(project)
		return txErr
	})
	return created, res, err
}

// CreateUser persists a new user.
func (s *Service) CreateUser(ctx context.Context, user User) (created User, res Result, err error) {
	defer s.observe(ctx, "create_user", time.Now(), err)
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var txErr error
		created, txErr = tx.CreateUser(user)
		return txErr
	})
	return created, res, err
}

// CreateArtifact persists a new artifact at version zero.
func (s *Service) CreateArtifact(ctx context.Context, artifact Artifact) (created Artifact, res Result, err error) {
	defer s.observe(ctx, "create_artifact", time.Now(), err)
	artifact.Version = 0
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var txErr error
		created, txErr = tx.CreateArtifact(artifact)
		return txErr
	})
	return created, res, err
}

// PutTransition registers a workflow transition definition.
func (s *Service) PutTransition(ctx context.Context, t WorkflowTransition) (created WorkflowTransition, res Result, err error) {
	defer s.observe(ctx, "put_transition", time.Now(), err)
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var txErr error
		created, txErr = tx.PutTransition(t)
		return txErr
	})
	return created, res, err
}

// SetWorkflowState assigns an artifact's workflow state directly, bypassing
// transition validation. Administrative use only; regular moves go through
// ChangeStateForArtifact.
func (s *Service) SetWorkflowState(ctx context.Context, artifactID int64, state WorkflowState) (res Result, err error) {
	defer s.observe(ctx, "set_workflow_state", time.Now(), err)
	return s.store.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.SetWorkflowState(artifactID, state)
	})
}

// GetArtifact returns the head revision of an artifact for the given user.
// Deleted or missing artifacts yield ResourceNotFoundError so transport can
// answer 404.
func (s *Service) GetArtifact(ctx context.Context, userID, id int64) (artifact Artifact, err error) {
	defer s.observe(ctx, "get_artifact", time.Now(), err)
	a, ok := s.store.GetArtifact(id)
	if !ok || a.Deleted {
		return Artifact{}, domain.ResourceNotFoundError{
			Code:    domain.CodeArtifactNotFound,
			Message: fmt.Sprintf("artifact %d not found", id),
		}
	}
	return a, nil
}

// VersionControlInfo resolves the lock/version overlay the workflow and
// publish layers validate against.
func (s *Service) VersionControlInfo(ctx context.Context, id int64) (VersionControlArtifactInfo, error) {
	var info VersionControlArtifactInfo
	err := s.store.View(ctx, func(view TransactionView) error {
		a, ok := view.FindArtifact(id)
		if !ok {
			return domain.ResourceNotFoundError{
				Code:    domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("artifact %d not found", id),
			}
		}
		_, hasDraft := view.FindDraft(id)
		itemType := domain.ItemArtifact
		if a.PredefinedType == domain.TypeProject {
			itemType = domain.ItemProject
		}
		info = VersionControlArtifactInfo{
			ID:             a.ID,
			ProjectID:      a.ProjectID,
			ParentID:       a.ParentID,
			OrderIndex:     a.OrderIndex,
			Version:        a.Version,
			ItemType:       itemType,
			LockedByUserID: a.LockedByUserID,
			IsDeleted:      a.Deleted,
			HasChanges:     hasDraft,
		}
		return nil
	})
	return info, err
}

// SaveDraft validates and stores the pending change set of a locked artifact.
// The caller must hold the lock and present the head version.
func (s *Service) SaveDraft(ctx context.Context, userID int64, draft Draft, baseVersion int64) (updated Artifact, res Result, err error) {
	defer s.observe(ctx, "save_draft", time.Now(), err)
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		a, ok := view.FindArtifact(draft.ArtifactID)
		if !ok || a.Deleted {
			return domain.ResourceNotFoundError{
				Code:    domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("artifact %d not found", draft.ArtifactID),
			}
		}
		if a.LockedByUserID == nil {
			return domain.ConflictError{Code: domain.CodeNotLocked, Message: "artifact is not locked"}
		}
		if *a.LockedByUserID != userID {
			return domain.ConflictError{Code: domain.CodeLockedByOther,
				Message: fmt.Sprintf("artifact locked by %s", a.LockedByUser)}
		}
		if baseVersion != a.Version {
			return domain.ConflictError{Code: domain.CodeVersionConflict,
				Message: fmt.Sprintf("version %d does not match head %d", baseVersion, a.Version)}
		}
		draft.UserID = userID
		draft.Valid = true
		var invalid []int64
		for _, p := range draft.Properties {
			if vErr := p.Validate(); vErr != nil {
				invalid = append(invalid, p.PropertyTypeID)
			}
		}
		for _, sub := range draft.SubArtifacts {
			for _, p := range sub.Properties {
				if vErr := p.Validate(); vErr != nil {
					invalid = append(invalid, p.PropertyTypeID)
				}
			}
		}
		if len(invalid) > 0 {
			draft.Valid = false
		}
		if txErr := tx.PutDraft(draft); txErr != nil {
			return txErr
		}
		updated = a
		return nil
	})
	return updated, res, err
}

// DeleteArtifact soft-deletes an artifact and its descendants, releasing
// locks and dropping drafts. Deleting an artifact locked by another user is a
// conflict whose message embeds the lock owner.
func (s *Service) DeleteArtifact(ctx context.Context, userID, id int64) (affected []int64, res Result, err error) {
	defer s.observe(ctx, "delete_artifact", time.Now(), err)
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		root, ok := view.FindArtifact(id)
		if !ok || root.Deleted {
			return domain.ResourceNotFoundError{
				Code:    domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("artifact %d not found", id),
			}
		}
		ids := collectSubtree(view, id)
		for _, cur := range ids {
			a, _ := view.FindArtifact(cur)
			if a.LockedByUserID != nil && *a.LockedByUserID != userID {
				return domain.ConflictError{Code: domain.CodeLockedByOther,
					Message: fmt.Sprintf("artifact %s%d is locked by %s", a.Prefix, a.ID, a.LockedByUser)}
			}
		}
		for _, cur := range ids {
			if txErr := tx.DeleteDraft(cur); txErr != nil {
				return txErr
			}
			if txErr := tx.ReleaseLock(cur); txErr != nil {
				return txErr
			}
			if txErr := tx.SoftDeleteArtifact(cur); txErr != nil {
				return txErr
			}
		}
		affected = ids
		return nil
	})
	return affected, res, err
}

// MoveArtifact re-parents an artifact. The caller must hold the lock.
func (s *Service) MoveArtifact(ctx context.Context, userID, id, newParentID int64, orderIndex float64) (moved Artifact, res Result, err error) {
	defer s.observe(ctx, "move_artifact", time.Now(), err)
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		if _, ok := view.FindArtifact(newParentID); !ok {
			return domain.ResourceNotFoundError{
				Code:    domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("parent %d not found", newParentID),
			}
		}
		a, ok := view.FindArtifact(id)
		if !ok || a.Deleted {
			return domain.ResourceNotFoundError{
				Code:    domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("artifact %d not found", id),
			}
		}
		if a.LockedByUserID == nil || *a.LockedByUserID != userID {
			return domain.ConflictError{Code: domain.CodeNotLocked, Message: "artifact must be locked to move"}
		}
		var txErr error
		moved, txErr = tx.UpdateArtifact(id, func(cur *Artifact) error {
			cur.ParentID = newParentID
			cur.OrderIndex = orderIndex
			return nil
		})
		return txErr
	})
	return moved, res, err
}

// CopyArtifact clones an artifact under a new parent at version zero.
func (s *Service) CopyArtifact(ctx context.Context, userID, id, parentID int64) (copied Artifact, res Result, err error) {
	defer s.observe(ctx, "copy_artifact", time.Now(), err)
	_ = userID
	res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		src, ok := view.FindArtifact(id)
		if !ok || src.Deleted {
			return domain.ResourceNotFoundError{
				Code:    domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("artifact %d not found", id),
			}
		}
		if _, ok := view.FindArtifact(parentID); !ok {
			return domain.ResourceNotFoundError{
				Code:    domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("parent %d not found", parentID),
			}
		}
		clone := src
		clone.ID = 0
		clone.ParentID = parentID
		clone.Version = 0
		clone.LockedByUserID = nil
		clone.LockedByUser = ""
		clone.LockedAt = nil
		var txErr error
		copied, txErr = tx.CreateArtifact(clone)
		return txErr
	})
	return copied, res, err
}

// collectSubtree returns id plus all transitive children, parents first.
func collectSubtree(view TransactionView, id int64) []int64 {
	children := make(map[int64][]int64)
	for _, a := range view.ListArtifacts() {
		if a.Deleted {
			continue
		}
		children[a.ParentID] = append(children[a.ParentID], a.ID)
	}
	out := []int64{id}
	for i := 0; i < len(out); i++ {
		kids := children[out[i]]
		sort.Slice(kids, func(a, b int) bool { return kids[a] < kids[b] })
		out = append(out, kids...)
	}
	return out
}
