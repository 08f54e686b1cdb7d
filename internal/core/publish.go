package core

import (
	"context"
	"fmt"
	"sort"
	"time"

	"reqcore/pkg/domain"
)

// PublishArtifacts commits the pending drafts of the given artifacts into
// versioned history and releases their locks. Every id is validated before
// any commit side effect runs; the batch is all-or-nothing.
//
// Eligibility flags are checked in fixed precedence: NotExist, NotArtifact
// and Deleted fail the batch as not-found; NoChanges and Invalid fail it as
// a conflict. A conflict caused by locked dependents carries the dependent
// set so the client can widen the batch and retry.
func (s *Service) PublishArtifacts(ctx context.Context, userID int64, ids []int64) (res Result, err error) {
	defer s.observe(ctx, "publish_artifacts", time.Now(), err)
	if len(ids) == 0 {
		return Result{}, domain.BadRequestError{Code: domain.CodeEmptyBatch, Message: "no artifact ids supplied"}
	}
	return s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		if err := validateBatch(view, userID, ids, true); err != nil {
			return err
		}
		for _, id := range ids {
			draft, _ := view.FindDraft(id)
			if _, txErr := tx.UpdateArtifact(id, func(cur *Artifact) error {
				applyDraft(cur, draft)
				cur.Version++
				return nil
			}); txErr != nil {
				return txErr
			}
			if txErr := tx.DeleteDraft(id); txErr != nil {
				return txErr
			}
			if txErr := tx.ReleaseLock(id); txErr != nil {
				return txErr
			}
		}
		return nil
	})
}

// DiscardArtifacts abandons the pending drafts of the given artifacts and
// releases their locks, reverting each to its last published version. The
// same batch validation applies, except a draft-less artifact conflicts with
// the dedicated no-changes code the client may treat as success.
func (s *Service) DiscardArtifacts(ctx context.Context, userID int64, ids []int64) (res Result, err error) {
	defer s.observe(ctx, "discard_artifacts", time.Now(), err)
	if len(ids) == 0 {
		return Result{}, domain.BadRequestError{Code: domain.CodeEmptyBatch, Message: "no artifact ids supplied"}
	}
	return s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		if err := validateBatch(view, userID, ids, false); err != nil {
			return err
		}
		for _, id := range ids {
			if txErr := tx.DeleteDraft(id); txErr != nil {
				return txErr
			}
			if txErr := tx.ReleaseLock(id); txErr != nil {
				return txErr
			}
		}
		return nil
	})
}

// discardPublishStates builds one eligibility row per id found in the store.
// Ids with no backing row produce no entry, so a shorter result than the
// request signals missing artifacts.
func discardPublishStates(view TransactionView, userID int64, ids []int64) []DiscardPublishState {
	rows := make([]DiscardPublishState, 0, len(ids))
	for _, id := range ids {
		a, ok := view.FindArtifact(id)
		if !ok {
			continue
		}
		row := DiscardPublishState{ID: id}
		row.NotArtifact = a.PredefinedType.IsProjectOrFolder()
		row.Deleted = a.Deleted
		draft, hasDraft := view.FindDraft(id)
		switch {
		case !hasDraft || draft.UserID != userID:
			row.NoChanges = true
		case !draft.Valid:
			row.Invalid = true
		}
		rows = append(rows, row)
	}
	return rows
}

func validateBatch(view TransactionView, userID int64, ids []int64, publish bool) error {
	rows := discardPublishStates(view, userID, ids)
	if len(rows) != len(ids) {
		return domain.ResourceNotFoundError{Code: domain.CodeArtifactNotFound,
			Message: fmt.Sprintf("%d of %d artifacts not found", len(ids)-len(rows), len(ids))}
	}
	dependents := lockedDependents(view, userID, ids)
	for _, row := range rows {
		switch {
		case row.NotExist:
			return domain.ResourceNotFoundError{Code: domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("artifact %d does not exist", row.ID)}
		case row.NotArtifact:
			return domain.ResourceNotFoundError{Code: domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("item %d is not an artifact", row.ID)}
		case row.Deleted:
			return domain.ResourceNotFoundError{Code: domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("artifact %d is deleted", row.ID)}
		case row.NoChanges:
			code := domain.CodeCannotPublish
			msg := fmt.Sprintf("artifact %d has no changes to publish", row.ID)
			if !publish {
				code = domain.CodeDiscardNoChanges
				msg = fmt.Sprintf("artifact %d has no changes to discard", row.ID)
			}
			return domain.ConflictError{Code: code, Message: msg, Dependents: dependentsOrNil(dependents)}
		case row.Invalid:
			draft, _ := view.FindDraft(row.ID)
			return domain.ConflictError{Code: domain.CodeValidationErrors,
				Message:     fmt.Sprintf("artifact %d has validation errors", row.ID),
				PropertyIDs: invalidPropertyIDs(draft)}
		}
	}
	if !dependents.IsEmpty() {
		code := domain.CodeCannotPublish
		if !publish {
			code = domain.CodeCannotDiscard
		}
		// Nothing commits on a conflict, so the reported set must be the
		// full closure: a client retrying with exactly these ids has to
		// cover the requested artifacts too, or their drafts stay behind.
		closure := withRequested(view, dependents, ids)
		return domain.ConflictError{Code: code,
			Message:    "dependent artifacts must be included",
			Dependents: &closure}
	}
	return nil
}

// withRequested widens a dependent set with the requested artifacts
// themselves, forming the batch a retry must submit.
func withRequested(view TransactionView, dependents DependentSet, ids []int64) DependentSet {
	out := DependentSet{
		Artifacts: append([]domain.DependentArtifact(nil), dependents.Artifacts...),
		Projects:  append([]int64(nil), dependents.Projects...),
	}
	projects := make(map[int64]struct{}, len(out.Projects))
	for _, pid := range out.Projects {
		projects[pid] = struct{}{}
	}
	for _, id := range ids {
		a, ok := view.FindArtifact(id)
		if !ok {
			continue
		}
		out.Artifacts = append(out.Artifacts, domain.DependentArtifact{
			ID: a.ID, ProjectID: a.ProjectID, Name: a.Name,
		})
		if _, dup := projects[a.ProjectID]; !dup {
			projects[a.ProjectID] = struct{}{}
			out.Projects = append(out.Projects, a.ProjectID)
		}
	}
	sort.Slice(out.Artifacts, func(i, j int) bool { return out.Artifacts[i].ID < out.Artifacts[j].ID })
	sort.Slice(out.Projects, func(i, j int) bool { return out.Projects[i] < out.Projects[j] })
	return out
}

// lockedDependents finds artifacts outside the requested set whose pending
// draft (held by the same user) is linked by a trace to a requested id. A
// trace row may be stored on either endpoint, so every artifact's rows are
// scanned, not just the requested ones.
func lockedDependents(view TransactionView, userID int64, ids []int64) DependentSet {
	requested := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		requested[id] = struct{}{}
	}
	seen := make(map[int64]struct{})
	var out DependentSet
	projects := make(map[int64]struct{})
	consider := func(other int64) {
		if _, inBatch := requested[other]; inBatch {
			return
		}
		if _, dup := seen[other]; dup {
			return
		}
		draft, hasDraft := view.FindDraft(other)
		if !hasDraft || draft.UserID != userID {
			return
		}
		dep, ok := view.FindArtifact(other)
		if !ok {
			return
		}
		seen[other] = struct{}{}
		out.Artifacts = append(out.Artifacts, domain.DependentArtifact{
			ID: dep.ID, ProjectID: dep.ProjectID, Name: dep.Name,
		})
		projects[dep.ProjectID] = struct{}{}
	}
	for _, a := range view.ListArtifacts() {
		_, holderRequested := requested[a.ID]
		for _, trace := range a.Traces {
			for _, end := range [2]int64{trace.FromID, trace.ToID} {
				if end == 0 || end == a.ID {
					continue
				}
				if holderRequested {
					consider(end)
					continue
				}
				if _, endRequested := requested[end]; endRequested {
					consider(a.ID)
				}
			}
		}
	}
	sort.Slice(out.Artifacts, func(i, j int) bool { return out.Artifacts[i].ID < out.Artifacts[j].ID })
	for pid := range projects {
		out.Projects = append(out.Projects, pid)
	}
	sort.Slice(out.Projects, func(i, j int) bool { return out.Projects[i] < out.Projects[j] })
	return out
}

func dependentsOrNil(set DependentSet) *DependentSet {
	if set.IsEmpty() {
		return nil
	}
	return &set
}

func invalidPropertyIDs(draft Draft) []int64 {
	var out []int64
	for _, p := range draft.Properties {
		if err := p.Validate(); err != nil {
			out = append(out, p.PropertyTypeID)
		}
	}
	for _, sub := range draft.SubArtifacts {
		for _, p := range sub.Properties {
			if err := p.Validate(); err != nil {
				out = append(out, p.PropertyTypeID)
			}
		}
	}
	return out
}

// applyDraft folds a pending draft into the artifact record.
func applyDraft(a *Artifact, draft Draft) {
	if draft.Name != nil {
		a.Name = *draft.Name
	}
	if draft.ParentID != nil {
		a.ParentID = *draft.ParentID
	}
	if draft.OrderIndex != nil {
		a.OrderIndex = *draft.OrderIndex
	}
	if len(draft.Properties) > 0 {
		a.Properties = domain.MergeProperties(a.Properties, draft.Properties)
	}
	for _, patch := range draft.SubArtifacts {
		applySubArtifactPatch(a, patch)
	}
	for _, id := range draft.AddedItems {
		if !hasSubArtifact(a, id) {
			a.SubArtifacts = append(a.SubArtifacts, domain.SubArtifact{ID: id, ParentID: a.ID})
		}
	}
	for _, id := range draft.RemovedItems {
		removeSubArtifact(a, id)
	}
}

func applySubArtifactPatch(a *Artifact, patch domain.SubArtifactPatch) {
	for i := range a.SubArtifacts {
		if a.SubArtifacts[i].ID != patch.ID {
			continue
		}
		if patch.Name != nil {
			a.SubArtifacts[i].DisplayName = *patch.Name
		}
		if len(patch.Properties) > 0 {
			a.SubArtifacts[i].Properties = domain.MergeProperties(a.SubArtifacts[i].Properties, patch.Properties)
		}
		return
	}
}

func hasSubArtifact(a *Artifact, id int64) bool {
	for _, sub := range a.SubArtifacts {
		if sub.ID == id {
			return true
		}
	}
	return false
}

func removeSubArtifact(a *Artifact, id int64) {
	for i, sub := range a.SubArtifacts {
		if sub.ID == id {
			a.SubArtifacts = append(a.SubArtifacts[:i], a.SubArtifacts[i+1:]...)
			return
		}
	}
}
