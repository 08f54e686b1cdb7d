package core

import (
	"context"
	"fmt"

	"reqcore/pkg/domain"
)

// DirtyRequiresLockRule enforces the server half of the dirty-implies-locked
// invariant: a pending draft may exist only while its artifact is locked by
// the draft's user.
func DirtyRequiresLockRule() domain.Rule {
	return dirtyRequiresLockRule{}
}

type dirtyRequiresLockRule struct{}

func (dirtyRequiresLockRule) Name() string { return "draft_requires_lock" }

func (dirtyRequiresLockRule) Evaluate(_ context.Context, view domain.RuleView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != EntityDraft || change.Action == ActionDelete {
			continue
		}
		draft, ok := decodeChangePayload[Draft](change.After)
		if !ok {
			continue
		}
		a, ok := view.FindArtifact(draft.ArtifactID)
		if !ok {
			continue
		}
		if a.LockedByUserID == nil || *a.LockedByUserID != draft.UserID {
			res.Violations = append(res.Violations, Violation{
				Rule:     "draft_requires_lock",
				Severity: SeverityBlock,
				Message: fmt.Sprintf("draft on artifact %d requires lock held by user %d",
					draft.ArtifactID, draft.UserID),
				Entity:   EntityDraft,
				EntityID: draft.ArtifactID,
			})
		}
	}
	return res, nil
}
