package core

import (
	"context"
	"time"

	"reqcore/pkg/domain"
)

// LockArtifacts attempts to grant userID the exclusive write lock on each of
// the given artifacts. One result row is returned per requested id, in
// request order; a failed row never prevents the others from locking.
func (s *Service) LockArtifacts(ctx context.Context, userID int64, ids []int64) (results []LockResult, err error) {
	defer s.observe(ctx, "lock_artifacts", time.Now(), err)
	if len(ids) == 0 {
		return nil, domain.BadRequestError{Code: domain.CodeEmptyBatch, Message: "no artifact ids supplied"}
	}
	_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		results = make([]LockResult, 0, len(ids))
		for _, id := range ids {
			view := tx.Snapshot()
			a, ok := view.FindArtifact(id)
			if !ok || a.Deleted {
				results = append(results, LockResult{Result: domain.LockDoesNotExist})
				continue
			}
			if !a.Permissions.Has(domain.PermissionEdit) && a.Permissions != 0 {
				results = append(results, LockResult{Result: domain.LockAccessDenied, Info: lockInfoOf(a)})
				continue
			}
			if a.LockedByUserID != nil && *a.LockedByUserID != userID {
				results = append(results, LockResult{Result: domain.LockAlreadyLocked, Info: lockInfoOf(a)})
				continue
			}
			if txErr := tx.AcquireLock(id, userID); txErr != nil {
				results = append(results, LockResult{Result: domain.LockFailure, Info: lockInfoOf(a)})
				continue
			}
			results = append(results, LockResult{Result: domain.LockSuccess, Info: lockInfoOf(a)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func lockInfoOf(a Artifact) LockInfo {
	return LockInfo{
		VersionID:  a.Version,
		ParentID:   a.ParentID,
		OrderIndex: a.OrderIndex,
		LockOwner:  a.LockedByUser,
	}
}
