package session

import (
	"context"

	"reqcore/pkg/domain"
)

// Resolver handles the dependent-artifact cascade of batch publish and
// discard: when the server rejects a batch because the full closure of the
// user's drafts must ship together, the resolver asks the user to confirm
// the wider batch and retries once with the reported ids. The retry result
// is final; a second dependent conflict is not cascaded again.
type Resolver struct {
	dialog DialogService
}

func NewResolver(dialog DialogService) *Resolver {
	return &Resolver{dialog: dialog}
}

// Resolve runs the cascade for a conflict carrying deps. retry performs the
// operation against the reported ids. Returns nil when the cascade ends in
// success, ErrCancelled when the user declines, and the retry error
// otherwise; the caller classifies retry errors, so a stale-lock answer
// passes through unchanged.
func (r *Resolver) Resolve(ctx context.Context, op BatchOp, deps domain.DependentSet, retry func(ctx context.Context, ids []int64) error) error {
	if deps.IsEmpty() {
		return nil
	}
	if err := r.dialog.ConfirmDependents(ctx, op, deps); err != nil {
		return err
	}
	return retry(ctx, deps.ArtifactIDs())
}
