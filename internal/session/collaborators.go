// Package session implements the client-side stateful artifact engine: a
// locally-mutable, lockable, conflict-aware wrapper over server artifacts,
// with the publish/discard cascade that widens batches to locked dependents.
package session

import (
	"context"
	"errors"

	"reqcore/pkg/domain"
)

// ErrCancelled is returned when the user declines a confirmation dialog.
var ErrCancelled = errors.New("session: cancelled by user")

// BatchOp names the batch operation a confirmation dialog is asked about.
type BatchOp string

// Batch operations subject to dependent confirmation.
const (
	OpPublish BatchOp = "publish"
	OpDiscard BatchOp = "discard"
)

// DialogService asks the user to confirm an action. Confirm returns nil on
// confirmation and ErrCancelled when declined.
type DialogService interface {
	ConfirmDiscard(ctx context.Context, artifactID int64) error
	ConfirmDependents(ctx context.Context, op BatchOp, deps domain.DependentSet) error
}

// MessageService accepts user-facing notices. Message arguments are keys
// into the host application's localization table.
type MessageService interface {
	Info(key string, args ...any)
	Error(key string, args ...any)
	// ValidationErrors reports offending property ids on a dedicated channel
	// so property editors can highlight them.
	ValidationErrors(artifactID int64, propertyIDs []int64)
}

// LoadingOverlay brackets long-running operations with a loading indicator.
// BeginLoading returns a token that must be passed to EndLoading.
type LoadingOverlay interface {
	BeginLoading() int
	EndLoading(id int)
}

// PropertyValidator rebuilds property descriptors and validates an item's
// property values, returning the ids of invalid properties.
type PropertyValidator interface {
	ValidateItem(ctx context.Context, a domain.Artifact, edits []domain.PropertyValue) (invalid []int64, err error)
}

// NopCollaborators provides inert collaborator implementations for tests and
// headless use.
type NopCollaborators struct{}

func (NopCollaborators) ConfirmDiscard(context.Context, int64) error { return nil }
func (NopCollaborators) ConfirmDependents(context.Context, BatchOp, domain.DependentSet) error {
	return nil
}
func (NopCollaborators) Info(string, ...any)            {}
func (NopCollaborators) Error(string, ...any)           {}
func (NopCollaborators) ValidationErrors(int64, []int64) {}
func (NopCollaborators) BeginLoading() int              { return 0 }
func (NopCollaborators) EndLoading(int)                 {}
func (NopCollaborators) ValidateItem(context.Context, domain.Artifact, []domain.PropertyValue) ([]int64, error) {
	return nil, nil
}
