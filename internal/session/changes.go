package session

import "reqcore/pkg/domain"

// ChangeKind distinguishes the three outcomes of computing local changes.
type ChangeKind int

const (
	// NoChanges means nothing differs from the last known server state.
	NoChanges ChangeKind = iota
	// InvalidChanges means edits exist but cannot be sent as-is.
	InvalidChanges
	// DeltaChanges means a sendable delta was produced.
	DeltaChanges
)

// ChangeResult is the outcome of Artifact.Changes. Delta is set only when
// Kind is DeltaChanges.
type ChangeResult struct {
	Kind  ChangeKind
	Delta *ArtifactDelta
}

// ArtifactDelta is the partial update sent to the server on save. Nil
// pointers mean "unchanged".
type ArtifactDelta struct {
	ID int64 `json:"id"`
	// Version is the base version the edits were made against; the server
	// rejects the delta when the head has moved past it.
	Version      int64                  `json:"version"`
	Name         *string                `json:"name,omitempty"`
	ParentID     *int64                 `json:"parentId,omitempty"`
	OrderIndex   *float64               `json:"orderIndex,omitempty"`
	Properties   []domain.PropertyValue `json:"properties,omitempty"`
	SubArtifacts []SubArtifactDelta     `json:"subArtifacts,omitempty"`
	AddedItems   []int64                `json:"addedItems,omitempty"`
	RemovedItems []int64                `json:"removedItems,omitempty"`
}

// SubArtifactDelta is a partial update to one sub-artifact of a process.
type SubArtifactDelta struct {
	ID         int64                  `json:"id"`
	Name       *string                `json:"name,omitempty"`
	Properties []domain.PropertyValue `json:"properties,omitempty"`
}

// IsEmpty reports whether the delta carries no actual changes.
func (d ArtifactDelta) IsEmpty() bool {
	return d.Name == nil && d.ParentID == nil && d.OrderIndex == nil &&
		len(d.Properties) == 0 && len(d.SubArtifacts) == 0 &&
		len(d.AddedItems) == 0 && len(d.RemovedItems) == 0
}
