package domain

// LockOutcome classifies a lock attempt on a single artifact.
type LockOutcome int

// Lock outcomes. The zero value is Success so a freshly granted lock row
// round-trips without explicit initialization.
const (
	LockSuccess LockOutcome = iota
	LockAlreadyLocked
	LockDoesNotExist
	LockAccessDenied
	LockFailure
)

// LockInfo reports the server-side placement of the artifact at lock time.
// The client compares these against its local copy to detect staleness and
// misplacement.
type LockInfo struct {
	VersionID  int64   `json:"version_id"`
	ParentID   int64   `json:"parent_id"`
	OrderIndex float64 `json:"order_index"`
	LockOwner  string  `json:"lock_owner,omitempty"`
}

// LockResult is the per-artifact outcome of a batch lock call. Transient;
// consumed once by the stateful entity.
type LockResult struct {
	Result LockOutcome `json:"result"`
	Info   LockInfo    `json:"info"`
}

// VersionControlArtifactInfo is the overlay the version-control layer reads
// before permitting a state change: lock ownership, head version, pending
// draft presence.
type VersionControlArtifactInfo struct {
	ID             int64    `json:"id"`
	ProjectID      int64    `json:"project_id"`
	ParentID       int64    `json:"parent_id"`
	OrderIndex     float64  `json:"order_index"`
	Version        int64    `json:"version"`
	ItemType       ItemType `json:"item_type"`
	LockedByUserID *int64   `json:"locked_by_user_id,omitempty"`
	IsDeleted      bool     `json:"is_deleted"`
	HasChanges     bool     `json:"has_changes"`
}

// DiscardPublishState is the per-artifact eligibility row a batch publish or
// discard inspects before committing anything. Flags are checked in fixed
// precedence: NotExist/NotArtifact/Deleted → not found, NoChanges/Invalid →
// conflict.
type DiscardPublishState struct {
	ID          int64 `json:"id"`
	NotExist    bool  `json:"not_exist"`
	NotArtifact bool  `json:"not_artifact"`
	Deleted     bool  `json:"deleted"`
	NoChanges   bool  `json:"no_changes"`
	Invalid     bool  `json:"invalid"`
}

// DependentArtifact names an artifact that must accompany a publish or
// discard because it is a locked dependent of a requested one.
type DependentArtifact struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"projectId"`
	Name      string `json:"name,omitempty"`
}

// DependentSet enumerates the artifacts and projects a conflicting publish
// or discard must be widened to.
type DependentSet struct {
	Artifacts []DependentArtifact `json:"artifacts"`
	Projects  []int64             `json:"projects"`
}

// IsEmpty reports whether no dependents were detected.
func (d DependentSet) IsEmpty() bool { return len(d.Artifacts) == 0 && len(d.Projects) == 0 }

// ArtifactIDs returns the dependent artifact ids in enumeration order.
func (d DependentSet) ArtifactIDs() []int64 {
	out := make([]int64, 0, len(d.Artifacts))
	for _, a := range d.Artifacts {
		out = append(out, a.ID)
	}
	return out
}
