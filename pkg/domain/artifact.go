// Package domain defines the persistent entities, value types, and rule
// evaluation primitives shared by the reqcore server and client engine.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityArtifact identifies a versioned requirements artifact record.
	EntityArtifact EntityType = "artifact"
	// EntityDraft identifies an unpublished per-user change set held server side.
	EntityDraft EntityType = "draft"
	// EntityLock identifies an exclusive write lock row.
	EntityLock EntityType = "lock"
	// EntityProject identifies a project record.
	EntityProject EntityType = "project"
	// EntityWorkflowState identifies a per-artifact workflow state row.
	EntityWorkflowState EntityType = "workflow_state"
	// EntityUser identifies a user record.
	EntityUser EntityType = "user"
)

// ItemType distinguishes artifacts from their sub-items in version control rows.
type ItemType string

// Item types recognised by the publish and discard validators.
const (
	ItemArtifact    ItemType = "artifact"
	ItemSubArtifact ItemType = "sub_artifact"
	ItemProject     ItemType = "project"
)

// PredefinedType tags an artifact with its authoring kind. The catalog below
// is the subset the lifecycle engine dispatches on; unknown kinds behave as
// plain requirements.
type PredefinedType string

// Artifact kinds with lifecycle-relevant behavior.
const (
	TypeNone               PredefinedType = ""
	TypeProject            PredefinedType = "project"
	TypeBaselineFolder     PredefinedType = "baseline_folder"
	TypeBaseline           PredefinedType = "baseline"
	TypeGlossary           PredefinedType = "glossary"
	TypeTextualRequirement PredefinedType = "textual_requirement"
	TypeBusinessProcess    PredefinedType = "business_process"
	TypeActor              PredefinedType = "actor"
	TypeUseCase            PredefinedType = "use_case"
	TypeUseCaseDiagram     PredefinedType = "use_case_diagram"
	TypeGenericDiagram     PredefinedType = "generic_diagram"
	TypeDocument           PredefinedType = "document"
	TypeStoryboard         PredefinedType = "storyboard"
	TypeDomainDiagram      PredefinedType = "domain_diagram"
	TypeUIMockup           PredefinedType = "ui_mockup"
	TypeProcess            PredefinedType = "process"
	TypeArtifactCollection PredefinedType = "artifact_collection"
	TypeCollectionFolder   PredefinedType = "collection_folder"
	TypeArtifactReview     PredefinedType = "artifact_review"
)

// IsProcess reports whether the kind carries executable process semantics.
func (t PredefinedType) IsProcess() bool { return t == TypeProcess || t == TypeBusinessProcess }

// IsCollection reports whether the kind aggregates other artifacts.
func (t PredefinedType) IsCollection() bool {
	return t == TypeArtifactCollection || t == TypeCollectionFolder
}

// IsProjectOrFolder reports container kinds that cannot themselves be published.
func (t PredefinedType) IsProjectOrFolder() bool {
	return t == TypeProject || t == TypeBaselineFolder || t == TypeCollectionFolder
}

// Permissions is a bit set of operations the fetching user may perform.
type Permissions uint32

// Permission bits carried on every fetched artifact.
const (
	PermissionRead Permissions = 1 << iota
	PermissionEdit
	PermissionTrace
	PermissionComment
	PermissionDelete
	PermissionReuse
	PermissionCreateRapidReview
	PermissionExcelUpdate
)

// Has reports whether all bits in p are granted.
func (p Permissions) Has(mask Permissions) bool { return p&mask == mask }

// Base contains common fields for all domain records.
type Base struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Trace is a directed relationship between two artifacts. Traces make the
// target a publish/discard dependent of the source when both carry drafts.
type Trace struct {
	FromID int64  `json:"from_id"`
	ToID   int64  `json:"to_id"`
	Kind   string `json:"kind"`
}

// SubArtifact is a child item owned by an artifact (a process shape, a
// collection entry). Sub-artifacts version together with their parent.
type SubArtifact struct {
	ID             int64           `json:"id"`
	ParentID       int64           `json:"parent_id"`
	PredefinedType PredefinedType  `json:"predefined_type"`
	OrderIndex     float64         `json:"order_index"`
	DisplayName    string          `json:"display_name"`
	Properties     []PropertyValue `json:"properties"`
}

// Artifact is a versioned requirements item. Version is the monotonic server
// revision; 0 marks a never-yet-published artifact. Deleted is a soft flag:
// rows are never removed while history references them.
type Artifact struct {
	Base
	ProjectID      int64           `json:"project_id"`
	ParentID       int64           `json:"parent_id"`
	OrderIndex     float64         `json:"order_index"`
	Version        int64           `json:"version"`
	Name           string          `json:"name"`
	Prefix         string          `json:"prefix"`
	ItemTypeID     int64           `json:"item_type_id"`
	PredefinedType PredefinedType  `json:"predefined_type"`
	Permissions    Permissions     `json:"permissions"`
	LockedByUserID *int64          `json:"locked_by_user_id,omitempty"`
	LockedByUser   string          `json:"locked_by_user,omitempty"`
	LockedAt       *time.Time      `json:"locked_at,omitempty"`
	Deleted        bool            `json:"deleted"`
	Properties     []PropertyValue `json:"properties"`
	SubArtifacts   []SubArtifact   `json:"sub_artifacts"`
	Traces         []Trace         `json:"traces"`
}

// IsLockedBy reports whether the artifact lock row names the given user.
func (a Artifact) IsLockedBy(userID int64) bool {
	return a.LockedByUserID != nil && *a.LockedByUserID == userID
}

// SubArtifactPatch is a pending edit to one sub-artifact within a draft.
type SubArtifactPatch struct {
	ID         int64           `json:"id"`
	Name       *string         `json:"name,omitempty"`
	Properties []PropertyValue `json:"properties,omitempty"`
}

// Draft is the server-side pending change set one user holds on one artifact.
// Exactly one draft may exist per artifact because drafts require the lock.
type Draft struct {
	ArtifactID   int64              `json:"artifact_id"`
	UserID       int64              `json:"user_id"`
	Name         *string            `json:"name,omitempty"`
	ParentID     *int64             `json:"parent_id,omitempty"`
	OrderIndex   *float64           `json:"order_index,omitempty"`
	Properties   []PropertyValue    `json:"properties,omitempty"`
	SubArtifacts []SubArtifactPatch `json:"sub_artifacts,omitempty"`
	AddedItems   []int64            `json:"added_items,omitempty"`
	RemovedItems []int64            `json:"removed_items,omitempty"`
	Valid        bool               `json:"valid"`
	SavedAt      time.Time          `json:"saved_at"`
}

// Project groups artifacts under a shared permission scope.
type Project struct {
	Base
	Name        string `json:"name"`
	Description string `json:"description"`
}

// User identifies an authenticated principal.
type User struct {
	Base
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
	Admin       bool   `json:"admin"`
}
