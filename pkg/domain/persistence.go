package domain

import "context"

// Transaction exposes the domain operations a persistence implementation
// must support within an atomic scope. The version-control layer is the sole
// mutator of persisted artifact state; services enforce preconditions and
// delegate the write here.
type Transaction interface {
	Snapshot() TransactionView
	CreateProject(Project) (Project, error)
	CreateUser(User) (User, error)
	CreateArtifact(Artifact) (Artifact, error)
	UpdateArtifact(id int64, mutator func(*Artifact) error) (Artifact, error)
	SoftDeleteArtifact(id int64) error
	AcquireLock(artifactID, userID int64) error
	ReleaseLock(artifactID int64) error
	PutDraft(Draft) error
	DeleteDraft(artifactID int64) error
	SetWorkflowState(artifactID int64, state WorkflowState) error
	PutTransition(WorkflowTransition) (WorkflowTransition, error)
}

// TransactionView provides read-only access to snapshot data for rules and
// service-level precondition checks.
type TransactionView interface {
	ListArtifacts() []Artifact
	ListProjects() []Project
	FindArtifact(id int64) (Artifact, bool)
	FindProject(id int64) (Project, bool)
	FindUser(id int64) (User, bool)
	FindDraft(artifactID int64) (Draft, bool)
	ListDrafts() []Draft
	FindWorkflowState(artifactID int64) (WorkflowState, bool)
	ListTransitions(workflowID int64) []WorkflowTransition
	FindTransition(workflowID, fromStateID, toStateID int64) (WorkflowTransition, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetArtifact(id int64) (Artifact, bool)
	ListArtifacts() []Artifact
	ListProjects() []Project
	GetDraft(artifactID int64) (Draft, bool)
	GetWorkflowState(artifactID int64) (WorkflowState, bool)
}
