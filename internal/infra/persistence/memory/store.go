// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"reqcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type memoryState struct {
	artifacts   map[int64]domain.Artifact
	drafts      map[int64]domain.Draft
	projects    map[int64]domain.Project
	users       map[int64]domain.User
	states      map[int64]domain.WorkflowState
	transitions map[int64]domain.WorkflowTransition
	nextID      int64
}

// Snapshot captures a point-in-time clone of the store state for durable
// backends that persist the full state after each commit.
type Snapshot struct {
	Artifacts   map[int64]domain.Artifact           `json:"artifacts"`
	Drafts      map[int64]domain.Draft              `json:"drafts"`
	Projects    map[int64]domain.Project            `json:"projects"`
	Users       map[int64]domain.User               `json:"users"`
	States      map[int64]domain.WorkflowState      `json:"states"`
	Transitions map[int64]domain.WorkflowTransition `json:"transitions"`
	NextID      int64                               `json:"next_id"`
}

func newMemoryState() memoryState {
	return memoryState{
		artifacts:   make(map[int64]domain.Artifact),
		drafts:      make(map[int64]domain.Draft),
		projects:    make(map[int64]domain.Project),
		users:       make(map[int64]domain.User),
		states:      make(map[int64]domain.WorkflowState),
		transitions: make(map[int64]domain.WorkflowTransition),
		nextID:      1,
	}
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	cloned.nextID = s.nextID
	for k, v := range s.artifacts {
		cloned.artifacts[k] = cloneArtifact(v)
	}
	for k, v := range s.drafts {
		cloned.drafts[k] = cloneDraft(v)
	}
	for k, v := range s.projects {
		cloned.projects[k] = v
	}
	for k, v := range s.users {
		cloned.users[k] = v
	}
	for k, v := range s.states {
		cloned.states[k] = v
	}
	for k, v := range s.transitions {
		cloned.transitions[k] = cloneTransition(v)
	}
	return cloned
}

func cloneArtifact(a domain.Artifact) domain.Artifact {
	cp := a
	cp.Properties = append([]domain.PropertyValue(nil), a.Properties...)
	cp.Traces = append([]domain.Trace(nil), a.Traces...)
	if a.SubArtifacts != nil {
		cp.SubArtifacts = make([]domain.SubArtifact, len(a.SubArtifacts))
		for i, sub := range a.SubArtifacts {
			sub.Properties = append([]domain.PropertyValue(nil), sub.Properties...)
			cp.SubArtifacts[i] = sub
		}
	}
	if a.LockedByUserID != nil {
		v := *a.LockedByUserID
		cp.LockedByUserID = &v
	}
	if a.LockedAt != nil {
		v := *a.LockedAt
		cp.LockedAt = &v
	}
	return cp
}

func cloneDraft(d domain.Draft) domain.Draft {
	cp := d
	cp.Properties = append([]domain.PropertyValue(nil), d.Properties...)
	cp.SubArtifacts = append([]domain.SubArtifactPatch(nil), d.SubArtifacts...)
	cp.AddedItems = append([]int64(nil), d.AddedItems...)
	cp.RemovedItems = append([]int64(nil), d.RemovedItems...)
	return cp
}

func cloneTransition(t domain.WorkflowTransition) domain.WorkflowTransition {
	cp := t
	cp.Triggers = append([]domain.TriggerSpec(nil), t.Triggers...)
	cp.SignatureMeaningIDs = append([]int64(nil), t.SignatureMeaningIDs...)
	return cp
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *domain.RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

// ExportState returns a deep copy of the committed state.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state := s.state.clone()
	return Snapshot{
		Artifacts:   state.artifacts,
		Drafts:      state.drafts,
		Projects:    state.projects,
		Users:       state.users,
		States:      state.states,
		Transitions: state.transitions,
		NextID:      state.nextID,
	}
}

// ImportState replaces the committed state with the supplied snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := newMemoryState()
	if snapshot.NextID > 0 {
		state.nextID = snapshot.NextID
	}
	for k, v := range snapshot.Artifacts {
		state.artifacts[k] = cloneArtifact(v)
	}
	for k, v := range snapshot.Drafts {
		state.drafts[k] = cloneDraft(v)
	}
	for k, v := range snapshot.Projects {
		state.projects[k] = v
	}
	for k, v := range snapshot.Users {
		state.users[k] = v
	}
	for k, v := range snapshot.States {
		state.states[k] = v
	}
	for k, v := range snapshot.Transitions {
		state.transitions[k] = cloneTransition(v)
	}
	s.state = state
}

// Transaction represents a mutation set applied to the store state.
type Transaction struct {
	store   *Store
	state   *memoryState
	changes []domain.Change
	now     time.Time
}

var _ domain.Transaction = (*Transaction)(nil)

// transactionView exposes a read-only snapshot of transactional state.
type transactionView struct {
	state *memoryState
}

var _ domain.TransactionView = transactionView{}
var _ domain.RuleView = transactionView{}

// RunInTransaction executes fn within a transactional copy of the store
// state, evaluates the rules engine against the recorded changes, and commits
// only when no blocking violation is present.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state.clone()
	tx := &Transaction{store: s, state: &state, now: s.nowFn()}

	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}

	var result domain.Result
	if s.engine != nil {
		view := transactionView{state: &state}
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return domain.Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state.clone()
	s.mu.RUnlock()
	return fn(transactionView{state: &snapshot})
}

func (tx *Transaction) recordChange(entity domain.EntityType, action domain.Action, before, after any) {
	change := domain.Change{Entity: entity, Action: action,
		Before: domain.UndefinedChangePayload(), After: domain.UndefinedChangePayload()}
	if before != nil {
		payload, err := domain.NewChangePayloadFromValue(before)
		if err != nil {
			panic(fmt.Errorf("memory store encode before: %w", err))
		}
		change.Before = payload
	}
	if after != nil {
		payload, err := domain.NewChangePayloadFromValue(after)
		if err != nil {
			panic(fmt.Errorf("memory store encode after: %w", err))
		}
		change.After = payload
	}
	tx.changes = append(tx.changes, change)
}

func (tx *Transaction) newID() int64 {
	id := tx.state.nextID
	tx.state.nextID++
	return id
}

// Snapshot returns a read-only view of the transactional state.
func (tx *Transaction) Snapshot() domain.TransactionView {
	return transactionView{state: tx.state}
}

// CreateProject stores a project record.
func (tx *Transaction) CreateProject(p domain.Project) (domain.Project, error) {
	if p.ID == 0 {
		p.ID = tx.newID()
	}
	if _, exists := tx.state.projects[p.ID]; exists {
		return domain.Project{}, fmt.Errorf("project %d already exists", p.ID)
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.projects[p.ID] = p
	tx.recordChange(domain.EntityProject, domain.ActionCreate, nil, p)
	return p, nil
}

// CreateUser stores a user record.
func (tx *Transaction) CreateUser(u domain.User) (domain.User, error) {
	if u.ID == 0 {
		u.ID = tx.newID()
	}
	if _, exists := tx.state.users[u.ID]; exists {
		return domain.User{}, fmt.Errorf("user %d already exists", u.ID)
	}
	u.CreatedAt = tx.now
	u.UpdatedAt = tx.now
	tx.state.users[u.ID] = u
	tx.recordChange(domain.EntityUser, domain.ActionCreate, nil, u)
	return u, nil
}

// CreateArtifact stores a new artifact within the transaction.
func (tx *Transaction) CreateArtifact(a domain.Artifact) (domain.Artifact, error) {
	if a.ID == 0 {
		a.ID = tx.newID()
	}
	if _, exists := tx.state.artifacts[a.ID]; exists {
		return domain.Artifact{}, fmt.Errorf("artifact %d already exists", a.ID)
	}
	if _, ok := tx.state.projects[a.ProjectID]; a.ProjectID != 0 && !ok {
		return domain.Artifact{}, fmt.Errorf("project %d not found", a.ProjectID)
	}
	a.CreatedAt = tx.now
	a.UpdatedAt = tx.now
	tx.state.artifacts[a.ID] = cloneArtifact(a)
	tx.recordChange(domain.EntityArtifact, domain.ActionCreate, nil, a)
	return cloneArtifact(a), nil
}

// UpdateArtifact mutates an artifact using the provided mutator function.
func (tx *Transaction) UpdateArtifact(id int64, mutator func(*domain.Artifact) error) (domain.Artifact, error) {
	current, ok := tx.state.artifacts[id]
	if !ok {
		return domain.Artifact{}, fmt.Errorf("artifact %d not found", id)
	}
	before := cloneArtifact(current)
	working := cloneArtifact(current)
	if err := mutator(&working); err != nil {
		return domain.Artifact{}, err
	}
	working.ID = id
	working.UpdatedAt = tx.now
	tx.state.artifacts[id] = cloneArtifact(working)
	tx.recordChange(domain.EntityArtifact, domain.ActionUpdate, before, working)
	return cloneArtifact(working), nil
}

// SoftDeleteArtifact marks an artifact deleted. Rows are retained because
// version history and traces continue to reference them.
func (tx *Transaction) SoftDeleteArtifact(id int64) error {
	current, ok := tx.state.artifacts[id]
	if !ok {
		return fmt.Errorf("artifact %d not found", id)
	}
	before := cloneArtifact(current)
	current.Deleted = true
	current.UpdatedAt = tx.now
	tx.state.artifacts[id] = cloneArtifact(current)
	tx.recordChange(domain.EntityArtifact, domain.ActionDelete, before, current)
	return nil
}

// AcquireLock records userID as the exclusive lock owner of the artifact.
func (tx *Transaction) AcquireLock(artifactID, userID int64) error {
	current, ok := tx.state.artifacts[artifactID]
	if !ok {
		return fmt.Errorf("artifact %d not found", artifactID)
	}
	if current.LockedByUserID != nil && *current.LockedByUserID != userID {
		return fmt.Errorf("artifact %d already locked by user %d", artifactID, *current.LockedByUserID)
	}
	before := cloneArtifact(current)
	owner := ""
	if u, ok := tx.state.users[userID]; ok {
		owner = u.DisplayName
	}
	now := tx.now
	current.LockedByUserID = &userID
	current.LockedByUser = owner
	current.LockedAt = &now
	tx.state.artifacts[artifactID] = cloneArtifact(current)
	tx.recordChange(domain.EntityLock, domain.ActionCreate, before, current)
	return nil
}

// ReleaseLock clears the lock row of the artifact.
func (tx *Transaction) ReleaseLock(artifactID int64) error {
	current, ok := tx.state.artifacts[artifactID]
	if !ok {
		return fmt.Errorf("artifact %d not found", artifactID)
	}
	before := cloneArtifact(current)
	current.LockedByUserID = nil
	current.LockedByUser = ""
	current.LockedAt = nil
	tx.state.artifacts[artifactID] = cloneArtifact(current)
	tx.recordChange(domain.EntityLock, domain.ActionDelete, before, current)
	return nil
}

// PutDraft stores or replaces the pending draft of an artifact.
func (tx *Transaction) PutDraft(d domain.Draft) error {
	if _, ok := tx.state.artifacts[d.ArtifactID]; !ok {
		return fmt.Errorf("artifact %d not found", d.ArtifactID)
	}
	var before any
	if prev, ok := tx.state.drafts[d.ArtifactID]; ok {
		before = cloneDraft(prev)
	}
	d.SavedAt = tx.now
	tx.state.drafts[d.ArtifactID] = cloneDraft(d)
	action := domain.ActionCreate
	if before != nil {
		action = domain.ActionUpdate
	}
	tx.recordChange(domain.EntityDraft, action, before, d)
	return nil
}

// DeleteDraft removes the pending draft of an artifact, if any.
func (tx *Transaction) DeleteDraft(artifactID int64) error {
	prev, ok := tx.state.drafts[artifactID]
	if !ok {
		return nil
	}
	delete(tx.state.drafts, artifactID)
	tx.recordChange(domain.EntityDraft, domain.ActionDelete, cloneDraft(prev), nil)
	return nil
}

// SetWorkflowState records the workflow state the artifact now occupies.
func (tx *Transaction) SetWorkflowState(artifactID int64, state domain.WorkflowState) error {
	if _, ok := tx.state.artifacts[artifactID]; !ok {
		return fmt.Errorf("artifact %d not found", artifactID)
	}
	var before any
	if prev, ok := tx.state.states[artifactID]; ok {
		before = prev
	}
	tx.state.states[artifactID] = state
	tx.recordChange(domain.EntityWorkflowState, domain.ActionUpdate, before, state)
	return nil
}

// PutTransition stores a workflow transition definition.
func (tx *Transaction) PutTransition(t domain.WorkflowTransition) (domain.WorkflowTransition, error) {
	if t.ID == 0 {
		t.ID = tx.newID()
	}
	if t.WorkflowID <= 0 || t.FromStateID <= 0 || t.ToStateID <= 0 {
		return domain.WorkflowTransition{}, fmt.Errorf("transition %d has non-positive ids", t.ID)
	}
	tx.state.transitions[t.ID] = cloneTransition(t)
	return cloneTransition(t), nil
}

// view implementation -------------------------------------------------------

func (v transactionView) ListArtifacts() []domain.Artifact {
	out := make([]domain.Artifact, 0, len(v.state.artifacts))
	for _, a := range v.state.artifacts {
		out = append(out, cloneArtifact(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) ListProjects() []domain.Project {
	out := make([]domain.Project, 0, len(v.state.projects))
	for _, p := range v.state.projects {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindArtifact(id int64) (domain.Artifact, bool) {
	a, ok := v.state.artifacts[id]
	if !ok {
		return domain.Artifact{}, false
	}
	return cloneArtifact(a), true
}

func (v transactionView) FindProject(id int64) (domain.Project, bool) {
	p, ok := v.state.projects[id]
	return p, ok
}

func (v transactionView) FindUser(id int64) (domain.User, bool) {
	u, ok := v.state.users[id]
	return u, ok
}

func (v transactionView) FindDraft(artifactID int64) (domain.Draft, bool) {
	d, ok := v.state.drafts[artifactID]
	if !ok {
		return domain.Draft{}, false
	}
	return cloneDraft(d), true
}

func (v transactionView) ListDrafts() []domain.Draft {
	out := make([]domain.Draft, 0, len(v.state.drafts))
	for _, d := range v.state.drafts {
		out = append(out, cloneDraft(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ArtifactID < out[j].ArtifactID })
	return out
}

func (v transactionView) FindWorkflowState(artifactID int64) (domain.WorkflowState, bool) {
	s, ok := v.state.states[artifactID]
	return s, ok
}

func (v transactionView) ListTransitions(workflowID int64) []domain.WorkflowTransition {
	out := make([]domain.WorkflowTransition, 0)
	for _, t := range v.state.transitions {
		if t.WorkflowID == workflowID {
			out = append(out, cloneTransition(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (v transactionView) FindTransition(workflowID, fromStateID, toStateID int64) (domain.WorkflowTransition, bool) {
	for _, t := range v.state.transitions {
		if t.WorkflowID == workflowID && t.FromStateID == fromStateID && t.ToStateID == toStateID {
			return cloneTransition(t), true
		}
	}
	return domain.WorkflowTransition{}, false
}

// Read helpers ---------------------------------------------------------------

// GetArtifact retrieves an artifact by ID from committed state.
func (s *Store) GetArtifact(id int64) (domain.Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.state.artifacts[id]
	if !ok {
		return domain.Artifact{}, false
	}
	return cloneArtifact(a), true
}

// ListArtifacts returns all artifacts from committed state.
func (s *Store) ListArtifacts() []domain.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListArtifacts()
}

// ListProjects returns all projects.
func (s *Store) ListProjects() []domain.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return transactionView{state: &s.state}.ListProjects()
}

// GetDraft retrieves the pending draft of an artifact, if any.
func (s *Store) GetDraft(artifactID int64) (domain.Draft, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.drafts[artifactID]
	if !ok {
		return domain.Draft{}, false
	}
	return cloneDraft(d), true
}

// GetWorkflowState retrieves the workflow state of an artifact, if recorded.
func (s *Store) GetWorkflowState(artifactID int64) (domain.WorkflowState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.state.states[artifactID]
	return st, ok
}
