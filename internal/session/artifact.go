package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"reqcore/internal/blob"
	"reqcore/pkg/domain"
)

// ErrNotLocked is returned by local mutators when the current user does not
// hold the edit lock.
var ErrNotLocked = errors.New("session: artifact is not locked by the current user")

// ErrNotFound is returned when the server no longer knows the artifact.
var ErrNotFound = errors.New("session: artifact not found")

// Dependencies bundles the collaborators an Artifact needs. Zero-value
// collaborator fields are replaced with inert implementations; Gateway is
// required.
type Dependencies struct {
	Gateway   Gateway
	Dialog    DialogService
	Messages  MessageService
	Overlay   LoadingOverlay
	Validator PropertyValidator
	Licenses  *LicenseCache
	Resolver  *Resolver
}

func (d *Dependencies) fillDefaults() {
	nop := NopCollaborators{}
	if d.Dialog == nil {
		d.Dialog = nop
	}
	if d.Messages == nil {
		d.Messages = nop
	}
	if d.Overlay == nil {
		d.Overlay = nop
	}
	if d.Validator == nil {
		d.Validator = nop
	}
	if d.Resolver == nil {
		d.Resolver = NewResolver(d.Dialog)
	}
}

// Artifact is the client-side stateful wrapper around one server artifact.
// It owns the artifact's data, lifecycle state, pending edits, and the
// full load/lock/save/publish/discard protocol against the service.
type Artifact struct {
	deps Dependencies

	mu   sync.Mutex
	data domain.Artifact
	// last server-confirmed placement, used to detect that the artifact was
	// moved by someone else while we were watching it
	knownParentID   int64
	knownOrderIndex float64
	placementKnown  bool
	unloaded        bool

	// in-flight lock call shared by concurrent Lock callers
	lockWait chan struct{}
	lockErr  error

	relationships       []domain.Trace
	relationshipsLoaded bool
	attachments         []blob.Info
	attachmentsLoaded   bool

	state   *State
	changes *ChangeSet
	behave  Behavior
	events  *broadcaster
}

// NewArtifact wraps data. The capability strategy is chosen once, from the
// predefined type, and never changes for the lifetime of the wrapper.
func NewArtifact(data domain.Artifact, deps Dependencies) *Artifact {
	deps.fillDefaults()
	a := &Artifact{
		deps:    deps,
		data:    data,
		changes: NewChangeSet(),
		behave:  behaviorFor(data.PredefinedType),
		events:  newBroadcaster(),
	}
	a.state = NewState(func(StateSnapshot) {
		a.publish(EventStateChanged)
	})
	a.rememberPlacement(data)
	return a
}

func (a *Artifact) rememberPlacement(data domain.Artifact) {
	a.knownParentID = data.ParentID
	a.knownOrderIndex = data.OrderIndex
	a.placementKnown = true
}

// ID returns the artifact's server id.
func (a *Artifact) ID() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data.ID
}

// Data returns a copy of the current artifact data.
func (a *Artifact) Data() domain.Artifact {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.data
}

// State returns the lifecycle state record.
func (a *Artifact) State() *State { return a.state }

// IsUnloaded reports whether the payload was released by Unload and not yet
// re-fetched.
func (a *Artifact) IsUnloaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unloaded
}

// Subscribe registers an event listener. The returned cancel func must be
// called to stop delivery.
func (a *Artifact) Subscribe() (<-chan Event, func()) {
	return a.events.subscribe()
}

func (a *Artifact) publish(kind EventKind) {
	if kind == EventUnloaded {
		a.events.publish(Event{Kind: EventUnloaded, ArtifactID: a.ID()})
		return
	}
	a.mu.Lock()
	snap := &ArtifactSnapshot{
		ID:      a.data.ID,
		Name:    a.data.Name,
		Version: a.data.Version,
		State:   a.state.Snapshot(),
	}
	a.mu.Unlock()
	a.events.publish(Event{Kind: kind, ArtifactID: snap.ID, Artifact: snap})
}

// --- local mutators -------------------------------------------------------

// SetName records a rename. The lock must be held by the current user.
func (a *Artifact) SetName(name string) error {
	return a.recordEdit(FieldName, name)
}

// SetOrderIndex records a reordering.
func (a *Artifact) SetOrderIndex(order float64) error {
	return a.recordEdit(FieldOrderIndex, order)
}

// SetProperty records a property edit. The value is kept even when invalid;
// validity is re-checked when changes are computed.
func (a *Artifact) SetProperty(value domain.PropertyValue) error {
	return a.recordEdit(propertyField(value.PropertyTypeID), value)
}

func (a *Artifact) recordEdit(field string, value any) error {
	if a.state.Snapshot().LockedBy != LockCurrentUser {
		return ErrNotLocked
	}
	a.changes.Set(field, value)
	a.state.SetState(StatePatch{Dirty: ptrBool(true)}, true)
	return nil
}

// Process returns the process strategy when this artifact is a process.
func (a *Artifact) Process() (*processBehavior, bool) {
	b, ok := a.behave.(*processBehavior)
	return b, ok
}

// Collection returns the collection strategy when this artifact is a
// collection.
func (a *Artifact) Collection() (*collectionBehavior, bool) {
	b, ok := a.behave.(*collectionBehavior)
	return b, ok
}

// EditBehavior records behavior-level edits through fn, enforcing the same
// lock requirement as field edits.
func (a *Artifact) EditBehavior(fn func(Behavior)) error {
	if a.state.Snapshot().LockedBy != LockCurrentUser {
		return ErrNotLocked
	}
	fn(a.behave)
	if a.behave.Dirty() {
		a.state.SetState(StatePatch{Dirty: ptrBool(true)}, true)
	}
	return nil
}

// Changes computes the tri-state change result for the pending edits.
func (a *Artifact) Changes() ChangeResult {
	a.mu.Lock()
	id := a.data.ID
	version := a.data.Version
	a.mu.Unlock()
	delta := a.changes.Delta(id)
	delta.Version = version
	valid := a.behave.Contribute(&delta)
	for _, p := range delta.Properties {
		if p.Validate() != nil {
			valid = false
		}
	}
	if delta.IsEmpty() {
		return ChangeResult{Kind: NoChanges}
	}
	if !valid {
		return ChangeResult{Kind: InvalidChanges}
	}
	return ChangeResult{Kind: DeltaChanges, Delta: &delta}
}

func (a *Artifact) discardLocal() {
	a.changes.Clear()
	a.behave.Discard()
	a.state.SetState(StatePatch{Dirty: ptrBool(false)}, false)
}

// --- load -----------------------------------------------------------------

// Load fetches the artifact from the server and replaces local data. It is
// a no-op while unsent edits are held under the current user's lock, so a
// background reload can never clobber work in progress.
func (a *Artifact) Load(ctx context.Context) error {
	if !a.state.CanBeLoaded() {
		return nil
	}
	fetched, err := a.deps.Gateway.GetArtifact(ctx, a.ID())
	if err != nil {
		if ne, ok := AsNetError(err); ok && ne.StatusCode == 404 {
			a.state.SetState(StatePatch{Deleted: ptrBool(true)}, true)
			return fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		return err
	}
	a.applyFetched(fetched)
	a.publish(EventLoaded)
	return nil
}

func (a *Artifact) applyFetched(fetched domain.Artifact) {
	a.mu.Lock()
	misplaced := a.placementKnown &&
		(fetched.ParentID != a.knownParentID || fetched.OrderIndex != a.knownOrderIndex)
	a.data = fetched
	a.rememberPlacement(fetched)
	a.unloaded = false
	a.mu.Unlock()
	patch := StatePatch{Deleted: ptrBool(fetched.Deleted)}
	if misplaced {
		patch.Misplaced = ptrBool(true)
	}
	a.state.SetState(patch, true)
}

// --- lock -----------------------------------------------------------------

// Lock acquires the server edit lock for the current user. It is idempotent
// when the lock is already held, and concurrent callers share a single
// network call.
func (a *Artifact) Lock(ctx context.Context) error {
	if a.state.Snapshot().LockedBy == LockCurrentUser {
		return nil
	}
	a.mu.Lock()
	if wait := a.lockWait; wait != nil {
		a.mu.Unlock()
		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
		a.mu.Lock()
		err := a.lockErr
		a.mu.Unlock()
		return err
	}
	wait := make(chan struct{})
	a.lockWait = wait
	a.mu.Unlock()

	err := a.lockOnServer(ctx)

	a.mu.Lock()
	a.lockErr = err
	a.lockWait = nil
	a.mu.Unlock()
	close(wait)
	return err
}

func (a *Artifact) lockOnServer(ctx context.Context) error {
	if p, ok := a.Process(); ok && p != nil && a.deps.Licenses != nil {
		licensed, err := a.deps.Licenses.Enabled(ctx, FeatureProcessEditing)
		if err == nil && !licensed {
			a.state.SetState(StatePatch{ReadOnly: ptrBool(true)}, true)
			return nil
		}
	}
	results, err := a.deps.Gateway.LockArtifacts(ctx, []int64{a.ID()})
	if err != nil {
		return err
	}
	if len(results) != 1 {
		return fmt.Errorf("lock: expected 1 result, got %d", len(results))
	}
	res := results[0]
	switch res.Result {
	case domain.LockSuccess:
		a.state.SetState(StatePatch{
			LockedBy:     ptrLock(LockCurrentUser),
			LockOwner:    ptrString(""),
			LockDateTime: ptrTime(time.Now()),
		}, true)
		return a.reconcileLockInfo(ctx, res.Info)
	case domain.LockAlreadyLocked:
		a.state.SetState(StatePatch{
			LockedBy:  ptrLock(LockOtherUser),
			LockOwner: ptrString(res.Info.LockOwner),
		}, true)
		return a.reconcileLockInfo(ctx, res.Info)
	case domain.LockDoesNotExist:
		a.discardLocal()
		a.state.SetState(StatePatch{Deleted: ptrBool(true)}, true)
		return ErrNotFound
	default:
		a.state.SetState(StatePatch{ReadOnly: ptrBool(true)}, true)
		return nil
	}
}

// reconcileLockInfo compares the server's version and placement against the
// local copy. A version drift means someone published since we loaded:
// local edits are stale and must be dropped for a fresh copy.
func (a *Artifact) reconcileLockInfo(ctx context.Context, info domain.LockInfo) error {
	a.mu.Lock()
	versionDrift := info.VersionID != a.data.Version
	moved := a.placementKnown &&
		(info.ParentID != a.knownParentID || info.OrderIndex != a.knownOrderIndex)
	a.mu.Unlock()
	if moved {
		a.state.SetState(StatePatch{Misplaced: ptrBool(true)}, true)
	}
	if !versionDrift {
		return nil
	}
	a.discardLocal()
	if err := a.Load(ctx); err != nil {
		return err
	}
	a.deps.Messages.Info(MsgLockRefreshed)
	return nil
}

// --- save -----------------------------------------------------------------

// Save sends pending edits to the server. When the artifact is not savable
// it is a silent no-op, which lets autosave timers fire unconditionally.
// Manual saves (autoSave=false) run property validation first and refresh
// the artifact afterwards.
func (a *Artifact) Save(ctx context.Context, autoSave bool) error {
	if !a.state.CanBeSaved() {
		return nil
	}
	if !autoSave {
		edits := a.pendingPropertyEdits()
		invalid, err := a.deps.Validator.ValidateItem(ctx, a.Data(), edits)
		if err != nil {
			return err
		}
		if len(invalid) > 0 {
			a.deps.Messages.ValidationErrors(a.ID(), invalid)
			return opError(MsgInvalidChanges, nil)
		}
	}
	changes := a.Changes()
	switch changes.Kind {
	case NoChanges:
		a.state.SetState(StatePatch{Dirty: ptrBool(false)}, false)
		return nil
	case InvalidChanges:
		return opError(MsgInvalidChanges, nil)
	}
	updated, err := a.deps.Gateway.UpdateArtifact(ctx, a.ID(), *changes.Delta)
	if err != nil {
		return a.handleSaveError(err)
	}
	a.discardLocal()
	a.applyFetched(updated)
	a.publish(EventSaved)
	if !autoSave {
		return a.Refresh(ctx)
	}
	return nil
}

func (a *Artifact) pendingPropertyEdits() []domain.PropertyValue {
	var edits []domain.PropertyValue
	for _, field := range a.changes.Fields() {
		if v, ok := a.changes.Get(field); ok {
			if pv, ok := v.(domain.PropertyValue); ok {
				edits = append(edits, pv)
			}
		}
	}
	return edits
}

// handleSaveError maps a failed save to its user notice. Errors a lower
// layer already surfaced are swallowed. A stale-lock answer is
// informational: the edits already reached the server through another path.
func (a *Artifact) handleSaveError(err error) error {
	ne, ok := AsNetError(err)
	if !ok {
		a.deps.Messages.Error(MsgSaveErrorOther)
		return opError(MsgSaveErrorOther, err)
	}
	if ne.Handled {
		return nil
	}
	if ne.StatusCode == 400 && ne.ErrorCode == domain.CodeLockStale {
		a.deps.Messages.Info(MsgSaveError400114)
		return nil
	}
	if ne.StatusCode == 404 {
		a.state.SetState(StatePatch{Deleted: ptrBool(true)}, true)
	}
	key := saveErrorKey(ne)
	if ne.ErrorCode == domain.CodeValidationErrors {
		a.deps.Messages.ValidationErrors(a.ID(), ne.PropertyIDs)
	}
	a.deps.Messages.Error(key)
	return opError(key, err)
}

// --- publish / discard ----------------------------------------------------

// Publish saves pending edits if needed, then publishes the draft, releasing
// the lock. A dependent-artifact conflict runs the resolver cascade; either
// path produces exactly one success notice.
func (a *Artifact) Publish(ctx context.Context) error {
	snap := a.state.Snapshot()
	if snap.Dirty {
		if err := a.Save(ctx, false); err != nil {
			return err
		}
	}
	if !a.state.CanBePublished(a.Data().Version) {
		return opError(MsgSaveError409123, nil)
	}
	err := a.deps.Gateway.PublishArtifacts(ctx, []int64{a.ID()})
	if err != nil {
		err = a.resolveBatchError(ctx, OpPublish, err)
	}
	if err != nil {
		if ne, ok := AsNetError(err); ok && ne.ErrorCode == domain.CodeLockStale {
			a.resolveStaleLock(ctx)
			return nil
		}
		return a.handleBatchFailure(ctx, OpPublish, err)
	}
	a.afterBatchSuccess(ctx, EventPublished, MsgPublishSuccess)
	return nil
}

// DiscardArtifact asks for confirmation, then discards the draft and
// releases the lock. A "nothing to discard" conflict still releases the
// server lock and is treated as success.
func (a *Artifact) DiscardArtifact(ctx context.Context) error {
	if err := a.deps.Dialog.ConfirmDiscard(ctx, a.ID()); err != nil {
		return err
	}
	err := a.deps.Gateway.DiscardArtifacts(ctx, []int64{a.ID()})
	if err != nil {
		if ne, ok := AsNetError(err); ok && ne.ErrorCode == domain.CodeDiscardNoChanges {
			err = nil
		} else {
			err = a.resolveBatchError(ctx, OpDiscard, err)
		}
	}
	if err != nil {
		if ne, ok := AsNetError(err); ok && ne.ErrorCode == domain.CodeLockStale {
			a.resolveStaleLock(ctx)
			return nil
		}
		return a.handleBatchFailure(ctx, OpDiscard, err)
	}
	a.afterBatchSuccess(ctx, EventDiscarded, MsgDiscardSuccess)
	return nil
}

// resolveBatchError runs the dependent cascade when err carries dependents;
// otherwise err passes through.
func (a *Artifact) resolveBatchError(ctx context.Context, op BatchOp, err error) error {
	ne, ok := AsNetError(err)
	if !ok || ne.Dependents == nil || ne.Dependents.IsEmpty() {
		return err
	}
	deps := *ne.Dependents
	// nothing commits on a conflict, so the server reports the full batch
	// the retry must carry; send exactly those ids
	retry := func(ctx context.Context, depIDs []int64) error {
		if op == OpPublish {
			return a.deps.Gateway.PublishArtifacts(ctx, depIDs)
		}
		return a.deps.Gateway.DiscardArtifacts(ctx, depIDs)
	}
	return a.deps.Resolver.Resolve(ctx, op, deps, retry)
}

func (a *Artifact) afterBatchSuccess(ctx context.Context, kind EventKind, noticeKey string) {
	a.discardLocal()
	a.state.SetState(StatePatch{
		LockedBy:  ptrLock(LockNone),
		LockOwner: ptrString(""),
	}, true)
	a.deps.Messages.Info(noticeKey)
	a.publish(kind)
	// refresh failures after a confirmed publish/discard are not the
	// operation's failure; the next load will catch up
	_ = a.Refresh(ctx)
}

// resolveStaleLock finishes a batch operation whose lock went stale: another
// session already released the work, so there is nothing left to send. One
// informational notice, then the usual unlock and reload, without a success
// notice on top.
func (a *Artifact) resolveStaleLock(ctx context.Context) {
	a.deps.Messages.Info(MsgSaveError400114)
	a.discardLocal()
	a.state.SetState(StatePatch{
		LockedBy:  ptrLock(LockNone),
		LockOwner: ptrString(""),
	}, true)
	_ = a.Refresh(ctx)
}

func batchFailureKey(op BatchOp) string {
	if op == OpDiscard {
		return MsgDiscardFailed
	}
	return MsgPublishFailed
}

func (a *Artifact) handleBatchFailure(ctx context.Context, op BatchOp, err error) error {
	if errors.Is(err, ErrCancelled) {
		return err
	}
	ne, ok := AsNetError(err)
	if !ok {
		key := batchFailureKey(op)
		a.deps.Messages.Error(key)
		return opError(key, err)
	}
	if ne.Handled {
		return nil
	}
	if ne.StatusCode == 0 {
		// transport-level failure with no server message
		key := batchFailureKey(op)
		a.deps.Messages.Error(key)
		return opError(key, err)
	}
	if ne.ErrorCode == domain.CodeCannotPublish || ne.ErrorCode == domain.CodeCannotDiscard {
		// local data may have gone stale enough to cause the rejection
		_ = a.Refresh(ctx)
	}
	key := saveErrorKey(ne)
	a.deps.Messages.Error(key)
	return opError(key, err)
}

// --- refresh --------------------------------------------------------------

// Refresh drops local edits and reloads everything this wrapper has loaded
// so far. The reloads run concurrently and all run to completion even when
// one fails; a single state notification follows.
func (a *Artifact) Refresh(ctx context.Context) error {
	a.discardLocal()
	a.mu.Lock()
	wantRelationships := a.relationshipsLoaded
	wantAttachments := a.attachmentsLoaded
	a.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error { return a.Load(ctx) })
	if wantRelationships {
		g.Go(func() error {
			traces, err := a.deps.Gateway.GetRelationships(ctx, a.ID())
			if err != nil {
				return err
			}
			a.mu.Lock()
			a.relationships = traces
			a.mu.Unlock()
			return nil
		})
	}
	if wantAttachments {
		g.Go(func() error {
			infos, err := a.deps.Gateway.GetAttachments(ctx, a.ID())
			if err != nil {
				return err
			}
			a.mu.Lock()
			a.attachments = infos
			a.mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	a.publish(EventStateChanged)
	return err
}

// Relationships returns the artifact's traces, loading them on first use.
func (a *Artifact) Relationships(ctx context.Context) ([]domain.Trace, error) {
	a.mu.Lock()
	if a.relationshipsLoaded {
		out := make([]domain.Trace, len(a.relationships))
		copy(out, a.relationships)
		a.mu.Unlock()
		return out, nil
	}
	a.mu.Unlock()
	traces, err := a.deps.Gateway.GetRelationships(ctx, a.ID())
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.relationships = traces
	a.relationshipsLoaded = true
	out := make([]domain.Trace, len(traces))
	copy(out, traces)
	a.mu.Unlock()
	return out, nil
}

// Attachments returns the artifact's attachment metadata, loading it on
// first use.
func (a *Artifact) Attachments(ctx context.Context) ([]blob.Info, error) {
	a.mu.Lock()
	if a.attachmentsLoaded {
		out := make([]blob.Info, len(a.attachments))
		copy(out, a.attachments)
		a.mu.Unlock()
		return out, nil
	}
	a.mu.Unlock()
	infos, err := a.deps.Gateway.GetAttachments(ctx, a.ID())
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	a.attachments = infos
	a.attachmentsLoaded = true
	out := make([]blob.Info, len(infos))
	copy(out, infos)
	a.mu.Unlock()
	return out, nil
}

// --- structural operations ------------------------------------------------

// Delete removes the artifact (and its subtree) on the server. Returns the
// ids of everything deleted.
func (a *Artifact) Delete(ctx context.Context) ([]int64, error) {
	token := a.deps.Overlay.BeginLoading()
	defer a.deps.Overlay.EndLoading(token)
	ids, err := a.deps.Gateway.DeleteArtifact(ctx, a.ID())
	if err != nil {
		if ne, ok := AsNetError(err); ok && ne.Message != "" {
			// the server names the lock owner in its message; show it as-is
			a.deps.Messages.Error(ne.Message)
			return nil, opError(ne.Message, err)
		}
		return nil, err
	}
	a.discardLocal()
	a.state.SetState(StatePatch{Deleted: ptrBool(true)}, true)
	a.publish(EventDeleted)
	return ids, nil
}

// Move reparents the artifact under parentID and reloads it.
func (a *Artifact) Move(ctx context.Context, parentID int64) error {
	token := a.deps.Overlay.BeginLoading()
	defer a.deps.Overlay.EndLoading(token)
	if err := a.deps.Gateway.MoveArtifact(ctx, a.ID(), parentID); err != nil {
		return err
	}
	a.mu.Lock()
	a.placementKnown = false
	a.mu.Unlock()
	return a.Load(ctx)
}

// Copy clones the artifact under parentID and returns a wrapper for the
// clone, sharing this wrapper's collaborators.
func (a *Artifact) Copy(ctx context.Context, parentID int64) (*Artifact, error) {
	token := a.deps.Overlay.BeginLoading()
	defer a.deps.Overlay.EndLoading(token)
	clone, err := a.deps.Gateway.CopyArtifact(ctx, a.ID(), parentID)
	if err != nil {
		return nil, err
	}
	return NewArtifact(clone, a.deps), nil
}

// Unload releases the loaded payload while keeping identity and state, and
// tells subscribers with an explicit unload event.
func (a *Artifact) Unload() {
	a.discardLocal()
	a.mu.Lock()
	a.data.Properties = nil
	a.data.SubArtifacts = nil
	a.data.Traces = nil
	a.relationships = nil
	a.relationshipsLoaded = false
	a.attachments = nil
	a.attachmentsLoaded = false
	a.unloaded = true
	a.mu.Unlock()
	a.publish(EventUnloaded)
}

// Dispose severs state notifications and closes all event subscriptions.
func (a *Artifact) Dispose() {
	a.state.Dispose()
	a.events.close()
}
