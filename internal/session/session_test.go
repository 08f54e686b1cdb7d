package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reqcore/internal/blob"
	"reqcore/pkg/domain"
)

type fakeGateway struct {
	mu        sync.Mutex
	lockCalls int32
	artifact  domain.Artifact

	lockResult  domain.LockResult
	lockDelay   time.Duration
	updateErr   error
	publishErrs []error
	publishIDs  [][]int64
	discardErr  error
	discardIDs  [][]int64
	getErr      error
}

func (g *fakeGateway) GetArtifact(ctx context.Context, id int64) (domain.Artifact, error) {
	if g.getErr != nil {
		return domain.Artifact{}, g.getErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.artifact, nil
}

func (g *fakeGateway) UpdateArtifact(ctx context.Context, id int64, delta ArtifactDelta) (domain.Artifact, error) {
	if g.updateErr != nil {
		return domain.Artifact{}, g.updateErr
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if delta.Name != nil {
		g.artifact.Name = *delta.Name
	}
	return g.artifact, nil
}

func (g *fakeGateway) LockArtifacts(ctx context.Context, ids []int64) ([]domain.LockResult, error) {
	atomic.AddInt32(&g.lockCalls, 1)
	if g.lockDelay > 0 {
		time.Sleep(g.lockDelay)
	}
	return []domain.LockResult{g.lockResult}, nil
}

func (g *fakeGateway) PublishArtifacts(ctx context.Context, ids []int64) error {
	g.mu.Lock()
	g.publishIDs = append(g.publishIDs, ids)
	var err error
	if len(g.publishErrs) > 0 {
		err = g.publishErrs[0]
		g.publishErrs = g.publishErrs[1:]
	}
	g.mu.Unlock()
	return err
}

func (g *fakeGateway) DiscardArtifacts(ctx context.Context, ids []int64) error {
	g.mu.Lock()
	g.discardIDs = append(g.discardIDs, ids)
	g.mu.Unlock()
	return g.discardErr
}

func (g *fakeGateway) DeleteArtifact(ctx context.Context, id int64) ([]int64, error) {
	return []int64{id}, nil
}

func (g *fakeGateway) MoveArtifact(ctx context.Context, id, parentID int64) error { return nil }

func (g *fakeGateway) CopyArtifact(ctx context.Context, id, parentID int64) (domain.Artifact, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	clone := g.artifact
	clone.ID = id + 1000
	clone.ParentID = parentID
	return clone, nil
}

func (g *fakeGateway) GetRelationships(ctx context.Context, id int64) ([]domain.Trace, error) {
	return nil, nil
}

func (g *fakeGateway) GetAttachments(ctx context.Context, id int64) ([]blob.Info, error) {
	return nil, nil
}

type recordingMessages struct {
	NopCollaborators
	mu         sync.Mutex
	infos      []string
	errs       []string
	validation [][]int64
}

func (m *recordingMessages) Info(key string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, key)
}

func (m *recordingMessages) Error(key string, args ...any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, key)
}

func (m *recordingMessages) ValidationErrors(artifactID int64, propertyIDs []int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validation = append(m.validation, propertyIDs)
}

type decliningDialog struct{ NopCollaborators }

func (decliningDialog) ConfirmDiscard(context.Context, int64) error { return ErrCancelled }
func (decliningDialog) ConfirmDependents(context.Context, BatchOp, domain.DependentSet) error {
	return ErrCancelled
}

func baseArtifact() domain.Artifact {
	return domain.Artifact{
		Base:      domain.Base{ID: 22},
		ProjectID: 1,
		ParentID:  5,
		Version:   3,
		Name:      "Login flow",
	}
}

func newTestArtifact(gw *fakeGateway, msgs *recordingMessages) *Artifact {
	deps := Dependencies{Gateway: gw}
	if msgs != nil {
		deps.Messages = msgs
		deps.Resolver = NewResolver(NopCollaborators{})
	}
	return NewArtifact(gw.artifact, deps)
}

func lockCurrent(a *Artifact) {
	a.state.SetState(StatePatch{LockedBy: ptrLock(LockCurrentUser)}, false)
}

func TestLockConcurrentCallersShareOneCall(t *testing.T) {
	gw := &fakeGateway{
		artifact:   baseArtifact(),
		lockResult: domain.LockResult{Result: domain.LockSuccess, Info: domain.LockInfo{VersionID: 3, ParentID: 5}},
		lockDelay:  20 * time.Millisecond,
	}
	a := newTestArtifact(gw, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.Lock(context.Background()); err != nil {
				t.Errorf("Lock: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := atomic.LoadInt32(&gw.lockCalls); n != 1 {
		t.Fatalf("expected 1 lock call, got %d", n)
	}
	if got := a.State().Snapshot().LockedBy; got != LockCurrentUser {
		t.Fatalf("LockedBy = %v, want current user", got)
	}
	// holding the lock already: further calls stay local
	if err := a.Lock(context.Background()); err != nil {
		t.Fatalf("idempotent Lock: %v", err)
	}
	if n := atomic.LoadInt32(&gw.lockCalls); n != 1 {
		t.Fatalf("idempotent Lock hit the network: %d calls", n)
	}
}

func TestLockVersionDriftDiscardsAndRefreshes(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.artifact.Version = 4
	gw.lockResult = domain.LockResult{
		Result: domain.LockSuccess,
		Info:   domain.LockInfo{VersionID: 4, ParentID: 5},
	}
	msgs := &recordingMessages{}
	a := NewArtifact(baseArtifact(), Dependencies{Gateway: gw, Messages: msgs})

	if err := a.Lock(context.Background()); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if got := a.Data().Version; got != 4 {
		t.Fatalf("version after drift refresh = %d, want 4", got)
	}
	if len(msgs.infos) != 1 || msgs.infos[0] != MsgLockRefreshed {
		t.Fatalf("infos = %v, want one %q", msgs.infos, MsgLockRefreshed)
	}
}

func TestLockDoesNotExistMarksDeleted(t *testing.T) {
	gw := &fakeGateway{
		artifact:   baseArtifact(),
		lockResult: domain.LockResult{Result: domain.LockDoesNotExist},
	}
	a := newTestArtifact(gw, nil)
	if err := a.Lock(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Lock error = %v, want ErrNotFound", err)
	}
	if !a.State().Snapshot().Deleted {
		t.Fatal("artifact not marked deleted")
	}
}

func TestSaveNoOpWhenNotSavable(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	a := newTestArtifact(gw, nil)
	// no lock, no edits: autosave must do nothing and succeed
	if err := a.Save(context.Background(), true); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestEditsRequireLock(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	a := newTestArtifact(gw, nil)
	if err := a.SetName("renamed"); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("SetName error = %v, want ErrNotLocked", err)
	}
}

func TestLoadThenChangesIsEmpty(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	a := newTestArtifact(gw, nil)
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := a.Changes(); got.Kind != NoChanges {
		t.Fatalf("Changes after load = %v, want NoChanges", got.Kind)
	}
}

func TestSaveSendsDeltaAndClearsChanges(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	a := newTestArtifact(gw, nil)
	lockCurrent(a)
	if err := a.SetName("renamed"); err != nil {
		t.Fatalf("SetName: %v", err)
	}
	if got := a.Changes(); got.Kind != DeltaChanges || got.Delta.Name == nil {
		t.Fatalf("Changes = %+v, want name delta", got)
	}
	if err := a.Save(context.Background(), true); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := a.Changes(); got.Kind != NoChanges {
		t.Fatalf("Changes after save = %v, want NoChanges", got.Kind)
	}
	if a.State().Snapshot().Dirty {
		t.Fatal("still dirty after save")
	}
}

func TestSaveErrorKeys(t *testing.T) {
	cases := []struct {
		ne  *NetError
		key string
	}{
		{&NetError{StatusCode: 409, ErrorCode: domain.CodeVersionConflict}, MsgSaveError409116},
		{&NetError{StatusCode: 409, ErrorCode: domain.CodeNotLocked}, MsgSaveError409115},
		{&NetError{StatusCode: 409, ErrorCode: domain.CodeLockedByOther}, MsgSaveError409115},
		{&NetError{StatusCode: 404}, MsgSaveError404},
		{&NetError{StatusCode: 400}, MsgSaveError400},
		{&NetError{StatusCode: 502}, MsgSaveErrorOther},
	}
	for _, tc := range cases {
		if got := saveErrorKey(tc.ne); got != tc.key {
			t.Errorf("saveErrorKey(%d/%d) = %q, want %q", tc.ne.StatusCode, tc.ne.ErrorCode, got, tc.key)
		}
	}
}

func TestSaveVersionConflictReportsKey(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.updateErr = &NetError{StatusCode: 409, ErrorCode: domain.CodeVersionConflict}
	msgs := &recordingMessages{}
	a := newTestArtifact(gw, msgs)
	lockCurrent(a)
	a.SetName("renamed")

	err := a.Save(context.Background(), true)
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Key != MsgSaveError409116 {
		t.Fatalf("Save error = %v, want key %q", err, MsgSaveError409116)
	}
	if len(msgs.errs) != 1 || msgs.errs[0] != MsgSaveError409116 {
		t.Fatalf("error messages = %v", msgs.errs)
	}
}

func TestSaveStaleLockIsInformationalSuccess(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.updateErr = &NetError{StatusCode: 400, ErrorCode: domain.CodeLockStale}
	msgs := &recordingMessages{}
	a := newTestArtifact(gw, msgs)
	lockCurrent(a)
	a.SetName("renamed")

	if err := a.Save(context.Background(), true); err != nil {
		t.Fatalf("stale lock should resolve as success, got %v", err)
	}
	if len(msgs.infos) != 1 || msgs.infos[0] != MsgSaveError400114 {
		t.Fatalf("infos = %v, want one %q", msgs.infos, MsgSaveError400114)
	}
}

func TestSaveHandledErrorIsSwallowed(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.updateErr = &NetError{StatusCode: 409, ErrorCode: domain.CodeVersionConflict, Handled: true}
	msgs := &recordingMessages{}
	a := newTestArtifact(gw, msgs)
	lockCurrent(a)
	a.SetName("renamed")

	if err := a.Save(context.Background(), true); err != nil {
		t.Fatalf("handled error must not propagate, got %v", err)
	}
	if len(msgs.errs) != 0 {
		t.Fatalf("handled error produced messages: %v", msgs.errs)
	}
}

func TestSaveValidationErrorsEmitPropertyIDs(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.updateErr = &NetError{
		StatusCode:  409,
		ErrorCode:   domain.CodeValidationErrors,
		PropertyIDs: []int64{7, 9},
	}
	msgs := &recordingMessages{}
	a := newTestArtifact(gw, msgs)
	lockCurrent(a)
	a.SetName("renamed")

	if err := a.Save(context.Background(), true); err == nil {
		t.Fatal("expected error")
	}
	if len(msgs.validation) != 1 || len(msgs.validation[0]) != 2 {
		t.Fatalf("validation channel = %v, want [7 9]", msgs.validation)
	}
}

func TestPublishSuccessUnlocksAndNotifiesOnce(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	msgs := &recordingMessages{}
	a := newTestArtifact(gw, msgs)
	lockCurrent(a)

	if err := a.Publish(context.Background()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	snap := a.State().Snapshot()
	if snap.LockedBy != LockNone {
		t.Fatalf("LockedBy after publish = %v, want none", snap.LockedBy)
	}
	if len(msgs.infos) != 1 || msgs.infos[0] != MsgPublishSuccess {
		t.Fatalf("infos = %v, want exactly one %q", msgs.infos, MsgPublishSuccess)
	}
	if len(gw.publishIDs) != 1 || gw.publishIDs[0][0] != 22 {
		t.Fatalf("publish ids = %v", gw.publishIDs)
	}
}

func TestPublishDependentCascadeRetriesWithDependents(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.publishErrs = []error{&NetError{
		StatusCode: 409,
		ErrorCode:  domain.CodeCannotPublish,
		Dependents: &domain.DependentSet{
			Artifacts: []domain.DependentArtifact{{ID: 2, ProjectID: 1, Name: "Spec tree"}},
		},
	}}
	msgs := &recordingMessages{}
	a := newTestArtifact(gw, msgs)
	lockCurrent(a)

	if err := a.Publish(context.Background()); err != nil {
		t.Fatalf("Publish with cascade: %v", err)
	}
	if len(gw.publishIDs) != 2 {
		t.Fatalf("expected 2 publish calls, got %d", len(gw.publishIDs))
	}
	retry := gw.publishIDs[1]
	if len(retry) != 1 || retry[0] != 2 {
		t.Fatalf("retry batch = %v, want [2]", retry)
	}
	if len(msgs.infos) != 1 || msgs.infos[0] != MsgPublishSuccess {
		t.Fatalf("infos = %v, want exactly one %q", msgs.infos, MsgPublishSuccess)
	}
}

func TestPublishCascadeDeclinedPropagatesCancel(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.publishErrs = []error{&NetError{
		StatusCode: 409,
		ErrorCode:  domain.CodeCannotPublish,
		Dependents: &domain.DependentSet{
			Artifacts: []domain.DependentArtifact{{ID: 2, ProjectID: 1}},
		},
	}}
	a := NewArtifact(gw.artifact, Dependencies{
		Gateway:  gw,
		Dialog:   decliningDialog{},
		Resolver: NewResolver(decliningDialog{}),
	})
	lockCurrent(a)

	if err := a.Publish(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("Publish error = %v, want ErrCancelled", err)
	}
	if len(gw.publishIDs) != 1 {
		t.Fatalf("declined cascade still retried: %v", gw.publishIDs)
	}
}

func TestPublishStaleLockRetryInformsExactlyOnce(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.publishErrs = []error{
		&NetError{
			StatusCode: 409,
			ErrorCode:  domain.CodeCannotPublish,
			Dependents: &domain.DependentSet{
				Artifacts: []domain.DependentArtifact{{ID: 2, ProjectID: 1}},
			},
		},
		&NetError{StatusCode: 400, ErrorCode: domain.CodeLockStale},
	}
	msgs := &recordingMessages{}
	a := newTestArtifact(gw, msgs)
	lockCurrent(a)

	if err := a.Publish(context.Background()); err != nil {
		t.Fatalf("Publish with stale retry: %v", err)
	}
	if len(msgs.infos) != 1 || msgs.infos[0] != MsgSaveError400114 {
		t.Fatalf("infos = %v, want exactly one %q", msgs.infos, MsgSaveError400114)
	}
	if got := a.State().Snapshot().LockedBy; got != LockNone {
		t.Fatalf("LockedBy = %v after stale retry, want LockNone", got)
	}
}

func TestDiscardTransportFailureUsesDiscardKey(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.discardErr = &NetError{StatusCode: 0}
	msgs := &recordingMessages{}
	a := newTestArtifact(gw, msgs)
	lockCurrent(a)

	err := a.DiscardArtifact(context.Background())
	if err == nil {
		t.Fatal("DiscardArtifact over a dead transport must fail")
	}
	if len(msgs.errs) != 1 || msgs.errs[0] != MsgDiscardFailed {
		t.Fatalf("errs = %v, want exactly one %q", msgs.errs, MsgDiscardFailed)
	}
}

func TestDiscardClearsChangeSet(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	msgs := &recordingMessages{}
	a := newTestArtifact(gw, msgs)
	lockCurrent(a)
	a.SetName("renamed")

	if err := a.DiscardArtifact(context.Background()); err != nil {
		t.Fatalf("DiscardArtifact: %v", err)
	}
	if got := a.Changes(); got.Kind != NoChanges {
		t.Fatalf("Changes after discard = %v, want NoChanges", got.Kind)
	}
	if a.State().Snapshot().Dirty {
		t.Fatal("still dirty after discard")
	}
	if len(gw.discardIDs) != 1 {
		t.Fatalf("discard calls = %v", gw.discardIDs)
	}
}

func TestDiscardNoChangesConflictIsSuccess(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.discardErr = &NetError{StatusCode: 409, ErrorCode: domain.CodeDiscardNoChanges}
	msgs := &recordingMessages{}
	a := newTestArtifact(gw, msgs)
	lockCurrent(a)

	if err := a.DiscardArtifact(context.Background()); err != nil {
		t.Fatalf("no-changes discard should succeed, got %v", err)
	}
	if a.State().Snapshot().LockedBy != LockNone {
		t.Fatal("lock not released after no-changes discard")
	}
}

func TestDiscardDeclinedDoesNothing(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	a := NewArtifact(gw.artifact, Dependencies{Gateway: gw, Dialog: decliningDialog{}})
	lockCurrent(a)
	a.SetName("renamed")

	if err := a.DiscardArtifact(context.Background()); !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
	if len(gw.discardIDs) != 0 {
		t.Fatal("declined discard still hit the network")
	}
	if got := a.Changes(); got.Kind != DeltaChanges {
		t.Fatal("declined discard dropped local edits")
	}
}

func TestLoadGuardedByLocalEdits(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	a := newTestArtifact(gw, nil)
	lockCurrent(a)
	a.SetName("renamed")

	gw.mu.Lock()
	gw.artifact.Name = "server rename"
	gw.mu.Unlock()
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := a.Data().Name; got != "Login flow" {
		t.Fatalf("load clobbered local state: name = %q", got)
	}
}

func TestLoad404MarksDeleted(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.getErr = &NetError{StatusCode: 404}
	a := newTestArtifact(gw, nil)
	if err := a.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load error = %v, want ErrNotFound", err)
	}
	if !a.State().Snapshot().Deleted {
		t.Fatal("artifact not marked deleted after 404")
	}
}

func TestLoadDetectsMisplacement(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	a := newTestArtifact(gw, nil)
	gw.mu.Lock()
	gw.artifact.ParentID = 99
	gw.mu.Unlock()
	if err := a.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !a.State().Snapshot().Misplaced {
		t.Fatal("move by another session not flagged as misplaced")
	}
}

func TestUnloadEmitsExplicitEvent(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	a := newTestArtifact(gw, nil)
	events, cancel := a.Subscribe()
	defer cancel()

	a.Unload()
	select {
	case ev := <-events:
		if ev.Kind != EventUnloaded {
			t.Fatalf("event kind = %v, want unloaded", ev.Kind)
		}
		if ev.Artifact != nil {
			t.Fatal("unload event must not carry an artifact snapshot")
		}
		if ev.ArtifactID != 22 {
			t.Fatalf("ArtifactID = %d, want 22", ev.ArtifactID)
		}
	default:
		t.Fatal("no event delivered")
	}
}

func TestChangeSetLastWriteWins(t *testing.T) {
	cs := NewChangeSet()
	cs.Set(FieldName, "first")
	cs.Set(FieldName, "second")
	if cs.Len() != 1 {
		t.Fatalf("Len = %d, want 1", cs.Len())
	}
	delta := cs.Delta(1)
	if delta.Name == nil || *delta.Name != "second" {
		t.Fatalf("delta name = %v, want second", delta.Name)
	}
	cs.Clear()
	if cs.Len() != 0 {
		t.Fatal("Clear left entries behind")
	}
}

func TestStateEligibility(t *testing.T) {
	s := NewState(nil)
	if s.CanBeSaved() {
		t.Fatal("pristine state reported savable")
	}
	s.SetState(StatePatch{Dirty: ptrBool(true), LockedBy: ptrLock(LockCurrentUser)}, false)
	if !s.CanBeSaved() {
		t.Fatal("dirty + locked-by-me state not savable")
	}
	s.SetState(StatePatch{Deleted: ptrBool(true)}, false)
	if s.CanBeSaved() {
		t.Fatal("deleted artifact reported savable")
	}
	if s.CanBePublished(3) {
		t.Fatal("deleted artifact reported publishable")
	}

	fresh := NewState(nil)
	if !fresh.CanBePublished(0) {
		t.Fatal("never-published artifact must be publishable without a lock")
	}
	if fresh.CanBePublished(2) {
		t.Fatal("published artifact publishable without a lock")
	}
}

func TestLicenseCacheTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	loads := 0
	cache := NewLicenseCache(func(context.Context) (map[string]bool, error) {
		loads++
		return map[string]bool{FeatureProcessEditing: true}, nil
	}, time.Minute, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		ok, err := cache.Enabled(context.Background(), FeatureProcessEditing)
		if err != nil || !ok {
			t.Fatalf("Enabled = %v, %v", ok, err)
		}
	}
	if loads != 1 {
		t.Fatalf("loader ran %d times within TTL, want 1", loads)
	}
	now = now.Add(2 * time.Minute)
	if _, err := cache.Enabled(context.Background(), FeatureProcessEditing); err != nil {
		t.Fatal(err)
	}
	if loads != 2 {
		t.Fatalf("loader ran %d times after expiry, want 2", loads)
	}
	cache.Invalidate()
	if _, err := cache.Enabled(context.Background(), FeatureProcessEditing); err != nil {
		t.Fatal(err)
	}
	if loads != 3 {
		t.Fatalf("loader ran %d times after invalidate, want 3", loads)
	}
}

func TestCollectionBehaviorCancelsOpposites(t *testing.T) {
	b := newCollectionBehavior()
	b.AddItem(4)
	b.RemoveItem(4)
	if b.Dirty() {
		t.Fatal("add then remove of the same id should cancel out")
	}
	b.RemoveItem(9)
	b.AddItem(9)
	if b.Dirty() {
		t.Fatal("remove then add of the same id should cancel out")
	}
	b.AddItem(2)
	var delta ArtifactDelta
	if valid := b.Contribute(&delta); !valid {
		t.Fatal("membership edits are always valid")
	}
	if len(delta.AddedItems) != 1 || delta.AddedItems[0] != 2 {
		t.Fatalf("AddedItems = %v, want [2]", delta.AddedItems)
	}
}

func TestProcessBehaviorInvalidPropertyBlocksChanges(t *testing.T) {
	gw := &fakeGateway{artifact: baseArtifact()}
	gw.artifact.PredefinedType = domain.TypeProcess
	a := NewArtifact(gw.artifact, Dependencies{Gateway: gw})
	lockCurrent(a)

	p, ok := a.Process()
	if !ok {
		t.Fatal("process artifact did not get the process strategy")
	}
	bad := domain.PropertyValue{PropertyTypeID: 7, Type: domain.PropertyText, Required: true}
	if err := a.EditBehavior(func(Behavior) { p.SetSubArtifactProperty(31, bad) }); err != nil {
		t.Fatalf("EditBehavior: %v", err)
	}
	if got := a.Changes(); got.Kind != InvalidChanges {
		t.Fatalf("Changes = %v, want InvalidChanges", got.Kind)
	}
	if err := a.Save(context.Background(), true); err == nil {
		t.Fatal("save of invalid changes must fail")
	}
}
