package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqcore/pkg/domain"
)

type fixture struct {
	svc     *Service
	user    User
	other   User
	project Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	svc := NewInMemoryService(NewDefaultRulesEngine())

	user, _, err := svc.CreateUser(ctx, User{Login: "ana", DisplayName: "Ana Petrov"})
	require.NoError(t, err)
	other, _, err := svc.CreateUser(ctx, User{Login: "bo", DisplayName: "Bo Lindqvist"})
	require.NoError(t, err)
	project, _, err := svc.CreateProject(ctx, Project{Name: "Billing"})
	require.NoError(t, err)

	return &fixture{svc: svc, user: user, other: other, project: project}
}

func (f *fixture) createArtifact(t *testing.T, name string) Artifact {
	t.Helper()
	a, _, err := f.svc.CreateArtifact(context.Background(), Artifact{
		ProjectID:      f.project.ID,
		Name:           name,
		Prefix:         "REQ",
		PredefinedType: domain.TypeTextualRequirement,
	})
	require.NoError(t, err)
	return a
}

func (f *fixture) lock(t *testing.T, userID int64, ids ...int64) {
	t.Helper()
	results, err := f.svc.LockArtifacts(context.Background(), userID, ids)
	require.NoError(t, err)
	for i, res := range results {
		require.Equal(t, domain.LockSuccess, res.Result, "lock of artifact %d", ids[i])
	}
}

func (f *fixture) saveName(t *testing.T, userID int64, a Artifact, name string) {
	t.Helper()
	_, _, err := f.svc.SaveDraft(context.Background(), userID, domain.Draft{
		ArtifactID: a.ID,
		Name:       &name,
	}, a.Version)
	require.NoError(t, err)
}

func TestLockArtifactsReturnsRowPerID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	b := f.createArtifact(t, "Tax rules")
	f.lock(t, f.other.ID, b.ID)

	results, err := f.svc.LockArtifacts(ctx, f.user.ID, []int64{a.ID, 9999, b.ID})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, domain.LockSuccess, results[0].Result)
	assert.Equal(t, a.Version, results[0].Info.VersionID)
	assert.Equal(t, domain.LockDoesNotExist, results[1].Result)
	assert.Equal(t, domain.LockAlreadyLocked, results[2].Result)
	assert.Equal(t, "Bo Lindqvist", results[2].Info.LockOwner)
}

func TestLockArtifactsEmptyBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.LockArtifacts(context.Background(), f.user.ID, nil)
	var badRequest domain.BadRequestError
	require.ErrorAs(t, err, &badRequest)
	assert.Equal(t, domain.CodeEmptyBatch, badRequest.Code)
}

func TestSaveDraftVersionConflictWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	f.lock(t, f.user.ID, a.ID)

	name := "renamed"
	_, _, err := f.svc.SaveDraft(ctx, f.user.ID, domain.Draft{ArtifactID: a.ID, Name: &name}, a.Version+1)
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeVersionConflict, conflict.Code)

	_, hasDraft := f.svc.Store().GetDraft(a.ID)
	assert.False(t, hasDraft, "rejected save must not leave a draft behind")
}

func TestSaveDraftRequiresLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")

	name := "renamed"
	_, _, err := f.svc.SaveDraft(ctx, f.user.ID, domain.Draft{ArtifactID: a.ID, Name: &name}, a.Version)
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeNotLocked, conflict.Code)

	f.lock(t, f.other.ID, a.ID)
	_, _, err = f.svc.SaveDraft(ctx, f.user.ID, domain.Draft{ArtifactID: a.ID, Name: &name}, a.Version)
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeLockedByOther, conflict.Code)
	assert.Contains(t, conflict.Message, "Bo Lindqvist")
}

func TestPublishAppliesDraftAndReleasesLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	f.lock(t, f.user.ID, a.ID)
	f.saveName(t, f.user.ID, a, "Invoice export v2")

	_, err := f.svc.PublishArtifacts(ctx, f.user.ID, []int64{a.ID})
	require.NoError(t, err)

	published, err := f.svc.GetArtifact(ctx, f.user.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice export v2", published.Name)
	assert.Equal(t, a.Version+1, published.Version)
	assert.Nil(t, published.LockedByUserID)

	_, hasDraft := f.svc.Store().GetDraft(a.ID)
	assert.False(t, hasDraft)
}

func TestPublishAppliesSubArtifactAndMembershipEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _, err := f.svc.CreateArtifact(ctx, Artifact{
		ProjectID:      f.project.ID,
		Name:           "Checkout process",
		Prefix:         "PRC",
		PredefinedType: domain.TypeProcess,
		SubArtifacts: []domain.SubArtifact{
			{ID: 100, DisplayName: "Validate cart"},
			{ID: 101, DisplayName: "Charge card"},
		},
	})
	require.NoError(t, err)
	f.lock(t, f.user.ID, a.ID)

	newName := "Verify cart"
	_, _, err = f.svc.SaveDraft(ctx, f.user.ID, domain.Draft{
		ArtifactID:   a.ID,
		SubArtifacts: []domain.SubArtifactPatch{{ID: 100, Name: &newName}},
		AddedItems:   []int64{102},
		RemovedItems: []int64{101},
	}, a.Version)
	require.NoError(t, err)

	_, err = f.svc.PublishArtifacts(ctx, f.user.ID, []int64{a.ID})
	require.NoError(t, err)

	published, err := f.svc.GetArtifact(ctx, f.user.ID, a.ID)
	require.NoError(t, err)
	require.Len(t, published.SubArtifacts, 2)
	assert.Equal(t, "Verify cart", published.SubArtifacts[0].DisplayName)
	assert.Equal(t, int64(102), published.SubArtifacts[1].ID)
}

func TestPublishMissingArtifactFailsWholeBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	b := f.createArtifact(t, "Tax rules")
	f.lock(t, f.user.ID, a.ID, b.ID)
	f.saveName(t, f.user.ID, a, "a2")
	f.saveName(t, f.user.ID, b, "b2")

	_, err := f.svc.PublishArtifacts(ctx, f.user.ID, []int64{a.ID, b.ID, 9999})
	var notFound domain.ResourceNotFoundError
	require.ErrorAs(t, err, &notFound)

	// all-or-nothing: the valid members must not have been published
	current, err := f.svc.GetArtifact(ctx, f.user.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Version, current.Version)
	_, hasDraft := f.svc.Store().GetDraft(a.ID)
	assert.True(t, hasDraft)
}

func TestPublishWithoutChangesConflicts(t *testing.T) {
	f := newFixture(t)
	a := f.createArtifact(t, "Invoice export")
	f.lock(t, f.user.ID, a.ID)

	_, err := f.svc.PublishArtifacts(context.Background(), f.user.ID, []int64{a.ID})
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeCannotPublish, conflict.Code)
}

func TestDiscardWithoutChangesUsesDedicatedCode(t *testing.T) {
	f := newFixture(t)
	a := f.createArtifact(t, "Invoice export")
	f.lock(t, f.user.ID, a.ID)

	_, err := f.svc.DiscardArtifacts(context.Background(), f.user.ID, []int64{a.ID})
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeDiscardNoChanges, conflict.Code)
}

func TestDiscardDropsDraftAndReleasesLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	f.lock(t, f.user.ID, a.ID)
	f.saveName(t, f.user.ID, a, "abandoned rename")

	_, err := f.svc.DiscardArtifacts(ctx, f.user.ID, []int64{a.ID})
	require.NoError(t, err)

	current, err := f.svc.GetArtifact(ctx, f.user.ID, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Invoice export", current.Name)
	assert.Nil(t, current.LockedByUserID)
	_, hasDraft := f.svc.Store().GetDraft(a.ID)
	assert.False(t, hasDraft)
}

func TestPublishReportsLockedDependents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	dep := f.createArtifact(t, "Tax rules")

	linked, _, err := f.svc.CreateArtifact(ctx, Artifact{
		ProjectID:      f.project.ID,
		Name:           "Invoice export",
		PredefinedType: domain.TypeTextualRequirement,
		Traces:         []domain.Trace{{FromID: 0, ToID: dep.ID, Kind: "depends_on"}},
	})
	require.NoError(t, err)

	f.lock(t, f.user.ID, linked.ID, dep.ID)
	f.saveName(t, f.user.ID, linked, "a2")
	f.saveName(t, f.user.ID, dep, "b2")

	_, err = f.svc.PublishArtifacts(ctx, f.user.ID, []int64{linked.ID})
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeCannotPublish, conflict.Code)
	require.NotNil(t, conflict.Dependents)
	// the reported set is the full retry batch: requested artifact included
	assert.ElementsMatch(t, []int64{dep.ID, linked.ID}, conflict.Dependents.ArtifactIDs())
	assert.Equal(t, []int64{f.project.ID}, conflict.Dependents.Projects)

	// a retry with exactly the reported ids leaves no work behind
	_, err = f.svc.PublishArtifacts(ctx, f.user.ID, conflict.Dependents.ArtifactIDs())
	require.NoError(t, err)
	for _, id := range []int64{linked.ID, dep.ID} {
		_, hasDraft := f.svc.Store().GetDraft(id)
		assert.False(t, hasDraft, "artifact %d still holds a draft", id)
		published, err := f.svc.GetArtifact(ctx, f.user.ID, id)
		require.NoError(t, err)
		assert.Equal(t, int64(1), published.Version)
		assert.Nil(t, published.LockedByUserID)
	}
}

func TestPublishFindsDependentsByReverseTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requested := f.createArtifact(t, "Invoice export")

	// the trace lives on the dependent and points at the requested artifact
	dep, _, err := f.svc.CreateArtifact(ctx, Artifact{
		ProjectID:      f.project.ID,
		Name:           "Tax rules",
		PredefinedType: domain.TypeTextualRequirement,
		Traces:         []domain.Trace{{FromID: 0, ToID: requested.ID, Kind: "depends_on"}},
	})
	require.NoError(t, err)

	f.lock(t, f.user.ID, requested.ID, dep.ID)
	f.saveName(t, f.user.ID, requested, "a2")
	f.saveName(t, f.user.ID, dep, "b2")

	_, err = f.svc.PublishArtifacts(ctx, f.user.ID, []int64{requested.ID})
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.NotNil(t, conflict.Dependents)
	assert.ElementsMatch(t, []int64{dep.ID, requested.ID}, conflict.Dependents.ArtifactIDs())
}

func TestPublishInvalidDraftReportsPropertyIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	f.lock(t, f.user.ID, a.ID)

	_, _, err := f.svc.SaveDraft(ctx, f.user.ID, domain.Draft{
		ArtifactID: a.ID,
		Properties: []domain.PropertyValue{{
			PropertyTypeID: 42,
			Name:           "Rationale",
			Type:           domain.PropertyText,
			Required:       true, // required but empty
		}},
	}, a.Version)
	require.NoError(t, err, "invalid drafts are stored, not rejected")

	_, err = f.svc.PublishArtifacts(ctx, f.user.ID, []int64{a.ID})
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeValidationErrors, conflict.Code)
	assert.Equal(t, []int64{42}, conflict.PropertyIDs)
}

func TestDeleteSubtreeBlockedByForeignLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.createArtifact(t, "Module")
	child, _, err := f.svc.CreateArtifact(ctx, Artifact{
		ProjectID:      f.project.ID,
		ParentID:       parent.ID,
		Name:           "Leaf",
		Prefix:         "REQ",
		PredefinedType: domain.TypeTextualRequirement,
	})
	require.NoError(t, err)
	f.lock(t, f.other.ID, child.ID)

	_, _, err = f.svc.DeleteArtifact(ctx, f.user.ID, parent.ID)
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeLockedByOther, conflict.Code)
	assert.Contains(t, conflict.Message, "Bo Lindqvist")

	// nothing was deleted
	_, err = f.svc.GetArtifact(ctx, f.user.ID, child.ID)
	require.NoError(t, err)
}

func TestDeleteCascadesAndReportsAffected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	parent := f.createArtifact(t, "Module")
	child, _, err := f.svc.CreateArtifact(ctx, Artifact{
		ProjectID: f.project.ID,
		ParentID:  parent.ID,
		Name:      "Leaf",
	})
	require.NoError(t, err)

	affected, _, err := f.svc.DeleteArtifact(ctx, f.user.ID, parent.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{parent.ID, child.ID}, affected)

	_, err = f.svc.GetArtifact(ctx, f.user.ID, child.ID)
	var notFound domain.ResourceNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func seedWorkflow(t *testing.T, f *fixture, a Artifact, triggers ...domain.TriggerSpec) domain.WorkflowTransition {
	t.Helper()
	ctx := context.Background()
	_, err := f.svc.SetWorkflowState(ctx, a.ID, domain.WorkflowState{ID: 1, WorkflowID: 10, Name: "Draft"})
	require.NoError(t, err)
	transition, _, err := f.svc.PutTransition(ctx, domain.WorkflowTransition{
		WorkflowID:  10,
		FromStateID: 1,
		ToStateID:   2,
		Name:        "Submit for review",
		ToStateName: "In review",
		Triggers:    triggers,
	})
	require.NoError(t, err)
	return transition
}

func TestChangeStateWithoutTransitionIsBadRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	seedWorkflow(t, f, a)
	f.lock(t, f.user.ID, a.ID)

	_, err := f.svc.ChangeStateForArtifact(ctx, f.user.ID, "Ana Petrov", a.ID, domain.StateChangeRequest{
		FromStateID: 1, ToStateID: 3, CurrentVersionID: a.Version,
	})
	var badRequest domain.BadRequestError
	require.ErrorAs(t, err, &badRequest)
	assert.Equal(t, domain.CodeNoTransition, badRequest.Code)
}

func TestChangeStateVersionConflictLeavesStateAlone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	seedWorkflow(t, f, a)
	f.lock(t, f.user.ID, a.ID)

	_, err := f.svc.ChangeStateForArtifact(ctx, f.user.ID, "Ana Petrov", a.ID, domain.StateChangeRequest{
		FromStateID: 1, ToStateID: 2, CurrentVersionID: a.Version + 5,
	})
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeVersionConflict, conflict.Code)

	state, ok := f.svc.Store().GetWorkflowState(a.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), state.ID)
}

func TestChangeStateExecutesTriggers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	seedWorkflow(t, f, a, domain.TriggerSpec{
		Kind:           domain.TriggerPropertyChange,
		Name:           "Status",
		PropertyTypeID: 7,
		TextValue:      "In review",
	})
	f.lock(t, f.user.ID, a.ID)

	result, err := f.svc.ChangeStateForArtifact(ctx, f.user.ID, "Ana Petrov", a.ID, domain.StateChangeRequest{
		FromStateID: 1, ToStateID: 2, CurrentVersionID: a.Version,
	})
	require.NoError(t, err)
	assert.Empty(t, result.TriggerFailures)
	assert.Equal(t, int64(2), result.State.ID)
	assert.Equal(t, "In review", result.State.Name, "state reads must report the state's name, not the transition label")

	state, ok := f.svc.Store().GetWorkflowState(a.ID)
	require.True(t, ok)
	assert.Equal(t, "In review", state.Name)

	updated, err := f.svc.GetArtifact(ctx, f.user.ID, a.ID)
	require.NoError(t, err)
	prop, ok := domain.FindProperty(updated.Properties, 7)
	require.True(t, ok, "property_change trigger must write the property")
	require.NotNil(t, prop.Text)
	assert.Equal(t, "In review", *prop.Text)
}

func TestChangeStateSignedTransitionChecksMeaning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	_, err := f.svc.SetWorkflowState(ctx, a.ID, domain.WorkflowState{ID: 1, WorkflowID: 10, Name: "Draft"})
	require.NoError(t, err)
	_, _, err = f.svc.PutTransition(ctx, domain.WorkflowTransition{
		WorkflowID:          10,
		FromStateID:         1,
		ToStateID:           2,
		Name:                "Approve",
		ToStateName:         "Approved",
		RequiresSignature:   true,
		SignatureMeaningIDs: []int64{3, 4},
	})
	require.NoError(t, err)
	f.lock(t, f.user.ID, a.ID)

	_, err = f.svc.ChangeStateForArtifact(ctx, f.user.ID, "Ana Petrov", a.ID, domain.StateChangeRequest{
		FromStateID: 1, ToStateID: 2, CurrentVersionID: a.Version, SignatureMeaningID: 9,
	})
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeMeaningOfSignatureNotPos, conflict.Code)

	result, err := f.svc.ChangeStateForArtifact(ctx, f.user.ID, "Ana Petrov", a.ID, domain.StateChangeRequest{
		FromStateID: 1, ToStateID: 2, CurrentVersionID: a.Version, SignatureMeaningID: 4,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.State.ID)
}

func TestChangeStateSignedTransitionWithoutMeaningsConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	_, err := f.svc.SetWorkflowState(ctx, a.ID, domain.WorkflowState{ID: 1, WorkflowID: 10, Name: "Draft"})
	require.NoError(t, err)
	_, _, err = f.svc.PutTransition(ctx, domain.WorkflowTransition{
		WorkflowID:        10,
		FromStateID:       1,
		ToStateID:         2,
		Name:              "Approve",
		RequiresSignature: true,
	})
	require.NoError(t, err)
	f.lock(t, f.user.ID, a.ID)

	_, err = f.svc.ChangeStateForArtifact(ctx, f.user.ID, "Ana Petrov", a.ID, domain.StateChangeRequest{
		FromStateID: 1, ToStateID: 2, CurrentVersionID: a.Version, SignatureMeaningID: 3,
	})
	var conflict domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.CodeMeaningOfSignatureNotOn, conflict.Code)
}

func TestGetStateWithoutWorkflowIsFailureResult(t *testing.T) {
	f := newFixture(t)
	a := f.createArtifact(t, "Invoice export")

	result, err := f.svc.GetStateForArtifact(context.Background(), f.user.ID, a.ID)
	require.NoError(t, err, "no workflow is data, not an error")
	assert.Equal(t, domain.QueryFailure, result.ResultCode)
	assert.Nil(t, result.Item)
}

func TestGetStateUnknownUserIsAuthorizationError(t *testing.T) {
	f := newFixture(t)
	a := f.createArtifact(t, "Invoice export")

	_, err := f.svc.GetStateForArtifact(context.Background(), 777, a.ID)
	var authz domain.AuthorizationError
	require.ErrorAs(t, err, &authz)
	assert.Equal(t, domain.CodeInsufficientPermissions, authz.Code)
}

func TestCopyArtifactStartsAtVersionZero(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createArtifact(t, "Invoice export")
	f.lock(t, f.user.ID, a.ID)
	f.saveName(t, f.user.ID, a, "v2")
	_, err := f.svc.PublishArtifacts(ctx, f.user.ID, []int64{a.ID})
	require.NoError(t, err)

	target := f.createArtifact(t, "Archive")
	copied, _, err := f.svc.CopyArtifact(ctx, f.user.ID, a.ID, target.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), copied.Version)
	assert.Equal(t, target.ID, copied.ParentID)
	assert.NotEqual(t, a.ID, copied.ID)
}
