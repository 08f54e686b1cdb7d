package core

import (
	"context"
	"fmt"
	"time"

	"reqcore/pkg/domain"
)

// StateChangeResult reports a completed workflow transition. Trigger
// failures are collected, not fatal: the transition itself committed.
type StateChangeResult struct {
	State           WorkflowState
	TriggerFailures []string
}

// GetStateForArtifact resolves the workflow state the artifact currently
// occupies. A missing state row, or one carrying the non-positive sentinel
// ids, yields a Failure result rather than an error: "no workflow" is data.
func (s *Service) GetStateForArtifact(ctx context.Context, userID, itemID int64) (result domain.QueryResult, err error) {
	defer s.observe(ctx, "get_state", time.Now(), err)
	err = s.store.View(ctx, func(view TransactionView) error {
		if _, ok := view.FindUser(userID); !ok {
			return domain.AuthorizationError{Code: domain.CodeInsufficientPermissions,
				Message: fmt.Sprintf("user %d does not have read permission", userID)}
		}
		a, ok := view.FindArtifact(itemID)
		if !ok || a.Deleted {
			return domain.ResourceNotFoundError{Code: domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("artifact %d not found", itemID)}
		}
		state, ok := view.FindWorkflowState(itemID)
		if !ok || !state.IsValid() {
			result = domain.QueryResult{ResultCode: domain.QueryFailure,
				Message: fmt.Sprintf("artifact %d has no workflow", itemID)}
			return nil
		}
		result = domain.QueryResult{ResultCode: domain.QuerySuccess, Item: &state}
		return nil
	})
	return result, err
}

// ChangeStateForArtifact validates and executes a workflow transition under
// optimistic concurrency. The caller must hold the lock and present the head
// version; the requested (workflow, from, to) triple must name a defined
// transition. Trigger side effects and the state write share one transaction
// so a mid-way failure leaves the artifact in its prior state.
func (s *Service) ChangeStateForArtifact(ctx context.Context, userID int64, author string, itemID int64, req StateChangeRequest) (result StateChangeResult, err error) {
	defer s.observe(ctx, "change_state", time.Now(), err)
	_, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		a, ok := view.FindArtifact(itemID)
		if !ok {
			return domain.ResourceNotFoundError{Code: domain.CodeArtifactNotFound,
				Message: fmt.Sprintf("artifact %d not found", itemID)}
		}
		if a.Deleted {
			return domain.ConflictError{Code: domain.CodeArtifactDeleted,
				Message: fmt.Sprintf("artifact %d is deleted", itemID)}
		}
		if a.LockedByUserID == nil {
			return domain.ConflictError{Code: domain.CodeNotLocked, Message: "artifact is not locked"}
		}
		if *a.LockedByUserID != userID {
			return domain.ConflictError{Code: domain.CodeLockedByOther,
				Message: fmt.Sprintf("artifact locked by %s", a.LockedByUser)}
		}
		if a.Version != req.CurrentVersionID {
			return domain.ConflictError{Code: domain.CodeVersionConflict,
				Message: fmt.Sprintf("version %d does not match head %d", req.CurrentVersionID, a.Version)}
		}
		current, ok := view.FindWorkflowState(itemID)
		if !ok || !current.IsValid() {
			return domain.ConflictError{Code: domain.CodeNoTransition,
				Message: fmt.Sprintf("artifact %d has no workflow", itemID)}
		}
		if current.ID != req.FromStateID {
			return domain.BadRequestError{Code: domain.CodeNoTransition,
				Message: fmt.Sprintf("artifact is in state %d, not %d", current.ID, req.FromStateID)}
		}
		transition, ok := view.FindTransition(current.WorkflowID, req.FromStateID, req.ToStateID)
		if !ok {
			return domain.BadRequestError{Code: domain.CodeNoTransition,
				Message: fmt.Sprintf("no transition from state %d to state %d in workflow %d",
					req.FromStateID, req.ToStateID, current.WorkflowID)}
		}
		if transition.RequiresSignature {
			if len(transition.SignatureMeaningIDs) == 0 {
				return domain.ConflictError{Code: domain.CodeMeaningOfSignatureNotOn,
					Message: fmt.Sprintf("transition %q requires a signature but no signature meanings are configured", transition.Name)}
			}
			if !containsID(transition.SignatureMeaningIDs, req.SignatureMeaningID) {
				return domain.ConflictError{Code: domain.CodeMeaningOfSignatureNotPos,
					Message: fmt.Sprintf("signature meaning %d is not allowed for transition %q", req.SignatureMeaningID, transition.Name)}
			}
		}

		var failures []string
		for _, trigger := range transition.Triggers {
			if tErr := s.executeTrigger(ctx, tx, a, author, transition, trigger); tErr != nil {
				failures = append(failures, fmt.Sprintf("%s: %v", trigger.Name, tErr))
			}
		}

		next := WorkflowState{ID: req.ToStateID, WorkflowID: current.WorkflowID, Name: transition.ToStateName}
		if txErr := tx.SetWorkflowState(itemID, next); txErr != nil {
			return txErr
		}
		result = StateChangeResult{State: next, TriggerFailures: failures}
		return nil
	})
	return result, err
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// executeTrigger runs one transition side effect inside the transaction.
func (s *Service) executeTrigger(ctx context.Context, tx Transaction, a Artifact, author string, transition WorkflowTransition, spec TriggerSpec) error {
	switch spec.Kind {
	case domain.TriggerPropertyChange:
		_, err := tx.UpdateArtifact(a.ID, func(cur *Artifact) error {
			text := spec.TextValue
			cur.Properties = domain.MergeProperties(cur.Properties, []PropertyValue{{
				PropertyTypeID: spec.PropertyTypeID,
				Name:           spec.Name,
				Type:           domain.PropertyText,
				Text:           &text,
			}})
			return nil
		})
		return err
	case domain.TriggerNotification:
		subject := fmt.Sprintf("%s: %s", transition.Name, a.Name)
		body := fmt.Sprintf("%s moved %s%d via transition %q", author, a.Prefix, a.ID, transition.Name)
		return s.notifier.Notify(ctx, spec.Recipients, subject, body)
	case domain.TriggerGenerateReview:
		review := Artifact{
			ProjectID:      a.ProjectID,
			ParentID:       a.ID,
			Name:           fmt.Sprintf("Review of %s", a.Name),
			PredefinedType: domain.TypeArtifactReview,
		}
		_, err := tx.CreateArtifact(review)
		return err
	default:
		return fmt.Errorf("unknown trigger kind %q", spec.Kind)
	}
}
