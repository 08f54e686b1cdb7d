package core

import (
	"context"
	"fmt"

	"reqcore/pkg/domain"
)

// WorkflowTransitionRule blocks workflow state writes that are not backed by
// a defined transition. Initial state assignment (no prior state) and
// workflow reassignment are allowed; moves within one workflow must match a
// transition row.
func WorkflowTransitionRule() domain.Rule {
	return workflowTransitionRule{}
}

type workflowTransitionRule struct{}

func (workflowTransitionRule) Name() string { return "workflow_transition" }

func (workflowTransitionRule) Evaluate(_ context.Context, view domain.RuleView, changes []Change) (Result, error) {
	res := Result{}
	for _, change := range changes {
		if change.Entity != EntityWorkflowState {
			continue
		}
		after, ok := decodeChangePayload[WorkflowState](change.After)
		if !ok {
			continue
		}
		if !after.IsValid() {
			res.Violations = append(res.Violations, Violation{
				Rule:     "workflow_transition",
				Severity: SeverityBlock,
				Message:  fmt.Sprintf("workflow state %d/%d carries sentinel ids", after.WorkflowID, after.ID),
				Entity:   EntityWorkflowState,
			})
			continue
		}
		before, ok := decodeChangePayload[WorkflowState](change.Before)
		if !ok || !before.IsValid() {
			continue
		}
		if before.WorkflowID != after.WorkflowID || before.ID == after.ID {
			continue
		}
		if _, ok := findTransition(view, after.WorkflowID, before.ID, after.ID); !ok {
			res.Violations = append(res.Violations, Violation{
				Rule:     "workflow_transition",
				Severity: SeverityBlock,
				Message: fmt.Sprintf("no transition from state %d to state %d in workflow %d",
					before.ID, after.ID, after.WorkflowID),
				Entity: EntityWorkflowState,
			})
		}
	}
	return res, nil
}

func findTransition(view domain.RuleView, workflowID, fromID, toID int64) (WorkflowTransition, bool) {
	for _, t := range view.ListTransitions(workflowID) {
		if t.FromStateID == fromID && t.ToStateID == toID {
			return t, true
		}
	}
	return WorkflowTransition{}, false
}
