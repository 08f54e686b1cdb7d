package memory

import (
	"context"
	"errors"
	"testing"

	"reqcore/pkg/domain"
)

func TestTransactionRollbackOnError(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateArtifact(domain.Artifact{Name: "orphan"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTransaction error = %v, want boom", err)
	}
	if got := len(store.ListArtifacts()); got != 0 {
		t.Fatalf("failed transaction leaked %d artifacts", got)
	}
}

type blockCreatesRule struct{}

func (blockCreatesRule) Name() string { return "no-artifacts" }

func (blockCreatesRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	var res domain.Result
	for _, c := range changes {
		if c.Entity == domain.EntityArtifact && c.Action == domain.ActionCreate {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "no-artifacts",
				Severity: domain.SeverityBlock,
				Message:  "artifact creation disabled",
			})
		}
	}
	return res, nil
}

func TestBlockingRuleViolationAbortsCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockCreatesRule{})
	store := NewStore(engine)

	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, txErr := tx.CreateArtifact(domain.Artifact{Name: "blocked"})
		return txErr
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("error = %v, want RuleViolationError", err)
	}
	if got := len(store.ListArtifacts()); got != 0 {
		t.Fatalf("blocked transaction committed %d artifacts", got)
	}
}

func TestSequentialIDsAndIsolation(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()

	var first, second domain.Artifact
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		first, txErr = tx.CreateArtifact(domain.Artifact{Name: "one"})
		if txErr != nil {
			return txErr
		}
		second, txErr = tx.CreateArtifact(domain.Artifact{Name: "two"})
		return txErr
	})
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != first.ID+1 {
		t.Fatalf("ids not sequential: %d, %d", first.ID, second.ID)
	}

	// mutating the returned value must not reach committed state
	got, ok := store.GetArtifact(first.ID)
	if !ok {
		t.Fatal("artifact missing")
	}
	got.Name = "tampered"
	reread, _ := store.GetArtifact(first.ID)
	if reread.Name != "one" {
		t.Fatalf("committed state shares memory with readers: %q", reread.Name)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, txErr := tx.CreateUser(domain.User{Login: "ana"}); txErr != nil {
			return txErr
		}
		a, txErr := tx.CreateArtifact(domain.Artifact{Name: "one"})
		if txErr != nil {
			return txErr
		}
		return tx.SetWorkflowState(a.ID, domain.WorkflowState{ID: 1, WorkflowID: 10, Name: "Draft"})
	})
	if err != nil {
		t.Fatal(err)
	}

	restored := NewStore(nil)
	restored.ImportState(store.ExportState())

	if got := len(restored.ListArtifacts()); got != 1 {
		t.Fatalf("restored %d artifacts, want 1", got)
	}
	state, ok := restored.GetWorkflowState(restored.ListArtifacts()[0].ID)
	if !ok || state.Name != "Draft" {
		t.Fatalf("workflow state lost in round trip: %+v ok=%v", state, ok)
	}

	// continued writes must not collide with restored ids
	var next domain.Artifact
	_, err = restored.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var txErr error
		next, txErr = tx.CreateArtifact(domain.Artifact{Name: "after restore"})
		return txErr
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, clash := store.GetArtifact(next.ID); clash {
		t.Fatalf("restored store reused id %d", next.ID)
	}
}

func TestViewSeesCommittedStateOnly(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, txErr := tx.CreateProject(domain.Project{Name: "Billing"})
		return txErr
	})
	if err != nil {
		t.Fatal(err)
	}
	err = store.View(ctx, func(view domain.TransactionView) error {
		if got := len(view.ListProjects()); got != 1 {
			t.Fatalf("view sees %d projects, want 1", got)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
