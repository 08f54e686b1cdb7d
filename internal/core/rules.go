package core

import "reqcore/pkg/domain"

// Rule defines an evaluation executed within a transaction boundary.
type Rule = domain.Rule

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := NewRulesEngine()
	engine.Register(WorkflowTransitionRule())
	engine.Register(DirtyRequiresLockRule())
	return engine
}
