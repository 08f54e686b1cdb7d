package core

import "reqcore/pkg/domain"

type (
	EntityType                 = domain.EntityType
	PredefinedType             = domain.PredefinedType
	Severity                   = domain.Severity
	Base                       = domain.Base
	Artifact                   = domain.Artifact
	SubArtifact                = domain.SubArtifact
	Draft                      = domain.Draft
	Project                    = domain.Project
	User                       = domain.User
	PropertyValue              = domain.PropertyValue
	Trace                      = domain.Trace
	WorkflowState              = domain.WorkflowState
	WorkflowTransition         = domain.WorkflowTransition
	TriggerSpec                = domain.TriggerSpec
	StateChangeRequest         = domain.StateChangeRequest
	LockResult                 = domain.LockResult
	LockInfo                   = domain.LockInfo
	DiscardPublishState        = domain.DiscardPublishState
	DependentSet               = domain.DependentSet
	VersionControlArtifactInfo = domain.VersionControlArtifactInfo
	Change                     = domain.Change
	Action                     = domain.Action
	Violation                  = domain.Violation
	Result                     = domain.Result
	RuleViolationError         = domain.RuleViolationError
	RulesEngine                = domain.RulesEngine
	Transaction                = domain.Transaction
	TransactionView            = domain.TransactionView
	PersistentStore            = domain.PersistentStore
)

const (
	EntityArtifact      = domain.EntityArtifact
	EntityDraft         = domain.EntityDraft
	EntityLock          = domain.EntityLock
	EntityProject       = domain.EntityProject
	EntityWorkflowState = domain.EntityWorkflowState
	EntityUser          = domain.EntityUser
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
