package domain

// WorkflowState is the state one artifact currently occupies within its
// workflow. Non-positive ID or WorkflowID is the sentinel for "artifact has
// no workflow" or "not found"; callers must treat such rows as absent.
type WorkflowState struct {
	ID         int64  `json:"id"`
	WorkflowID int64  `json:"workflow_id"`
	Name       string `json:"name"`
}

// IsValid reports whether the state identifies a real workflow position.
func (s WorkflowState) IsValid() bool { return s.ID > 0 && s.WorkflowID > 0 }

// TriggerKind names a side effect attached to a workflow transition.
type TriggerKind string

// Trigger kinds executed when a transition fires.
const (
	TriggerPropertyChange TriggerKind = "property_change"
	TriggerNotification   TriggerKind = "notification"
	TriggerGenerateReview TriggerKind = "generate_review"
)

// TriggerSpec declares one side effect of a transition. Triggers run
// best-effort: a failing trigger is collected, not fatal to the transition.
type TriggerSpec struct {
	Kind           TriggerKind `json:"kind"`
	Name           string      `json:"name"`
	PropertyTypeID int64       `json:"property_type_id,omitempty"`
	TextValue      string      `json:"text_value,omitempty"`
	Recipients     []int64     `json:"recipients,omitempty"`
}

// WorkflowTransition is a permitted state-to-state move. A requested change
// is legal only when a transition row matches (WorkflowID, FromStateID,
// ToStateID) exactly. ToStateName carries the destination state's display
// name, denormalized onto the transition. A transition may require an
// electronic signature, in which case SignatureMeaningIDs lists the meanings
// a signer may choose.
type WorkflowTransition struct {
	ID                  int64         `json:"id"`
	WorkflowID          int64         `json:"workflow_id"`
	FromStateID         int64         `json:"from_state_id"`
	ToStateID           int64         `json:"to_state_id"`
	Name                string        `json:"name"`
	ToStateName         string        `json:"to_state_name"`
	Triggers            []TriggerSpec `json:"triggers"`
	RequiresSignature   bool          `json:"requires_signature,omitempty"`
	SignatureMeaningIDs []int64       `json:"signature_meaning_ids,omitempty"`
}

// StateChangeRequest carries a client's intent to move an artifact between
// workflow states under optimistic concurrency. CurrentVersionID must equal
// the persisted artifact version or the change is rejected as a conflict.
// SignatureMeaningID is the meaning chosen for a signed transition; zero
// means unsigned.
type StateChangeRequest struct {
	FromStateID        int64 `json:"from_state_id"`
	ToStateID          int64 `json:"to_state_id"`
	CurrentVersionID   int64 `json:"current_version_id"`
	SignatureMeaningID int64 `json:"signature_meaning_id,omitempty"`
}

// QueryResultCode classifies the outcome of a workflow state lookup.
type QueryResultCode int

// Workflow lookup outcomes.
const (
	QuerySuccess QueryResultCode = iota
	QueryFailure
)

// QueryResult wraps a workflow state lookup with its outcome code, mirroring
// the repository contract where "no workflow" is data, not an error.
type QueryResult struct {
	ResultCode QueryResultCode `json:"result_code"`
	Message    string          `json:"message,omitempty"`
	Item       *WorkflowState  `json:"item,omitempty"`
}
