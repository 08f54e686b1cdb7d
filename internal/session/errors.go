package session

import (
	"fmt"

	"reqcore/pkg/domain"
)

// Localization keys for user-facing notices.
const (
	MsgSaveError400    = "App_Save_Artifact_Error_400"
	MsgSaveError400114 = "App_Save_Artifact_Error_400_114"
	MsgSaveError404    = "App_Save_Artifact_Error_404"
	MsgSaveError409    = "App_Save_Artifact_Error_409"
	MsgSaveError409115 = "App_Save_Artifact_Error_409_115"
	MsgSaveError409116 = "App_Save_Artifact_Error_409_116"
	MsgSaveError409117 = "App_Save_Artifact_Error_409_117"
	MsgSaveError409123 = "App_Save_Artifact_Error_409_123"
	MsgSaveError409124 = "App_Save_Artifact_Error_409_124"
	MsgSaveError409133 = "App_Save_Artifact_Error_409_133"
	MsgSaveErrorOther  = "App_Save_Artifact_Error_Other"

	MsgPublishSuccess = "App_Publish_Artifact_Success"
	MsgPublishFailed  = "App_Publish_Artifact_Failed"
	MsgDiscardSuccess = "App_Discard_Artifact_Success"
	MsgDiscardFailed  = "App_Discard_Artifact_Failed"
	MsgLockRefreshed  = "App_Lock_Artifact_Refreshed"
	MsgInvalidChanges = "App_Save_Artifact_Invalid_Changes"
)

// saveErrorKey maps a service error to the notice key shown for it. Both
// "not locked" and "locked by another user" share one key: from the client's
// point of view they are the same "you lost the lock" situation.
func saveErrorKey(ne *NetError) string {
	switch ne.StatusCode {
	case 400:
		if ne.ErrorCode == domain.CodeLockStale {
			return MsgSaveError400114
		}
		return MsgSaveError400
	case 404:
		return MsgSaveError404
	case 409:
		switch ne.ErrorCode {
		case domain.CodeNotLocked, domain.CodeLockedByOther:
			return MsgSaveError409115
		case domain.CodeVersionConflict:
			return MsgSaveError409116
		case domain.CodeReviewClosed:
			return MsgSaveError409117
		case domain.CodeCannotPublish:
			return MsgSaveError409123
		case domain.CodeCannotDiscard:
			return MsgSaveError409124
		case domain.CodeValidationErrors:
			return MsgSaveError409133
		}
		return MsgSaveError409
	default:
		return MsgSaveErrorOther
	}
}

// OperationError is a session failure already described to the user by a
// localization key.
type OperationError struct {
	Key   string
	Cause error
}

func (e *OperationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Key, e.Cause)
	}
	return e.Key
}

func (e *OperationError) Unwrap() error { return e.Cause }

func opError(key string, cause error) *OperationError {
	return &OperationError{Key: key, Cause: cause}
}
