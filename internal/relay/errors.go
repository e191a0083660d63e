package relay

import (
	"errors"

	"relay-backend/internal/storage"
)

// Wire error codes. Every failed operation answers the originating connection
// with an ErrorEvent carrying one of these; failures never close the
// connection or touch unrelated state.
const (
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodeValidation         = "VALIDATION_ERROR"
	CodeHandleConflict     = "HANDLE_CONFLICT"
	CodeNotFriends         = "NOT_FRIENDS"
	CodeAlreadyFriends     = "ALREADY_FRIENDS"
	CodeUnknownTarget      = "UNKNOWN_TARGET"
	CodeNotFound           = "NOT_FOUND"
	CodeAlreadyResolved    = "ALREADY_RESOLVED"
	CodeNotAMember         = "NOT_A_MEMBER"
	CodePersonaMismatch    = "PERSONA_MISMATCH"
	CodeUsernameExists     = "USERNAME_EXISTS"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeUnknownEvent       = "UNKNOWN_EVENT"
	CodeInternal           = "INTERNAL_ERROR"
)

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorEvent(code, message string) ErrorEvent {
	return ErrorEvent{Type: "error", Code: code, Message: message}
}

// storeError maps storage sentinels onto wire codes; anything unrecognized is
// reported as an internal failure without leaking the underlying error text.
func storeError(err error) ErrorEvent {
	switch {
	case errors.Is(err, storage.ErrHandleTaken):
		return errorEvent(CodeHandleConflict, "handle is owned by another account")
	case errors.Is(err, storage.ErrAlreadyFriends):
		return errorEvent(CodeAlreadyFriends, "already friends")
	case errors.Is(err, storage.ErrRequestResolved):
		return errorEvent(CodeAlreadyResolved, "request already resolved")
	case errors.Is(err, storage.ErrNotFound):
		return errorEvent(CodeNotFound, "not found")
	case errors.Is(err, storage.ErrUsernameExists):
		return errorEvent(CodeUsernameExists, "username already registered")
	default:
		return errorEvent(CodeInternal, "operation failed")
	}
}
