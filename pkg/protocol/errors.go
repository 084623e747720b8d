package protocol

import "errors"

// ErrorCode is the machine-readable code of a call-error reply.
type ErrorCode string

const (
	CodeValidation        ErrorCode = "validation_error"
	CodeNotFound          ErrorCode = "not_found"
	CodePermission        ErrorCode = "permission_denied"
	CodeNoLongerAvailable ErrorCode = "no_longer_available"
	CodeAlreadyInCall     ErrorCode = "already_in_call"
	CodeTargetUnavailable ErrorCode = "target_unavailable"
	CodeRateLimited       ErrorCode = "rate_limited"
	CodeCallLimit         ErrorCode = "tenant_call_limit"
	CodeInternal          ErrorCode = "internal_error"
)

// Error is a soft, sender-only failure. It never implies state was mutated.
type Error struct {
	Code ErrorCode
	Msg  string
}

func NewError(code ErrorCode, msg string) *Error { return &Error{Code: code, Msg: msg} }

func (e *Error) Error() string { return string(e.Code) + ": " + e.Msg }

// Is matches on code so wrapped errors with a different message still compare equal
// to the package sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf maps any error to a wire code. Unknown errors are internal.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// ToCallError renders err as the call-error payload.
func ToCallError(err error, sessionID string) CallError {
	var e *Error
	if errors.As(err, &e) {
		return CallError{Code: e.Code, Message: e.Msg, SessionID: sessionID}
	}
	return CallError{Code: CodeInternal, Message: "internal error", SessionID: sessionID}
}
