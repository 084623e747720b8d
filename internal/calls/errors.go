package calls

import "crm-voice/pkg/protocol"

// Sentinels. Errors returned by the manager match these with errors.Is even
// when the message is more specific.
var (
	ErrNotRegistered     = protocol.NewError(protocol.CodeValidation, "connection is not registered")
	ErrPermission        = protocol.NewError(protocol.CodePermission, "not allowed")
	ErrNotFound          = protocol.NewError(protocol.CodeNotFound, "session not found")
	ErrNoLongerAvailable = protocol.NewError(protocol.CodeNoLongerAvailable, "call is no longer available")
	ErrAlreadyInCall     = protocol.NewError(protocol.CodeAlreadyInCall, "already in a call")
	ErrNotConnected      = protocol.NewError(protocol.CodeValidation, "session is not connected")
)

func permission(msg string) error { return protocol.NewError(protocol.CodePermission, msg) }
