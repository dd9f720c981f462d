package hub

import "errors"

// Code classifies a hub-level failure so HTTP handlers can map it to a
// status code and browsers can render a stable string, independent of the
// underlying Go error's message.
type Code string

const (
	CodeUnauthorized        Code = "unauthorized"
	CodeNotFound            Code = "not_found"
	CodeInvalidPayload      Code = "invalid_payload"
	CodePayloadTooLarge     Code = "payload_too_large"
	CodeIdentityConflict    Code = "identity_conflict"
	CodeGatewayDisconnected Code = "gateway_disconnected"
	CodeTimeout             Code = "timeout"
	CodeCommandFailed       Code = "command_failed"
	CodeProviderFailure     Code = "provider_failure"
	CodeDuplicateRequestID  Code = "duplicate_request_id"
)

// httpStatus maps each Code to the HTTP status the listener responds with.
var httpStatus = map[Code]int{
	CodeUnauthorized:        401,
	CodeNotFound:            404,
	CodeInvalidPayload:      400,
	CodePayloadTooLarge:     413,
	CodeIdentityConflict:    409,
	CodeGatewayDisconnected: 502,
	CodeTimeout:             502,
	CodeCommandFailed:       502,
	CodeProviderFailure:     502,
	CodeDuplicateRequestID:  409,
}

// HTTPStatus returns the status code the listener should respond with for a
// hub Error, or 500 if err does not carry a Code.
func HTTPStatus(err error) int {
	var e *Error
	if errors.As(err, &e) {
		if code, ok := httpStatus[e.Code]; ok {
			return code
		}
	}
	return 500
}

// Error is a hub-level failure tagged with a stable Code.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

// NewError constructs a tagged hub error.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ErrGatewayDisconnected is returned (wrapped in *Error) when a command is
// dispatched while no gateway socket is attached, or when the gateway
// disconnects while the command is pending.
var ErrGatewayDisconnected = NewError(CodeGatewayDisconnected, "gateway is not connected")

// ErrCommandTimeout is returned when a command's ack does not arrive within
// the hub's configured CommandTimeout.
var ErrCommandTimeout = NewError(CodeTimeout, "command timed out waiting for gateway ack")

// ErrDuplicateRequestID is returned when sendCommand is called with a
// request id that already has an outstanding waiter. Per spec §4.1.5 this
// is treated as a caller programming error and rejected rather than
// silently replacing the in-flight waiter.
var ErrDuplicateRequestID = NewError(CodeDuplicateRequestID, "request id already has a pending command")
