package realtime

import (
	"context"
	"errors"
	"fmt"
)

// ErrorCode is the machine-readable code carried by a stream_error frame.
type ErrorCode string

const (
	CodeNotOwner          ErrorCode = "NotOwner"
	CodeNotModerator      ErrorCode = "NotModerator"
	CodeBanned            ErrorCode = "Banned"
	CodeSubscribersOnly   ErrorCode = "SubscribersOnly"
	CodeStreamNotFound    ErrorCode = "StreamNotFound"
	CodeStreamNotLive     ErrorCode = "StreamNotLive"
	CodeStreamEnded       ErrorCode = "StreamEnded"
	CodeInvalidTransition ErrorCode = "InvalidTransition"
	CodeStreamPrivate     ErrorCode = "StreamPrivate"
	CodeChatDisabled      ErrorCode = "ChatDisabled"
	CodeReactionsDisabled ErrorCode = "ReactionsDisabled"
	CodeDonationsDisabled ErrorCode = "DonationsDisabled"
	CodeChatInvalid       ErrorCode = "ChatInvalid"
	CodeChatForbidden     ErrorCode = "ChatForbidden"
	CodeBadRequest        ErrorCode = "BadRequest"
	CodePeerUnavailable   ErrorCode = "PeerUnavailable"
	CodePaymentFailed     ErrorCode = "PaymentFailed"
	CodeStoreUnavailable  ErrorCode = "StoreUnavailable"
	CodeRateLimited       ErrorCode = "RateLimited"
)

// StreamError is a recoverable error returned to the offending session only. Room state is unchanged.
type StreamError struct {
	Code    ErrorCode
	Message string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code ErrorCode, msg string) *StreamError {
	return &StreamError{Code: code, Message: msg}
}

func badRequest(msg string) *StreamError {
	return newError(CodeBadRequest, msg)
}

// storeErr maps a durable store failure to StoreUnavailable.
func storeErr(err error) *StreamError {
	if errors.Is(err, context.Canceled) {
		return newError(CodeStoreUnavailable, "request cancelled")
	}
	return newError(CodeStoreUnavailable, "store unavailable")
}

// asStreamError converts any handler error into the frame-level taxonomy.
// The second return is false when the error was unexpected and should be logged.
func asStreamError(err error) (*StreamError, bool) {
	var se *StreamError
	if errors.As(err, &se) {
		return se, true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(CodeStoreUnavailable, "timed out"), true
	}
	return badRequest("request failed"), false
}

type errorPayload struct {
	Error   string    `json:"error"`
	Message string    `json:"message"`
	Code    ErrorCode `json:"code"`
	Event   string    `json:"event,omitempty"`
}
