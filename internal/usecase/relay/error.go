package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindMethodNotAllowed     Kind = "MethodNotAllowed"
	KindUnsupportedMediaType Kind = "UnsupportedMediaType"
	KindBadRequest           Kind = "BadRequest"
	KindSignatureInvalid     Kind = "SignatureInvalid"
	KindSignerMismatch       Kind = "SignerMismatch"
	KindNonceMismatch        Kind = "NonceMismatch"
	KindUpstreamTimeout      Kind = "UpstreamTimeout"
	KindSubmissionError      Kind = "SubmissionError"
)

var statusByKind = map[Kind]int{
	KindMethodNotAllowed:     http.StatusMethodNotAllowed,
	KindUnsupportedMediaType: http.StatusUnsupportedMediaType,
	KindBadRequest:           http.StatusBadRequest,
	KindSignatureInvalid:     http.StatusBadRequest,
	KindSignerMismatch:       http.StatusUnauthorized,
	KindNonceMismatch:        http.StatusBadRequest,
	KindUpstreamTimeout:      http.StatusGatewayTimeout,
	KindSubmissionError:      http.StatusInternalServerError,
}

// Error is a classified relay failure. Message is safe to show to callers,
// Cause is the internal error behind it.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Cause   error
}

func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Status() int {
	if status, ok := statusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AsError classifies any error returned by the relay. Unclassified errors
// become SubmissionError, or UpstreamTimeout when a deadline expired.
func AsError(err error) *Error {
	var relayErr *Error
	if errors.As(err, &relayErr) {
		return relayErr
	}
	return upstreamError("Transaction submission failed", err)
}

func upstreamError(message string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewError(KindUpstreamTimeout, "Upstream RPC timed out", err)
	}
	return NewError(KindSubmissionError, message, err)
}
