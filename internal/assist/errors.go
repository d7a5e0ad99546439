package assist

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/fretwise/fretwise/internal/ai"
)

// Kind is the closed set of caller-visible failure kinds. Cancellation is a
// control-flow outcome, not a Kind: a cancelled relay session closes its
// stream silently and must never fall through to KindInternal.
type Kind string

const (
	KindRateLimited         Kind = "rate_limited"
	KindNotFound            Kind = "not_found"
	KindInvalidInput        Kind = "invalid_input"
	KindUpstreamRateLimited Kind = "upstream_rate_limited"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindInternal            Kind = "internal"

	// KindBusy rejects a second in-flight turn on one conversation. It is
	// only ever a pre-stream HTTP rejection, never a stream event.
	KindBusy Kind = "busy"
)

// Error couples a caller-safe message with the internal cause. Message is
// what goes over the wire; the cause is only ever logged server-side.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

// Classify maps an internal or upstream failure to a caller-visible Error.
// Provider wording never passes through: upstream rate-limit and
// unavailability are normalized to one "try again shortly" message.
func Classify(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return newError(KindNotFound, "not found", err)
	case errors.Is(err, ai.ErrUpstreamRateLimited):
		return newError(KindUpstreamRateLimited, "the assistant is busy, please try again shortly", err)
	case errors.Is(err, ai.ErrUpstreamUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return newError(KindUpstreamUnavailable, "the assistant is unavailable, please try again shortly", err)
	default:
		return newError(KindInternal, "internal error", err)
	}
}
