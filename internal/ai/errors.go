package ai

import (
	"errors"
	"fmt"
)

// Kind classifies a decision-service failure. The pipeline maps each
// kind to a different user-facing reply.
type Kind int

const (
	// KindDependency is any external failure without a more specific
	// classification.
	KindDependency Kind = iota
	// KindColdStart means the service is waking from scale-to-zero;
	// the user gets a "give me a moment" message, not an apology.
	KindColdStart
	// KindTimeout means the service accepted the call but ran past
	// the budget.
	KindTimeout
	// KindInvalidResponse means the service answered with a payload
	// that fails structural validation. Never passed through.
	KindInvalidResponse
	// KindUnavailable means the call was not attempted (breaker open)
	// or cannot succeed (endpoint absent); callers switch to the
	// local fallback responder.
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindColdStart:
		return "cold_start"
	case KindTimeout:
		return "timeout"
	case KindInvalidResponse:
		return "invalid_response"
	case KindUnavailable:
		return "unavailable"
	default:
		return "dependency"
	}
}

// Error is a classified decision-service failure.
type Error struct {
	Kind Kind
	Op   string // "phase_a", "phase_b", "probe"
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decision service: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("decision service: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification, defaulting to KindDependency
// for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDependency
}

// IsUnavailable reports whether callers should use the fallback
// responder instead of surfacing a failure.
func IsUnavailable(err error) bool {
	return KindOf(err) == KindUnavailable
}

// HTTPError is a non-2xx answer from the decision service.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("decision service: status %d: %s", e.Status, e.Body)
}
