package dispatch

import (
	"errors"
	"fmt"

	"github.com/yourorg/payment-dispatch/internal/consistency"
)

// Kind classifies a submit failure for the HTTP layer.
type Kind int

const (
	// KindValidation is client-provided data failing the pre-flight
	// checks. Never retried.
	KindValidation Kind = iota
	// KindUnavailable is both processors exhausted or short-circuited.
	KindUnavailable
	// KindPersistence is a ledger write failure after the processor call
	// already succeeded. The processor side-effect stands; there is no
	// compensation.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION"
	case KindUnavailable:
		return "UNAVAILABLE"
	case KindPersistence:
		return "PERSISTENCE"
	default:
		return "UNKNOWN"
	}
}

// Error is the only error shape Submit surfaces.
type Error struct {
	Kind    Kind
	Message string
	Checks  []consistency.CheckResult
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("dispatch: %s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("dispatch: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the failure kind from a Submit error.
func KindOf(err error) (Kind, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind, true
	}
	return 0, false
}

func validationErr(checks []consistency.CheckResult) *Error {
	return &Error{Kind: KindValidation, Message: "payment failed pre-flight checks", Checks: checks}
}

func unavailableErr(cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: "all payment processors failed", cause: cause}
}

func persistenceErr(cause error) *Error {
	return &Error{Kind: KindPersistence, Message: "ledger write failed after processor success", cause: cause}
}
