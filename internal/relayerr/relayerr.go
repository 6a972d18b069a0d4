// Package relayerr defines RelayCore's error taxonomy (spec §7): a small
// set of stable kinds that every subsystem returns instead of ad hoc
// strings, so pipeline callers can branch with errors.As/errors.Is.
package relayerr

import "fmt"

// Kind is one of the error kinds enumerated in §7.
type Kind string

const (
	InvalidRequest       Kind = "InvalidRequest"
	InvalidContent       Kind = "InvalidContent"
	RuleSetInvalid       Kind = "RuleSetInvalid"
	TransformTypeMismatch Kind = "TransformTypeMismatch"
	Rejected             Kind = "Rejected"
	BudgetDenied         Kind = "BudgetDenied"
	BudgetNotFound       Kind = "BudgetNotFound"
	InvalidPeriod        Kind = "InvalidPeriod"
	ThresholdsInvalid    Kind = "ThresholdsInvalid"
	CurrencyUnknown      Kind = "CurrencyUnknown"
	UnknownModel         Kind = "UnknownModel"
	NoEligibleModel      Kind = "NoEligibleModel"
	ProviderRetryable    Kind = "ProviderRetryable"
	ProviderFatal        Kind = "ProviderFatal"
	ProviderTimeout      Kind = "ProviderTimeout"
	ProviderQuota        Kind = "ProviderQuota"
	ProviderPolicy       Kind = "ProviderPolicy"
	ProviderUnavailable  Kind = "ProviderUnavailable"
	Overloaded           Kind = "Overloaded"
	Cancelled            Kind = "Cancelled"
	Internal             Kind = "Internal"
)

// statusCodes gives the deterministic status code for kinds the spec says
// are surfaced with one (§7 propagation rules). Kinds absent here have no
// fixed HTTP status and carry whatever the RelayError.StatusCode was set
// to (e.g. a Rejected error propagates the steering rule's own status).
var statusCodes = map[Kind]int{
	InvalidRequest:      400,
	InvalidContent:      400,
	TransformTypeMismatch: 422,
	BudgetDenied:        402,
	UnknownModel:        404,
	NoEligibleModel:     409,
	ProviderUnavailable: 502,
	Overloaded:          503,
	Cancelled:           408,
	Internal:            500,
}

// RelayError is the concrete error type every subsystem returns.
type RelayError struct {
	Kind       Kind
	Message    string
	StatusCode int
	Cause      error
}

func (e *RelayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RelayError) Unwrap() error { return e.Cause }

// New builds a RelayError, filling in the kind's default status code when
// one is not supplied via WithStatus.
func New(kind Kind, message string) *RelayError {
	return &RelayError{Kind: kind, Message: message, StatusCode: statusCodes[kind]}
}

// Wrap builds a RelayError around an existing error.
func Wrap(kind Kind, message string, cause error) *RelayError {
	return &RelayError{Kind: kind, Message: message, StatusCode: statusCodes[kind], Cause: cause}
}

// WithStatus overrides the status code, e.g. to propagate a steering
// rule's configured reject status (§4.3 action "reject").
func (e *RelayError) WithStatus(status int) *RelayError {
	e.StatusCode = status
	return e
}

// Is reports whether err carries the given kind, for errors.Is-style checks.
func Is(err error, kind Kind) bool {
	re, ok := err.(*RelayError)
	if !ok {
		return false
	}
	return re.Kind == kind
}

// As extracts a *RelayError from err, if present.
func As(err error) (*RelayError, bool) {
	re, ok := err.(*RelayError)
	return re, ok
}
