// Package apperrors defines the error taxonomy shared across the gateway.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Standardized venue errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrVenueMaintenance      = errors.New("venue maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrMarketClosed          = errors.New("market closed")
)

// Kind classifies an error into one of the observable categories the
// pipeline and the control API act on.
type Kind int

const (
	KindValidation Kind = iota
	KindRiskLimit
	KindData
	KindTransport
	KindExecution
	KindSerialization
	KindBreakerOpen
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindRiskLimit:
		return "risk_limit"
	case KindData:
		return "data"
	case KindTransport:
		return "transport"
	case KindExecution:
		return "execution"
	case KindSerialization:
		return "serialization"
	case KindBreakerOpen:
		return "breaker_open"
	default:
		return "unknown"
	}
}

// Code returns the stable machine code surfaced over the API.
func (k Kind) Code() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindRiskLimit:
		return "RISK_LIMIT_ERROR"
	case KindData:
		return "DATA_ERROR"
	case KindTransport:
		return "NETWORK_ERROR"
	case KindSerialization:
		return "SERIALIZATION_ERROR"
	default:
		// A rejected admission is reported as an execution failure; it just
		// never feeds the breaker.
		return "EXECUTION_ERROR"
	}
}

// TradingError carries a Kind alongside a human message and an optional cause.
type TradingError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *TradingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *TradingError) Unwrap() error { return e.Err }

func newKind(kind Kind, format string, args ...interface{}) *TradingError {
	var cause error
	for _, a := range args {
		if err, ok := a.(error); ok {
			cause = err
		}
	}
	return &TradingError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// Validation reports a malformed or invariant-violating payload. Never retried.
func Validation(format string, args ...interface{}) error {
	return newKind(KindValidation, format, args...)
}

// RiskLimit reports a policy refusal. Never retried.
func RiskLimit(format string, args ...interface{}) error {
	return newKind(KindRiskLimit, format, args...)
}

// Data reports inconsistent or missing upstream data. Retryable.
func Data(format string, args ...interface{}) error {
	return newKind(KindData, format, args...)
}

// Transport reports a network failure reaching a venue. Retryable, feeds the breaker.
func Transport(format string, args ...interface{}) error {
	return newKind(KindTransport, format, args...)
}

// Execution reports a venue-side failure. Retryable unless the message
// matches the terminal vocabulary.
func Execution(format string, args ...interface{}) error {
	return newKind(KindExecution, format, args...)
}

// Serialization reports an encode/decode failure. Never retried.
func Serialization(format string, args ...interface{}) error {
	return newKind(KindSerialization, format, args...)
}

// BreakerOpen reports a denied admission for a venue.
func BreakerOpen(venue string) error {
	return newKind(KindBreakerOpen, "circuit breaker open for venue: %s", venue)
}

// KindOf extracts the Kind from an error chain. Untyped errors default to
// KindExecution: the pipeline treats anything a venue call returns as a
// venue failure unless told otherwise.
func KindOf(err error) Kind {
	var te *TradingError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindExecution
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind Kind) bool {
	var te *TradingError
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

// HTTPStatus maps an error to the status code the control API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation, KindSerialization:
		return http.StatusBadRequest
	case KindRiskLimit:
		return http.StatusForbidden
	case KindData:
		return http.StatusUnprocessableEntity
	case KindTransport:
		return http.StatusBadGateway
	default:
		if errors.Is(err, ErrOrderNotFound) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	}
}
