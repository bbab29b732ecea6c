// Package retry implements the backoff policy and error classification used
// by the submission pipeline.
package retry

import (
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	apperrors "execution_gateway/pkg/errors"
)

// Policy computes backoff delays for retry attempts.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy mirrors the gateway configuration defaults.
var DefaultPolicy = Policy{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// Delay returns the sleep before attempt k. Attempt 0 is immediate; attempt
// k >= 1 backs off exponentially, capped at MaxDelay, with the actual delay
// drawn uniformly from [0.75*nominal, 1.25*nominal].
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	nominal := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if nominal > float64(p.MaxDelay) {
		nominal = float64(p.MaxDelay)
	}

	jittered := nominal * (0.75 + rand.Float64()*0.5)
	return time.Duration(jittered)
}

// ShouldRetry reports whether attempt k is still within budget.
func (p Policy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxAttempts
}

// MaxTotalDelay sums the worst-case delays across all attempts.
func (p Policy) MaxTotalDelay() time.Duration {
	var total float64
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		nominal := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
		if nominal > float64(p.MaxDelay) {
			nominal = float64(p.MaxDelay)
		}
		total += nominal * 1.25
	}
	return time.Duration(total)
}

// Class is the retry treatment for a classified error.
type Class int

const (
	// Immediate retries without delay.
	Immediate Class = iota
	// Backoff retries with exponential backoff.
	Backoff
	// NoRetry surfaces the error to the caller.
	NoRetry
)

func (c Class) String() string {
	switch c {
	case Immediate:
		return "immediate"
	case Backoff:
		return "backoff"
	default:
		return "no_retry"
	}
}

// TransientVocabulary lists message fragments that mark a venue execution
// error as temporary. Extension point: adapters surfacing structured kinds
// bypass this entirely.
var TransientVocabulary = []string{
	"timeout",
	"rate limit",
	"temporary",
	"service unavailable",
}

// TerminalVocabulary lists message fragments that make a venue execution
// error final.
var TerminalVocabulary = []string{
	"insufficient funds",
	"invalid order",
	"market closed",
	"not found",
}

// Classify decides the retry treatment for an error. Structured kinds and
// sentinel venue errors win over substring matching; the vocabularies are
// the fallback for venues that only report free-form messages.
func Classify(err error) Class {
	if err == nil {
		return NoRetry
	}

	switch {
	case errors.Is(err, apperrors.ErrInsufficientFunds),
		errors.Is(err, apperrors.ErrInvalidOrderParameter),
		errors.Is(err, apperrors.ErrInvalidSymbol),
		errors.Is(err, apperrors.ErrMarketClosed),
		errors.Is(err, apperrors.ErrOrderNotFound),
		errors.Is(err, apperrors.ErrDuplicateOrder):
		return NoRetry
	case errors.Is(err, apperrors.ErrRateLimitExceeded),
		errors.Is(err, apperrors.ErrNetwork),
		errors.Is(err, apperrors.ErrVenueMaintenance):
		return Backoff
	}

	switch apperrors.KindOf(err) {
	case apperrors.KindValidation, apperrors.KindRiskLimit, apperrors.KindSerialization, apperrors.KindBreakerOpen:
		return NoRetry
	case apperrors.KindTransport, apperrors.KindData:
		return Backoff
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Backoff
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range TerminalVocabulary {
		if strings.Contains(msg, fragment) {
			return NoRetry
		}
	}
	for _, fragment := range TransientVocabulary {
		if strings.Contains(msg, fragment) {
			return Backoff
		}
	}

	// Unrecognized venue errors are treated as possibly transient.
	return Backoff
}
