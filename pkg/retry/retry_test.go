package retry

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "execution_gateway/pkg/errors"
)

func TestPolicy_DelayBounds(t *testing.T) {
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		nominal := float64(p.BaseDelay) * float64(int(1)<<(attempt-1))
		if nominal > float64(p.MaxDelay) {
			nominal = float64(p.MaxDelay)
		}
		lo := time.Duration(nominal * 0.75)
		hi := time.Duration(nominal * 1.25)

		for i := 0; i < 200; i++ {
			d := p.Delay(attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestPolicy_DelayZeroForFirstAttempt(t *testing.T) {
	p := DefaultPolicy
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Duration(0), p.Delay(-1))
}

func TestPolicy_DelayCapped(t *testing.T) {
	p := Policy{MaxAttempts: 20, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	// Far past the cap: nominal is MaxDelay, so jitter tops out at 1.25x.
	for i := 0; i < 100; i++ {
		d := p.Delay(15)
		assert.LessOrEqual(t, d, time.Duration(float64(time.Second)*1.25))
		assert.GreaterOrEqual(t, d, time.Duration(float64(time.Second)*0.75))
	}
}

func TestPolicy_ShouldRetry(t *testing.T) {
	p := Policy{MaxAttempts: 3}
	assert.True(t, p.ShouldRetry(0))
	assert.True(t, p.ShouldRetry(2))
	assert.False(t, p.ShouldRetry(3))
}

func TestClassify_Sentinels(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{apperrors.ErrInsufficientFunds, NoRetry},
		{apperrors.ErrInvalidOrderParameter, NoRetry},
		{apperrors.ErrMarketClosed, NoRetry},
		{apperrors.ErrOrderNotFound, NoRetry},
		{apperrors.ErrRateLimitExceeded, Backoff},
		{apperrors.ErrNetwork, Backoff},
		{apperrors.ErrVenueMaintenance, Backoff},
		{fmt.Errorf("wrapped: %w", apperrors.ErrInsufficientFunds), NoRetry},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "error: %v", tt.err)
	}
}

func TestClassify_Kinds(t *testing.T) {
	tests := []struct {
		err  error
		want Class
	}{
		{apperrors.Validation("bad payload"), NoRetry},
		{apperrors.RiskLimit("limit breached"), NoRetry},
		{apperrors.Serialization("bad json"), NoRetry},
		{apperrors.BreakerOpen("binance"), NoRetry},
		{apperrors.Transport("connection reset"), Backoff},
		{apperrors.Data("stale book"), Backoff},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "error: %v", tt.err)
	}
}

func TestClassify_Vocabulary(t *testing.T) {
	tests := []struct {
		msg  string
		want Class
	}{
		{"request timeout", Backoff},
		{"rate limit hit", Backoff},
		{"temporary outage", Backoff},
		{"service unavailable", Backoff},
		{"insufficient funds for order", NoRetry},
		{"invalid order size", NoRetry},
		{"market closed until monday", NoRetry},
		{"something completely unexpected", Backoff},
	}

	for _, tt := range tests {
		err := apperrors.Execution("%s", tt.msg)
		assert.Equal(t, tt.want, Classify(err), "message: %q", tt.msg)
	}
}

func TestClassify_Nil(t *testing.T) {
	assert.Equal(t, NoRetry, Classify(nil))
}

func TestClassify_TerminalWinsOverTransient(t *testing.T) {
	// A message matching both vocabularies stays terminal.
	err := errors.New("insufficient funds after timeout")
	assert.Equal(t, NoRetry, Classify(err))
}

func TestMaxTotalDelay(t *testing.T) {
	p := Policy{MaxAttempts: 2, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second}
	// 100ms*1.25 + 200ms*1.25 = 375ms
	assert.Equal(t, 375*time.Millisecond, p.MaxTotalDelay())
}
