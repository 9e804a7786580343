// Package quota tracks per-client daily message and token usage.
//
// A Store admits a request with CheckAndReserve, then either records the
// consumed tokens with RecordUsage or drops the admission with Release.
// Admitted-but-unfinished requests count as pending so that concurrent
// requests from one client cannot overshoot the message limit.
package quota

import (
	"context"
	"errors"
	"time"
)

// Defaults applied when the corresponding Limits fields are unset.
const (
	DefaultDailyMessages int64 = 50
	DefaultDailyTokens   int64 = 50000
	DefaultWindow              = 24 * time.Hour
)

// ErrEmptyClientID is returned when a store is called without a client identity.
var ErrEmptyClientID = errors.New("quota: empty client id")

// Limits configures the daily allowance of every client.
type Limits struct {
	DailyMessages int64
	DailyTokens   int64
	Window        time.Duration
}

// DefaultLimits returns 50 messages and 50,000 tokens per 24h window.
func DefaultLimits() Limits {
	return Limits{DailyMessages: DefaultDailyMessages, DailyTokens: DefaultDailyTokens, Window: DefaultWindow}
}

// Normalize returns l with zero fields replaced by defaults.
func (l Limits) Normalize() Limits {
	if l.DailyMessages <= 0 {
		l.DailyMessages = DefaultDailyMessages
	}
	if l.DailyTokens <= 0 {
		l.DailyTokens = DefaultDailyTokens
	}
	if l.Window <= 0 {
		l.Window = DefaultWindow
	}
	return l
}

// Reason explains a denial.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonMessageLimit Reason = "message_limit"
	ReasonTokenLimit   Reason = "token_limit"
	// ReasonTransient is used by callers when the store itself failed.
	ReasonTransient Reason = "transient"
)

// Usage is a point-in-time view of one client's window.
type Usage struct {
	ClientID     string
	MessageCount int64
	TokenCount   int64
	Pending      int64
	ResetAt      time.Time
}

// Decision is the outcome of CheckAndReserve.
type Decision struct {
	Allowed bool
	Reason  Reason
	Usage   Usage
}

// Store is the contract shared by the in-memory, Redis and Postgres backends.
type Store interface {
	// CheckAndReserve admits one request for clientID or denies it. An allowed
	// decision holds a pending slot until RecordUsage or Release is called.
	CheckAndReserve(ctx context.Context, clientID string) (Decision, error)
	// RecordUsage counts one message and tokens against the window and drops
	// one pending slot.
	RecordUsage(ctx context.Context, clientID string, tokens int64) (Usage, error)
	// Release drops one pending slot without counting anything.
	Release(ctx context.Context, clientID string) error
	// Usage returns the current counters without mutating them.
	Usage(ctx context.Context, clientID string) (Usage, error)
	// Limits reports the limits the store enforces.
	Limits() Limits
}

// Decide applies the admission rule to counters that are already reset if due.
// The Redis backend mirrors it in Lua.
func Decide(l Limits, messages, tokens, pending int64) Reason {
	if messages+pending >= l.DailyMessages {
		return ReasonMessageLimit
	}
	if tokens >= l.DailyTokens {
		return ReasonTokenLimit
	}
	return ReasonNone
}
