package coordinator

import (
	"fmt"
	"time"

	"zord/internal/quota"
	"zord/pkg/types"
)

// DemoText is returned, marked as demo, when no model can serve requests.
const DemoText = "[demo] Model not loaded. Please start the server with model loaded."

const (
	msgMessageRequired  = "Message is required"
	msgUsageUnavailable = "Usage tracking temporarily unavailable, please retry"
	msgTimeout          = "Request timed out, please retry"
	msgCanceled         = "Request canceled"
	msgBusy             = "Model is busy, please retry"
	msgInternal         = "Internal error"
)

// Response is the outcome of a successful (or demo) request.
type Response struct {
	Text            string
	TokensGenerated int
	Exact           bool
	FinishReason    string
	Model           string
	Demo            bool
	Elapsed         time.Duration
	Usage           quota.Usage
	Limits          quota.Limits
}

func denialError(l quota.Limits, reason quota.Reason) *Error {
	e := &Error{Kind: KindQuotaExceeded, Reason: string(reason)}
	switch reason {
	case quota.ReasonTokenLimit:
		e.Message = fmt.Sprintf("Daily token limit reached (%d)", l.DailyTokens)
	case quota.ReasonTransient:
		e.Message = msgUsageUnavailable
		e.Retryable = true
	default:
		e.Reason = string(quota.ReasonMessageLimit)
		e.Message = fmt.Sprintf("Daily message limit reached (%d)", l.DailyMessages)
	}
	return e
}

func timeoutError(o outcome) *Error {
	if o == outcomeCanceled {
		return &Error{Kind: KindTimeout, Reason: ReasonCanceled, Message: msgCanceled, Retryable: true}
	}
	return &Error{Kind: KindTimeout, Message: msgTimeout, Retryable: true}
}

func backendError(reason, msg string, retryable bool) *Error {
	return &Error{Kind: KindBackend, Reason: reason, Message: msg, Retryable: retryable}
}

// Snapshot converts a usage record into its wire form.
func Snapshot(u quota.Usage, l quota.Limits) *types.UsageSnapshot {
	s := &types.UsageSnapshot{
		MessageCount:      u.MessageCount,
		TokenCount:        u.TokenCount,
		DailyMessageLimit: l.DailyMessages,
		DailyTokenLimit:   l.DailyTokens,
	}
	if !u.ResetAt.IsZero() {
		s.ResetAt = u.ResetAt.Unix()
	}
	return s
}

// Wire converts r into the /generate response body.
func (r Response) Wire() types.GenerateResponse {
	return types.GenerateResponse{
		Response:        r.Text,
		TokensGenerated: r.TokensGenerated,
		Model:           r.Model,
		Demo:            r.Demo,
		ElapsedMS:       r.Elapsed.Milliseconds(),
		Usage:           Snapshot(r.Usage, r.Limits),
	}
}
