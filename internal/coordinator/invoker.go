package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"zord/internal/engine"
)

// Generator is the generation capability the coordinator drives.
// *engine.Engine implements it.
type Generator interface {
	Generate(ctx context.Context, prompt string, params engine.Params, onToken func(string) error) (engine.Result, error)
}

// EstimateTokens is the token count used when the backend reports none.
func EstimateTokens(text string) int { return len(text) / 4 }

type outcome string

const (
	outcomeSucceeded outcome = "succeeded"
	outcomeTimedOut  outcome = "timed_out"
	outcomeCanceled  outcome = "canceled"
	outcomeFailed    outcome = "backend_failed"
	outcomePanicked  outcome = "panicked"
)

// invocation is the normalized result of one generation attempt.
type invocation struct {
	outcome outcome
	result  engine.Result
	// tokens is exact when result.Exact, else estimated from the text seen.
	tokens int
	// started is false when the attempt ended before the backend saw the
	// prompt.
	started bool
	err     error
}

// admission follows one generation through the engine's queue. Generators
// that report nothing are treated as started.
type admission struct {
	mu      sync.Mutex
	queued  bool
	started bool
	settled bool
}

func (a *admission) trace() *engine.GenerationTrace {
	return &engine.GenerationTrace{Queued: a.onQueued, Started: a.onStarted}
}

func (a *admission) onQueued() {
	a.mu.Lock()
	a.queued = true
	a.mu.Unlock()
}

// onStarted refuses a start once the invoker has already returned.
func (a *admission) onStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.settled {
		return false
	}
	a.started = true
	return true
}

// settle freezes the admission state and reports whether the backend saw the
// prompt.
func (a *admission) settle() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = true
	return a.started || !a.queued
}

var errDiscarded = errors.New("generation result discarded")

// tokenSink forwards tokens to the caller until closed. Tokens arriving after
// close are dropped so a backend that ignores cancellation cannot write into a
// finished response.
type tokenSink struct {
	mu     sync.Mutex
	fn     func(string) error
	text   strings.Builder
	closed bool
}

func (s *tokenSink) emit(tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errDiscarded
	}
	s.text.WriteString(tok)
	if s.fn != nil {
		return s.fn(tok)
	}
	return nil
}

// close stops forwarding and returns the text streamed so far.
func (s *tokenSink) close() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.text.String()
}

type invoker struct {
	gen     Generator
	timeout time.Duration
}

// invoke runs one generation bounded by the invoker timeout. It returns as
// soon as the deadline fires or ctx is canceled, even if the generator keeps
// running.
func (iv invoker) invoke(ctx context.Context, prompt string, params engine.Params, onToken func(string) error) invocation {
	ctx, cancel := context.WithTimeout(ctx, iv.timeout)
	defer cancel()
	adm := &admission{}
	ctx = engine.WithGenerationTrace(ctx, adm.trace())

	sink := &tokenSink{fn: onToken}
	done := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invocation{outcome: outcomePanicked, err: fmt.Errorf("generator panic: %v", r)}
			}
		}()
		res, err := iv.gen.Generate(ctx, prompt, params, sink.emit)
		done <- invocation{result: res, err: err}
	}()

	select {
	case inv := <-done:
		streamed := sink.close()
		started := adm.settle() && !engine.IsQueued(inv.err)
		if inv.outcome == outcomePanicked {
			return inv
		}
		if inv.err == nil {
			inv.outcome = outcomeSucceeded
			inv.started = true
			if inv.result.Exact {
				inv.tokens = inv.result.CompletionTokens
			} else {
				inv.tokens = EstimateTokens(inv.result.Text)
			}
			return inv
		}
		if ctx.Err() != nil || errors.Is(inv.err, context.DeadlineExceeded) || errors.Is(inv.err, context.Canceled) {
			return interrupted(ctx, streamed, started)
		}
		inv.outcome = outcomeFailed
		inv.started = started
		return inv
	case <-ctx.Done():
		streamed := sink.close()
		return interrupted(ctx, streamed, adm.settle())
	}
}

func interrupted(ctx context.Context, streamed string, started bool) invocation {
	inv := invocation{
		outcome: outcomeTimedOut,
		result:  engine.Result{Text: streamed, Started: started},
		tokens:  EstimateTokens(streamed),
		started: started,
		err:     ctx.Err(),
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		inv.outcome = outcomeCanceled
	}
	if inv.err == nil {
		inv.err = context.DeadlineExceeded
	}
	return inv
}
