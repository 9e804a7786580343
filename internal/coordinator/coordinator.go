// Package coordinator runs the lifecycle of one generation request: validate
// the input, admit it against the client's daily quota, format the prompt,
// invoke the model with a deadline, record usage and assemble the response.
//
// Handle only ever returns a *Error from the taxonomy in errors.go.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"zord/internal/engine"
	"zord/internal/prompt"
	"zord/internal/quota"
)

const (
	DefaultTimeout        = 120 * time.Second
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 2048
	DefaultMaxTokensLimit = 4096
	MaxTemperature        = 2.0
)

// Defaults are applied to requests that leave parameters unset. Zero fields
// take the package defaults.
type Defaults struct {
	Temperature float64
	MaxTokens   int
	// MaxTokensLimit bounds the max_tokens a client may ask for.
	MaxTokensLimit int
}

// Options configures a Coordinator. Store and Generator are required.
type Options struct {
	Store     quota.Store
	Generator Generator
	// Formatter defaults to the raw template with the default system prompt.
	Formatter *prompt.Formatter
	ModelName string
	Timeout   time.Duration
	Defaults  Defaults
	// DemoFallback answers with a labeled placeholder when the backend is
	// unavailable. It never applies to other backend failures.
	DemoFallback bool
	Logger       *zerolog.Logger
	Publisher    engine.EventPublisher
}

// Request is one caller request.
type Request struct {
	ClientID    string
	Prompt      string
	Temperature *float64
	MaxTokens   *int
	Reasoning   bool
}

type Coordinator struct {
	store     quota.Store
	invoker   invoker
	formatter *prompt.Formatter
	model     string
	defaults  Defaults
	demo      bool
	log       zerolog.Logger
	publisher engine.EventPublisher
}

type noopPublisher struct{}

func (noopPublisher) Publish(engine.Event) {}

// New builds a Coordinator.
func New(o Options) (*Coordinator, error) {
	if o.Store == nil {
		return nil, errors.New("coordinator: nil quota store")
	}
	if o.Generator == nil {
		return nil, errors.New("coordinator: nil generator")
	}
	if o.Formatter == nil {
		f, err := prompt.NewFormatter("raw", "")
		if err != nil {
			return nil, err
		}
		o.Formatter = f
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Defaults.Temperature <= 0 {
		o.Defaults.Temperature = DefaultTemperature
	}
	if o.Defaults.MaxTokensLimit <= 0 {
		o.Defaults.MaxTokensLimit = DefaultMaxTokensLimit
	}
	if o.Defaults.MaxTokens <= 0 {
		o.Defaults.MaxTokens = DefaultMaxTokens
	}
	if o.Defaults.MaxTokens > o.Defaults.MaxTokensLimit {
		o.Defaults.MaxTokens = o.Defaults.MaxTokensLimit
	}
	c := &Coordinator{
		store:     o.Store,
		invoker:   invoker{gen: o.Generator, timeout: o.Timeout},
		formatter: o.Formatter,
		model:     o.ModelName,
		defaults:  o.Defaults,
		demo:      o.DemoFallback,
		log:       zerolog.Nop(),
		publisher: o.Publisher,
	}
	if o.Logger != nil {
		c.log = *o.Logger
	}
	if c.publisher == nil {
		c.publisher = noopPublisher{}
	}
	return c, nil
}

// Limits reports the quota limits in force.
func (c *Coordinator) Limits() quota.Limits { return c.store.Limits() }

// Usage returns the caller's current counters without mutating them.
func (c *Coordinator) Usage(ctx context.Context, clientID string) (quota.Usage, *Error) {
	u, err := c.store.Usage(ctx, clientID)
	if err != nil {
		if errors.Is(err, quota.ErrEmptyClientID) {
			return quota.Usage{}, validationError("client identity is required")
		}
		c.log.Warn().Err(err).Str("client", clientID).Msg("usage lookup failed")
		return quota.Usage{}, denialError(c.store.Limits(), quota.ReasonTransient)
	}
	return u, nil
}

// Handle runs one request to completion. onToken, when non-nil, receives
// tokens as they are generated and is never called after Handle returns.
func (c *Coordinator) Handle(ctx context.Context, req Request, onToken func(string) error) (resp Response, cerr *Error) {
	start := time.Now()
	var (
		reserved bool
		stage    = "received"
	)
	c.event("request.received", req.ClientID, nil)
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Str("stage", stage).Str("client", req.ClientID).Msg("coordinator panic")
			if reserved {
				c.release(ctx, req.ClientID)
			}
			resp, cerr = Response{}, internalError(msgInternal)
		}
		outcome := "ok"
		if cerr != nil {
			outcome = string(cerr.Kind)
			if cerr.Reason != "" {
				outcome += ":" + cerr.Reason
			}
		} else if resp.Demo {
			outcome = "demo"
		}
		generateOutcomes.WithLabelValues(outcome).Inc()
		c.event("request.responded", req.ClientID, map[string]any{"outcome": outcome, "elapsed_ms": time.Since(start).Milliseconds()})
	}()

	params, verr := c.validate(req)
	if verr != nil {
		return Response{}, verr
	}
	stage = "validated"
	c.event("request.validated", req.ClientID, nil)

	limits := c.store.Limits()
	dec, err := c.store.CheckAndReserve(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, quota.ErrEmptyClientID) {
			return Response{}, validationError("client identity is required")
		}
		c.log.Warn().Err(err).Str("client", req.ClientID).Msg("quota check failed")
		quotaDenials.WithLabelValues(string(quota.ReasonTransient)).Inc()
		return Response{}, denialError(limits, quota.ReasonTransient)
	}
	if !dec.Allowed {
		quotaDenials.WithLabelValues(string(dec.Reason)).Inc()
		c.event("request.denied", req.ClientID, map[string]any{"reason": string(dec.Reason)})
		return Response{}, denialError(limits, dec.Reason)
	}
	reserved = true
	stage = "quota_checked"
	c.event("request.quota_checked", req.ClientID, nil)

	text, err := c.formatter.Format(req.Prompt, req.Reasoning)
	if err != nil {
		c.release(ctx, req.ClientID)
		if errors.Is(err, prompt.ErrEmptyMessage) {
			return Response{}, validationError(msgMessageRequired)
		}
		return Response{}, validationError(err.Error())
	}

	stage = "generating"
	c.event("request.generating", req.ClientID, map[string]any{"max_tokens": params.MaxTokens, "temperature": params.Temperature})
	genStart := time.Now()
	inv := c.invoker.invoke(ctx, text, params, onToken)
	generationDuration.Observe(time.Since(genStart).Seconds())
	c.event("request."+string(inv.outcome), req.ClientID, map[string]any{"tokens": inv.tokens})

	switch inv.outcome {
	case outcomeSucceeded:
		usage := c.record(ctx, req.ClientID, inv.tokens, dec.Usage)
		return Response{
			Text:            inv.result.Text,
			TokensGenerated: inv.tokens,
			Exact:           inv.result.Exact,
			FinishReason:    inv.result.FinishReason,
			Model:           c.model,
			Elapsed:         time.Since(start),
			Usage:           usage,
			Limits:          limits,
		}, nil

	case outcomeTimedOut, outcomeCanceled:
		// Counted only once the backend took the prompt; a request that gave
		// up in the queue is released like any other pre-backend failure.
		if inv.started {
			c.record(ctx, req.ClientID, inv.tokens, dec.Usage)
		} else {
			c.release(ctx, req.ClientID)
		}
		c.log.Info().Bool("started", inv.started).Str("client", req.ClientID).Str("outcome", string(inv.outcome)).Int("tokens", inv.tokens).Msg("generation interrupted")
		return Response{}, timeoutError(inv.outcome)

	case outcomePanicked:
		c.release(ctx, req.ClientID)
		c.log.Error().Err(inv.err).Str("client", req.ClientID).Msg("generation panic")
		return Response{}, internalError(msgInternal)
	}

	c.release(ctx, req.ClientID)
	switch {
	case engine.IsBackendUnavailable(inv.err):
		if c.demo {
			return Response{
				Text:    DemoText,
				Model:   c.model,
				Demo:    true,
				Elapsed: time.Since(start),
				Usage:   dec.Usage,
				Limits:  limits,
			}, nil
		}
		return Response{}, backendError(ReasonUnavailable, inv.err.Error(), true)
	case engine.IsBusy(inv.err):
		return Response{}, backendError(ReasonBusy, msgBusy, true)
	default:
		c.log.Warn().Err(inv.err).Str("client", req.ClientID).Msg("generation failed")
		return Response{}, backendError("", inv.err.Error(), false)
	}
}

// validate checks the request and resolves generation parameters.
func (c *Coordinator) validate(req Request) (engine.Params, *Error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return engine.Params{}, validationError(msgMessageRequired)
	}
	p := engine.Params{
		Temperature: c.defaults.Temperature,
		MaxTokens:   c.defaults.MaxTokens,
		Stop:        c.formatter.Stops(),
	}
	if req.Temperature != nil {
		t := *req.Temperature
		if t < 0 || t > MaxTemperature {
			return engine.Params{}, validationError(fmt.Sprintf("temperature must be between 0 and %g", MaxTemperature))
		}
		p.Temperature = t
	}
	if req.MaxTokens != nil {
		n := *req.MaxTokens
		if n < 1 || n > c.defaults.MaxTokensLimit {
			return engine.Params{}, validationError(fmt.Sprintf("max_tokens must be between 1 and %d", c.defaults.MaxTokensLimit))
		}
		p.MaxTokens = n
	}
	return p, nil
}

// record counts the attempt. A store failure here is logged and the response
// falls back to the admission snapshot advanced by this request.
func (c *Coordinator) record(ctx context.Context, clientID string, tokens int, admitted quota.Usage) quota.Usage {
	tokensGenerated.Add(float64(tokens))
	u, err := c.store.RecordUsage(context.WithoutCancel(ctx), clientID, int64(tokens))
	if err != nil {
		c.log.Error().Err(err).Str("client", clientID).Int("tokens", tokens).Msg("record usage failed")
		admitted.MessageCount++
		admitted.TokenCount += int64(tokens)
		return admitted
	}
	c.event("request.usage_recorded", clientID, map[string]any{"messages": u.MessageCount, "tokens": u.TokenCount})
	return u
}

func (c *Coordinator) release(ctx context.Context, clientID string) {
	if err := c.store.Release(context.WithoutCancel(ctx), clientID); err != nil {
		c.log.Warn().Err(err).Str("client", clientID).Msg("release reservation failed")
	}
}

func (c *Coordinator) event(name, clientID string, fields map[string]any) {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["client"] = clientID
	c.publisher.Publish(engine.Event{Name: name, Model: c.model, Fields: fields})
}
