// Package engine owns the loaded model and serializes generations behind a
// single in-flight slot with a bounded FIFO queue.
package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"zord/pkg/types"
)

// State represents the lifecycle state of the engine.
type State string

const (
	StateUnavailable State = "unavailable"
	StateLoading     State = "loading"
	StateReady       State = "ready"
	StateError       State = "error"
)

// Result is what a generation produced. Exact is false when the backend did
// not report a completion token count.
type Result struct {
	Text             string
	CompletionTokens int
	Exact            bool
	FinishReason     string
	// Started is set once the prompt reached the backend, even for failed
	// generations.
	Started bool
}

type Engine struct {
	mu        sync.RWMutex
	state     State
	err       string
	sess      InferSession
	modelPath string
	modelName string
	loadOpts  LoadOptions
	adapter   InferenceAdapter
	publisher EventPublisher
	log       zerolog.Logger

	// Queueing primitives
	genCh   chan struct{} // size 1: single in-flight generation
	queueCh chan struct{} // buffered: queue slots
	maxWait time.Duration

	startTime   time.Time
	generations atomic.Uint64
	tokens      atomic.Uint64
}

// ModelName reports the name used in responses.
func (e *Engine) ModelName() string { return e.modelName }

// Loaded reports whether a model session is ready to serve.
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state == StateReady && e.sess != nil
}

// Ready is Loaded under the name used by /readyz.
func (e *Engine) Ready() bool { return e.Loaded() }

// Load loads the configured model through the adapter. A failure leaves the
// engine unavailable (missing file or runtime) or in error; generations then
// fail with a backend-unavailable error.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateReady {
		e.mu.Unlock()
		return nil
	}
	e.state = StateLoading
	e.err = ""
	e.mu.Unlock()
	e.publisher.Publish(Event{Name: "engine.load_start", Model: e.modelName, Fields: map[string]any{"path": e.modelPath, "backend": e.adapter.Name()}})

	start := time.Now()
	sess, err := e.adapter.Load(ctx, e.modelPath, e.loadOpts)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.err = err.Error()
		if IsBackendUnavailable(err) {
			e.state = StateUnavailable
		} else {
			e.state = StateError
		}
		e.publisher.Publish(Event{Name: "engine.load_error", Model: e.modelName, Fields: map[string]any{"error": err.Error()}})
		e.log.Warn().Err(err).Str("model", e.modelName).Str("path", e.modelPath).Msg("model load failed")
		return err
	}
	e.sess = sess
	e.state = StateReady
	e.publisher.Publish(Event{Name: "engine.ready", Model: e.modelName, Fields: map[string]any{"load_ms": time.Since(start).Milliseconds()}})
	e.log.Info().Str("model", e.modelName).Str("backend", e.adapter.Name()).Dur("took", time.Since(start)).Msg("model loaded")
	return nil
}

// Generate runs one generation. It waits for the single in-flight slot and
// returns ErrBackendUnavailable when no model is loaded, a busy error when
// the queue wait expires, and the context error on cancel or deadline. A
// context error hit before the slot is held satisfies IsQueued.
func (e *Engine) Generate(ctx context.Context, prompt string, params Params, onToken func(string) error) (Result, error) {
	e.mu.RLock()
	sess := e.sess
	ready := e.state == StateReady && sess != nil
	lastErr := e.err
	e.mu.RUnlock()
	if !ready {
		msg := "model not loaded"
		if lastErr != "" {
			msg += ": " + lastErr
		}
		return Result{}, ErrBackendUnavailable(msg)
	}

	trace := ContextGenerationTrace(ctx)
	trace.queued()
	release, err := e.beginGeneration(ctx)
	if err != nil {
		return Result{}, err
	}
	defer release()
	if err := ctx.Err(); err != nil {
		return Result{}, queueWaitError{err}
	}
	if !trace.started() {
		return Result{}, queueWaitError{context.Canceled}
	}

	var b strings.Builder
	onTok := func(tok string) error {
		b.WriteString(tok)
		if onToken != nil {
			return onToken(tok)
		}
		return nil
	}
	final, err := sess.Generate(ctx, prompt, params, onTok)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted work still ran on the backend.
			err = ctx.Err()
			e.generations.Add(1)
			e.tokens.Add(uint64(b.Len() / 4))
		} else {
			e.mu.Lock()
			e.err = err.Error()
			e.mu.Unlock()
		}
		return Result{Text: b.String(), Started: true}, err
	}
	text := final.Content
	if text == "" {
		text = b.String()
	}
	res := Result{
		Text:         text,
		FinishReason: final.FinishReason,
		Started:      true,
	}
	if final.Usage.CompletionTokens > 0 {
		res.CompletionTokens = final.Usage.CompletionTokens
		res.Exact = true
	}
	e.generations.Add(1)
	if res.Exact {
		e.tokens.Add(uint64(res.CompletionTokens))
	} else {
		e.tokens.Add(uint64(len(res.Text) / 4))
	}
	return res, nil
}

// Close drains the in-flight slot and releases the model session.
func (e *Engine) Close(ctx context.Context) error {
	select {
	case e.genCh <- struct{}{}:
		defer func() { <-e.genCh }()
	case <-ctx.Done():
		return fmt.Errorf("close: waiting for in-flight generation: %w", ctx.Err())
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess == nil {
		return nil
	}
	err := e.sess.Close()
	e.sess = nil
	e.state = StateUnavailable
	e.publisher.Publish(Event{Name: "engine.closed", Model: e.modelName})
	return err
}

// Status builds a detailed status response for /status.
func (e *Engine) Status() types.StatusResponse {
	e.mu.RLock()
	defer e.mu.RUnlock()
	now := time.Now()
	return types.StatusResponse{
		State:            string(e.state),
		Model:            e.modelName,
		ModelPath:        e.modelPath,
		Backend:          e.adapter.Name(),
		QueueLen:         len(e.queueCh),
		Inflight:         len(e.genCh),
		MaxQueueDepth:    cap(e.queueCh),
		LastError:        e.err,
		UptimeSeconds:    int64(now.Sub(e.startTime).Seconds()),
		ServerTimeUnix:   now.Unix(),
		GenerationsTotal: e.generations.Load(),
		TokensTotal:      e.tokens.Load(),
	}
}

// SanityReport describes runtime checks for the configured backend.
type SanityReport struct {
	Backend     string `json:"backend"`
	LlamaBuilt  bool   `json:"llama_built"`
	ModelPath   string `json:"model_path,omitempty"`
	ModelFound  bool   `json:"model_found"`
	ModelSizeMB int64  `json:"model_size_mb,omitempty"`
	Error       string `json:"error,omitempty"`
}

// SanityCheck validates that the model file and runtime are available.
// It does not mutate state and is safe to call at any time.
func (e *Engine) SanityCheck() SanityReport {
	r := SanityReport{Backend: e.adapter.Name(), LlamaBuilt: llamaBuilt, ModelPath: e.modelPath}
	if e.adapter.Name() == llamaServerName {
		// Remote backends resolve the model themselves.
		r.ModelFound = true
		return r
	}
	if e.modelPath == "" {
		r.Error = "model path is empty"
		return r
	}
	fi, err := os.Stat(e.modelPath)
	switch {
	case err != nil:
		r.Error = err.Error()
	case fi.IsDir():
		r.Error = "model path is a directory"
	default:
		r.ModelFound = true
		r.ModelSizeMB = fi.Size() / (1024 * 1024)
	}
	if !llamaBuilt && e.adapter.Name() == llamaName {
		msg := "llama support not built (missing 'llama' build tag)"
		if r.Error != "" {
			msg = r.Error + "; " + msg
		}
		r.Error = msg
	}
	return r
}
