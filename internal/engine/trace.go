package engine

import "context"

// GenerationTrace observes admission of one Generate call. Any hook may be nil.
type GenerationTrace struct {
	// Queued is called before Generate waits for the generation slot.
	Queued func()
	// Started is called once the slot is held, before the prompt reaches the
	// backend. Returning false abandons the generation.
	Started func() bool
}

type traceKey struct{}

// WithGenerationTrace returns a context carrying t.
func WithGenerationTrace(ctx context.Context, t *GenerationTrace) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// ContextGenerationTrace returns the trace attached to ctx, or nil.
func ContextGenerationTrace(ctx context.Context) *GenerationTrace {
	t, _ := ctx.Value(traceKey{}).(*GenerationTrace)
	return t
}

func (t *GenerationTrace) queued() {
	if t != nil && t.Queued != nil {
		t.Queued()
	}
}

func (t *GenerationTrace) started() bool {
	if t == nil || t.Started == nil {
		return true
	}
	return t.Started()
}
