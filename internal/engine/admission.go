package engine

import (
	"context"
	"time"
)

// beginGeneration takes a queue slot and then the single generation slot,
// each within maxWait. The returned release must be called exactly once.
// Context errors come back wrapped so IsQueued holds for them.
func (e *Engine) beginGeneration(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, queueWaitError{err}
	}
	if err := e.acquire(ctx, e.queueCh, "queue"); err != nil {
		return nil, err
	}
	if err := e.acquire(ctx, e.genCh, "slot"); err != nil {
		<-e.queueCh
		return nil, err
	}
	return func() {
		<-e.genCh
		<-e.queueCh
	}, nil
}

// acquire sends into ch, giving up on ctx or after maxWait.
func (e *Engine) acquire(ctx context.Context, ch chan struct{}, stage string) error {
	select {
	case ch <- struct{}{}:
		return nil
	default:
	}
	timer := time.NewTimer(e.maxWait)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return queueWaitError{ctx.Err()}
	case <-timer.C:
		e.publisher.Publish(Event{Name: "engine.busy", Model: e.modelName, Fields: map[string]any{"stage": stage}})
		return tooBusyError{model: e.modelName}
	}
}
