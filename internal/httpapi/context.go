package httpapi

import "context"

// baseCtx is canceled on daemon shutdown. Generations derive from it as well
// as from the request, so stopping the daemon ends them promptly.
var baseCtx = context.Background()

// SetBaseContext installs the shutdown context. nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	baseCtx = ctx
}

// joinContexts derives from b and is also canceled once a is done.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(b)
	stop := context.AfterFunc(a, func() { cancel(context.Cause(a)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
