package httpapi

import (
	"context"
)

// serverBaseCtx is canceled when the process shuts down. Handlers join it with
// the request context so in-flight embeddings stop on shutdown.
var serverBaseCtx = context.Background()

// SetBaseContext installs the process-level base context; nil restores Background.
func SetBaseContext(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	serverBaseCtx = ctx
}

// joinContexts derives a context from a that is also canceled, with b's
// cause, when b is done. The returned cancel func must be called.
func joinContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(a)
	stop := context.AfterFunc(b, func() { cancel(context.Cause(b)) })
	return ctx, func() {
		stop()
		cancel(context.Canceled)
	}
}
