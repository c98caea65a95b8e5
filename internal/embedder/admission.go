package embedder

import (
	"context"
	"time"
)

// admit takes a queue slot, then the single run slot, both within one
// MaxWait budget. The returned release must be called exactly once.
func (e *Embedder) admit(ctx context.Context) (release func(), err error) {
	deadline := time.NewTimer(e.cfg.MaxWait)
	defer deadline.Stop()

	if err := take(ctx, e.queueCh, deadline.C, "queue_full"); err != nil {
		return noop, err
	}
	if err := take(ctx, e.genCh, deadline.C, "wait_timeout"); err != nil {
		<-e.queueCh
		return noop, err
	}
	return func() {
		<-e.genCh
		<-e.queueCh
	}, nil
}

// take sends into a slot channel unless ctx ends or expired fires first.
func take(ctx context.Context, slots chan struct{}, expired <-chan time.Time, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		backpressure.WithLabelValues(reason).Inc()
		return tooBusyError{}
	}
}

func noop() {}
