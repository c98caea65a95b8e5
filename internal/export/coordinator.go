package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"clipd/internal/exportlock"
	"clipd/internal/modelstore"
)

// Outcome describes how Ensure reached a converted artifact.
type Outcome string

const (
	// OutcomeSkipped: the marker was already present.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeExported: this process held the lock and converted.
	OutcomeExported Outcome = "exported"
	// OutcomeWaited: another process held the lock; its marker appeared in time.
	OutcomeWaited Outcome = "waited"
)

// Coordinator elects a single exporter across processes.
type Coordinator struct {
	Lock     exportlock.Lock
	Waiter   exportlock.Waiter
	Pipeline *Pipeline
	Log      zerolog.Logger
}

// Ensure makes sure path holds a converted artifact for modelID.
func (c *Coordinator) Ensure(ctx context.Context, modelID, path string) (Outcome, error) {
	if modelstore.HasMarker(path) {
		c.Log.Info().Str("path", path).Msg("export marker present; skipping export")
		lockOutcomes.WithLabelValues("skipped").Inc()
		c.Pipeline.MarkConverted()
		return OutcomeSkipped, nil
	}
	c.Log.Info().Str("path", path).Msg("export marker missing; acquiring export lock")
	h, err := c.Lock.TryAcquire()
	if errors.Is(err, exportlock.ErrAlreadyHeld) {
		return c.wait(ctx, modelID, path)
	}
	if err != nil {
		return "", fmt.Errorf("export lock: %w", err)
	}
	defer func() {
		if rerr := h.Release(); rerr != nil {
			c.Log.Error().Err(rerr).Msg("releasing export lock failed")
			return
		}
		c.Log.Info().Msg("export lock released")
	}()
	lockOutcomes.WithLabelValues("acquired").Inc()
	// A previous holder may have finished between the marker check and our acquire.
	if modelstore.HasMarker(path) {
		c.Log.Info().Str("path", path).Msg("marker appeared before lock acquisition; skipping export")
		c.Pipeline.MarkConverted()
		return OutcomeSkipped, nil
	}
	c.Log.Info().Str("model", modelID).Msg("export lock acquired")
	if _, err := c.Pipeline.Convert(ctx, modelID, path); err != nil {
		return "", err
	}
	return OutcomeExported, nil
}

func (c *Coordinator) wait(ctx context.Context, modelID, path string) (Outcome, error) {
	c.Log.Info().Str("model", modelID).Msg("another process is exporting; waiting for marker")
	start := time.Now()
	err := c.Waiter.Wait(ctx, path, func() bool { return modelstore.HasMarker(path) }, c.Lock.Held)
	lockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		if exportlock.IsLockTimeout(err) {
			lockOutcomes.WithLabelValues("timeout").Inc()
		}
		return "", err
	}
	lockOutcomes.WithLabelValues("waited").Inc()
	c.Pipeline.MarkConverted()
	c.Log.Info().Str("path", path).Msg("export marker found; export finished elsewhere")
	return OutcomeWaited, nil
}
