package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"time"
)

// sweepLoop describes a periodic sweep shared by the outbox publisher, the
// reaper, and the session reconciler.
type sweepLoop struct {
	name     string
	interval time.Duration
	logger   *slog.Logger
	sweep    func(context.Context) error
}

// run executes sweeps on the configured interval until the context is done.
// A cancelled context counts as a clean stop, not a failure.
func (l sweepLoop) run(ctx context.Context) error {
	if l.logger != nil {
		l.logger.InfoContext(ctx, "starting "+l.name, "interval", l.interval)
	}

	// Stagger startup so replicas don't all sweep at once.
	l.waitWithJitter(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// First sweep fires right away rather than waiting a full interval.
	l.runOnce(ctx, "initial sweep")

	for {
		select {
		case <-ctx.Done():
			if l.logger != nil {
				l.logger.InfoContext(ctx, l.name+" stopping", "reason", ctx.Err())
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			// Keep running despite sweep errors
			l.runOnce(ctx, "sweep")
		}
	}
}

func (l sweepLoop) runOnce(ctx context.Context, label string) {
	err := l.sweep(ctx)
	if err == nil || l.logger == nil {
		return
	}

	if isContextCancellation(err) {
		l.logger.Debug(l.name+" "+label+" cancelled by context", "error", err)
		return
	}
	l.logger.Error(l.name+" "+label+" failed", "error", err)
}

// waitWithJitter sleeps a random duration up to a tenth of the interval.
func (l sweepLoop) waitWithJitter(ctx context.Context) {
	maxJitter := int64(l.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// A jitterless start is harmless, an aborted one is not.
		if l.logger != nil {
			l.logger.WarnContext(ctx, "failed to generate jitter, skipping", "error", err)
		}
		return
	}

	// Reduce in uint64 space so the int64 conversion cannot overflow.
	jitterNanos := binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter)
	jitter := time.Duration(int64(jitterNanos)) // #nosec G115 - bounded by maxJitter which is int64

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func isContextCancellation(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func suppressContextCancellation(err error) error {
	if isContextCancellation(err) {
		return nil
	}
	return err
}
