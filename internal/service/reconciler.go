package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ryuqq/fileflow/config"
	"github.com/ryuqq/fileflow/internal/core"
	"github.com/ryuqq/fileflow/internal/data"
	"github.com/ryuqq/fileflow/internal/domain/model"
	"github.com/ryuqq/fileflow/internal/observability/metrics"
	"github.com/ryuqq/fileflow/internal/observability/statsd"
)

// ReconcilerServiceOptions groups dependencies for ReconcilerService.
type ReconcilerServiceOptions struct {
	Operations   *OperationService       // Required: drives the expire transition
	Repo         core.OperationRepository // Required: operation repository
	Lock         core.DistributedLock    // Required: serializes sweeps across instances
	Config       config.ReconcilerConfig // Required: reconciler configuration
	LockConfig   config.LockConfig       // Lock wait and lease settings
	TimeProvider data.TimeProvider       // Optional: defaults to real time
	Logger       *slog.Logger            // Optional: structured logger
	Metrics      statsd.Sink             // Optional: metrics sink (StatsD-compatible)
}

// ReconcilerService is the safety net behind the expiration listener. Cache
// expiration events are best effort; this sweep finds sessions whose deadline
// passed while still non-terminal and expires them from the database. Expire
// is idempotent, so a session caught by both paths settles once.
type ReconcilerService struct {
	operations *OperationService
	repo       core.OperationRepository
	lock       core.DistributedLock
	config     config.ReconcilerConfig
	lockCfg    config.LockConfig
	time       data.TimeProvider
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewReconcilerService constructs a new ReconcilerService.
func NewReconcilerService(opts ReconcilerServiceOptions) (*ReconcilerService, error) {
	if opts.Operations == nil {
		return nil, errors.New("OperationService is required")
	}
	if opts.Repo == nil {
		return nil, errors.New("OperationRepository is required")
	}
	if opts.Lock == nil {
		return nil, errors.New("DistributedLock is required")
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "reconciler_service")
	}

	return &ReconcilerService{
		operations: opts.Operations,
		repo:       opts.Repo,
		lock:       opts.Lock,
		config:     opts.Config,
		lockCfg:    opts.LockConfig,
		time:       tp,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// Run starts the reconciliation loop and runs until the context is cancelled.
func (s *ReconcilerService) Run(ctx context.Context) error {
	return sweepLoop{
		name:     "session reconciler",
		interval: s.config.Interval,
		logger:   s.logger,
		sweep: func(ctx context.Context) error {
			_, err := s.RunSweep(ctx)
			return err
		},
	}.run(ctx)
}

// RunSweep expires one batch of overdue sessions under the distributed lock.
func (s *ReconcilerService) RunSweep(ctx context.Context) (core.BatchResult, error) {
	start := time.Now()

	acquired, err := s.lock.TryLock(ctx, s.config.LockKey, s.lockCfg.Wait, s.lockCfg.Lease)
	if err != nil {
		s.emitSweep(core.BatchResult{}, time.Since(start), err)
		return core.BatchResult{}, fmt.Errorf("acquire reconciler lock: %w", err)
	}
	if !acquired {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "reconciler lock held elsewhere, skipping sweep")
		}
		s.emitSweep(core.BatchResult{}, time.Since(start), nil)
		return core.BatchResult{}, nil
	}
	defer func() {
		if unlockErr := s.lock.Unlock(context.WithoutCancel(ctx), s.config.LockKey); unlockErr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "release reconciler lock failed", "error", unlockErr)
		}
	}()

	result, sweepErr := s.expireBatch(ctx)
	s.emitSweep(result, time.Since(start), sweepErr)
	return result, sweepErr
}

func (s *ReconcilerService) expireBatch(ctx context.Context) (core.BatchResult, error) {
	overdue, err := s.repo.FindExpiredSessions(ctx, s.time.Now(), s.config.BatchSize)
	if err != nil {
		return core.BatchResult{}, fmt.Errorf("find expired sessions: %w", err)
	}

	result := core.BatchResult{Total: len(overdue)}
	var errs []error
	for _, op := range overdue {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if _, expireErr := s.operations.Expire(ctx, op.ID); expireErr != nil {
			// A session that vanished or settled concurrently is fine.
			if errors.Is(expireErr, model.ErrOperationNotFound) {
				result.Success++
				continue
			}
			result.Failed++
			errs = append(errs, fmt.Errorf("expire %s: %w", op.ID, expireErr))
			continue
		}
		result.Success++
	}

	if result.Success > 0 && s.logger != nil {
		s.logger.InfoContext(ctx, "expired overdue sessions",
			"count", result.Success,
		)
	}

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	return result, nil
}

func (s *ReconcilerService) emitSweep(result core.BatchResult, elapsed time.Duration, err error) {
	metrics.EmitSweep(s.metrics, metrics.SweepMetric{
		Sweeper:  "reconciler",
		Total:    result.Total,
		Success:  result.Success,
		Failed:   result.Failed,
		Duration: elapsed,
		Err:      suppressContextCancellation(err),
	})
}
