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
	"github.com/ryuqq/fileflow/internal/observability/notify"
	"github.com/ryuqq/fileflow/internal/observability/statsd"
	"github.com/ryuqq/fileflow/internal/service/failurenotifier"
)

// ReaperServiceOptions wires the reaper's collaborators.
type ReaperServiceOptions struct {
	Repo            core.OperationRepository // Required: operation repository
	Lock            core.DistributedLock     // Required: serializes sweeps across instances
	Config          config.ReaperConfig      // Required: reaper configuration
	LockConfig      config.LockConfig        // Lock wait and lease settings
	TimeProvider    data.TimeProvider        // Optional: defaults to real time
	Logger          *slog.Logger             // Optional: structured logger
	Metrics         statsd.Sink              // Optional: metrics sink (StatsD-compatible)
	FailureNotifier *failurenotifier.Service // Optional: alerting for terminal timeouts
}

// ReaperService recovers zombie operations.
//
// An operation stuck in queued or processing past the staleness threshold
// means its worker died mid-flight. While retry budget remains the operation
// is requeued (consuming an attempt, so a repeatedly stuck operation cannot
// loop forever); once the budget is gone it is terminally timed out. Both
// transitions write outbox rows, so downstream consumers observe recoveries
// the same way they observe ordinary state changes.
type ReaperService struct {
	repo     core.OperationRepository
	lock     core.DistributedLock
	config   config.ReaperConfig
	lockCfg  config.LockConfig
	time     data.TimeProvider
	logger   *slog.Logger
	metrics  statsd.Sink
	notifier *failurenotifier.Service
}

// NewReaperService builds a reaper from its options, filling defaults.
func NewReaperService(opts ReaperServiceOptions) (*ReaperService, error) {
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
		logger = opts.Logger.With("component", "reaper_service")
		logger.Debug("ReaperService initialized",
			"interval", opts.Config.Interval,
			"stuck_after", opts.Config.StuckAfter,
			"batch_size", opts.Config.BatchSize,
		)
	}

	return &ReaperService{
		repo:     opts.Repo,
		lock:     opts.Lock,
		config:   opts.Config,
		lockCfg:  opts.LockConfig,
		time:     tp,
		logger:   logger,
		metrics:  opts.Metrics,
		notifier: opts.FailureNotifier,
	}, nil
}

// Run sweeps for zombies on the configured interval until ctx is done.
func (s *ReaperService) Run(ctx context.Context) error {
	return sweepLoop{
		name:     "reaper",
		interval: s.config.Interval,
		logger:   s.logger,
		sweep: func(ctx context.Context) error {
			_, err := s.RunSweep(ctx)
			return err
		},
	}.run(ctx)
}

// RunSweep reaps one batch of zombie operations under the distributed lock.
// When another instance holds the lock the sweep is skipped entirely.
func (s *ReaperService) RunSweep(ctx context.Context) (core.BatchResult, error) {
	start := time.Now()

	acquired, err := s.lock.TryLock(ctx, s.config.LockKey, s.lockCfg.Wait, s.lockCfg.Lease)
	if err != nil {
		s.emitSweep(core.BatchResult{}, time.Since(start), err)
		return core.BatchResult{}, fmt.Errorf("acquire reaper lock: %w", err)
	}
	if !acquired {
		if s.logger != nil {
			s.logger.DebugContext(ctx, "reaper lock held elsewhere, skipping sweep")
		}
		s.emitSweep(core.BatchResult{}, time.Since(start), nil)
		return core.BatchResult{}, nil
	}
	defer func() {
		if unlockErr := s.lock.Unlock(context.WithoutCancel(ctx), s.config.LockKey); unlockErr != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "release reaper lock failed", "error", unlockErr)
		}
	}()

	result, sweepErr := s.reapBatch(ctx)
	s.emitSweep(result, time.Since(start), sweepErr)
	return result, sweepErr
}

func (s *ReaperService) reapBatch(ctx context.Context) (core.BatchResult, error) {
	zombies, err := s.repo.FindStale(ctx, core.StaleQuery{
		Statuses:  []model.OperationStatus{model.StatusQueued, model.StatusProcessing},
		StuckFor:  s.config.StuckAfter,
		BatchSize: s.config.BatchSize,
	})
	if err != nil {
		return core.BatchResult{}, fmt.Errorf("find stale operations: %w", err)
	}

	result := core.BatchResult{Total: len(zombies)}
	var errs []error
	for _, op := range zombies {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if reapErr := s.reapOne(ctx, op); reapErr != nil {
			result.Failed++
			// Losing a race to a worker that woke up is not a failure.
			if !errors.Is(reapErr, model.ErrConcurrentTransition) {
				errs = append(errs, fmt.Errorf("reap %s: %w", op.ID, reapErr))
			}
			continue
		}
		result.Success++
	}

	if len(errs) > 0 {
		return result, errors.Join(errs...)
	}
	return result, nil
}

// reapOne requeues a zombie with budget left, or terminally times it out.
func (s *ReaperService) reapOne(ctx context.Context, op *model.Operation) error {
	now := s.time.Now()
	previous := op.Status

	if op.AttemptCount < op.MaxAttempts {
		if err := op.Requeue(now); err != nil {
			return err
		}
		if err := s.persist(ctx, previous, op); err != nil {
			return err
		}
		if s.logger != nil {
			s.logger.InfoContext(ctx, "requeued zombie operation",
				"operation_id", op.ID,
				"kind", op.Kind,
				"attempt_count", op.AttemptCount,
			)
		}
		return nil
	}

	reason := fmt.Sprintf("stuck in %s for over %s with no attempts left", previous, s.config.StuckAfter)
	if !op.MarkTimedOut(reason, now) {
		return nil
	}
	if err := s.persist(ctx, previous, op); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "timed out zombie operation",
			"operation_id", op.ID,
			"kind", op.Kind,
			"stuck_in", previous,
		)
	}
	s.notifyTimeout(ctx, op, reason)
	return nil
}

// notifyTimeout alerts operators about a terminal timeout. Delivery failures
// are logged by the notifier and never fail the sweep.
func (s *ReaperService) notifyTimeout(ctx context.Context, op *model.Operation, reason string) {
	if s.notifier == nil || !s.notifier.Enabled() {
		return
	}
	errMsg := ""
	if op.LastError != nil {
		errMsg = *op.LastError
	}
	s.notifier.NotifyOperationFailure(ctx, notify.OperationFailurePayload{
		OperationID: op.ID,
		Kind:        string(op.Kind),
		Status:      string(op.Status),
		Attempts:    op.AttemptCount,
		Reason:      reason,
		Error:       errMsg,
		ErrorClass:  "timeout",
		OccurredAt:  s.time.Now(),
	})
}

func (s *ReaperService) persist(ctx context.Context, previous model.OperationStatus, op *model.Operation) error {
	outbox, err := outboxForOperationEvents(op)
	if err != nil {
		return err
	}
	return s.repo.Update(ctx, previous, core.TransitionParams{Operation: op, Outbox: outbox})
}

func (s *ReaperService) emitSweep(result core.BatchResult, elapsed time.Duration, err error) {
	metrics.EmitSweep(s.metrics, metrics.SweepMetric{
		Sweeper:  "reaper",
		Total:    result.Total,
		Success:  result.Success,
		Failed:   result.Failed,
		Duration: elapsed,
		Err:      suppressContextCancellation(err),
	})
}
