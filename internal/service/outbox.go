package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ryuqq/fileflow/config"
	"github.com/ryuqq/fileflow/internal/core"
	"github.com/ryuqq/fileflow/internal/data"
	"github.com/ryuqq/fileflow/internal/domain/model"
	obserrors "github.com/ryuqq/fileflow/internal/observability/errors"
	"github.com/ryuqq/fileflow/internal/observability/metrics"
	"github.com/ryuqq/fileflow/internal/observability/notify"
	"github.com/ryuqq/fileflow/internal/observability/statsd"
	"github.com/ryuqq/fileflow/internal/service/failurenotifier"
)

// OutboxServiceOptions groups dependencies for OutboxService.
type OutboxServiceOptions struct {
	Repo            core.OutboxRepository    // Required: outbox repository
	Publisher       core.QueuePublisher      // Required: broker publisher
	Config          config.OutboxConfig      // Required: publisher configuration
	TimeProvider    data.TimeProvider        // Optional: defaults to real time
	Logger          *slog.Logger             // Optional: structured logger
	Metrics         statsd.Sink              // Optional: metrics sink (StatsD-compatible)
	FailureNotifier *failurenotifier.Service // Optional: alerting for permanent delivery failures
}

// OutboxService sweeps the outbox table and publishes messages to the broker.
//
// Each sweep runs three selects against one shared row budget:
// - pending messages, oldest first
// - failed messages whose backoff elapsed and retry budget remains
// - stale pending messages abandoned by a crashed publisher
//
// Delivery is at least once: a crash after publish but before MarkSent leaves
// the row pending and it is published again. Consumers deduplicate by
// message id.
type OutboxService struct {
	repo      core.OutboxRepository
	publisher core.QueuePublisher
	config    config.OutboxConfig
	time      data.TimeProvider
	logger    *slog.Logger
	metrics   statsd.Sink
	notifier  *failurenotifier.Service
}

// NewOutboxService constructs a new OutboxService.
func NewOutboxService(opts OutboxServiceOptions) (*OutboxService, error) {
	if opts.Repo == nil {
		return nil, errors.New("OutboxRepository is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("QueuePublisher is required")
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "outbox_service")
		logger.Debug("OutboxService initialized",
			"interval", opts.Config.Interval,
			"batch_size", opts.Config.BatchSize,
			"max_retry_count", opts.Config.MaxRetryCount,
		)
	}

	return &OutboxService{
		repo:      opts.Repo,
		publisher: opts.Publisher,
		config:    opts.Config,
		time:      tp,
		logger:    logger,
		metrics:   opts.Metrics,
		notifier:  opts.FailureNotifier,
	}, nil
}

// Run starts the publisher loop and runs until the context is cancelled.
func (s *OutboxService) Run(ctx context.Context) error {
	return sweepLoop{
		name:     "outbox publisher",
		interval: s.config.Interval,
		logger:   s.logger,
		sweep: func(ctx context.Context) error {
			_, err := s.RunSweep(ctx)
			return err
		},
	}.run(ctx)
}

// RunSweep performs one publisher pass and reports per-message outcomes.
func (s *OutboxService) RunSweep(ctx context.Context) (core.BatchResult, error) {
	start := time.Now()
	now := s.time.Now()

	messages, err := s.collect(ctx, now)
	if err != nil {
		s.emitSweep(core.BatchResult{}, time.Since(start), err)
		return core.BatchResult{}, err
	}

	result := s.publishBatch(ctx, messages)

	s.emitSweep(result, time.Since(start), nil)

	if result.Failed > 0 && s.logger != nil {
		s.logger.WarnContext(ctx, "outbox sweep had publish failures",
			"total", result.Total,
			"failed", result.Failed,
		)
	}
	return result, suppressContextCancellation(ctx.Err())
}

// collect gathers the sweep batch. All three selects share one budget so a
// flood of fresh messages cannot starve retries, and vice versa the selects
// run in a fixed order so fresh messages go first.
func (s *OutboxService) collect(ctx context.Context, now time.Time) ([]*model.OutboxMessage, error) {
	budget := s.config.BatchSize

	pending, err := s.repo.FindPending(ctx, budget)
	if err != nil {
		return nil, fmt.Errorf("find pending: %w", err)
	}
	budget -= len(pending)

	var retryable []*model.OutboxMessage
	if budget > 0 {
		retryAfter := now.Add(-s.config.RetryBackoff)
		retryable, err = s.repo.FindRetryable(ctx, s.config.MaxRetryCount, retryAfter, budget)
		if err != nil {
			return nil, fmt.Errorf("find retryable: %w", err)
		}
		budget -= len(retryable)
	}

	var stale []*model.OutboxMessage
	if budget > 0 {
		olderThan := now.Add(-s.config.StaleAfter)
		stale, err = s.repo.FindStalePending(ctx, olderThan, budget)
		if err != nil {
			return nil, fmt.Errorf("find stale pending: %w", err)
		}
	}

	merged := make([]*model.OutboxMessage, 0, len(pending)+len(retryable)+len(stale))
	seen := make(map[string]bool, cap(merged))
	for _, batch := range [][]*model.OutboxMessage{pending, retryable, stale} {
		for _, msg := range batch {
			if seen[msg.ID] {
				continue
			}
			seen[msg.ID] = true
			merged = append(merged, msg)
		}
	}
	return merged, nil
}

// publishBatch publishes messages with bounded parallelism. Failures are
// isolated per message: one bad row never aborts the batch.
func (s *OutboxService) publishBatch(ctx context.Context, messages []*model.OutboxMessage) core.BatchResult {
	result := core.BatchResult{Total: len(messages)}
	if len(messages) == 0 {
		return result
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)

	for _, msg := range messages {
		msg := msg
		g.Go(func() error {
			ok := s.publishOne(gctx, msg)
			mu.Lock()
			if ok {
				result.Success++
			} else {
				result.Failed++
			}
			mu.Unlock()
			return nil
		})
	}

	// Goroutines return nil; Wait only observes context cancellation.
	_ = g.Wait()
	return result
}

// publishOne publishes a single message and records the outcome.
func (s *OutboxService) publishOne(ctx context.Context, msg *model.OutboxMessage) bool {
	attributes := map[string]string{
		"message_id":   msg.ID,
		"operation_id": msg.OperationID,
		"event_type":   msg.EventType,
	}

	if err := s.publisher.Publish(ctx, msg.Destination, msg.Payload, attributes); err != nil {
		s.recordFailure(ctx, msg, err)
		return false
	}

	if err := s.repo.MarkSent(ctx, msg.ID, s.time.Now()); err != nil {
		// The publish went out. If MarkSent fails the row stays pending and
		// the message is published again next sweep, which the at-least-once
		// contract allows.
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "mark sent failed after publish",
				"message_id", msg.ID,
				"error", err,
			)
		}
		return false
	}
	return true
}

func (s *OutboxService) recordFailure(ctx context.Context, msg *model.OutboxMessage, publishErr error) {
	if s.logger != nil {
		s.logger.WarnContext(ctx, "outbox publish failed",
			"message_id", msg.ID,
			"destination", msg.Destination,
			"retry_count", msg.RetryCount,
			"error", publishErr,
		)
	}

	if err := s.repo.MarkFailed(ctx, msg.ID, publishErr.Error()); err != nil && s.logger != nil {
		s.logger.ErrorContext(ctx, "mark failed failed",
			"message_id", msg.ID,
			"error", err,
		)
	}

	if msg.Exhausted(s.config.MaxRetryCount - 1) {
		// Retry budget is gone after this failure. The row stays in failed
		// status for operators; nothing sweeps it again.
		if s.logger != nil {
			s.logger.ErrorContext(ctx, "outbox message permanently failed",
				"message_id", msg.ID,
				"operation_id", msg.OperationID,
				"destination", msg.Destination,
			)
		}
		if s.metrics != nil {
			s.metrics.Count("outbox.permanent_failures", 1, map[string]string{
				"destination": msg.Destination,
			})
		}
		if s.notifier != nil && s.notifier.Enabled() {
			s.notifier.NotifyOperationFailure(ctx, notify.OperationFailurePayload{
				OperationID: msg.OperationID,
				Kind:        msg.EventType,
				Status:      string(model.OutboxStatusFailed),
				Attempts:    msg.RetryCount + 1,
				Reason:      "outbox message exhausted its delivery retries",
				Error:       publishErr.Error(),
				ErrorClass:  obserrors.Classify(publishErr),
				Severity:    notify.SeverityWarning,
				OccurredAt:  s.time.Now(),
				Metadata: map[string]string{
					"message_id":  msg.ID,
					"destination": msg.Destination,
				},
			})
		}
	}
}

func (s *OutboxService) emitSweep(result core.BatchResult, elapsed time.Duration, err error) {
	metrics.EmitSweep(s.metrics, metrics.SweepMetric{
		Sweeper:  "outbox",
		Total:    result.Total,
		Success:  result.Success,
		Failed:   result.Failed,
		Duration: elapsed,
		Err:      suppressContextCancellation(err),
	})
}
