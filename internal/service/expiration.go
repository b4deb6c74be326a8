package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ryuqq/fileflow/internal/core"
	"github.com/ryuqq/fileflow/internal/domain/model"
	"github.com/ryuqq/fileflow/internal/observability/metrics"
	"github.com/ryuqq/fileflow/internal/observability/statsd"
)

// ExpirationServiceOptions groups dependencies for ExpirationService.
type ExpirationServiceOptions struct {
	Operations *OperationService     // Required: drives the expire transition
	Events     core.ExpirationEvents // Required: cache expiration event source
	Logger     *slog.Logger          // Optional: structured logger
	Metrics    statsd.Sink           // Optional: metrics sink (StatsD-compatible)
}

// ExpirationService reacts to session mirror keys expiring in the cache.
// Each expired key carries the operation id of a session whose deadline
// elapsed; the service expires that operation in the database.
//
// Delivery is best effort. Events dropped during cache failover are caught by
// the ReconcilerService sweep, and Expire is idempotent so duplicate events
// settle as no-ops.
type ExpirationService struct {
	operations *OperationService
	events     core.ExpirationEvents
	logger     *slog.Logger
	metrics    statsd.Sink
}

// NewExpirationService constructs a new ExpirationService.
func NewExpirationService(opts ExpirationServiceOptions) (*ExpirationService, error) {
	if opts.Operations == nil {
		return nil, errors.New("OperationService is required")
	}
	if opts.Events == nil {
		return nil, errors.New("ExpirationEvents is required")
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "expiration_service")
	}

	return &ExpirationService{
		operations: opts.Operations,
		events:     opts.Events,
		logger:     logger,
		metrics:    opts.Metrics,
	}, nil
}

// Run consumes expiration events until the context is cancelled or the
// subscription closes. Returns nil on graceful shutdown.
func (s *ExpirationService) Run(ctx context.Context) error {
	ids, err := s.events.Subscribe(ctx)
	if err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "expiration listener started")
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case id, ok := <-ids:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("expiration event subscription closed")
			}
			s.handleExpired(ctx, id)
		}
	}
}

// handleExpired expires a single operation. Every failure mode here is
// tolerable: missing rows were reaped, terminal rows already settled, and
// anything else is retried by the reconciliation sweep.
func (s *ExpirationService) handleExpired(ctx context.Context, id string) {
	op, err := s.operations.Expire(ctx, id)
	switch {
	case errors.Is(err, model.ErrOperationNotFound):
		s.count(metrics.ResultNoop)
		return
	case err != nil:
		if s.logger != nil {
			s.logger.WarnContext(ctx, "expire from cache event failed",
				"operation_id", id,
				"error", err,
			)
		}
		s.count(metrics.ResultError)
		return
	}

	if op.Status != model.StatusExpired {
		// Terminal before the event arrived; last transition wins.
		s.count(metrics.ResultNoop)
		return
	}

	if s.logger != nil {
		s.logger.InfoContext(ctx, "expired session from cache event",
			"operation_id", id,
			"kind", op.Kind,
		)
	}
	s.count(metrics.ResultSuccess)
}

func (s *ExpirationService) count(result string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Count("expiration.events", 1, map[string]string{"result": result})
}
