package service

import (
	"context"
	"encoding/json"
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

// DestinationForKind maps an operation kind to the queue destination its
// events are published to.
func DestinationForKind(kind model.OperationKind) string {
	switch kind {
	case model.KindUploadSession, model.KindMultipartUploadSession:
		return "upload-sessions"
	case model.KindExternalDownload:
		return "external-downloads"
	case model.KindTransformRequest:
		return "transform-requests"
	default:
		return "operations"
	}
}

// OperationServiceOptions groups dependencies for OperationService.
type OperationServiceOptions struct {
	Repo         core.OperationRepository // Required: operation repository
	Cache        core.CacheRepository     // Optional: session mirror cache
	Session      config.SessionConfig     // Session mirror settings
	RetryPolicy  model.RetryPolicy        // Optional: defaults to model.DefaultRetryPolicy
	TimeProvider data.TimeProvider        // Optional: defaults to real time
	Logger       *slog.Logger             // Optional: structured logger
	Metrics      statsd.Sink              // Optional: metrics sink (StatsD-compatible)
}

// OperationService drives the operation state machine. Every transition is
// committed together with its outbox messages, so downstream consumers see
// each state change at least once.
type OperationService struct {
	repo        core.OperationRepository
	cache       core.CacheRepository
	session     config.SessionConfig
	retryPolicy model.RetryPolicy
	time        data.TimeProvider
	logger      *slog.Logger
	metrics     statsd.Sink
}

// NewOperationService constructs a new OperationService.
func NewOperationService(opts OperationServiceOptions) (*OperationService, error) {
	if opts.Repo == nil {
		return nil, errors.New("OperationRepository is required")
	}

	policy := opts.RetryPolicy
	if policy.Base <= 0 {
		policy = model.DefaultRetryPolicy()
	}

	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "operation_service")
	}

	return &OperationService{
		repo:        opts.Repo,
		cache:       opts.Cache,
		session:     opts.Session,
		retryPolicy: policy,
		time:        tp,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// CreateOrGet registers a new operation, or returns the existing one when the
// idempotency key is already taken. The enqueued event's outbox row commits
// with the insert. Session operations are additionally mirrored into the
// cache with a TTL matching their deadline.
func (s *OperationService) CreateOrGet(ctx context.Context, req *model.CreateOperationRequest) (core.CreateOutcome, error) {
	if req == nil {
		return core.CreateOutcome{}, errors.New("create operation request is required")
	}

	now := s.time.Now()
	op, err := model.NewOperation(req, now)
	if err != nil {
		return core.CreateOutcome{}, err
	}

	outbox, err := outboxForOperationEvents(op)
	if err != nil {
		return core.CreateOutcome{}, err
	}

	outcome, err := s.repo.CreateOrGet(ctx, core.TransitionParams{Operation: op, Outbox: outbox})
	if err != nil {
		s.emitTransition(op.Kind, "create", metrics.ResultError, err)
		return core.CreateOutcome{}, err
	}

	if !outcome.Created {
		if s.logger != nil {
			s.logger.InfoContext(ctx, "idempotent create matched existing operation",
				"operation_id", outcome.Operation.ID,
				"kind", outcome.Operation.Kind,
			)
		}
		s.emitTransition(outcome.Operation.Kind, "create", metrics.ResultNoop, nil)
		return outcome, nil
	}

	s.mirrorSession(ctx, outcome.Operation)
	s.emitTransition(outcome.Operation.Kind, "create", metrics.ResultSuccess, nil)
	return outcome, nil
}

// Start moves a queued operation to processing.
func (s *OperationService) Start(ctx context.Context, id string) (*model.Operation, error) {
	return s.transition(ctx, id, "start", func(op *model.Operation, now time.Time) error {
		return op.Start(now)
	})
}

// Complete finishes a processing operation with its result reference. The
// session mirror entry, if any, is removed so its expiration never fires.
func (s *OperationService) Complete(ctx context.Context, id, result string) (*model.Operation, error) {
	op, err := s.transition(ctx, id, "complete", func(op *model.Operation, now time.Time) error {
		return op.Complete(result, now)
	})
	if err != nil {
		return nil, err
	}

	s.dropSessionMirror(ctx, op)
	return op, nil
}

// Fail records a processing failure. The operation is requeued with backoff
// while attempts remain, terminally failed otherwise.
func (s *OperationService) Fail(ctx context.Context, id, reason string) (*model.Operation, error) {
	op, err := s.transition(ctx, id, "fail", func(op *model.Operation, now time.Time) error {
		return op.Fail(reason, s.retryPolicy, now)
	})
	if err != nil {
		return nil, err
	}

	if op.Status.Terminal() {
		s.dropSessionMirror(ctx, op)
	}
	return op, nil
}

// Expire moves a non-terminal operation to expired. Expiring an already
// terminal operation is a no-op, which makes the expiration listener and the
// reconciliation sweep safe to overlap.
func (s *OperationService) Expire(ctx context.Context, id string) (*model.Operation, error) {
	now := s.time.Now()

	op, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := op.Status
	if !op.Expire(now) {
		s.emitTransition(op.Kind, "expire", metrics.ResultNoop, nil)
		return op, nil
	}

	if err := s.persistTransition(ctx, previous, op); err != nil {
		// Lost the race to another expire or transition. The winner already
		// settled the row, so this is still a no-op for the caller.
		if errors.Is(err, model.ErrConcurrentTransition) {
			s.emitTransition(op.Kind, "expire", metrics.ResultNoop, nil)
			return s.repo.GetByID(ctx, id)
		}
		s.emitTransition(op.Kind, "expire", metrics.ResultError, err)
		return nil, err
	}

	s.dropSessionMirror(ctx, op)
	s.emitTransition(op.Kind, "expire", metrics.ResultSuccess, nil)
	return op, nil
}

// RegisterPart records a completed part on a multipart upload session.
func (s *OperationService) RegisterPart(ctx context.Context, id string, part model.CompletedPart) (*model.Operation, error) {
	return s.transition(ctx, id, "register_part", func(op *model.Operation, now time.Time) error {
		return model.RegisterPart(op, part, now)
	})
}

// GetByID fetches an operation.
func (s *OperationService) GetByID(ctx context.Context, id string) (*model.Operation, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns operations matching the query, newest first.
func (s *OperationService) List(ctx context.Context, q core.ListQuery) ([]*model.Operation, error) {
	return s.repo.List(ctx, q)
}

// transition loads the operation, applies fn, and persists the result with
// its outbox rows under the optimistic status guard.
func (s *OperationService) transition(
	ctx context.Context,
	id string,
	label string,
	fn func(op *model.Operation, now time.Time) error,
) (*model.Operation, error) {
	now := s.time.Now()

	op, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	previous := op.Status
	if err := fn(op, now); err != nil {
		s.emitTransition(op.Kind, label, metrics.ResultError, err)
		return nil, err
	}

	if err := s.persistTransition(ctx, previous, op); err != nil {
		s.emitTransition(op.Kind, label, metrics.ResultError, err)
		return nil, err
	}

	s.emitTransition(op.Kind, label, metrics.ResultSuccess, nil)
	return op, nil
}

func (s *OperationService) persistTransition(ctx context.Context, previous model.OperationStatus, op *model.Operation) error {
	outbox, err := outboxForOperationEvents(op)
	if err != nil {
		return err
	}
	return s.repo.Update(ctx, previous, core.TransitionParams{Operation: op, Outbox: outbox})
}

// mirrorSession writes a session operation into the cache with a TTL ending
// at its deadline. The key's expiration is what drives the expiration
// listener; the reconciliation sweep covers dropped events.
func (s *OperationService) mirrorSession(ctx context.Context, op *model.Operation) {
	if s.cache == nil || !op.Kind.SessionKind() {
		return
	}

	ttl := s.session.DefaultTTL
	if op.DeadlineAt != nil {
		if remaining := op.DeadlineAt.Sub(s.time.Now()); remaining > 0 {
			ttl = remaining
		}
	}

	value, err := json.Marshal(op)
	if err != nil {
		s.logMirrorError(ctx, op.ID, fmt.Errorf("marshal session mirror: %w", err))
		return
	}

	if err := s.cache.Set(ctx, s.sessionKey(op.ID), value, ttl); err != nil {
		// Mirror failures are not fatal: the reconciliation sweep expires
		// sessions from the database regardless.
		s.logMirrorError(ctx, op.ID, err)
	}
}

func (s *OperationService) dropSessionMirror(ctx context.Context, op *model.Operation) {
	if s.cache == nil || !op.Kind.SessionKind() {
		return
	}
	if _, err := s.cache.Delete(ctx, s.sessionKey(op.ID)); err != nil {
		s.logMirrorError(ctx, op.ID, err)
	}
}

func (s *OperationService) sessionKey(id string) string {
	return s.session.KeyPrefix + id
}

func (s *OperationService) logMirrorError(ctx context.Context, id string, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WarnContext(ctx, "session mirror update failed",
		"operation_id", id,
		"error", err,
	)
}

func (s *OperationService) emitTransition(kind model.OperationKind, transition, result string, err error) {
	metrics.EmitOperationLifecycle(s.metrics, metrics.OperationMetric{
		Kind:       string(kind),
		Transition: transition,
		Result:     result,
		Err:        err,
	})
}
