// Package failurenotifier fans operation-failure events out to the
// configured alerting sinks. Delivery is best effort: a failing sink is
// logged and never propagates to the caller.
package failurenotifier

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ryuqq/fileflow/internal/observability/notify"
)

// SinkRegistration pairs a sink implementation with a human-readable name
// for logging.
type SinkRegistration struct {
	Name string
	Sink notify.Sink
}

// Options carries the notifier's logger and sink set.
type Options struct {
	Logger *slog.Logger
	Sinks  []SinkRegistration
}

// Service fans an operation-failure payload out to every registered sink.
type Service struct {
	logger *slog.Logger
	sinks  []SinkRegistration
}

// NewService constructs a failure notifier. Registrations without a sink are
// dropped; registrations without a name get a generic one.
func NewService(opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default().With("component", "failure_notifier")
	}

	sinks := make([]SinkRegistration, 0, len(opts.Sinks))
	for _, reg := range opts.Sinks {
		if reg.Sink == nil {
			continue
		}
		if reg.Name == "" {
			reg.Name = "sink"
		}
		sinks = append(sinks, reg)
	}

	return &Service{logger: logger, sinks: sinks}
}

// Enabled is false when no sink survived registration.
func (s *Service) Enabled() bool {
	return len(s.sinks) > 0
}

// NotifyOperationFailure delivers the payload to every sink concurrently and
// waits for all deliveries to settle.
func (s *Service) NotifyOperationFailure(ctx context.Context, payload notify.OperationFailurePayload) {
	if !s.Enabled() {
		return
	}
	if payload.Severity == "" {
		payload.Severity = notify.SeverityCritical
	}

	var wg sync.WaitGroup
	for _, reg := range s.sinks {
		reg := reg
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.deliver(ctx, reg, payload)
		}()
	}
	wg.Wait()
}

func (s *Service) deliver(ctx context.Context, reg SinkRegistration, payload notify.OperationFailurePayload) {
	if err := reg.Sink.SendOperationFailure(ctx, payload); err != nil {
		s.logger.Error("failure notifier delivery error",
			"sink", reg.Name,
			"operation_id", payload.OperationID,
			"kind", payload.Kind,
			"error", err,
		)
	}
}
