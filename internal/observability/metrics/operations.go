package metrics

import (
	"maps"
	"time"

	obserrors "github.com/ryuqq/fileflow/internal/observability/errors"
	"github.com/ryuqq/fileflow/internal/observability/statsd"
)

// Values accepted for the result tag.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// OperationMetric captures details about an operation lifecycle event for metric emission.
type OperationMetric struct {
	Kind       string
	Transition string
	Result     string
	Duration   time.Duration
	Err        error
}

// EmitOperationLifecycle emits standardised operation lifecycle metrics.
func EmitOperationLifecycle(sink statsd.Sink, in OperationMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"kind":       in.Kind,
		"transition": in.Transition,
		"result":     in.Result,
	}

	if in.Err != nil && in.Result == ResultError {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("operation.transition", 1, tags)

	if in.Duration > 0 {
		sink.Timing("operation.duration", in.Duration, CloneTags(tags))
	}
}

// SweepMetric captures the outcome of one sweep pass of a background runner.
type SweepMetric struct {
	Sweeper  string
	Total    int
	Success  int
	Failed   int
	Duration time.Duration
	Err      error
}

// EmitSweep emits standardised sweep metrics for the outbox publisher, the
// reaper, and the session reconciler.
func EmitSweep(sink statsd.Sink, in SweepMetric) {
	if sink == nil {
		return
	}

	result := ResultSuccess
	switch {
	case in.Err != nil:
		result = ResultError
	case in.Total == 0:
		result = ResultNoop
	}

	tags := map[string]string{
		"sweeper": in.Sweeper,
		"result":  result,
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("sweep.runs", 1, tags)
	sink.Count("sweep.processed", int64(in.Total), CloneTags(tags))
	sink.Count("sweep.succeeded", int64(in.Success), CloneTags(tags))
	sink.Count("sweep.failed", int64(in.Failed), CloneTags(tags))

	if in.Duration > 0 {
		sink.Timing("sweep.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags copies a tag map so each emission can hold its own set.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}
