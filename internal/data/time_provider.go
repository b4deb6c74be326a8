package data

import "time"

// TimeProvider abstracts the clock so repositories and sweeps can be tested
// against a deterministic "now".
type TimeProvider interface {
	Now() time.Time
}

// RealTimeProvider reads the system clock.
type RealTimeProvider struct{}

func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

// FixedTimeProvider always reports the same instant.
type FixedTimeProvider struct {
	at time.Time
}

// NewFixedTimeProvider pins the clock to t.
func NewFixedTimeProvider(t time.Time) *FixedTimeProvider {
	return &FixedTimeProvider{at: t}
}

func (f *FixedTimeProvider) Now() time.Time {
	return f.at
}
