package model

import "time"

// RetryPolicy computes when a failed operation becomes eligible for another
// attempt. The delay grows exponentially per attempt and is capped so a
// misbehaving downstream is not hammered but retries stay bounded.
type RetryPolicy struct {
	Base       time.Duration
	Multiplier float64
	Max        time.Duration
}

// DefaultRetryPolicy spaces retries at 30s, 60s, 120s ... capped at 10m.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Base:       30 * time.Second,
		Multiplier: 2,
		Max:        10 * time.Minute,
	}
}

// NextRetryAt returns now + base * multiplier^(attempt-1), capped at Max.
// The first retry (attempt 1) waits exactly Base.
func (p RetryPolicy) NextRetryAt(now time.Time, attempt int) time.Time {
	return now.UTC().Add(p.Delay(attempt))
}

// Delay returns the backoff delay for the given attempt number (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 30 * time.Second
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}

	delay := float64(base)
	for i := 1; i < attempt; i++ {
		delay *= multiplier
		if p.Max > 0 && delay >= float64(p.Max) {
			return p.Max
		}
	}

	d := time.Duration(delay)
	if p.Max > 0 && d > p.Max {
		return p.Max
	}
	return d
}
