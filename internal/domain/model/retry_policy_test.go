package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	policy := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 30 * time.Second},
		{attempt: 2, want: 60 * time.Second},
		{attempt: 3, want: 120 * time.Second},
		{attempt: 4, want: 240 * time.Second},
		{attempt: 5, want: 480 * time.Second},
		// 960s exceeds the 10m cap.
		{attempt: 6, want: 10 * time.Minute},
		{attempt: 20, want: 10 * time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, policy.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_DelayDefaultsZeroValue(t *testing.T) {
	var policy RetryPolicy

	// A zero-valued policy falls back to the default base and multiplier.
	assert.Equal(t, 30*time.Second, policy.Delay(1))
	assert.Equal(t, 60*time.Second, policy.Delay(2))
}

func TestRetryPolicy_NextRetryAt(t *testing.T) {
	policy := RetryPolicy{Base: 10 * time.Second, Multiplier: 3, Max: time.Hour}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(10*time.Second), policy.NextRetryAt(now, 1))
	assert.Equal(t, now.Add(30*time.Second), policy.NextRetryAt(now, 2))
	assert.Equal(t, now.Add(90*time.Second), policy.NextRetryAt(now, 3))
}
