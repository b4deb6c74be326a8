package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ServiceMode names a worker this binary can run.
type ServiceMode string

const (
	// ServiceModeOutboxPublisher runs the outbox publisher sweeper.
	ServiceModeOutboxPublisher ServiceMode = "outbox-publisher"
	// ServiceModeReaper runs the zombie operation reaper.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeSessionReconciler runs the session deadline reconciliation sweep.
	ServiceModeSessionReconciler ServiceMode = "session-reconciler"
	// ServiceModeExpirationListener runs the cache expiration event listener.
	ServiceModeExpirationListener ServiceMode = "expiration-listener"
)

// ValidServiceModes lists every recognised mode, in display order.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeOutboxPublisher,
		ServiceModeReaper,
		ServiceModeSessionReconciler,
		ServiceModeExpirationListener,
	}
}

// ParseServices turns a comma-delimited service list into a mode set.
// Any unrecognised name fails the whole list.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	if servicesStr == "" {
		return nil, errors.New("at least one service must be specified")
	}

	services := make(map[ServiceMode]bool)

	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}

		mode := ServiceMode(name)
		if !slices.Contains(ValidServiceModes(), mode) {
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: outbox-publisher, reaper, session-reconciler, expiration-listener)",
				name,
			)
		}
		services[mode] = true
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// OutboxConfig contains outbox publisher configuration.
type OutboxConfig struct {
	// Interval is the publisher sweep interval.
	Interval time.Duration `env:"OUTBOX_INTERVAL" envDefault:"5s"`

	// BatchSize is the shared row budget for one sweep. Pending, retryable,
	// and stale selects all draw from the same budget.
	BatchSize int `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`

	// MaxRetryCount is the number of publish attempts before a message is
	// left in failed status permanently.
	MaxRetryCount int `env:"OUTBOX_MAX_RETRY_COUNT" envDefault:"5"`

	// RetryBackoff is the minimum age of a failed message's last attempt
	// before it is retried.
	RetryBackoff time.Duration `env:"OUTBOX_RETRY_BACKOFF" envDefault:"1m"`

	// StaleAfter is the age after which a pending message is treated as
	// abandoned by a crashed publisher and swept again. Kept near the sweep
	// interval so crash recovery lags delivery by about one sweep.
	StaleAfter time.Duration `env:"OUTBOX_STALE_AFTER" envDefault:"5s"`

	// Concurrency bounds parallel publishes within one sweep.
	Concurrency int `env:"OUTBOX_CONCURRENCY" envDefault:"4"`
}

// Sanitize applies guardrails to outbox publisher configuration values.
func (o *OutboxConfig) Sanitize() {
	if o.Interval < time.Second {
		o.Interval = time.Second
	}
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	if o.BatchSize > 10000 {
		o.BatchSize = 10000
	}
	if o.MaxRetryCount < 1 {
		o.MaxRetryCount = 1
	}
	if o.RetryBackoff < time.Second {
		o.RetryBackoff = time.Second
	}
	if o.StaleAfter < time.Second {
		o.StaleAfter = time.Second
	}
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
}

// ReaperConfig contains zombie operation reaper configuration.
type ReaperConfig struct {
	// Interval is how often the reaper sweeps.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"1m"`

	// StuckAfter is how long an operation may sit in a non-terminal status
	// without updates before it is considered a zombie.
	StuckAfter time.Duration `env:"REAPER_STUCK_AFTER" envDefault:"10m"`

	// BatchSize caps zombies processed per sweep, keeping each pass short
	// on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"100"`

	// LockKey is the distributed lock key guarding the sweep so only one
	// instance reaps at a time.
	LockKey string `env:"REAPER_LOCK_KEY" envDefault:"fileflow:lock:reaper"`
}

// Sanitize applies guardrails to reaper configuration values. Intervals get
// a floor so a misconfigured instance cannot hammer the database.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.StuckAfter < time.Minute {
		r.StuckAfter = time.Minute
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
	if strings.TrimSpace(r.LockKey) == "" {
		r.LockKey = "fileflow:lock:reaper"
	}
}

// ReconcilerConfig contains session deadline reconciliation configuration.
// The sweep is the safety net behind the expiration listener: it catches
// sessions whose cache expiration event was dropped.
type ReconcilerConfig struct {
	// Interval is the reconciliation sweep interval.
	Interval time.Duration `env:"RECONCILER_INTERVAL" envDefault:"1m"`

	// BatchSize is the maximum number of expired sessions to process per sweep.
	BatchSize int `env:"RECONCILER_BATCH_SIZE" envDefault:"100"`

	// LockKey is the distributed lock key guarding the sweep.
	LockKey string `env:"RECONCILER_LOCK_KEY" envDefault:"fileflow:lock:reconciler"`
}

// Sanitize applies guardrails to reconciler configuration values.
func (r *ReconcilerConfig) Sanitize() {
	if r.Interval < 10*time.Second {
		r.Interval = 10 * time.Second
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
	if strings.TrimSpace(r.LockKey) == "" {
		r.LockKey = "fileflow:lock:reconciler"
	}
}

// SessionConfig contains session mirroring and expiration listener configuration.
type SessionConfig struct {
	// KeyPrefix is the cache key prefix for session mirror entries. The
	// expiration listener only reacts to expired keys under this prefix.
	KeyPrefix string `env:"SESSION_KEY_PREFIX" envDefault:"fileflow:session:"`

	// DefaultTTL is the mirror TTL applied when a session has no deadline.
	DefaultTTL time.Duration `env:"SESSION_DEFAULT_TTL" envDefault:"30m"`
}

// Sanitize applies guardrails to session configuration values.
func (s *SessionConfig) Sanitize() {
	s.KeyPrefix = strings.TrimSpace(s.KeyPrefix)
	if s.KeyPrefix == "" {
		s.KeyPrefix = "fileflow:session:"
	}
	if s.DefaultTTL < time.Minute {
		s.DefaultTTL = time.Minute
	}
}

// LockConfig contains distributed lock configuration shared by lock-guarded sweeps.
type LockConfig struct {
	// Wait is how long TryLock polls for the lock before giving up.
	Wait time.Duration `env:"LOCK_WAIT" envDefault:"3s"`

	// Lease is the lock auto-release duration. Must comfortably exceed one
	// sweep pass so the lock does not expire mid-sweep.
	Lease time.Duration `env:"LOCK_LEASE" envDefault:"30s"`
}

// Sanitize applies guardrails to lock configuration values.
func (l *LockConfig) Sanitize() {
	if l.Wait < 0 {
		l.Wait = 0
	}
	if l.Lease < 5*time.Second {
		l.Lease = 5 * time.Second
	}
	if l.Lease <= l.Wait {
		l.Lease = l.Wait + 5*time.Second
	}
}

// QueueConfig contains message queue configuration.
type QueueConfig struct {
	// StreamPrefix is prepended to outbox destinations to form stream names.
	StreamPrefix string `env:"QUEUE_STREAM_PREFIX" envDefault:"fileflow:stream:"`

	// MaxLen bounds each stream's length (approximate trimming).
	MaxLen int64 `env:"QUEUE_MAX_LEN" envDefault:"100000"`
}

// Sanitize applies guardrails to queue configuration values.
func (q *QueueConfig) Sanitize() {
	q.StreamPrefix = strings.TrimSpace(q.StreamPrefix)
	if q.StreamPrefix == "" {
		q.StreamPrefix = "fileflow:stream:"
	}
	if q.MaxLen < 1000 {
		q.MaxLen = 1000
	}
}
