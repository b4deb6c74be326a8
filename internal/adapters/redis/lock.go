package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the key only when the stored token matches, so an
// instance can never release a lock a later holder re-acquired after lease
// expiry.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// lockPollInterval is the delay between acquisition attempts while waiting.
const lockPollInterval = 100 * time.Millisecond

// Lock is a Redis-backed distributed lock. Acquisition is SET NX with a
// lease TTL; the lease auto-expires if the holder crashes.
type Lock struct {
	client redis.UniversalClient

	mu     sync.Mutex
	tokens map[string]string
}

// NewLock creates a distributed lock backed by the given Redis client.
func NewLock(client redis.UniversalClient) *Lock {
	return &Lock{
		client: client,
		tokens: make(map[string]string),
	}
}

// TryLock attempts to acquire the lock, polling for up to wait. It returns
// false without error when the lock stays held elsewhere for the whole wait.
func (l *Lock) TryLock(ctx context.Context, key string, wait, lease time.Duration) (bool, error) {
	if key == "" {
		return false, errors.New("lock key is required")
	}
	if lease <= 0 {
		return false, errors.New("lock lease must be positive")
	}

	token, err := newToken()
	if err != nil {
		return false, err
	}

	deadline := time.Now().Add(wait)
	for {
		ok, setErr := l.client.SetNX(ctx, key, token, lease).Result()
		if setErr != nil {
			return false, fmt.Errorf("acquire lock %s: %w", key, setErr)
		}
		if ok {
			l.mu.Lock()
			l.tokens[key] = token
			l.mu.Unlock()
			return true, nil
		}

		if !time.Now().Before(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// Unlock releases the lock if this instance still holds it. Releasing a lock
// that expired and moved on is a silent no-op.
func (l *Lock) Unlock(ctx context.Context, key string) error {
	l.mu.Lock()
	token, held := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()

	if !held {
		return nil
	}

	if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// IsHeld reports whether this process acquired the key and has not released
// it. The lease may still have expired server-side.
func (l *Lock) IsHeld(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.tokens[key]
	return held
}

func newToken() (string, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", fmt.Errorf("generate lock token: %w", err)
	}
	return hex.EncodeToString(buf[:]), nil
}
