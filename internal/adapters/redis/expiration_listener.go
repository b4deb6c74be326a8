package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// ExpirationListener surfaces Redis key-expiration notifications for session
// mirror keys. It subscribes to the keyspace event channel and forwards the
// operation id embedded in each expired key.
//
// Requires notify-keyspace-events to include "Ex" on the server. Delivery is
// best effort (pub/sub drops messages for slow or disconnected subscribers),
// which is why the reconciliation sweep exists.
type ExpirationListener struct {
	client    redis.UniversalClient
	db        int
	keyPrefix string
	logger    *slog.Logger
	buffer    int
}

// ExpirationListenerOptions groups dependencies for ExpirationListener.
type ExpirationListenerOptions struct {
	Client    redis.UniversalClient // Required: Redis client
	DB        int                   // Database index the mirror keys live in
	KeyPrefix string                // Required: mirror key prefix to filter on
	Logger    *slog.Logger          // Optional: structured logger
	Buffer    int                   // Optional: event channel buffer, defaults to 64
}

// NewExpirationListener creates a listener for expired session mirror keys.
func NewExpirationListener(opts ExpirationListenerOptions) (*ExpirationListener, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if strings.TrimSpace(opts.KeyPrefix) == "" {
		return nil, errors.New("key prefix is required")
	}

	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 64
	}

	var logger *slog.Logger
	if opts.Logger != nil {
		logger = opts.Logger.With("component", "expiration_listener")
	}

	return &ExpirationListener{
		client:    opts.Client,
		db:        opts.DB,
		keyPrefix: opts.KeyPrefix,
		logger:    logger,
		buffer:    buffer,
	}, nil
}

// Subscribe starts consuming expiration events and returns a channel of
// operation ids. The channel closes when ctx is cancelled or the pub/sub
// connection dies.
func (l *ExpirationListener) Subscribe(ctx context.Context) (<-chan string, error) {
	channel := fmt.Sprintf("__keyevent@%d__:expired", l.db)
	pubsub := l.client.Subscribe(ctx, channel)

	// Force the subscription onto the wire before returning so callers know
	// the listener is attached.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ids := make(chan string, l.buffer)
	go l.pump(ctx, pubsub, ids)
	return ids, nil
}

func (l *ExpirationListener) pump(ctx context.Context, pubsub *redis.PubSub, ids chan<- string) {
	defer close(ids)
	defer func() {
		if err := pubsub.Close(); err != nil && l.logger != nil {
			l.logger.Warn("close expiration pubsub failed", "error", err)
		}
	}()

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-messages:
			if !ok {
				if l.logger != nil && ctx.Err() == nil {
					l.logger.Warn("expiration pubsub channel closed")
				}
				return
			}

			id, match := l.extractID(msg.Payload)
			if !match {
				continue
			}

			select {
			case ids <- id:
			case <-ctx.Done():
				return
			}
		}
	}
}

// extractID filters for mirror keys and strips the prefix, leaving the
// operation id.
func (l *ExpirationListener) extractID(key string) (string, bool) {
	if !strings.HasPrefix(key, l.keyPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(key, l.keyPrefix)
	if id == "" {
		return "", false
	}
	return id, true
}
