package schemacache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// resubscribeDelay is the backoff before re-subscribing after the pub/sub
// channel drops.
const resubscribeDelay = 2 * time.Second

// ChangeEvent is the payload published on the schema-change channel.
type ChangeEvent struct {
	UserID string `json:"user_id"`
	DBType string `json:"db_type"`
}

// Listener subscribes to schema-change notifications and keeps the cache
// fresh: invalidate first, then eagerly re-populate while the connection
// is live. Malformed payloads are logged and dropped; the loop never dies.
type Listener struct {
	client  *redis.Client
	channel string
	cache   *Cache
	logger  *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewListener creates a listener for the given pub/sub channel.
func NewListener(client *redis.Client, channel string, cache *Cache, logger *zap.Logger) *Listener {
	return &Listener{
		client:  client,
		channel: channel,
		cache:   cache,
		logger:  logger,
	}
}

// Start launches the listener goroutine. Call Stop to shut it down.
func (l *Listener) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx)
}

// Stop terminates the listener and waits for the loop to exit.
func (l *Listener) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	<-l.done
}

// run subscribes and consumes messages until the context is cancelled,
// re-subscribing with backoff whenever the channel closes underneath us.
func (l *Listener) run(ctx context.Context) {
	defer close(l.done)

	for {
		if err := l.consume(ctx); err != nil {
			l.logger.Warn("schema change subscription lost, resubscribing",
				zap.String("channel", l.channel),
				zap.Error(err),
			)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func (l *Listener) consume(ctx context.Context) error {
	sub := l.client.Subscribe(ctx, l.channel)
	defer sub.Close()

	// Confirm the subscription before consuming.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	l.logger.Info("listening for schema changes", zap.String("channel", l.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			l.handle(ctx, msg.Payload)
		}
	}
}

// handle processes one notification. Errors stay inside this method by
// design: a bad event must never take the listener down.
func (l *Listener) handle(ctx context.Context, payload string) {
	var event ChangeEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		l.logger.Warn("dropping malformed schema change event",
			zap.String("payload", payload),
			zap.Error(err),
		)
		return
	}
	if event.UserID == "" || event.DBType == "" {
		l.logger.Warn("dropping schema change event with missing fields",
			zap.String("payload", payload),
		)
		return
	}

	if err := l.cache.Invalidate(ctx, event.UserID, event.DBType); err != nil {
		l.logger.Warn("schema invalidation failed",
			zap.String("userID", event.UserID),
			zap.String("dbType", event.DBType),
			zap.Error(err),
		)
		return
	}

	l.logger.Info("schema invalidated by change notification",
		zap.String("userID", event.UserID),
		zap.String("dbType", event.DBType),
	)

	// Re-populate eagerly so the next reader gets a warm cache.
	l.cache.Prime(ctx, event.UserID, event.DBType)
}
