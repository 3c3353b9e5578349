// Package preferences is the event-sourced preference store: an append-only
// per-user log plus a global feed that drives reactive re-evaluation, both on
// Redis Streams.
package preferences

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/metrics"
)

const (
	userStreamPrefix = "preferences:user:"
	feedStream       = "preferences:events"
)

// Event is one preference-added occurrence.
type Event struct {
	UserID     string
	Preference string
}

// Handler processes one preference-added event.
type Handler func(ctx context.Context, evt Event)

// Store appends and reads preference events.
type Store struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewStore creates a Redis Streams preference store.
func NewStore(rdb *redis.Client, logger *zap.Logger) *Store {
	return &Store{rdb: rdb, logger: logger}
}

func userStream(userID string) string { return userStreamPrefix + userID }

// Append adds a preference to the user's log and to the global feed in one
// MULTI/EXEC, so consumers never observe one without the other.
func (s *Store) Append(ctx context.Context, userID, preference string) error {
	pipe := s.rdb.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: userStream(userID),
		Values: map[string]interface{}{"preference": preference},
	})
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: feedStream,
		Values: map[string]interface{}{"user_id": userID, "preference": preference},
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append preference: %w", err)
	}
	s.logger.Info("Preference added",
		zap.String("user_id", userID),
		zap.String("preference", preference))
	return nil
}

// List returns a snapshot of the user's current preference entries, in
// append order. Consumers attach no meaning to the order.
func (s *Store) List(ctx context.Context, userID string) ([]string, error) {
	msgs, err := s.rdb.XRange(ctx, userStream(userID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read preferences: %w", err)
	}
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if v, ok := m.Values["preference"].(string); ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// Consumer tails the global preference feed and invokes the handler once per
// event, in per-user delivery order.
type Consumer struct {
	rdb     *redis.Client
	logger  *zap.Logger
	handler Handler
	lastID  string
	block   time.Duration
}

// NewConsumer creates a feed consumer. startID is the stream id to read
// after; use "$" to consume only new events, "0" to replay the feed.
func NewConsumer(rdb *redis.Client, handler Handler, startID string, logger *zap.Logger) *Consumer {
	if startID == "" {
		startID = "$"
	}
	return &Consumer{
		rdb:     rdb,
		logger:  logger,
		handler: handler,
		lastID:  startID,
		block:   time.Second,
	}
}

// Run consumes the feed until ctx is cancelled. Handler invocations happen
// inline; the handler itself is expected to fan out per-session work.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("Preference consumer started", zap.String("start_id", c.lastID))
	for {
		if ctx.Err() != nil {
			return
		}

		streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{feedStream, c.lastID},
			Block:   c.block,
			Count:   64,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			c.logger.Error("Preference feed read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.lastID = msg.ID
				userID, _ := msg.Values["user_id"].(string)
				preference, _ := msg.Values["preference"].(string)
				if userID == "" {
					continue
				}
				metrics.PreferenceEvents.Inc()
				c.handler(ctx, Event{UserID: userID, Preference: preference})
			}
		}
	}
}
