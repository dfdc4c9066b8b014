package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RunRequestsStream carries on-demand run requests, one entry per run with a "mode" field.
const RunRequestsStream = "cbbdx:run_requests"

// StreamConsumerConfig configures a StreamConsumer.
type StreamConsumerConfig struct {
	// Stream is the Redis stream name to consume from (required).
	Stream string

	// Group is the consumer group name (required).
	Group string

	// Consumer is the consumer name within the group (required).
	Consumer string

	// Count is the max number of entries to read per batch. Default: 10.
	Count int64

	// Block is how long to wait for new entries. Default: 5 seconds.
	Block time.Duration

	// RetryInterval is the first wait after a read error, doubled up to MaxRetryInterval.
	RetryInterval    time.Duration
	MaxRetryInterval time.Duration

	Logger *zap.Logger
}

// MessageHandler processes a stream entry. A nil return acknowledges it; an error
// leaves it pending in the group.
type MessageHandler func(ctx context.Context, msg Message) error

// Message is one stream entry.
type Message struct {
	ID     string
	Stream string
	Values map[string]any
}

// Field returns the string value of a field, or "" when it is missing.
func (m Message) Field(name string) string {
	switch v := m.Values[name].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// StreamConsumer reads a Redis stream through a consumer group, retrying read
// errors with exponential backoff until its context ends.
type StreamConsumer struct {
	client *Client
	config StreamConsumerConfig
	logger *zap.Logger
}

// NewStreamConsumer creates a new stream consumer.
func NewStreamConsumer(client *Client, config StreamConsumerConfig) (*StreamConsumer, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Stream == "" || config.Group == "" || config.Consumer == "" {
		return nil, errors.New("stream, group and consumer are required")
	}

	if config.Count == 0 {
		config.Count = 10
	}
	if config.Block == 0 {
		config.Block = 5 * time.Second
	}
	if config.RetryInterval == 0 {
		config.RetryInterval = time.Second
	}
	if config.MaxRetryInterval == 0 {
		config.MaxRetryInterval = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StreamConsumer{client: client, config: config, logger: logger}, nil
}

// Run creates the consumer group if needed and calls handler for each entry. It blocks
// until ctx is cancelled.
func (sc *StreamConsumer) Run(ctx context.Context, handler MessageHandler) error {
	err := sc.client.client.XGroupCreateMkStream(ctx, sc.config.Stream, sc.config.Group, "$").Err()
	if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("create group %s on %s: %w", sc.config.Group, sc.config.Stream, err)
	}
	sc.logger.Info("Consumer group ready",
		zap.String("stream", sc.config.Stream),
		zap.String("group", sc.config.Group),
		zap.String("consumer", sc.config.Consumer))

	retryInterval := sc.config.RetryInterval
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		streams, err := sc.client.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    sc.config.Group,
			Consumer: sc.config.Consumer,
			Streams:  []string{sc.config.Stream, ">"},
			Count:    sc.config.Count,
			Block:    sc.config.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			sc.logger.Warn("Error reading from stream, will retry",
				zap.String("stream", sc.config.Stream),
				zap.Error(err),
				zap.Duration("retryIn", retryInterval))
			select {
			case <-time.After(retryInterval):
				retryInterval = min(retryInterval*2, sc.config.MaxRetryInterval)
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		retryInterval = sc.config.RetryInterval

		for _, stream := range streams {
			for _, x := range stream.Messages {
				sc.process(ctx, handler, Message{ID: x.ID, Stream: stream.Stream, Values: x.Values})
			}
		}
	}
}

func (sc *StreamConsumer) process(ctx context.Context, handler MessageHandler, msg Message) {
	if err := handler(ctx, msg); err != nil {
		sc.logger.Error("Error processing message",
			zap.String("stream", msg.Stream),
			zap.String("id", msg.ID),
			zap.Error(err))
		return
	}
	if err := sc.client.client.XAck(ctx, msg.Stream, sc.config.Group, msg.ID).Err(); err != nil {
		sc.logger.Warn("Failed to acknowledge message",
			zap.String("stream", msg.Stream),
			zap.String("id", msg.ID),
			zap.Error(err))
	}
}
