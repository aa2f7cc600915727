package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Default consumer group name.
	defaultConsumerGroup = "workers"

	// Default block timeout for reading from the stream.
	defaultBlockTimeout = 5 * time.Second

	// Default count of messages to read per batch.
	defaultBatchSize = 10
)

// Consumer handles reading tasks from the Redis stream with
// acknowledge-after-completion semantics: a crashed worker's unacked messages
// are redelivered, so every task must tolerate a second invocation.
type Consumer struct {
	client        *StreamsClient
	consumerGroup string
	consumerID    string
	blockTimeout  time.Duration
	batchSize     int64
}

// ConsumerConfig holds configuration for the Consumer.
type ConsumerConfig struct {
	ConsumerGroup string        // Consumer group name (empty = default)
	ConsumerID    string        // Unique consumer identifier (empty = random)
	BlockTimeout  time.Duration // Block timeout for reads (0 = default)
	BatchSize     int64         // Number of messages per read (0 = default)
}

// NewConsumer creates a new task consumer and ensures the consumer group exists.
func NewConsumer(ctx context.Context, client *StreamsClient, cfg ConsumerConfig) (*Consumer, error) {
	group := cfg.ConsumerGroup
	if group == "" {
		group = defaultConsumerGroup
	}
	consumerID := cfg.ConsumerID
	if consumerID == "" {
		consumerID = uuid.New().String()
	}
	blockTimeout := cfg.BlockTimeout
	if blockTimeout <= 0 {
		blockTimeout = defaultBlockTimeout
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	c := &Consumer{
		client:        client,
		consumerGroup: group,
		consumerID:    consumerID,
		blockTimeout:  blockTimeout,
		batchSize:     batchSize,
	}

	if err := c.ensureGroup(ctx); err != nil {
		return nil, err
	}

	return c, nil
}

// ensureGroup creates the consumer group if it does not exist yet.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.client.XGroupCreateMkStream(
		ctx, c.client.TaskStream(), c.consumerGroup, "0",
	).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Fetch reads the next batch of tasks, blocking up to the configured timeout.
// Returns an empty slice when no tasks arrive within the window.
func (c *Consumer) Fetch(ctx context.Context) ([]*ConsumedTask, error) {
	streams, err := c.client.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.consumerID,
		Streams:  []string{c.client.TaskStream(), ">"},
		Count:    c.batchSize,
		Block:    c.blockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from task stream: %w", err)
	}

	var tasks []*ConsumedTask
	for _, stream := range streams {
		for _, message := range stream.Messages {
			task, parseErr := parseTask(message)
			if parseErr != nil {
				// Poison message: ack it away so it is not redelivered forever.
				_ = c.Ack(ctx, message.ID)
				continue
			}
			tasks = append(tasks, task)
		}
	}

	return tasks, nil
}

// Ack acknowledges a processed message.
func (c *Consumer) Ack(ctx context.Context, messageID string) error {
	err := c.client.client.XAck(ctx, c.client.TaskStream(), c.consumerGroup, messageID).Err()
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", messageID, err)
	}
	return nil
}

// parseTask deserializes a stream message into a consumed task.
func parseTask(message redis.XMessage) (*ConsumedTask, error) {
	raw, ok := message.Values[TaskDataField].(string)
	if !ok {
		return nil, fmt.Errorf("message %s carries no task data", message.ID)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		return nil, fmt.Errorf("message %s carries malformed task data: %w", message.ID, err)
	}
	if !task.Kind.IsValid() {
		return nil, fmt.Errorf("message %s carries unknown task kind %q", message.ID, task.Kind)
	}

	return &ConsumedTask{MessageID: message.ID, Task: &task}, nil
}
