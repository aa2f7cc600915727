package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// TaskDataField is the field name for serialized task data in stream messages.
	TaskDataField = "task"

	// EnqueuedAtField is the field name for the enqueue timestamp.
	EnqueuedAtField = "enqueued_at"

	// Default max stream length to prevent unbounded growth.
	defaultMaxStreamLen = 10000
)

// Producer handles enqueueing tasks to the Redis stream.
type Producer struct {
	client       *StreamsClient
	maxStreamLen int64
}

// ProducerConfig holds configuration for the Producer.
type ProducerConfig struct {
	MaxStreamLen int64 // Maximum stream length (0 = default)
}

// NewProducer creates a new task producer.
func NewProducer(client *StreamsClient, cfg ProducerConfig) *Producer {
	maxLen := cfg.MaxStreamLen
	if maxLen <= 0 {
		maxLen = defaultMaxStreamLen
	}

	return &Producer{
		client:       client,
		maxStreamLen: maxLen,
	}
}

// Enqueue adds a task to the stream and returns the stream message id.
func (p *Producer) Enqueue(ctx context.Context, task *Task) (string, error) {
	if task == nil {
		return "", errors.New("task cannot be nil")
	}
	if !task.Kind.IsValid() {
		return "", fmt.Errorf("unknown task kind: %s", task.Kind)
	}

	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	data, marshalErr := json.Marshal(task)
	if marshalErr != nil {
		return "", fmt.Errorf("failed to serialize task: %w", marshalErr)
	}

	id, err := p.client.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.client.TaskStream(),
		MaxLen: p.maxStreamLen,
		Approx: true,
		Values: map[string]any{
			TaskDataField:   string(data),
			EnqueuedAtField: task.EnqueuedAt.Format(time.RFC3339),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue task: %w", err)
	}

	return id, nil
}

// EnqueueProcess enqueues a processing task for the dataset URL.
func (p *Producer) EnqueueProcess(ctx context.Context, urlID int64) error {
	_, err := p.Enqueue(ctx, &Task{Kind: KindProcess, URLID: urlID})
	return err
}

// EnqueueExtract enqueues a metadata extraction task.
func (p *Producer) EnqueueExtract(ctx context.Context, urlID int64, extractor string) error {
	_, err := p.Enqueue(ctx, &Task{Kind: KindExtract, URLID: urlID, Extractor: extractor})
	return err
}

// EnqueueCheck enqueues a per-URL check task.
func (p *Producer) EnqueueCheck(ctx context.Context, urlID int64, requested bool) error {
	_, err := p.Enqueue(ctx, &Task{Kind: KindCheck, URLID: urlID, Requested: requested})
	return err
}
