// Package queue provides the Redis Streams-based work queue carrying
// processing, extraction and check tasks from the API and the dispatcher to
// the workers.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Default connection timeout for Redis operations.
	defaultConnectionTimeout = 2 * time.Second

	// defaultPrefix namespaces the registry's stream keys.
	defaultPrefix = "registry"

	// taskStreamName is the stream all task messages flow through.
	taskStreamName = "tasks"
)

// StreamsClient wraps a Redis client with streams-specific operations.
type StreamsClient struct {
	client *redis.Client
	prefix string
}

// StreamsConfig holds configuration for the Redis Streams client.
type StreamsConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password" json:"-"`
	DB       int    `yaml:"db" mapstructure:"db"`
	Prefix   string `yaml:"prefix" mapstructure:"prefix"`
}

// NewStreamsClient creates a new Redis Streams client.
func NewStreamsClient(cfg StreamsConfig) (*StreamsClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectionTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}

	return &StreamsClient{
		client: client,
		prefix: prefix,
	}, nil
}

// TaskStream returns the namespaced task stream key.
func (c *StreamsClient) TaskStream() string {
	return c.prefix + ":" + taskStreamName
}

// Close closes the underlying Redis connection.
func (c *StreamsClient) Close() error {
	return c.client.Close()
}
