package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Memory event channels
const (
	ChannelMemoryStored   = "zikaron:memory:stored"
	ChannelMemoryOutcome  = "zikaron:memory:outcome"
	ChannelMemoryPromoted = "zikaron:memory:promoted"
)

// MemoryEvent is the payload published on memory event channels.
type MemoryEvent struct {
	UserID  string    `json:"user_id"`
	ItemID  string    `json:"item_id,omitempty"`
	Tier    string    `json:"tier,omitempty"`
	Outcome string    `json:"outcome,omitempty"`
	At      time.Time `json:"at"`
}

// RedisService publishes memory events for external consumers. The
// engine works without it: every method is nil-receiver safe, so a
// deployment without Redis just skips event publication.
type RedisService struct {
	client *redis.Client
	mu     sync.RWMutex
}

var (
	redisInstance *RedisService
	redisOnce     sync.Once
)

// NewRedisService creates a new Redis service instance
func NewRedisService(redisURL string) (*RedisService, error) {
	var initErr error

	redisOnce.Do(func() {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			initErr = fmt.Errorf("failed to parse Redis URL: %w", err)
			return
		}

		// Configure connection pool
		opts.PoolSize = 10
		opts.MinIdleConns = 2
		opts.MaxRetries = 3
		opts.DialTimeout = 5 * time.Second
		opts.ReadTimeout = 3 * time.Second
		opts.WriteTimeout = 3 * time.Second

		client := redis.NewClient(opts)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			initErr = fmt.Errorf("failed to connect to Redis: %w", err)
			return
		}

		redisInstance = &RedisService{client: client}

		log.Println("✅ Redis connection established")
	})

	if initErr != nil {
		return nil, initErr
	}
	return redisInstance, nil
}

// GetRedisService returns the singleton Redis service instance
func GetRedisService() *RedisService {
	return redisInstance
}

// Close closes the Redis connection
func (r *RedisService) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Ping checks if Redis is healthy
func (r *RedisService) Ping(ctx context.Context) error {
	if r == nil {
		return fmt.Errorf("redis not configured")
	}
	return r.client.Ping(ctx).Err()
}

// PublishEvent publishes a memory event, best-effort.
func (r *RedisService) PublishEvent(ctx context.Context, channel string, event MemoryEvent) {
	if r == nil || r.client == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("⚠️ [REDIS] Failed to marshal event: %v", err)
		return
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		log.Printf("⚠️ [REDIS] Failed to publish on %s: %v", channel, err)
	}
}
