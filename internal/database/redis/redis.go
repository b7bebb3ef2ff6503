package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/DEFRA/fcp-sfd-comms-sub000/internal/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis client used for the sweep single-flight lock.
type Client struct {
	client *redis.Client
}

func NewRedisClient(cfg config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client}, nil
}

func (c *Client) GetClient() *redis.Client {
	return c.client
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SweepLock is a non-blocking distributed try-lock. A sweep tick that
// fails to acquire it skips that tick rather than queueing behind the
// holder; the TTL releases locks abandoned by a crashed holder.
type SweepLock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration
}

func NewSweepLock(c *Client, key, owner string, ttl time.Duration) *SweepLock {
	return &SweepLock{
		client: c.client,
		key:    key,
		owner:  owner,
		ttl:    ttl,
	}
}

func (l *SweepLock) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire sweep lock: %w", err)
	}
	return acquired, nil
}

func (l *SweepLock) Release(ctx context.Context) error {
	// Only the owner may release; a lock taken over after TTL expiry
	// must not be deleted by the stale holder.
	current, err := l.client.Get(ctx, l.key).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read sweep lock: %w", err)
	}
	if current != l.owner {
		return nil
	}
	if err := l.client.Del(ctx, l.key).Err(); err != nil {
		return fmt.Errorf("failed to release sweep lock: %w", err)
	}
	return nil
}
