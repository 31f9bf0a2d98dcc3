package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/richxcame/konversi/pkg/config"
	"github.com/richxcame/konversi/pkg/resilience"
)

// Client wraps the Redis client
type Client struct {
	*redis.Client
}

// NewRedisClient creates a new Redis client and waits for the server to
// answer PING, retrying transient failures.
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := ping(ctx, client, connectRetryConfig()); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("unable to connect to redis: %w", err)
	}

	return &Client{Client: client}, nil
}

func connectRetryConfig() resilience.RetryConfig {
	cfg := resilience.ConservativeRetryConfig()
	cfg.Name = "redis_connect"
	cfg.RetryableChecker = isRedisRetryable
	return cfg
}

func ping(ctx context.Context, client redis.UniversalClient, retry resilience.RetryConfig) error {
	_, err := resilience.Retry(ctx, retry, func(ctx context.Context) (interface{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return nil, client.Ping(pingCtx).Err()
	})
	return err
}

var retryableMessages = []string{
	"connection refused",
	"connection reset",
	"broken pipe",
	"no such host",
	"network is unreachable",
	"timeout",
	"server closed",
	"unexpected eof",
	"pool exhausted",
	"loading",
	"busy",
	"masterdown",
	"readonly",
	"tryagain",
	"clusterdown",
}

// isRedisRetryable reports whether err is a transient connection or server
// state error. Command errors such as WRONGTYPE or NOAUTH are permanent.
func isRedisRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, redis.Nil) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
