package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/richxcame/konversi/pkg/config"
	"github.com/richxcame/konversi/pkg/resilience"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============== Redis Config Tests ==============

func TestRedisConfig_RedisAddr(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config.RedisConfig
		expected string
	}{
		{"default localhost", config.RedisConfig{Host: "localhost", Port: "6379"}, "localhost:6379"},
		{"custom host and port", config.RedisConfig{Host: "redis.example.com", Port: "6380"}, "redis.example.com:6380"},
		{"empty values", config.RedisConfig{}, ":"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.cfg.RedisAddr())
		})
	}
}

// ============== Redis Retryable Error Tests ==============

func TestIsRedisRetryable_TableDriven(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"wrapped canceled", fmt.Errorf("ping: %w", context.Canceled), false},
		{"redis nil", goredis.Nil, false},
		{"connection refused", errors.New("dial tcp 127.0.0.1:6379: connect: connection refused"), true},
		{"connection reset", errors.New("read: connection reset by peer"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"no such host", errors.New("lookup redis: no such host"), true},
		{"io timeout", errors.New("i/o timeout"), true},
		{"pool timeout", errors.New("redis: connection pool timeout"), true},
		{"loading", errors.New("LOADING Redis is loading the dataset in memory"), true},
		{"busy", errors.New("BUSY Redis is busy running a script"), true},
		{"masterdown", errors.New("MASTERDOWN Link with MASTER is down"), true},
		{"readonly", errors.New("READONLY You can't write against a read only replica"), true},
		{"tryagain", errors.New("TRYAGAIN Multiple keys request during rehashing"), true},
		{"wrongtype", errors.New("WRONGTYPE Operation against a key holding the wrong kind of value"), false},
		{"noauth", errors.New("NOAUTH Authentication required"), false},
		{"wrongpass", errors.New("WRONGPASS invalid username-password pair"), false},
		{"unknown command", errors.New("ERR unknown command 'FOO'"), false},
		{"empty message", errors.New(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, isRedisRetryable(tt.err))
		})
	}
}

// ============== Connect Tests ==============

func fastRetry(attempts int) resilience.RetryConfig {
	return resilience.RetryConfig{
		Name:             "redis_connect_test",
		MaxAttempts:      attempts,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       time.Millisecond,
		RetryableChecker: isRedisRetryable,
	}
}

func TestPing_RetriesTransientErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectPing().SetErr(errors.New("LOADING Redis is loading the dataset in memory"))
	mock.ExpectPing().SetVal("PONG")

	err := ping(context.Background(), client, fastRetry(3))

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPing_PermanentErrorNotRetried(t *testing.T) {
	client, mock := redismock.NewClientMock()
	mock.ExpectPing().SetErr(errors.New("NOAUTH Authentication required"))

	err := ping(context.Background(), client, fastRetry(3))

	assert.EqualError(t, err, "NOAUTH Authentication required")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPing_GivesUpAfterMaxAttempts(t *testing.T) {
	client, mock := redismock.NewClientMock()
	for i := 0; i < 2; i++ {
		mock.ExpectPing().SetErr(errors.New("connection refused"))
	}

	err := ping(context.Background(), client, fastRetry(2))

	assert.EqualError(t, err, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConnectRetryConfig(t *testing.T) {
	cfg := connectRetryConfig()

	assert.Equal(t, "redis_connect", cfg.Name)
	assert.NotNil(t, cfg.RetryableChecker)
	assert.Greater(t, cfg.MaxAttempts, 1)
}
