package health

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checker reports nil when the dependency is healthy.
type Checker func() error

// CheckerConfig holds settings shared by the dependency checkers.
type CheckerConfig struct {
	Timeout time.Duration
}

// DefaultCheckerConfig returns the default checker configuration
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{Timeout: 2 * time.Second}
}

// DatabaseChecker returns a health check function for PostgreSQL database
func DatabaseChecker(db *sql.DB) Checker {
	return DatabaseCheckerWithConfig(db, DefaultCheckerConfig())
}

// DatabaseCheckerWithConfig is DatabaseChecker with a custom timeout.
func DatabaseCheckerWithConfig(db *sql.DB, config CheckerConfig) Checker {
	return func() error {
		if db == nil {
			return errors.New("database connection is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		return db.PingContext(ctx)
	}
}

// RedisChecker returns a health check function for Redis
func RedisChecker(client redis.UniversalClient) Checker {
	return RedisCheckerWithConfig(client, DefaultCheckerConfig())
}

// RedisCheckerWithConfig is RedisChecker with a custom timeout.
func RedisCheckerWithConfig(client redis.UniversalClient, config CheckerConfig) Checker {
	return func() error {
		if client == nil {
			return errors.New("redis client is nil")
		}
		ctx, cancel := context.WithTimeout(context.Background(), config.Timeout)
		defer cancel()
		return client.Ping(ctx).Err()
	}
}

// CompositeChecker runs every checker and joins the failures, each prefixed
// with name.checker.
func CompositeChecker(name string, checkers map[string]Checker) Checker {
	return func() error {
		keys := make([]string, 0, len(checkers))
		for k := range checkers {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var failures []string
		for _, k := range keys {
			if err := checkers[k](); err != nil {
				failures = append(failures, fmt.Sprintf("%s.%s: %v", name, k, err))
			}
		}
		if len(failures) > 0 {
			return errors.New(strings.Join(failures, "; "))
		}
		return nil
	}
}

// AsyncChecker bounds checker by timeout. The checker keeps running in the
// background after a timeout.
func AsyncChecker(checker Checker, timeout time.Duration) Checker {
	return func() error {
		done := make(chan error, 1)
		go func() { done <- checker() }()

		select {
		case err := <-done:
			return err
		case <-time.After(timeout):
			return fmt.Errorf("health check timed out after %v", timeout)
		}
	}
}

// CachedChecker remembers the last result for cacheTTL so frequent probes do
// not hammer the dependency.
type CachedChecker struct {
	checker  Checker
	cacheTTL time.Duration

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// NewCachedChecker wraps checker with a result cache.
func NewCachedChecker(checker Checker, cacheTTL time.Duration) *CachedChecker {
	return &CachedChecker{checker: checker, cacheTTL: cacheTTL}
}

// Check returns the cached result or runs the checker when the cache expired.
func (c *CachedChecker) Check() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastCheck.IsZero() && time.Since(c.lastCheck) < c.cacheTTL {
		return c.lastErr
	}

	c.lastErr = c.checker()
	c.lastCheck = time.Now()
	return c.lastErr
}
