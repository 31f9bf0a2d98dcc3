package health

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
)

// ==================== CheckerConfig Tests ====================

func TestDefaultCheckerConfig(t *testing.T) {
	config := DefaultCheckerConfig()

	if config.Timeout != 2*time.Second {
		t.Errorf("Timeout = %v, want 2s", config.Timeout)
	}
}

// ==================== Database Checker Tests ====================

func TestDatabaseChecker_NilDB(t *testing.T) {
	err := DatabaseChecker(nil)()

	if err == nil || err.Error() != "database connection is nil" {
		t.Errorf("Error = %v, want 'database connection is nil'", err)
	}
}

func TestDatabaseChecker_Ping(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectPing()
	if err := DatabaseChecker(db)(); err != nil {
		t.Errorf("Expected healthy database, got: %v", err)
	}

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	if err := DatabaseCheckerWithConfig(db, CheckerConfig{Timeout: time.Second})(); err == nil {
		t.Error("Expected error when ping fails")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// ==================== Redis Checker Tests ====================

func TestRedisChecker_Ping(t *testing.T) {
	client, mock := redismock.NewClientMock()

	mock.ExpectPing().SetVal("PONG")
	if err := RedisChecker(client)(); err != nil {
		t.Errorf("Expected healthy redis, got: %v", err)
	}

	mock.ExpectPing().SetErr(errors.New("redis down"))
	if err := RedisChecker(client)(); err == nil || err.Error() != "redis down" {
		t.Errorf("Error = %v, want 'redis down'", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRedisChecker_NilClient(t *testing.T) {
	if err := RedisChecker(nil)(); err == nil {
		t.Error("Expected error for nil client")
	}
}

// ==================== Composite Checker Tests ====================

func TestCompositeChecker(t *testing.T) {
	tests := []struct {
		name     string
		checkers map[string]Checker
		wantErr  bool
	}{
		{"empty", map[string]Checker{}, false},
		{"all pass", map[string]Checker{
			"database": func() error { return nil },
			"redis":    func() error { return nil },
		}, false},
		{"one fails", map[string]Checker{
			"database": func() error { return nil },
			"redis":    func() error { return errors.New("down") },
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CompositeChecker("konversi", tt.checkers)()
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCompositeChecker_ErrorFormat(t *testing.T) {
	err := CompositeChecker("backend", map[string]Checker{
		"redis":    func() error { return errors.New("timeout") },
		"database": func() error { return errors.New("connection refused") },
	})()

	if err == nil {
		t.Fatal("Expected error")
	}
	want := "backend.database: connection refused; backend.redis: timeout"
	if err.Error() != want {
		t.Errorf("Error = %q, want %q", err.Error(), want)
	}
}

// ==================== Async Checker Tests ====================

func TestAsyncChecker(t *testing.T) {
	if err := AsyncChecker(func() error { return nil }, time.Second)(); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if err := AsyncChecker(func() error { return errors.New("boom") }, time.Second)(); err == nil || err.Error() != "boom" {
		t.Errorf("Error = %v, want boom", err)
	}
}

func TestAsyncChecker_Timeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	err := AsyncChecker(func() error {
		<-release
		return nil
	}, 50*time.Millisecond)()

	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Expected timeout error, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Check took too long: %v", elapsed)
	}
}

// ==================== Cached Checker Tests ====================

func TestCachedChecker_UsesCachedResult(t *testing.T) {
	var calls atomic.Int32
	cached := NewCachedChecker(func() error {
		calls.Add(1)
		return errors.New("down")
	}, time.Minute)

	for i := 0; i < 3; i++ {
		if err := cached.Check(); err == nil {
			t.Error("Expected cached error")
		}
	}
	if calls.Load() != 1 {
		t.Errorf("Checker should be called once, got %d", calls.Load())
	}
}

func TestCachedChecker_CacheExpires(t *testing.T) {
	var calls atomic.Int32
	cached := NewCachedChecker(func() error {
		calls.Add(1)
		return nil
	}, 10*time.Millisecond)

	_ = cached.Check()
	time.Sleep(20 * time.Millisecond)
	_ = cached.Check()

	if calls.Load() != 2 {
		t.Errorf("Checker should be called twice, got %d", calls.Load())
	}
}

func TestCachedChecker_Concurrent(t *testing.T) {
	var calls atomic.Int32
	cached := NewCachedChecker(func() error {
		calls.Add(1)
		return nil
	}, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = cached.Check()
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Checker should be called once, got %d", calls.Load())
	}
}
