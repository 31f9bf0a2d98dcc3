package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richxcame/konversi/internal/datasync"
	"github.com/richxcame/konversi/pkg/eventbus"
	"github.com/richxcame/konversi/pkg/resilience"
	"github.com/richxcame/konversi/pkg/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSyncable struct {
	ok    bool
	err   error
	calls atomic.Int32
	block chan struct{}
}

func (s *stubSyncable) SyncWith(ctx context.Context, _ *datasync.Synchronizer) (bool, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return s.ok, s.err
}

// MockPublisher is a mock implementation of Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, subject string, event *eventbus.Event) error {
	args := m.Called(ctx, subject, event)
	return args.Error(0)
}

type countingInvalidator struct {
	calls atomic.Int32
}

func (c *countingInvalidator) Invalidate() { c.calls.Add(1) }

func newTestWorker(currencies, rates datasync.Syncable) *FetchWorker {
	return NewFetchWorker(datasync.NewSynchronizer(zap.NewNop()), currencies, rates, zap.NewNop())
}

func fastBackoff() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestFetchWorker_DoWork(t *testing.T) {
	tests := []struct {
		name       string
		currencies bool
		rates      bool
		want       scheduler.Result
	}{
		{"both synced", true, true, scheduler.Success},
		{"currencies failed", false, true, scheduler.Retry},
		{"rates failed", true, false, scheduler.Retry},
		{"both failed", false, false, scheduler.Retry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			currencies := &stubSyncable{ok: tt.currencies}
			rates := &stubSyncable{ok: tt.rates}

			got := newTestWorker(currencies, rates).DoWork(context.Background())

			assert.Equal(t, tt.want, got)
			assert.Equal(t, int32(1), currencies.calls.Load())
			assert.Equal(t, int32(1), rates.calls.Load())
		})
	}
}

func TestFetchWorker_RunsRepositoriesConcurrently(t *testing.T) {
	release := make(chan struct{})
	currencies := &stubSyncable{ok: true, block: release}
	rates := &stubSyncable{ok: true, block: release}
	w := newTestWorker(currencies, rates)

	done := make(chan scheduler.Result, 1)
	go func() { done <- w.DoWork(context.Background()) }()

	require.Eventually(t, func() bool {
		return currencies.calls.Load() == 1 && rates.calls.Load() == 1
	}, time.Second, 5*time.Millisecond)

	close(release)
	assert.Equal(t, scheduler.Success, <-done)
}

func TestFetchWorker_CancellationFails(t *testing.T) {
	currencies := &stubSyncable{ok: true}
	rates := &stubSyncable{err: context.Canceled}

	got := newTestWorker(currencies, rates).DoWork(context.Background())

	assert.Equal(t, scheduler.Failure, got)
}

func TestSync_InitializeRunsWorkAndPublishes(t *testing.T) {
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })

	publisher := new(MockPublisher)
	published := make(chan *eventbus.Event, 1)
	publisher.On("Publish", mock.Anything, eventbus.SubjectSyncCompleted, mock.AnythingOfType("*eventbus.Event")).
		Run(func(args mock.Arguments) { published <- args.Get(2).(*eventbus.Event) }).
		Return(nil)

	w := newTestWorker(&stubSyncable{ok: true}, &stubSyncable{ok: true})
	s := NewSync(sched, w, Config{Backoff: fastBackoff(), InstanceID: "instance-a"}, zap.NewNop(), WithPublisher(publisher))

	require.True(t, s.Initialize())

	select {
	case event := <-published:
		assert.Equal(t, eventbus.TypeSyncCompleted, event.Type)
		assert.Equal(t, "instance-a", event.Source)

		var data eventbus.SyncCompletedData
		require.NoError(t, json.Unmarshal(event.Data, &data))
		assert.Equal(t, "success", data.Result)
		assert.True(t, data.Currencies)
		assert.True(t, data.Rates)
	case <-time.After(time.Second):
		t.Fatal("sync event not published")
	}

	require.Eventually(t, func() bool {
		return sched.WorkState(SyncWorkName).Value() == scheduler.StateSucceeded
	}, time.Second, 5*time.Millisecond)
}

func TestSync_KeepDropsDuplicateWhileRunning(t *testing.T) {
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })

	release := make(chan struct{})
	currencies := &stubSyncable{ok: true, block: release}
	s := NewSync(sched, newTestWorker(currencies, &stubSyncable{ok: true}), Config{Backoff: fastBackoff()}, zap.NewNop())

	require.True(t, s.Initialize())
	require.Eventually(t, func() bool { return currencies.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	assert.False(t, s.Initialize())

	close(release)
	require.Eventually(t, func() bool {
		return sched.WorkState(SyncWorkName).Value() == scheduler.StateSucceeded
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), currencies.calls.Load())
}

func TestSync_RetriesUntilBothSucceed(t *testing.T) {
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })

	rates := &flakySyncable{failures: 2}
	s := NewSync(sched, newTestWorker(&stubSyncable{ok: true}, rates), Config{Backoff: fastBackoff()}, zap.NewNop())

	require.True(t, s.Initialize())

	require.Eventually(t, func() bool {
		return sched.WorkState(SyncWorkName).Value() == scheduler.StateSucceeded
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), rates.calls.Load())
}

func TestSync_IsSyncingFollowsRunningState(t *testing.T) {
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	release := make(chan struct{})
	currencies := &stubSyncable{ok: true, block: release}
	s := NewSync(sched, newTestWorker(currencies, &stubSyncable{ok: true}), Config{Backoff: fastBackoff()}, zap.NewNop())
	defer s.Stop()

	assert.False(t, s.IsSyncing().Value())

	s.Start(ctx)

	require.Eventually(t, func() bool { return s.IsSyncing().Value() }, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool { return !s.IsSyncing().Value() }, time.Second, 5*time.Millisecond)
}

func TestSync_PeriodicEnqueue(t *testing.T) {
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(func() { _ = sched.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	currencies := &stubSyncable{ok: true}
	s := NewSync(sched, newTestWorker(currencies, &stubSyncable{ok: true}), Config{
		Interval: 10 * time.Millisecond,
		Backoff:  fastBackoff(),
	}, zap.NewNop())

	s.Start(ctx)

	require.Eventually(t, func() bool { return currencies.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	s.Stop()
	s.Stop()
}

func TestSync_FailureIsNotPublished(t *testing.T) {
	publisher := new(MockPublisher)
	s := NewSync(nil, newTestWorker(&stubSyncable{ok: true}, &stubSyncable{err: context.Canceled}), Config{}, zap.NewNop(), WithPublisher(publisher))

	assert.Equal(t, scheduler.Failure, s.work(context.Background()))
	publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestSync_PublishErrorDoesNotFailWork(t *testing.T) {
	publisher := new(MockPublisher)
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("nats down"))
	s := NewSync(nil, newTestWorker(&stubSyncable{ok: true}, &stubSyncable{ok: true}), Config{}, zap.NewNop(), WithPublisher(publisher))

	assert.Equal(t, scheduler.Success, s.work(context.Background()))
	publisher.AssertExpectations(t)
}

type flakySyncable struct {
	mu       sync.Mutex
	failures int
	calls    atomic.Int32
}

func (f *flakySyncable) SyncWith(context.Context, *datasync.Synchronizer) (bool, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return false, nil
	}
	return true, nil
}

func TestEventHandler(t *testing.T) {
	remote, err := eventbus.NewEvent(eventbus.TypeSyncCompleted, "instance-b", eventbus.SyncCompletedData{Result: "success"})
	require.NoError(t, err)
	own, err := eventbus.NewEvent(eventbus.TypeSyncCompleted, "instance-a", eventbus.SyncCompletedData{Result: "success"})
	require.NoError(t, err)
	other, err := eventbus.NewEvent("something.else", "instance-b", nil)
	require.NoError(t, err)

	tests := []struct {
		name            string
		event           *eventbus.Event
		wantInvalidated int32
		wantErr         bool
	}{
		{"remote sync invalidates", remote, 1, false},
		{"own sync ignored", own, 0, false},
		{"unknown type ignored", other, 0, false},
		{
			name:    "malformed data",
			event:   &eventbus.Event{Type: eventbus.TypeSyncCompleted, Source: "instance-b", Data: json.RawMessage(`"nope"`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &countingInvalidator{}
			h := NewEventHandler("instance-a", inv, zap.NewNop())

			err := h.handle(context.Background(), tt.event)

			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantInvalidated, inv.calls.Load())
		})
	}
}

type recordingSubscriber struct {
	subject string
	queue   string
	handler eventbus.Handler
}

func (r *recordingSubscriber) Subscribe(_ context.Context, subject, queue string, handler eventbus.Handler) error {
	r.subject, r.queue, r.handler = subject, queue, handler
	return nil
}

func TestEventHandler_RegisterSubscriptions(t *testing.T) {
	sub := &recordingSubscriber{}
	h := NewEventHandler("instance-a", &countingInvalidator{}, nil)

	require.NoError(t, h.RegisterSubscriptions(context.Background(), sub))

	assert.Equal(t, eventbus.SubjectSyncCompleted, sub.subject)
	assert.Empty(t, sub.queue)
	assert.NotNil(t, sub.handler)
}
