package netmonitor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/richxcame/konversi/pkg/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeProber) Head(ctx context.Context, path string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return 0, f.err
	}
	return http.StatusOK, nil
}

func (f *fakeProber) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeProber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestNew_StartsOnline(t *testing.T) {
	m := New(&fakeProber{}, "", 0, nil)

	assert.True(t, m.IsOnline().Value())
	assert.Equal(t, defaultInterval, m.interval)
}

func TestProbe_TransitionsState(t *testing.T) {
	prober := &fakeProber{}
	m := New(prober, "", time.Minute, zap.NewNop())
	ctx := context.Background()

	prober.setErr(errors.New("dial tcp: no route to host"))
	assert.False(t, m.Probe(ctx))
	assert.False(t, m.IsOnline().Value())
	assert.Equal(t, 0.0, testutil.ToFloat64(onlineGauge))

	prober.setErr(nil)
	assert.True(t, m.Probe(ctx))
	assert.True(t, m.IsOnline().Value())
	assert.Equal(t, 1.0, testutil.ToFloat64(onlineGauge))
}

func TestProbe_AnyHTTPStatusIsOnline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	m := New(httpclient.NewClient(server.URL), "", time.Minute, zap.NewNop())

	assert.True(t, m.Probe(context.Background()))
}

func TestProbe_CancelledContextKeepsState(t *testing.T) {
	prober := &fakeProber{err: context.Canceled}
	m := New(prober, "", time.Minute, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, m.Probe(ctx))
	assert.True(t, m.IsOnline().Value())
}

func TestStart_ProbesImmediatelyAndPeriodically(t *testing.T) {
	prober := &fakeProber{}
	m := New(prober, "", 10*time.Millisecond, zap.NewNop())

	done := make(chan struct{})
	go func() {
		m.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return prober.callCount() >= 3 }, time.Second, 5*time.Millisecond)

	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestWaitOnline(t *testing.T) {
	prober := &fakeProber{err: errors.New("offline")}
	m := New(prober, "", time.Minute, zap.NewNop())
	m.Probe(context.Background())
	require.False(t, m.IsOnline().Value())

	result := make(chan error, 1)
	go func() { result <- m.WaitOnline(context.Background()) }()

	select {
	case <-result:
		t.Fatal("WaitOnline returned while offline")
	case <-time.After(20 * time.Millisecond):
	}

	prober.setErr(nil)
	m.Probe(context.Background())

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitOnline did not return after going online")
	}
}

func TestWaitOnline_ContextCancelled(t *testing.T) {
	m := New(&fakeProber{err: errors.New("offline")}, "", time.Minute, zap.NewNop())
	m.Probe(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.ErrorIs(t, m.WaitOnline(ctx), context.DeadlineExceeded)
}
