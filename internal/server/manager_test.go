package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func localConfig(name string) Config {
	cfg := DefaultConfig()
	cfg.Name = name
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func startManager(t *testing.T, handler http.Handler) *Manager {
	t.Helper()
	m := NewManager(handler, localConfig("api"), zaptest.NewLogger(t))
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "http", cfg.Name)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Nil(t, cfg.TLSConfig)
}

func TestNewManager_NotStarted(t *testing.T) {
	m := NewManager(http.NewServeMux(), Config{Addr: ":9999"}, nil)

	assert.True(t, m.IsRunning())
	assert.Empty(t, m.ListenAddr())
	assert.Equal(t, ":9999", m.Addr())
	assert.Equal(t, ConnStats{}, m.ConnStats())

	select {
	case err := <-m.Errors():
		t.Fatalf("unexpected error before start: %v", err)
	default:
	}
}

func TestManager_ServesAndStops(t *testing.T) {
	m := startManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}))

	resp, err := http.Get("http://" + m.ListenAddr() + "/ping")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "pong", string(body))

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())

	_, err = http.Get("http://" + m.ListenAddr() + "/ping")
	assert.Error(t, err)
}

func TestManager_LifecycleErrors(t *testing.T) {
	m := NewManager(http.NewServeMux(), localConfig("api"), nil)

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrAlreadyStarted)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.ErrorIs(t, m.Start(), ErrClosed)
}

func TestManager_RunStopsOnCancel(t *testing.T) {
	m := NewManager(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), localConfig("api"), zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return m.ListenAddr() != "" }, time.Second, 5*time.Millisecond)
	resp, err := http.Get("http://" + m.ListenAddr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, m.IsRunning())
}

func TestManager_RunPortInUse(t *testing.T) {
	first := startManager(t, http.NewServeMux())

	cfg := localConfig("metrics")
	cfg.Addr = first.ListenAddr()
	err := NewManager(http.NewServeMux(), cfg, nil).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics server")
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestManager_ShutdownForcesStuckRequests(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{})

	cfg := localConfig("api")
	cfg.ShutdownTimeout = 50 * time.Millisecond
	m := NewManager(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}), cfg, zaptest.NewLogger(t))
	require.NoError(t, m.Start())

	go func() {
		resp, err := http.Get("http://" + m.ListenAddr() + "/slow")
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-entered

	start := time.Now()
	err := m.Shutdown(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestManager_ConnStats(t *testing.T) {
	inHandler := make(chan ConnStats, 1)
	var m *Manager
	m = startManager(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inHandler <- m.ConnStats()
	}))

	conn, err := net.Dial("tcp", m.ListenAddr())
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return m.ConnStats().New == 1 }, time.Second, 5*time.Millisecond)

	_, err = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: test\r\n\r\n")
	require.NoError(t, err)

	during := <-inHandler
	assert.Equal(t, int64(1), during.Active)
	assert.Equal(t, uint64(1), during.Accepted)

	require.Eventually(t, func() bool { return m.ConnStats().Idle == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		s := m.ConnStats()
		return s.Open() == 0 && s.Closed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestConnTracker(t *testing.T) {
	tr := newConnTracker()
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	tr.track(a, http.StateNew)
	tr.track(b, http.StateNew)
	tr.track(a, http.StateActive)
	tr.track(b, http.StateActive)
	tr.track(b, http.StateIdle)
	assert.Equal(t, ConnStats{Active: 1, Idle: 1, Accepted: 2}, tr.Stats())

	tr.track(a, http.StateHijacked)
	// 劫持后 net/http 不再回调 StateClosed，重复到达也只计一次
	tr.track(a, http.StateClosed)
	tr.track(b, http.StateClosed)

	stats := tr.Stats()
	assert.Equal(t, int64(0), stats.Open())
	assert.Equal(t, uint64(2), stats.Closed)
}
