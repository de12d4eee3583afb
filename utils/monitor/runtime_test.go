package monitor

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestRuntimeMonitorCollect(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRuntimeMonitor(reg, "test", zaptest.NewLogger(t))

	s := m.Collect()
	assert.Greater(t, s.Goroutines, 0)
	assert.Greater(t, s.HeapAlloc, uint64(0))
	assert.Equal(t, float64(s.Goroutines), testutil.ToFloat64(m.goroutines))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestRuntimeMonitorRunStops(t *testing.T) {
	m := NewRuntimeMonitor(nil, "test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestServe(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewRuntimeMonitor(reg, "test", nil).Collect()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- Serve(ctx, addr, reg, zaptest.NewLogger(t)) }()

	var body []byte
	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err == nil && resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, string(body), "test_runtime_goroutines")

	cancel()
	assert.NoError(t, <-errc)
}
