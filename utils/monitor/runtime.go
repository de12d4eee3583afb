package monitor

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Snapshot is one sample of the process runtime.
type Snapshot struct {
	Goroutines  int
	HeapAlloc   uint64
	HeapObjects uint64
	LastGCPause time.Duration
}

// RuntimeMonitor samples goroutine and heap statistics into gauges.
type RuntimeMonitor struct {
	logger *zap.Logger

	goroutines  prometheus.Gauge
	heapAlloc   prometheus.Gauge
	heapObjects prometheus.Gauge
	gcPause     prometheus.Gauge
}

// NewRuntimeMonitor registers the runtime gauges on reg. A nil registerer
// creates unregistered gauges.
func NewRuntimeMonitor(reg prometheus.Registerer, namespace string, logger *zap.Logger) *RuntimeMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	return &RuntimeMonitor{
		logger: logger,
		goroutines: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runtime_goroutines",
			Help:      "Current number of goroutines",
		}),
		heapAlloc: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runtime_heap_alloc_bytes",
			Help:      "Current heap allocation in bytes",
		}),
		heapObjects: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runtime_heap_objects",
			Help:      "Current number of heap objects",
		}),
		gcPause: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runtime_gc_pause_seconds",
			Help:      "Duration of the most recent GC pause",
		}),
	}
}

// Collect takes a sample and updates the gauges.
func (m *RuntimeMonitor) Collect() Snapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s := Snapshot{
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   memStats.HeapAlloc,
		HeapObjects: memStats.HeapObjects,
	}
	if memStats.NumGC > 0 {
		s.LastGCPause = time.Duration(memStats.PauseNs[(memStats.NumGC+255)%256])
	}

	m.goroutines.Set(float64(s.Goroutines))
	m.heapAlloc.Set(float64(s.HeapAlloc))
	m.heapObjects.Set(float64(s.HeapObjects))
	m.gcPause.Set(s.LastGCPause.Seconds())
	return s
}

// Run samples every interval until ctx is done.
func (m *RuntimeMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s := m.Collect()
		m.logger.Debug("runtime sample",
			zap.Int("goroutines", s.Goroutines),
			zap.Uint64("heap_alloc", s.HeapAlloc))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down metrics server", zap.Error(err))
		}
	}()

	logger.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
