package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	registry = prometheus.NewRegistry()
	logger   *zap.Logger
)

type MetricsConfig struct {
	Namespace  string
	LogMetrics bool
}

// Initialize makes the package registry the default registerer.
func Initialize(cfg *MetricsConfig, log *zap.Logger) {
	logger = log
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	if cfg != nil && cfg.LogMetrics && logger != nil {
		logger.Info("metrics initialized", zap.String("namespace", cfg.Namespace))
	}
}

// Registry is the registry Initialize installs.
func Registry() *prometheus.Registry {
	return registry
}

// ExecutorMetrics tracks flash loan executions. A nil registerer creates
// unregistered collectors.
type ExecutorMetrics struct {
	Executions    *prometheus.CounterVec
	Failures      *prometheus.CounterVec
	Volume        *prometheus.CounterVec
	Profit        *prometheus.CounterVec
	Fees          *prometheus.CounterVec
	ExecutionTime prometheus.Histogram
}

func NewExecutorMetrics(reg prometheus.Registerer, namespace string) *ExecutorMetrics {
	factory := promauto.With(reg)
	return &ExecutorMetrics{
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of settled flash loans",
		}, []string{"strategy"}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of rejected or reverted flash loans",
		}, []string{"condition"}),
		Volume: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "volume_total",
			Help:      "Total borrowed principal in asset base units",
		}, []string{"asset"}),
		Profit: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profit_total",
			Help:      "Total realized profit in asset base units",
		}, []string{"asset", "strategy"}),
		Fees: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fees_total",
			Help:      "Total service fees sent to the treasury",
		}, []string{"asset"}),
		ExecutionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_time_seconds",
			Help:      "Time taken to execute a flash loan",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}

// ObserveExecution records a settled loan.
func (m *ExecutorMetrics) ObserveExecution(strategy, asset string, amount, profit, fee *big.Int, took time.Duration) {
	m.Executions.WithLabelValues(strategy).Inc()
	AddBig(m.Volume.WithLabelValues(asset), amount)
	AddBig(m.Profit.WithLabelValues(asset, strategy), profit)
	AddBig(m.Fees.WithLabelValues(asset), fee)
	m.ExecutionTime.Observe(took.Seconds())
}

// ObserveFailure records a failed request under its condition name.
func (m *ExecutorMetrics) ObserveFailure(condition string) {
	m.Failures.WithLabelValues(condition).Inc()
}

// GasMetrics tracks sampled network gas prices.
type GasMetrics struct {
	GasPrice         prometheus.Histogram
	CeilingRejects   prometheus.Counter
	EstimatedGasUsed *prometheus.HistogramVec
}

func NewGasMetrics(reg prometheus.Registerer, namespace string) *GasMetrics {
	factory := promauto.With(reg)
	return &GasMetrics{
		GasPrice: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gas_price_wei",
			Help:      "Gas price distribution",
			Buckets:   prometheus.ExponentialBuckets(1e9, 2, 15), // Start at 1 gwei
		}),
		CeilingRejects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gas_ceiling_rejects_total",
			Help:      "Total number of gas prices above the configured ceiling",
		}),
		EstimatedGasUsed: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "estimated_gas_used",
			Help:      "Estimated gas per strategy execution",
			Buckets:   prometheus.ExponentialBuckets(21000, 2, 10),
		}, []string{"strategy"}),
	}
}

// AddBig adds a non-negative big integer to a counter.
func AddBig(c prometheus.Counter, v *big.Int) {
	if v == nil || v.Sign() <= 0 {
		return
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	c.Add(f)
}
