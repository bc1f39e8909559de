package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ammLedger/internal/amm"
)

// Metrics holds the Prometheus metrics for pool operations.
type Metrics struct {
	opsTotal   *prometheus.CounterVec
	opDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the operation metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "amm_operations_total",
			Help: "Total number of pool operations, labeled by operation and result.",
		}, []string{"op", "result"}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "amm_operation_duration_seconds",
			Help:    "Time taken to run one pool operation, including the store transaction.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
	}
	reg.MustRegister(m.opsTotal, m.opDuration)
	return m
}

func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.opsTotal.WithLabelValues(op, Result(err)).Inc()
	m.opDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Result maps an operation error to a bounded label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, amm.ErrInvalidAmount), errors.Is(err, amm.ErrDuplicateAssets):
		return "invalid"
	case errors.Is(err, amm.ErrSlippageExceeded):
		return "slippage"
	case errors.Is(err, amm.ErrInsufficientLiquidity):
		return "insufficient_liquidity"
	case errors.Is(err, amm.ErrInsufficientFunds), errors.Is(err, amm.ErrAccountNotFound):
		return "insufficient_funds"
	case errors.Is(err, amm.ErrPoolNotFound), errors.Is(err, amm.ErrPoolExists):
		return "pool"
	case errors.Is(err, amm.ErrArithmeticOverflow), errors.Is(err, amm.ErrArithmeticUnderflow), errors.Is(err, amm.ErrDivisionByZero):
		return "arithmetic"
	case errors.Is(err, amm.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}
