package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics tracks instruction outcomes and ledger totals.
type VaultMetrics struct {
	operations      *prometheus.CounterVec
	volume          *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	totalCollateral prometheus.Gauge
	totalBorrowed   prometheus.Gauge
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Vault returns the lazily-initialised vault metrics registered with the
// default Prometheus registerer.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = NewVaultMetrics(prometheus.DefaultRegisterer)
	})
	return vaultRegistry
}

// NewVaultMetrics builds vault metrics registered with reg. A nil registerer
// leaves the collectors unregistered.
func NewVaultMetrics(reg prometheus.Registerer) *VaultMetrics {
	m := &VaultMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safevault",
			Subsystem: "vault",
			Name:      "operations_total",
			Help:      "Vault instructions segmented by operation and result code.",
		}, []string{"op", "code"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "safevault",
			Subsystem: "vault",
			Name:      "volume_total",
			Help:      "Token amount moved by committed vault instructions.",
		}, []string{"op"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "safevault",
			Subsystem: "vault",
			Name:      "operation_duration_seconds",
			Help:      "Latency of vault instructions including the state commit.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"op"}),
		totalCollateral: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "safevault",
			Subsystem: "vault",
			Name:      "total_collateral",
			Help:      "Ledger total collateral after the last committed instruction.",
		}),
		totalBorrowed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "safevault",
			Subsystem: "vault",
			Name:      "total_borrowed",
			Help:      "Ledger total borrowed after the last committed instruction.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.operations, m.volume, m.latency, m.totalCollateral, m.totalBorrowed)
	}
	return m
}

// Observe records the outcome of a single instruction. code is the stable
// result code ("OK" on success).
func (m *VaultMetrics) Observe(op, code string, amount uint64, duration time.Duration) {
	if m == nil {
		return
	}
	op = labelOr(op, "unknown")
	code = labelOr(code, "INTERNAL")
	m.operations.WithLabelValues(op, code).Inc()
	m.latency.WithLabelValues(op).Observe(duration.Seconds())
	if code == "OK" && amount > 0 {
		m.volume.WithLabelValues(op).Add(float64(amount))
	}
}

// SetTotals publishes the ledger aggregates.
func (m *VaultMetrics) SetTotals(collateral, borrowed uint64) {
	if m == nil {
		return
	}
	m.totalCollateral.Set(float64(collateral))
	m.totalBorrowed.Set(float64(borrowed))
}

func labelOr(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
