package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// AcquireCounter tracks successful lock acquisitions.
	AcquireCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "labcoord_acquire_total",
		Help: "Total number of successful lock acquisitions",
	})
	// ContendedCounter tracks acquisitions that failed because the
	// resource was held elsewhere.
	ContendedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "labcoord_acquire_contended_total",
		Help: "Total number of acquisitions lost to another holder",
	})
	// ReleaseCounter tracks lock releases.
	ReleaseCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "labcoord_release_total",
		Help: "Total number of lock releases",
	})
	// RefreshCounter tracks keepalive TTL refreshes.
	RefreshCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "labcoord_refresh_total",
		Help: "Total number of keepalive TTL refreshes",
	})
	// LostCounter tracks locks detected as lost during keepalive.
	LostCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "labcoord_lost_total",
		Help: "Total number of locks lost before release",
	})
	// HeldGauge reports the number of locks currently held by this process.
	HeldGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "labcoord_held_locks",
		Help: "Current number of held locks",
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterLockMetrics registers labcoord lock metrics on the provided registry.
func RegisterLockMetrics(reg prometheus.Registerer) {
	reg.MustRegister(AcquireCounter, ContendedCounter, ReleaseCounter,
		RefreshCounter, LostCounter, HeldGauge)
}
