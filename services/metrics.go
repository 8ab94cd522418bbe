package services

import "github.com/prometheus/client_golang/prometheus"

var (
	quickMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rivalry_quick_matches_total",
			Help: "Quick-match resolutions by outcome (joined or created)",
		},
		[]string{"outcome"},
	)
	expiredDuelsFinalized = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rivalry_expired_duels_finalized_total",
			Help: "Active duels closed by the expiry sweeper",
		},
	)
	syncTicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rivalry_sync_ticks_total",
			Help: "Progress sync loop ticks by result (pushed, unchanged, skipped)",
		},
		[]string{"result"},
	)
)

// InitMetrics registers service metrics. Call this from main.go, next to
// middleware.InitPrometheus.
func InitMetrics() {
	prometheus.MustRegister(quickMatchesTotal)
	prometheus.MustRegister(expiredDuelsFinalized)
	prometheus.MustRegister(syncTicksTotal)
}
