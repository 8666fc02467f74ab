package access

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elo_access_resolutions_total",
			Help: "Access resolutions by outcome (final state, superseded or rejected)",
		},
		[]string{"outcome"},
	)

	tenantConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "elo_tenant_connects_total",
			Help: "School database connect calls by result (dialed, reused, error)",
		},
		[]string{"result"},
	)

	tenantHandlesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "elo_tenant_handles_open",
			Help: "School database handles currently open",
		},
	)
)

func recordResolution(outcome string) {
	resolutionsTotal.WithLabelValues(outcome).Inc()
}

func recordConnect(result string) {
	tenantConnectsTotal.WithLabelValues(result).Inc()
}
