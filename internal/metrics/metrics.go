// Package metrics exposes pipeline counters on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RunsTotal counts pipeline invocations by outcome.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trackdim_pipeline_runs_total",
		Help: "Pipeline invocations by status.",
	}, []string{"status"})

	// TracksFetched counts raw tracks pulled from the catalog API.
	TracksFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackdim_tracks_fetched_total",
		Help: "Raw tracks fetched from the catalog source.",
	})

	// VersionsInserted counts new dimension rows (initial and successor versions).
	VersionsInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackdim_versions_inserted_total",
		Help: "Dimension rows inserted by the reconciler.",
	})

	// VersionsExpired counts rows whose validity interval was closed.
	VersionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackdim_versions_expired_total",
		Help: "Dimension rows expired by the reconciler.",
	})

	// MalformedDropped counts payloads dropped for a missing track id.
	MalformedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackdim_malformed_records_total",
		Help: "Raw payloads dropped during normalization.",
	})

	// HealPromotions counts versions re-promoted by the healing sweep.
	HealPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trackdim_heal_promotions_total",
		Help: "Latest versions re-promoted to current by the healing sweep.",
	})
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
