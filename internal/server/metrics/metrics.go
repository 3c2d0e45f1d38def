package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the share service.
type Metrics struct {
	DownloadsTotal  *prometheus.CounterVec // roomdrop_downloads_total{status}
	RejectionsTotal *prometheus.CounterVec // roomdrop_download_rejections_total{reason}
	BytesServed     prometheus.Counter
	ActiveStreams   prometheus.Gauge

	FilesDeleted prometheus.Counter
	BytesDeleted prometheus.Counter

	SharesCreated prometheus.Counter
	SharesRevoked prometheus.Counter
}

// New registers all collectors with the given registry. Pass nil to use the
// default registerer. Tests pass their own registry to stay isolated.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &Metrics{
		DownloadsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "roomdrop_downloads_total",
			Help: "Share downloads by outcome status code",
		}, []string{"status"}),

		RejectionsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "roomdrop_download_rejections_total",
			Help: "Download pipeline rejections by internal reason",
		}, []string{"reason"}),

		BytesServed: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "roomdrop_bytes_served_total",
			Help: "Total bytes streamed to clients",
		}),

		ActiveStreams: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "roomdrop_active_streams",
			Help: "Currently open download streams",
		}),

		FilesDeleted: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "roomdrop_files_deleted_total",
			Help: "Tracked files removed by deletion or retention expiry",
		}),

		BytesDeleted: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "roomdrop_bytes_deleted_total",
			Help: "Bytes reclaimed by file deletion",
		}),

		SharesCreated: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "roomdrop_shares_created_total",
			Help: "Share links created",
		}),

		SharesRevoked: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "roomdrop_shares_revoked_total",
			Help: "Share links revoked by their owner",
		}),
	}
}
