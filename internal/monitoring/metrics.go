package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DownloadsTotal tracks finished downloads by status (completed, failed, cancelled)
	DownloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiocache_downloads_total",
			Help: "Total number of downloads",
		},
		[]string{"status"},
	)

	// DownloadDuration tracks download duration in seconds
	DownloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "audiocache_download_duration_seconds",
			Help:    "Download duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
	)

	// ActiveDownloads tracks number of network transfers in flight
	ActiveDownloads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audiocache_active_downloads",
			Help: "Number of active downloads",
		},
	)

	// DownloadBytesTotal tracks total bytes downloaded
	DownloadBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audiocache_download_bytes_total",
			Help: "Total bytes downloaded",
		},
	)

	// CacheHitsTotal counts download requests served from an existing file
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audiocache_cache_hits_total",
			Help: "Download requests satisfied without network access",
		},
	)

	// CoalescedTotal counts requests that joined an in-flight download
	CoalescedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audiocache_coalesced_requests_total",
			Help: "Download requests coalesced onto an in-flight transfer",
		},
	)

	// DeletionsTotal tracks removed cache entries by reason (user, clear, orphan)
	DeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiocache_deletions_total",
			Help: "Total number of removed cache entries",
		},
		[]string{"reason"},
	)

	// PartialsSweptTotal counts stray partial files removed at startup
	PartialsSweptTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audiocache_partials_swept_total",
			Help: "Stray partial download files removed",
		},
	)

	// CorruptMetadataTotal counts unreadable downloads maps treated as empty
	CorruptMetadataTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audiocache_corrupt_metadata_total",
			Help: "Corrupted metadata blobs recovered as empty",
		},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audiocache_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordDownloadStart records the start of a network transfer
func RecordDownloadStart() {
	ActiveDownloads.Inc()
}

// RecordDownloadComplete records a completed download
func RecordDownloadComplete(duration time.Duration, bytes int64) {
	DownloadsTotal.WithLabelValues("completed").Inc()
	DownloadDuration.Observe(duration.Seconds())
	DownloadBytesTotal.Add(float64(bytes))
	ActiveDownloads.Dec()
}

// RecordDownloadFailed records a failed or cancelled download
func RecordDownloadFailed(errorType string) {
	status := "failed"
	if errorType == "cancelled" {
		status = "cancelled"
	}
	DownloadsTotal.WithLabelValues(status).Inc()
	ErrorsTotal.WithLabelValues(errorType).Inc()
	ActiveDownloads.Dec()
}

// RecordCacheHit records a request served from disk
func RecordCacheHit() {
	CacheHitsTotal.Inc()
}

// RecordCoalesced records a request that joined an in-flight download
func RecordCoalesced() {
	CoalescedTotal.Inc()
}

// RecordDeletions records removed entries
func RecordDeletions(reason string, count int) {
	if count <= 0 {
		return
	}
	DeletionsTotal.WithLabelValues(reason).Add(float64(count))
}

// RecordPartialsSwept records removed partial files
func RecordPartialsSwept(count int) {
	PartialsSweptTotal.Add(float64(count))
}

// RecordCorruptMetadata records a recovered metadata blob
func RecordCorruptMetadata() {
	CorruptMetadataTotal.Inc()
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}
