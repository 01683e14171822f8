// Package metrics exposes Prometheus instrumentation for a backup run:
// blobs written vs. deduped, bytes saved by delta storage instead of
// full files, and files skipped because of a per-file error.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bkv"

var (
	// Registry is a dedicated registry rather than the global default,
	// so a long-lived process embedding bkv never collides with metrics
	// registered by its host application.
	Registry = prometheus.NewRegistry()

	// FilesTotal counts files processed by classification outcome.
	FilesTotal = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_total",
			Help:      "Total number of files processed by classification",
		},
		[]string{"classification"}, // new | unchanged | metadata-only | changed | deleted | skipped
	)

	// BlobsWrittenTotal counts blobs actually written to the backend,
	// as opposed to deduped against existing content.
	BlobsWrittenTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blobs_written_total",
			Help:      "Total number of blobs written to the backend",
		},
	)

	// BlobsDedupedTotal counts blobs skipped because identical content
	// already exists in the backend.
	BlobsDedupedTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blobs_deduped_total",
			Help:      "Total number of blobs skipped due to content-addressed dedup",
		},
	)

	// BytesPlaintextTotal accumulates the plaintext size of every blob
	// handed to engine.Store.Save (a full file or a patch), whether it
	// was written or deduped. Unchanged files are not counted.
	BytesPlaintextTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_plaintext_total",
			Help:      "Cumulative plaintext bytes processed across all files",
		},
	)

	// BytesStoredTotal accumulates the bytes actually written to the
	// backend, after compression, encryption, and diffing against a
	// prior version.
	BytesStoredTotal = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_stored_total",
			Help:      "Cumulative bytes written to the backend",
		},
	)

	// DiffSavingsRatio holds the ratio of bytes saved by delta storage
	// against the full file size, for the most recent file stored as a
	// patch.
	DiffSavingsRatio = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "diff_savings_ratio",
			Help:      "Bytes saved by storing diffs instead of full files, as a ratio of full size",
		},
	)

	// RunDuration measures how long a full backup or restore run takes.
	RunDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a backup or restore run in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 10, 30, 60, 300, 900, 3600},
		},
		[]string{"operation"}, // backup | restore
	)
)

// Handler returns an http.Handler exposing Registry in the Prometheus
// exposition format, for embedding under e.g. /metrics on a host
// application's mux.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordDiffSavings sets DiffSavingsRatio from one size pair: fullSize
// is a file's plaintext size had it been stored whole; storedSize is
// what was actually written. The snapshot walk calls it once for each
// file it stores as a patch, so the gauge reflects the latest such file.
// A fullSize of zero leaves the gauge untouched rather than dividing by
// zero.
func RecordDiffSavings(fullSize, storedSize int64) {
	if fullSize <= 0 {
		return
	}
	saved := fullSize - storedSize
	if saved < 0 {
		saved = 0
	}
	DiffSavingsRatio.Set(float64(saved) / float64(fullSize))
}
