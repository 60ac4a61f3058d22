package stats

import "github.com/prometheus/client_golang/prometheus"

// Registry mirrors Counters as Prometheus gauges, the same
// wrap-a-registry-in-a-struct shape freightliner's pkg/metrics.Registry
// uses, trimmed to the handful of metrics a single sync run produces.
type Registry struct {
	registry *prometheus.Registry

	filesCreated     prometheus.Gauge
	filesUpdated     prometheus.Gauge
	filesDeleted     prometheus.Gauge
	filesErr         prometheus.Gauge
	dirsCreated      prometheus.Gauge
	symlinksCreated  prometheus.Gauge
	bytesTransferred prometheus.Gauge
	bytesMatched     prometheus.Gauge
	cacheHits        prometheus.Gauge
	cacheMisses      prometheus.Gauge

	counters *Counters
}

// NewRegistry wraps counters in a fresh Prometheus registry. Call Refresh
// before each scrape (Prometheus client_golang gauges aren't
// self-updating) to copy the latest atomic values across.
func NewRegistry(counters *Counters) *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		counters: counters,

		filesCreated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosync_files_created_total", Help: "Files written on the destination by full copy.",
		}),
		filesUpdated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosync_files_updated_total", Help: "Destination files rebuilt by delta against their prior copy.",
		}),
		filesDeleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosync_files_deleted_total", Help: "Destination paths removed because they no longer exist in the source.",
		}),
		filesErr: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosync_files_errored_total", Help: "Paths that failed to transfer or apply.",
		}),
		dirsCreated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosync_dirs_created_total", Help: "Directories created on the destination.",
		}),
		symlinksCreated: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosync_symlinks_created_total", Help: "Symlinks created on the destination.",
		}),
		bytesTransferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosync_bytes_transferred_total", Help: "Bytes sent over the wire as literal data.",
		}),
		bytesMatched: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosync_bytes_matched_total", Help: "Bytes reconstructed from the destination's prior copy instead of being transferred.",
		}),
		cacheHits: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosync_cache_hits_total", Help: "Fast-skip cache hits during the initial exchange.",
		}),
		cacheMisses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gosync_cache_misses_total", Help: "Fast-skip cache misses during the initial exchange.",
		}),
	}

	r.registry.MustRegister(
		r.filesCreated, r.filesUpdated, r.filesDeleted, r.filesErr,
		r.dirsCreated, r.symlinksCreated, r.bytesTransferred, r.bytesMatched,
		r.cacheHits, r.cacheMisses,
	)
	return r
}

// Gatherer exposes the underlying registry for an HTTP handler
// (promhttp.HandlerFor) to scrape.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.registry }

// Refresh copies the current counter values into the gauges. Cheap enough
// to call on every scrape.
func (r *Registry) Refresh() {
	r.filesCreated.Set(float64(r.counters.FilesCreated.Load()))
	r.filesUpdated.Set(float64(r.counters.FilesUpdated.Load()))
	r.filesDeleted.Set(float64(r.counters.FilesDeleted.Load()))
	r.filesErr.Set(float64(r.counters.FilesErr.Load()))
	r.dirsCreated.Set(float64(r.counters.DirsCreated.Load()))
	r.symlinksCreated.Set(float64(r.counters.SymlinksCreated.Load()))
	r.bytesTransferred.Set(float64(r.counters.BytesTransferred.Load()))
	r.bytesMatched.Set(float64(r.counters.BytesMatched.Load()))
	r.cacheHits.Set(float64(r.counters.CacheHits.Load()))
	r.cacheMisses.Set(float64(r.counters.CacheMisses.Load()))
}
