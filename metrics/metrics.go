// Package metrics defines the pipeline's prometheus instrumentation: queue
// depth, bins processed, and bytes read (SPEC_FULL.md §3's domain-stack
// wiring for github.com/prometheus/client_golang). There is no HTTP exporter
// here — registering a /metrics handler is an outer-surface concern the spec
// places out of scope — so these vars exist purely for a caller that already
// runs its own exporter (or a test) to read via the default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks how many items are currently buffered in a named
	// bounded queue (spec §4.1/§5: "backpressure entirely via bounded
	// queues").
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kmerflow",
		Subsystem: "pipeline",
		Name:      "queue_depth",
		Help:      "Current number of items buffered in a named bounded queue.",
	}, []string{"queue"})

	// BinsProcessed counts bins a stage-2 hasher has fully consumed and
	// emitted counts for.
	BinsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kmerflow",
		Subsystem: "pipeline",
		Name:      "bins_processed_total",
		Help:      "Total number of bins a hasher has fully processed.",
	})

	// BytesRead counts input bytes consumed by the reader.
	BytesRead = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kmerflow",
		Subsystem: "pipeline",
		Name:      "bytes_read_total",
		Help:      "Total input bytes read from source files.",
	})

	// HashTableSpills counts hash-table overflow events that triggered a
	// sub-bin spill (spec §4.7 step 4). Spills are not failures, but a high
	// rate signals an undersized memory budget.
	HashTableSpills = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "kmerflow",
		Subsystem: "pipeline",
		Name:      "hash_table_spills_total",
		Help:      "Total number of hash-table overflow spills across all bins.",
	})
)

// SampleQueueDepth periodically sets QueueDepth{queue=name} from depth until
// stop is called, which also takes one final reading so the gauge doesn't
// hold a stale mid-run value after the queue is drained. Callers own one
// sampler per named queue they want observable (pipeline stage 1/2 wire the
// queues spec §4.1 names).
func SampleQueueDepth(name string, depth func() int, interval time.Duration) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		g := QueueDepth.WithLabelValues(name)
		for {
			select {
			case <-ticker.C:
				g.Set(float64(depth()))
			case <-done:
				g.Set(float64(depth()))
				return
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}
