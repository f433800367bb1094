// Package metrics wires the three subsystems' observable state into
// Prometheus: session state, master server-map size, and locator cache
// hit/miss counts.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry is a private registry (not the global default) so embedding
// this module into a larger process never collides with its own metric
// names, mirroring cubefs-inodedb/metrics's package-level Registry.
var Registry = prometheus.NewRegistry()

var (
	// SessionState reports the current namespace session state per
	// session label: 0=JEOPARDY, 1=SAFE, 2=EXPIRED (spec §4.1).
	SessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hypertable",
		Subsystem: "namespace",
		Name:      "session_state",
		Help:      "Namespace session state: 0=jeopardy, 1=safe, 2=expired.",
	}, []string{"session"})

	// MasterServerMapSize reports the live range-server count tracked by
	// the master's admission logic (spec §4.2).
	MasterServerMapSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hypertable",
		Subsystem: "master",
		Name:      "server_map_size",
		Help:      "Number of range servers currently admitted into the master's server map.",
	})

	// MasterLastTableID reports the most recently allocated table id.
	MasterLastTableID = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "hypertable",
		Subsystem: "master",
		Name:      "last_table_id",
		Help:      "Most recently allocated table id.",
	})

	// LocatorCacheLookups counts location-cache lookups by outcome
	// (spec §4.3, §8's cache hit/miss testable property).
	LocatorCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hypertable",
		Subsystem: "locator",
		Name:      "cache_lookups_total",
		Help:      "Location cache lookups, partitioned by hit or miss.",
	}, []string{"result"})

	// LocatorFindErrors counts find() failures recorded into the
	// bounded error ring (spec §4.3 step 5).
	LocatorFindErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "hypertable",
		Subsystem: "locator",
		Name:      "find_errors_total",
		Help:      "Total range-locator find() failures recorded into the error history.",
	})
)

func init() {
	Registry.MustRegister(
		SessionState,
		MasterServerMapSize,
		MasterLastTableID,
		LocatorCacheLookups,
		LocatorFindErrors,
	)
}

// ObserveCacheHit and ObserveCacheMiss are small helpers so callers don't
// spell out the label string at every call site.
func ObserveCacheHit()  { LocatorCacheLookups.WithLabelValues("hit").Inc() }
func ObserveCacheMiss() { LocatorCacheLookups.WithLabelValues("miss").Inc() }
