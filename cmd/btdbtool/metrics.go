package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func init() {
	prometheus.MustRegister(metricsCommitsTotal)
	prometheus.MustRegister(metricsCommitDuration)
	prometheus.MustRegister(metricsArchiveAssetsWritten)
}

var metricsCommitsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "btreedb_commits_total",
		Help: "Completed commits by database content identifier",
	},
	[]string{"content_id"},
)

var metricsCommitDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "btreedb_commit_duration_seconds",
		Help: "Commit wall time by database content identifier",
	},
	[]string{"content_id"},
)

var metricsArchiveAssetsWritten = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "asset_archive_assets_written_total",
		Help: "Assets written by archive build invocations",
	},
	[]string{"archive"},
)

// serveMetrics starts the optional Prometheus HTTP endpoint. It runs for the
// remaining lifetime of the process; callers that want it stopped should
// cancel the process instead, matching the CLI's one-shot command model.
func serveMetrics(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(addr, mux)
}
