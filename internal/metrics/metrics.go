package metrics

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry = prometheus.NewRegistry()

	spawns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hatch",
		Name:      "spawns_total",
		Help:      "Total number of successful process spawns per job.",
	}, []string{"job"})

	spawnFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hatch",
		Name:      "spawn_failures_total",
		Help:      "Total number of failed spawn attempts per job.",
	}, []string{"job"})

	restarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hatch",
		Name:      "restarts_total",
		Help:      "Total number of restarts initiated for each job.",
	}, []string{"job"})

	exits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hatch",
		Name:      "exits_total",
		Help:      "Child exits observed per job, labelled by outcome.",
	}, []string{"job", "outcome"})

	buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "hatch",
		Name:      "build_info",
		Help:      "Build metadata for the running hatch binary.",
	}, []string{"go_version", "vcs", "vcs_revision", "vcs_time", "vcs_modified"})

	buildInfoOnce sync.Once
)

func init() {
	registry.MustRegister(spawns, spawnFailures, restarts, exits, buildInfo)
}

// Registry returns the Prometheus registry containing all hatch metrics.
func Registry() *prometheus.Registry {
	return registry
}

// IncSpawn records a successful spawn for the provided job.
func IncSpawn(job string) {
	if job == "" {
		return
	}
	spawns.WithLabelValues(job).Inc()
}

// IncSpawnFailure records a spawn attempt that produced no child.
func IncSpawnFailure(job string) {
	if job == "" {
		return
	}
	spawnFailures.WithLabelValues(job).Inc()
}

// IncRestart increments the restart counter for a job.
func IncRestart(job string) {
	if job == "" {
		return
	}
	restarts.WithLabelValues(job).Inc()
}

// ObserveExit records one observed child exit and its outcome.
func ObserveExit(job string, success bool) {
	if job == "" {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	exits.WithLabelValues(job, outcome).Inc()
}

// EmitBuildInfo publishes build metadata about the running binary.
func EmitBuildInfo() {
	buildInfoOnce.Do(func() {
		labels := prometheus.Labels{
			"go_version":   runtime.Version(),
			"vcs":          "",
			"vcs_revision": "",
			"vcs_time":     "",
			"vcs_modified": "",
		}
		if info, ok := debug.ReadBuildInfo(); ok {
			if info.GoVersion != "" {
				labels["go_version"] = info.GoVersion
			}
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs":
					labels["vcs"] = setting.Value
				case "vcs.revision":
					labels["vcs_revision"] = setting.Value
				case "vcs.time":
					labels["vcs_time"] = setting.Value
				case "vcs.modified":
					labels["vcs_modified"] = setting.Value
				}
			}
		}
		buildInfo.With(labels).Set(1)
	})
}
