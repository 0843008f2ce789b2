package shell

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes reported in X-Ctr-Cache and the requests counter.
const (
	OutcomeHit      = "hit"
	OutcomeWildcard = "wildcard"
	OutcomeMiss     = "miss"
	OutcomeShell    = "shell"
	OutcomeOffline  = "offline"
	OutcomeBypass   = "bypass"
	OutcomeError    = "error"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrshell_requests_total",
			Help: "Intercepted requests by route and outcome",
		},
		[]string{"route", "outcome"},
	)

	cacheWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctrshell_cache_write_failures_total",
			Help: "Cache writes that failed and were skipped",
		},
	)

	installAssets = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ctrshell_install_assets_total",
			Help: "Assets attempted during install by tier and result",
		},
		[]string{"tier", "result"},
	)

	generationsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ctrshell_generations_deleted_total",
			Help: "Stale cache generations deleted on activate",
		},
	)
)
