// Package metrics exposes Prometheus counters for the watcher's hot path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pricetracker_checks_total",
		Help: "Product checks by outcome (not_modified, unchanged, changed, blocked, failed).",
	}, []string{"outcome"})

	ChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricetracker_changes_total",
		Help: "Change records created.",
	})

	CooldownsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricetracker_cooldowns_total",
		Help: "Cooldowns applied after anti-automation responses.",
	})

	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricetracker_notify_failures_total",
		Help: "Alarm notifications that failed to send.",
	})

	AuditPersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricetracker_audit_persist_failures_total",
		Help: "Change records that could not be persisted after an item update.",
	})

	TicksSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pricetracker_ticks_skipped_total",
		Help: "Scheduler ticks skipped because the previous tick was still running.",
	})
)

// Handler serves the default registry in Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
