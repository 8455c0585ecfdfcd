// internal/publisher/metrics.go
package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// requestsTotal counts decoded requests by kind
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btmonitor_requests_total",
			Help: "Total monitor requests by port and request kind",
		},
		[]string{"port", "kind"},
	)

	// errorRepliesTotal counts "error" replies by reason
	errorRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btmonitor_error_replies_total",
			Help: "Total error replies by port and reason",
		},
		[]string{"port", "reason"},
	)

	// breakpointsReached counts hooks reached by the execution side
	breakpointsReached = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btmonitor_breakpoints_reached_total",
			Help: "Total breakpoints reached by port, position and mode",
		},
		[]string{"port", "position", "mode"},
	)

	// blackboardSkipped counts requested subtrees that could not be dumped
	blackboardSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "btmonitor_blackboard_skipped_total",
			Help: "Total blackboard names omitted from dumps (unknown or expired)",
		},
		[]string{"port"},
	)

	// hooksActive tracks the number of registered hooks
	hooksActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "btmonitor_hooks",
			Help: "Number of registered breakpoint hooks by port",
		},
		[]string{"port"},
	)

	// heartbeatAlive is 0 once the heartbeat watchdog has disabled the hooks
	heartbeatAlive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "btmonitor_heartbeat_alive",
			Help: "0 while hooks are disabled because no request arrived within the heartbeat window",
		},
		[]string{"port"},
	)
)
