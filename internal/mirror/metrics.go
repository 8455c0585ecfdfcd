// internal/mirror/metrics.go
package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// writesTotal counts mirror deliveries by kind (full, incremental) and result
var writesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "btmonitor_mirror_writes_total",
		Help: "Total Modbus status mirror writes by kind and result",
	},
	[]string{"kind", "result"},
)
