package timers

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

var (
	skippedRecords = metrics.NewCounter(`dpersist_timers_skipped_records_total`)
	staleQueries   = metrics.NewCounter(`dpersist_timers_stale_queries_total`)
)

func count(op string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`dpersist_timers_operations_total{op=%q}`, op)).Inc()
}
