package state

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// observe records the outcome and the duration of one operation
func observe(op string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case isConflict(err):
		outcome = "conflict"
	default:
		outcome = "error"
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`dpersist_state_operations_total{op=%q,outcome=%q}`, op, outcome)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`dpersist_state_operation_duration_seconds{op=%q}`, op)).Update(time.Since(start).Seconds())
}
