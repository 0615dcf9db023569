package pipeline

import "github.com/banshee-data/ringfilter/internal/monitoring"

const logPrefix = "[pipeline] "

// opsf logs to the ops stream (actionable warnings, errors, data loss).
func opsf(format string, args ...interface{}) {
	monitoring.Opsf(logPrefix+format, args...)
}

// diagf logs to the diag stream (day-to-day diagnostics, tuning context).
func diagf(format string, args ...interface{}) {
	monitoring.Diagf(logPrefix+format, args...)
}

// tracef logs to the trace stream (per-scan telemetry).
func tracef(format string, args ...interface{}) {
	if monitoring.TraceEnabled() {
		monitoring.Tracef(logPrefix+format, args...)
	}
}
