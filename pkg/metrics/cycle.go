package metrics

// CycleMetrics bundles the control-loop instrumentation the engine
// updates each cycle.
type CycleMetrics struct {
	CyclesCompleted *Counter
	TicksDropped    *Counter
	ShortTelemetry  *Counter
	FaultsEntered   *Counter

	CurrentMode *Gauge

	CycleSeconds   *Histogram
	StatusSeconds  *Histogram
	ControlSeconds *Histogram
	CommandSeconds *Histogram
}

// Bucket bounds in seconds, sized for a 100 Hz loop.
var cycleBounds = []float64{0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05}

// NewCycleMetrics registers the control-loop metrics on a registry.
func NewCycleMetrics(r *Registry) *CycleMetrics {
	return &CycleMetrics{
		CyclesCompleted: r.Counter("quad_cycles_completed_total",
			"Control cycles that ran to completion"),
		TicksDropped: r.Counter("quad_ticks_dropped_total",
			"Timer ticks dropped because a cycle was still in flight"),
		ShortTelemetry: r.Counter("quad_short_telemetry_total",
			"Cycles skipped because fewer than 12 servos replied"),
		FaultsEntered: r.Counter("quad_faults_entered_total",
			"Transitions into the fault mode"),
		CurrentMode: r.Gauge("quad_mode",
			"Current operating mode as a numeric code"),
		CycleSeconds: r.Histogram("quad_cycle_seconds",
			"Full cycle duration", cycleBounds),
		StatusSeconds: r.Histogram("quad_status_seconds",
			"Status read duration", cycleBounds),
		ControlSeconds: r.Histogram("quad_control_seconds",
			"Control computation duration", cycleBounds),
		CommandSeconds: r.Histogram("quad_command_seconds",
			"Command write duration", cycleBounds),
	}
}
