package engine

import "github.com/taskforge/engine/internal/monitor"

// SystemHealth is the composite answer to status() (spec §6 "status() ->
// systemHealth"): the Monitor's health classification plus whether
// persistence has crossed into degraded-no-persistence mode (spec §4.8),
// a condition the health score itself does not capture.
type SystemHealth struct {
	Health      monitor.HealthStatus
	HealthScore int
	Degraded    bool
}

// Status reports the engine's current operating health (spec §6
// status()).
func (e *Engine) Status() SystemHealth {
	snap := e.mon.Snapshot()
	return SystemHealth{
		Health:      snap.Health,
		HealthScore: snap.HealthScore,
		Degraded:    e.persist.Degraded(),
	}
}

// Metrics returns the current metrics snapshot (spec §6 metrics()).
func (e *Engine) Metrics() monitor.Snapshot {
	return e.mon.Snapshot()
}
