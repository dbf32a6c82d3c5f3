package monitor

import "github.com/taskforge/engine/internal/task"

// healthScore applies the four spec §4.9 penalties to a 100-point scale
// and maps the result onto a HealthStatus. Stagnation (queued work with
// nothing running) is checked directly against the store rather than the
// snapshot so it reflects the instant of the call, not the throughput
// window.
func (m *Monitor) healthScore(snap Snapshot) (int, HealthStatus) {
	score := 100

	if snap.QueueDepth > m.thresholds.QueueSizeWarning {
		over := snap.QueueDepth - m.thresholds.QueueSizeWarning
		score -= clampPenalty(10+over, 35)
	}

	errorRate := 1 - snap.SuccessRate
	if errorRate > m.thresholds.ErrorRateWarning {
		over := (errorRate - m.thresholds.ErrorRateWarning) * 100
		score -= clampPenalty(int(10+over), 35)
	}

	if snap.AverageWaitTime > m.thresholds.WaitTimeWarning {
		over := (snap.AverageWaitTime - m.thresholds.WaitTimeWarning).Seconds()
		score -= clampPenalty(int(10+over/10), 25)
	}

	if m.stagnant() {
		score -= 25
	}

	if score < 0 {
		score = 0
	}
	return score, statusForScore(score)
}

func clampPenalty(p, max int) int {
	if p > max {
		return max
	}
	if p < 0 {
		return 0
	}
	return p
}

// stagnant reports the spec §4.9 stagnation condition: work is pending
// but nothing is running to drain it.
func (m *Monitor) stagnant() bool {
	pending := len(m.store.ByStatus(task.StatusQueued)) + len(m.store.ByStatus(task.StatusAnalyzed)) +
		len(m.store.ByStatus(task.StatusAssigned))
	running := len(m.store.ByStatus(task.StatusInProgress)) + len(m.store.ByStatus(task.StatusStarting))
	return pending > 0 && running == 0
}

func statusForScore(score int) HealthStatus {
	switch {
	case score >= 80:
		return HealthHealthy
	case score >= 50:
		return HealthWarning
	case score >= 20:
		return HealthCritical
	default:
		return HealthEmergency
	}
}
