package executor

import (
	"sync"
	"time"
)

// Metrics accumulates statistics over every run of one executor.
type Metrics struct {
	PlansRun          int
	PlansFailed       int
	StepsExecuted     int
	StepsSuccessful   int
	StepsFailed       int
	StepsSkipped      int
	TotalDuration     time.Duration
	LongestStepTime   time.Duration
	ShortestStepTime  time.Duration
	LastRunDuration   time.Duration
	LastRunFailedStep string

	mu sync.Mutex
}

// Copy returns a snapshot without the mutex.
func (m *Metrics) Copy() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Metrics{
		PlansRun:          m.PlansRun,
		PlansFailed:       m.PlansFailed,
		StepsExecuted:     m.StepsExecuted,
		StepsSuccessful:   m.StepsSuccessful,
		StepsFailed:       m.StepsFailed,
		StepsSkipped:      m.StepsSkipped,
		TotalDuration:     m.TotalDuration,
		LongestStepTime:   m.LongestStepTime,
		ShortestStepTime:  m.ShortestStepTime,
		LastRunDuration:   m.LastRunDuration,
		LastRunFailedStep: m.LastRunFailedStep,
	}
}

func (m *Metrics) recordStep(d time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.StepsExecuted++
	m.TotalDuration += d
	if failed {
		m.StepsFailed++
	} else {
		m.StepsSuccessful++
	}
	if d > m.LongestStepTime {
		m.LongestStepTime = d
	}
	if m.ShortestStepTime == 0 || (d > 0 && d < m.ShortestStepTime) {
		m.ShortestStepTime = d
	}
}

func (m *Metrics) recordSkip() {
	m.mu.Lock()
	m.StepsSkipped++
	m.mu.Unlock()
}

func (m *Metrics) recordRun(d time.Duration, failedStep string, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PlansRun++
	m.LastRunDuration = d
	m.LastRunFailedStep = failedStep
	if failed {
		m.PlansFailed++
	}
}
