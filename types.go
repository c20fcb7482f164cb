package dragonscale

import (
	"maps"
	"time"
)

// ContextInfo describes the environment a command is interpreted for.
type ContextInfo struct {
	OSFamily     string            `json:"os_family" yaml:"os_family"`
	OSVersion    string            `json:"os_version,omitempty" yaml:"os_version"`
	Distribution string            `json:"distribution,omitempty" yaml:"distribution"`
	ShellFamily  string            `json:"shell_family,omitempty" yaml:"shell_family"`
	WorkingDir   string            `json:"working_dir,omitempty" yaml:"working_dir"`
	Extra        map[string]string `json:"extra,omitempty" yaml:"extra"`
}

// Fields flattens the context into named fields. Extra entries never
// override the well-known ones.
func (c ContextInfo) Fields() map[string]string {
	fields := make(map[string]string, len(c.Extra)+5)
	maps.Copy(fields, c.Extra)
	fields["os_family"] = c.OSFamily
	fields["os_version"] = c.OSVersion
	fields["distribution"] = c.Distribution
	fields["shell_family"] = c.ShellFamily
	fields["working_dir"] = c.WorkingDir
	return fields
}

// IsWindows reports whether the context targets a Windows host.
func (c ContextInfo) IsWindows() bool {
	return c.OSFamily == "windows"
}

// RunState is the state of one plan run.
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
)

// TraceEntry records one executed step. Skipped steps never appear in a trace.
type TraceEntry struct {
	StepIndex int            `json:"step_index"`
	StepID    string         `json:"step_id"`
	Target    Target         `json:"target"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params,omitempty"`
	Result    any            `json:"result,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

// AggregateResult is the outcome of executing a plan.
type AggregateResult struct {
	RunID string   `json:"run_id"`
	State RunState `json:"state"`
	// Trace is append-only during a run.
	Trace []TraceEntry `json:"trace"`
	// Skipped lists the IDs of steps whose condition was false.
	Skipped []string `json:"skipped,omitempty"`
	// Value is the raw aggregate: the sole result for a single-step run,
	// otherwise the ordered list of recorded results.
	Value      any       `json:"value,omitempty"`
	Output     string    `json:"output"`
	Err        error     `json:"-"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Duration is the wall time of the run.
func (r *AggregateResult) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Results returns the recorded step results in trace order.
func (r *AggregateResult) Results() []any {
	out := make([]any, 0, len(r.Trace))
	for _, e := range r.Trace {
		out = append(out, e.Result)
	}
	return out
}
