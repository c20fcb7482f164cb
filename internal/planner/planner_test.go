package planner

import (
	"context"
	"testing"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/executor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlan_SingleShellCommand(t *testing.T) {
	plan, err := New().Plan("ls -la", nil)
	require.NoError(t, err)

	assert.Equal(t, dragonscale.NewSingleAction(dragonscale.ToolRef(ShellTool), "run", map[string]any{"command": "ls -la"}), plan)
}

func TestPlan_Deterministic(t *testing.T) {
	p := New()
	first, err := p.Plan("mkdir build then cd build; make", map[string]any{"dir": "/src"})
	require.NoError(t, err)
	second, err := p.Plan("mkdir build then cd build; make", map[string]any{"dir": "/src"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPlan_SplitsSegments(t *testing.T) {
	plan, err := New().Plan("mkdir build then cd build; make and then research build caching", nil)
	require.NoError(t, err)

	multi, ok := plan.(*dragonscale.MultiStepPlan)
	require.True(t, ok, "expected a multi-step plan, got %T", plan)
	assert.Equal(t, "mkdir build then cd build; make and then research build caching", multi.Name())

	steps := multi.Steps()
	require.Len(t, steps, 3)

	assert.Equal(t, "step_1", steps[0].ID())
	assert.Equal(t, map[string]any{"command": "mkdir build"}, steps[0].Params())
	assert.Equal(t, map[string]any{"command": "cd build; make"}, steps[1].Params())

	assert.Equal(t, dragonscale.AgentRef(ResearchAgent), steps[2].Target())
	assert.Equal(t, "research", steps[2].Action())
	assert.Equal(t, map[string]any{"query": "build caching"}, steps[2].Params())
}

func TestPlan_KeepsShellSequencesInOneStep(t *testing.T) {
	for _, cmd := range []string{
		"cd /tmp; ls",
		"for i in 1 2; do echo $i; done",
		"if [ -f go.mod ]; then go build ./...; fi",
		"while read l; do echo $l; done < list.txt",
	} {
		plan, err := New().Plan(cmd, nil)
		require.NoError(t, err, cmd)
		assert.Equal(t, dragonscale.NewSingleAction(dragonscale.ToolRef(ShellTool), "run", map[string]any{"command": cmd}), plan, cmd)
	}

	plan, err := New().Plan("wait for the build then check it is done", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Len())
}

func TestPlan_Routing(t *testing.T) {
	tests := []struct {
		name    string
		command string
		target  dragonscale.Target
		action  string
		params  map[string]any
	}{
		{"research", "research golang generics", dragonscale.AgentRef(ResearchAgent), "research", map[string]any{"query": "golang generics"}},
		{"research about", "please look up about the go memory model", dragonscale.AgentRef(ResearchAgent), "research", map[string]any{"query": "the go memory model"}},
		{"calculate", "calculate 2 + 3 * 4", dragonscale.ToolRef(CalculateTool), "evaluate", map[string]any{"expression": "2 + 3 * 4"}},
		{"compute", "Compute (1 + 1) / 2", dragonscale.ToolRef(CalculateTool), "evaluate", map[string]any{"expression": "(1 + 1) / 2"}},
		{"shell", "df -h", dragonscale.ToolRef(ShellTool), "run", map[string]any{"command": "df -h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := New().Plan(tt.command, nil)
			require.NoError(t, err)
			assert.Equal(t, dragonscale.NewSingleAction(tt.target, tt.action, tt.params), plan)
		})
	}
}

func TestPlan_CallerParamsOverride(t *testing.T) {
	plan, err := New().Plan("ls", map[string]any{"command": "pwd", "dir": "/tmp"})
	require.NoError(t, err)

	single := plan.(dragonscale.SingleAction)
	assert.Equal(t, map[string]any{"command": "pwd", "dir": "/tmp"}, single.Params)
}

func TestPlan_CustomRuleTakesPrecedence(t *testing.T) {
	git := Rule{
		Name:  "git",
		Match: func(s string) bool { return len(s) > 4 && s[:4] == "git " },
		Build: func(s string) (dragonscale.Target, string, map[string]any) {
			return dragonscale.ToolRef("git"), s[4:], nil
		},
	}
	plan, err := New(WithRule(git)).Plan("git status", nil)
	require.NoError(t, err)

	assert.Equal(t, dragonscale.NewSingleAction(dragonscale.ToolRef("git"), "status", map[string]any{}), plan)
}

func TestPlan_EmptyCommand(t *testing.T) {
	for _, cmd := range []string{"", "   ", " ; ; "} {
		_, err := New().Plan(cmd, nil)
		require.Error(t, err, "command %q", cmd)
		assert.True(t, dragonscale.IsCode(err, dragonscale.ErrCodePlanValidation))
	}
}

func TestFromExtraction_Action(t *testing.T) {
	ci := dragonscale.ContextInfo{OSFamily: "linux", ShellFamily: "bash", WorkingDir: "/work"}
	result := dragonscale.NewAction(dragonscale.FormatStructuredJSON, dragonscale.Action{Command: "git status"})

	plan, err := New().FromExtraction(result, ci)
	require.NoError(t, err)

	assert.Equal(t, dragonscale.NewSingleAction(dragonscale.ToolRef(ShellTool), "run", map[string]any{
		"command": "git status",
		"shell":   "bash",
		"dir":     "/work",
	}), plan)
}

func TestFromExtraction_Info(t *testing.T) {
	p := New()

	plan, err := p.FromExtraction(dragonscale.NewInfo(dragonscale.FormatStructuredJSON, dragonscale.Info{Topic: "disk", ResponseText: "Use df."}), dragonscale.ContextInfo{})
	require.NoError(t, err)
	assert.Nil(t, plan)

	plan, err = p.FromExtraction(dragonscale.NewInfo(dragonscale.FormatStructuredJSON, dragonscale.Info{Topic: "disk", ResponseText: "Use df.", RelatedCommand: "df -h"}), dragonscale.ContextInfo{})
	require.NoError(t, err)
	assert.Equal(t, dragonscale.NewSingleAction(dragonscale.ToolRef(ShellTool), "run", map[string]any{"command": "df -h"}), plan)
}

func TestFromExtraction_ErrorHasNoPlan(t *testing.T) {
	plan, err := New().FromExtraction(dragonscale.NewExtractionError(dragonscale.FormatNone, "no command", true, ""), dragonscale.ContextInfo{})
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestFromExtraction_InvalidResult(t *testing.T) {
	_, err := New().FromExtraction(dragonscale.ExtractionResult{Kind: dragonscale.KindAction}, dragonscale.ContextInfo{})
	require.Error(t, err)
	assert.True(t, dragonscale.IsCode(err, dragonscale.ErrCodePlanValidation))
}

func TestFromExtraction_NativeFileOperation(t *testing.T) {
	result := dragonscale.NewFileOperation(dragonscale.FormatStructuredJSON, dragonscale.FileOperation{
		Operation: "list",
		Params:    map[string]any{"path": "/tmp"},
	})

	plan, err := New().FromExtraction(result, dragonscale.ContextInfo{OSFamily: "linux"})
	require.NoError(t, err)

	multi := plan.(*dragonscale.MultiStepPlan)
	assert.Equal(t, "file_operation:list", multi.Name())
	assert.Equal(t, map[string]any{"native": true}, multi.Variables())

	steps := multi.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, "file_tool", steps[0].ID())
	assert.Equal(t, dragonscale.ToolRef(FileTool), steps[0].Target())
	assert.Equal(t, "list", steps[0].Action())
	assert.Equal(t, map[string]any{"path": "/tmp"}, steps[0].Params())

	assert.Equal(t, "shell_fallback", steps[1].ID())
	assert.Equal(t, "ls -la '/tmp'", steps[1].Params()["command"])
}

func TestFromExtraction_NonNativeUsesShell(t *testing.T) {
	result := dragonscale.NewFileOperation(dragonscale.FormatStructuredJSON, dragonscale.FileOperation{
		Operation: "permissions",
		Params:    map[string]any{"path": "run.sh", "mode": "755"},
	})

	plan, err := New().FromExtraction(result, dragonscale.ContextInfo{OSFamily: "linux"})
	require.NoError(t, err)

	multi := plan.(*dragonscale.MultiStepPlan)
	assert.Equal(t, map[string]any{"native": false}, multi.Variables())
	assert.Equal(t, "chmod '755' 'run.sh'", multi.Steps()[1].Params()["command"])
}

func TestFromExtraction_UnsupportedOperation(t *testing.T) {
	result := dragonscale.NewFileOperation(dragonscale.FormatStructuredJSON, dragonscale.FileOperation{
		Operation: "permissions",
		Params:    map[string]any{"path": "run.sh", "mode": "755"},
	})

	_, err := New().FromExtraction(result, dragonscale.ContextInfo{OSFamily: "windows"})
	require.Error(t, err)
	assert.True(t, dragonscale.IsCode(err, dragonscale.ErrCodePlanValidation))
}

type recordingTool struct {
	name  string
	calls []string
}

func (r *recordingTool) Name() string { return r.name }

func (r *recordingTool) Execute(_ context.Context, action string, params map[string]any) (any, error) {
	r.calls = append(r.calls, action)
	return map[string]any{"action": action, "params": params}, nil
}

func TestFromExtraction_ExecutesOneBranch(t *testing.T) {
	file := &recordingTool{name: FileTool}
	shell := &recordingTool{name: ShellTool}
	tools := dragonscale.NewToolRegistry(nil)
	require.NoError(t, tools.Register(file, shell))
	exec := executor.NewExecutor(tools, dragonscale.NewSubAgentRegistry(nil))

	tests := []struct {
		name      string
		nativeOps []string
		wantTrace string
		skipped   string
	}{
		{"native", DefaultNativeFileOps, "file_tool", "shell_fallback"},
		{"shell fallback", []string{"read"}, "shell_fallback", "file_tool"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := dragonscale.NewFileOperation(dragonscale.FormatStructuredJSON, dragonscale.FileOperation{
				Operation: "mkdir",
				Params:    map[string]any{"path": "out"},
			})
			plan, err := New(WithNativeFileOps(tt.nativeOps...)).FromExtraction(result, dragonscale.ContextInfo{OSFamily: "linux"})
			require.NoError(t, err)

			res, err := exec.Execute(context.Background(), plan)
			require.NoError(t, err)
			require.Len(t, res.Trace, 1)
			assert.Equal(t, tt.wantTrace, res.Trace[0].StepID)
			assert.Equal(t, []string{tt.skipped}, res.Skipped)
		})
	}
}
