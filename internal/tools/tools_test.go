package tools

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/planner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookup(t *testing.T, tools []dragonscale.Tool, name string) dragonscale.Tool {
	t.Helper()
	for _, tool := range tools {
		if tool.Name() == name {
			return tool
		}
	}
	t.Fatalf("tool %q not registered", name)
	return nil
}

func TestSetupTools_Names(t *testing.T) {
	reg := dragonscale.NewToolRegistry(nil)
	require.NoError(t, reg.Register(SetupTools(Options{})...))
	assert.Equal(t, []string{planner.CalculateTool, planner.FileTool, SearchTool, planner.ShellTool}, reg.Names())
}

func TestSetupTools_ValidatesParams(t *testing.T) {
	tools := SetupTools(Options{})
	ctx := context.Background()

	_, err := lookup(t, tools, planner.ShellTool).Execute(ctx, "run", map[string]any{})
	assert.ErrorContains(t, err, "missing command")

	_, err = lookup(t, tools, planner.CalculateTool).Execute(ctx, "evaluate", map[string]any{"expression": 42})
	assert.ErrorContains(t, err, "must be a string")

	_, err = lookup(t, tools, planner.FileTool).Execute(ctx, "permissions", map[string]any{"path": "x"})
	assert.ErrorContains(t, err, "unsupported action")
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		expr    string
		want    any
		wantErr bool
	}{
		{"5*9", 45.0, false},
		{"(1 + 2) / 4", 0.75, false},
		{"2 ** 10", 1024.0, false},
		{"3 > 2", true, false},
		{"1/0", nil, true},
		{"x + 1", nil, true},
		{"1 +", nil, true},
		{"'text'", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Calculate(context.Background(), "evaluate", map[string]any{"expression": tt.expr})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShellArgs(t *testing.T) {
	assert.Equal(t, []string{"bash", "-c", "ls"}, ShellArgs("bash", "ls"))
	assert.Equal(t, []string{"cmd", "/C", "dir"}, ShellArgs("CMD", "dir"))
	assert.Equal(t, []string{"pwsh", "-NoProfile", "-NonInteractive", "-Command", "Get-Date"}, ShellArgs("pwsh", "Get-Date"))
}

func TestShellRunner(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	dir := t.TempDir()
	runner := NewShellRunner("sh", nil)

	out, err := runner.Execute(context.Background(), "run", map[string]any{"command": "echo hello; pwd", "dir": dir})
	require.NoError(t, err)
	resolved, _ := filepath.EvalSymlinks(dir)
	assert.Contains(t, []string{"hello\n" + dir, "hello\n" + resolved}, out)

	_, err = runner.Execute(context.Background(), "run", map[string]any{"command": "echo broken >&2; exit 3"})
	require.Error(t, err)
	assert.ErrorContains(t, err, "code 3")
	assert.ErrorContains(t, err, "broken")
}

func TestShellRunner_Cancelled(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewShellRunner("sh", nil).Execute(ctx, "run", map[string]any{"command": "sleep 5"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFileManager(t *testing.T) {
	dir := t.TempDir()
	fm := NewFileManager(dir, nil)
	ctx := context.Background()
	run := func(op string, params map[string]any) any {
		t.Helper()
		out, err := fm.Execute(ctx, op, params)
		require.NoError(t, err, op)
		return out
	}

	run("mkdir", map[string]any{"path": "a/b"})
	run("write", map[string]any{"path": "a/note.txt", "content": "one\n"})
	run("append", map[string]any{"file": "a/note.txt", "content": "two\n"})
	assert.Equal(t, "one\ntwo\n", run("read", map[string]any{"path": "a/note.txt"}))

	run("create", map[string]any{"path": "a/empty"})
	assert.Equal(t, []any{"b/", "empty", "note.txt"}, run("list", map[string]any{"path": "a"}))

	run("copy", map[string]any{"source": "a", "destination": "c", "recursive": true})
	assert.Equal(t, "one\ntwo\n", run("read", map[string]any{"path": "c/note.txt"}))

	run("move", map[string]any{"from": "c/note.txt", "to": "moved.txt"})
	_, err := os.Stat(filepath.Join(dir, "moved.txt"))
	assert.NoError(t, err)

	run("delete", map[string]any{"path": "c", "recursive": true})
	_, err = os.Stat(filepath.Join(dir, "c"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileManager_Errors(t *testing.T) {
	dir := t.TempDir()
	fm := NewFileManager(dir, nil)
	ctx := context.Background()

	_, err := fm.Execute(ctx, "read", map[string]any{})
	assert.ErrorContains(t, err, "missing required parameter 'path'")

	_, err = fm.Execute(ctx, "read", map[string]any{"path": "absent"})
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, os.Mkdir(filepath.Join(dir, "d"), 0o755))
	_, err = fm.Execute(ctx, "copy", map[string]any{"source": "d", "destination": "e"})
	assert.ErrorContains(t, err, "recursive")

	_, err = fm.Execute(ctx, "delete", map[string]any{"path": "absent", "recursive": true})
	assert.Error(t, err)

	_, err = fm.Execute(ctx, "chmod", map[string]any{"path": "d"})
	assert.Error(t, err)
}
