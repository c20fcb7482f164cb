package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// waitDelay bounds how long a cancelled command may hold its output pipes
// through orphaned children.
const waitDelay = 500 * time.Millisecond

// ShellRunner runs command lines through a shell.
type ShellRunner struct {
	shell  string
	logger *zap.Logger
}

// NewShellRunner returns a runner using shell when a step names none.
func NewShellRunner(shell string, logger *zap.Logger) *ShellRunner {
	if shell == "" {
		shell = "sh"
		if runtime.GOOS == "windows" {
			shell = "cmd"
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShellRunner{shell: shell, logger: logger}
}

// ShellArgs returns the argv that runs command under shell.
func ShellArgs(shell, command string) []string {
	switch strings.ToLower(shell) {
	case "cmd", "cmd.exe":
		return []string{"cmd", "/C", command}
	case "powershell", "powershell.exe":
		return []string{"powershell", "-NoProfile", "-NonInteractive", "-Command", command}
	case "pwsh":
		return []string{"pwsh", "-NoProfile", "-NonInteractive", "-Command", command}
	}
	return []string{shell, "-c", command}
}

// Execute runs params["command"]. A non-zero exit is an error carrying the
// trimmed standard error.
func (s *ShellRunner) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	command := stringParam(params, "command")
	shell := stringParam(params, "shell")
	if shell == "" {
		shell = s.shell
	}

	argv := ShellArgs(shell, command)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = stringParam(params, "dir")
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	s.logger.Debug("Shell command finished",
		zap.String("shell", argv[0]),
		zap.String("command", command),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = exitErr.Error()
			}
			return nil, fmt.Errorf("command exited with code %d: %s", exitErr.ExitCode(), msg)
		}
		return nil, fmt.Errorf("failed to run command: %w", err)
	}
	return strings.TrimRight(stdout.String(), "\r\n"), nil
}
