package tools

import (
	"fmt"
	"net/http"

	"github.com/ZanzyTHEbar/dragonscale-intent"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/adapters"
	"github.com/ZanzyTHEbar/dragonscale-intent/internal/planner"
	"go.uber.org/zap"
)

// Options configures the built-in tools.
type Options struct {
	// Shell is the default shell for commands without a "shell" param.
	// Empty selects sh on Unix and cmd on Windows.
	Shell string
	// BaseDir resolves relative file tool paths. Empty uses the process
	// working directory.
	BaseDir          string
	SearchEndpoint   string
	SearchMaxResults int
	HTTPClient       *http.Client
	Logger           *zap.Logger
}

// SetupTools creates the shell, file, calculate and search tools.
func SetupTools(opts Options) []dragonscale.Tool {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	shell := NewShellRunner(opts.Shell, logger)
	files := NewFileManager(opts.BaseDir, logger)
	search := NewSearcher(opts.SearchEndpoint, opts.SearchMaxResults, opts.HTTPClient, logger)

	return []dragonscale.Tool{
		adapters.NewFuncTool(
			planner.ShellTool,
			shell.Execute,
			adapters.WithDescription("Runs a shell command and returns its standard output."),
			adapters.WithCategory("System"),
			adapters.WithActions("run"),
			adapters.WithParameters(map[string]string{
				"command": "Command line to run",
				"shell":   "Shell family (bash, zsh, sh, powershell, pwsh, cmd)",
				"dir":     "Working directory",
			}),
			adapters.WithReturns("Standard output as a string."),
			adapters.WithExamples([]string{"run {command: \"df -h\"}"}),
			adapters.WithValidator(requireString("command", 0)),
		),
		adapters.NewFuncTool(
			planner.FileTool,
			files.Execute,
			adapters.WithDescription("Performs file operations without a shell."),
			adapters.WithCategory("Files"),
			adapters.WithActions(planner.DefaultNativeFileOps...),
			adapters.WithParameters(map[string]string{
				"path":        "Target path",
				"source":      "Source path for copy and move",
				"destination": "Destination path for copy and move",
				"content":     "Content for write and append",
				"recursive":   "Recurse into directories for delete and copy",
			}),
			adapters.WithReturns("A listing, file content or a confirmation message."),
		),
		adapters.NewFuncTool(
			planner.CalculateTool,
			Calculate,
			adapters.WithDescription("Calculates a mathematical expression."),
			adapters.WithCategory("Math"),
			adapters.WithActions("evaluate"),
			adapters.WithParameters(map[string]string{
				"expression": "Mathematical expression to evaluate (e.g., '5*9')",
			}),
			adapters.WithReturns("The numeric or boolean result."),
			adapters.WithExamples([]string{"calculate 5*9", "calculate (1 + 2) / 4"}),
			adapters.WithValidator(requireString("expression", 1000)),
		),
		adapters.NewFuncTool(
			SearchTool,
			search.Execute,
			adapters.WithDescription("Performs a web search for a given query."),
			adapters.WithCategory("Web"),
			adapters.WithActions("query"),
			adapters.WithParameters(map[string]string{
				"query":       "Search query string",
				"max_results": "Maximum number of results",
			}),
			adapters.WithReturns("A list of results with title, url and snippet."),
			adapters.WithExamples([]string{
				"search \"golang concurrency patterns\"",
				"search \"weather in New York\"",
			}),
			adapters.WithValidator(requireString("query", 1000)),
		),
	}
}

// requireString validates that params[key] is a non-empty string no longer
// than limit. A zero limit disables the length check.
func requireString(key string, limit int) func(string, map[string]any) error {
	return func(_ string, params map[string]any) error {
		raw, ok := params[key]
		if !ok {
			return fmt.Errorf("missing %s (expected at key '%s')", key, key)
		}
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%s must be a string, got %T", key, raw)
		}
		if s == "" {
			return fmt.Errorf("%s cannot be empty", key)
		}
		if limit > 0 && len(s) > limit {
			return fmt.Errorf("%s too long (max %d characters)", key, limit)
		}
		return nil
	}
}

func stringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func boolParam(params map[string]any, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
