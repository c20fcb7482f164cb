package extract

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// ErrUnsupportedOperation is returned for operations with no registered builder.
var ErrUnsupportedOperation = errors.New("unsupported file operation")

// FileOpTranslator renders a file operation as a shell command line.
type FileOpTranslator interface {
	Translate(operation string, params map[string]any) (string, error)
}

// BuildFunc renders one operation kind.
type BuildFunc func(params map[string]any) (string, error)

// ShellTranslator is a registry of per-operation builders for one shell dialect.
type ShellTranslator struct {
	mu       sync.RWMutex
	builders map[string]BuildFunc
	windows  bool
}

// NewShellTranslator returns a translator preloaded with the standard
// operations. windows selects PowerShell renderings instead of POSIX ones.
func NewShellTranslator(windows bool) *ShellTranslator {
	t := &ShellTranslator{builders: make(map[string]BuildFunc), windows: windows}
	defaults := posixBuilders
	if windows {
		defaults = powershellBuilders
	}
	maps.Copy(t.builders, defaults)
	return t
}

// Register adds or replaces the builder for op.
func (t *ShellTranslator) Register(op string, fn BuildFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.builders[strings.ToLower(op)] = fn
}

// Operations lists the supported operation names, sorted.
func (t *ShellTranslator) Operations() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.builders))
}

// Windows reports whether the translator renders PowerShell.
func (t *ShellTranslator) Windows() bool {
	return t.windows
}

func (t *ShellTranslator) Translate(operation string, params map[string]any) (string, error) {
	t.mu.RLock()
	fn, ok := t.builders[strings.ToLower(operation)]
	t.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedOperation, operation)
	}
	return fn(params)
}

// QuotePOSIX wraps s in single quotes, escaping embedded single quotes.
func QuotePOSIX(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// QuotePowerShell wraps s in single quotes, doubling embedded single quotes.
func QuotePowerShell(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func param(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k]; ok && v != nil {
			if s := fmt.Sprint(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func required(params map[string]any, name string, keys ...string) (string, error) {
	if v := param(params, keys...); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("missing parameter %q", name)
}

func flag(params map[string]any, key string) bool {
	switch v := params[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

var (
	pathKeys   = []string{"path", "file", "directory", "dir"}
	sourceKeys = []string{"source", "src", "from"}
	destKeys   = []string{"destination", "dest", "to", "target"}
)

var posixBuilders = map[string]BuildFunc{
	"list": func(p map[string]any) (string, error) {
		path := param(p, pathKeys...)
		if path == "" {
			path = "."
		}
		return "ls -la " + QuotePOSIX(path), nil
	},
	"read": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		return "cat " + QuotePOSIX(path), nil
	},
	"create": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		return "touch " + QuotePOSIX(path), nil
	},
	"write": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("printf '%%s\\n' %s > %s", QuotePOSIX(param(p, "content")), QuotePOSIX(path)), nil
	},
	"append": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("printf '%%s\\n' %s >> %s", QuotePOSIX(param(p, "content")), QuotePOSIX(path)), nil
	},
	"delete": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		if flag(p, "recursive") {
			return "rm -r " + QuotePOSIX(path), nil
		}
		return "rm " + QuotePOSIX(path), nil
	},
	"copy": func(p map[string]any) (string, error) {
		return posixTransfer("cp", p)
	},
	"move": func(p map[string]any) (string, error) {
		return posixTransfer("mv", p)
	},
	"mkdir": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		return "mkdir -p " + QuotePOSIX(path), nil
	},
	"find": func(p map[string]any) (string, error) {
		pattern, err := required(p, "pattern", "pattern", "name")
		if err != nil {
			return "", err
		}
		path := param(p, pathKeys...)
		if path == "" {
			path = "."
		}
		return fmt.Sprintf("find %s -name %s", QuotePOSIX(path), QuotePOSIX(pattern)), nil
	},
	"search": func(p map[string]any) (string, error) {
		pattern, err := required(p, "pattern", "pattern", "query", "text")
		if err != nil {
			return "", err
		}
		path := param(p, pathKeys...)
		if path == "" {
			path = "."
		}
		return fmt.Sprintf("grep -rn %s %s", QuotePOSIX(pattern), QuotePOSIX(path)), nil
	},
	"permissions": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		mode, err := required(p, "mode", "mode", "permissions")
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("chmod %s %s", QuotePOSIX(mode), QuotePOSIX(path)), nil
	},
}

func posixTransfer(bin string, p map[string]any) (string, error) {
	src, err := required(p, "source", sourceKeys...)
	if err != nil {
		return "", err
	}
	dst, err := required(p, "destination", destKeys...)
	if err != nil {
		return "", err
	}
	if bin == "cp" && flag(p, "recursive") {
		bin = "cp -r"
	}
	return fmt.Sprintf("%s %s %s", bin, QuotePOSIX(src), QuotePOSIX(dst)), nil
}

var powershellBuilders = map[string]BuildFunc{
	"list": func(p map[string]any) (string, error) {
		path := param(p, pathKeys...)
		if path == "" {
			path = "."
		}
		return "Get-ChildItem -Force -LiteralPath " + QuotePowerShell(path), nil
	},
	"read": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		return "Get-Content -LiteralPath " + QuotePowerShell(path), nil
	},
	"create": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		return "New-Item -ItemType File -Path " + QuotePowerShell(path), nil
	},
	"write": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Set-Content -LiteralPath %s -Value %s", QuotePowerShell(path), QuotePowerShell(param(p, "content"))), nil
	},
	"append": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Add-Content -LiteralPath %s -Value %s", QuotePowerShell(path), QuotePowerShell(param(p, "content"))), nil
	},
	"delete": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		cmd := "Remove-Item -LiteralPath " + QuotePowerShell(path)
		if flag(p, "recursive") {
			cmd += " -Recurse"
		}
		return cmd, nil
	},
	"copy": func(p map[string]any) (string, error) {
		return powershellTransfer("Copy-Item", p)
	},
	"move": func(p map[string]any) (string, error) {
		return powershellTransfer("Move-Item", p)
	},
	"mkdir": func(p map[string]any) (string, error) {
		path, err := required(p, "path", pathKeys...)
		if err != nil {
			return "", err
		}
		return "New-Item -ItemType Directory -Force -Path " + QuotePowerShell(path), nil
	},
	"find": func(p map[string]any) (string, error) {
		pattern, err := required(p, "pattern", "pattern", "name")
		if err != nil {
			return "", err
		}
		path := param(p, pathKeys...)
		if path == "" {
			path = "."
		}
		return fmt.Sprintf("Get-ChildItem -Recurse -LiteralPath %s -Filter %s", QuotePowerShell(path), QuotePowerShell(pattern)), nil
	},
	"search": func(p map[string]any) (string, error) {
		pattern, err := required(p, "pattern", "pattern", "query", "text")
		if err != nil {
			return "", err
		}
		path := param(p, pathKeys...)
		if path == "" {
			path = "*"
		}
		return fmt.Sprintf("Select-String -Pattern %s -Path %s", QuotePowerShell(pattern), QuotePowerShell(path)), nil
	},
}

func powershellTransfer(cmdlet string, p map[string]any) (string, error) {
	src, err := required(p, "source", sourceKeys...)
	if err != nil {
		return "", err
	}
	dst, err := required(p, "destination", destKeys...)
	if err != nil {
		return "", err
	}
	cmd := fmt.Sprintf("%s -LiteralPath %s -Destination %s", cmdlet, QuotePowerShell(src), QuotePowerShell(dst))
	if cmdlet == "Copy-Item" && flag(p, "recursive") {
		cmd += " -Recurse"
	}
	return cmd, nil
}
