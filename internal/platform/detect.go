// Package platform collects the ContextInfo of the host the engine runs on.
package platform

import (
	"bufio"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/dragonscale-intent"
)

// DefaultTools are probed on PATH and reported in Extra["tools"].
var DefaultTools = []string{"docker", "kubectl", "git", "npm", "python3", "go", "node", "cargo", "make"}

// Detector gathers host facts. The function fields exist so tests can
// substitute the environment.
type Detector struct {
	GOOS          string
	OSReleasePath string
	Tools         []string
	Getenv        func(string) string
	Getwd         func() (string, error)
	LookPath      func(string) (string, error)
}

// NewDetector returns a detector for the running host.
func NewDetector() *Detector {
	return &Detector{
		GOOS:          runtime.GOOS,
		OSReleasePath: "/etc/os-release",
		Tools:         DefaultTools,
		Getenv:        os.Getenv,
		Getwd:         os.Getwd,
		LookPath:      exec.LookPath,
	}
}

// Detect collects the ContextInfo of the running host.
func Detect() dragonscale.ContextInfo {
	return NewDetector().Detect()
}

// Detect collects the ContextInfo. Facts that cannot be read are left empty.
func (d *Detector) Detect() dragonscale.ContextInfo {
	ci := dragonscale.ContextInfo{
		OSFamily:    d.GOOS,
		ShellFamily: d.shell(),
		Extra:       map[string]string{},
	}
	if wd, err := d.Getwd(); err == nil {
		ci.WorkingDir = wd
	}

	if d.GOOS == "linux" && d.OSReleasePath != "" {
		if f, err := os.Open(d.OSReleasePath); err == nil {
			release := ParseOSRelease(f)
			f.Close()
			ci.Distribution = release["ID"]
			ci.OSVersion = release["VERSION_ID"]
			if name := release["PRETTY_NAME"]; name != "" {
				ci.Extra["os_name"] = name
			}
		}
	}

	if user := d.Getenv("USER"); user != "" {
		ci.Extra["user"] = user
	} else if user := d.Getenv("USERNAME"); user != "" {
		ci.Extra["user"] = user
	}

	var available []string
	for _, tool := range d.Tools {
		if _, err := d.LookPath(tool); err == nil {
			available = append(available, tool)
		}
	}
	if len(available) > 0 {
		sort.Strings(available)
		ci.Extra["tools"] = strings.Join(available, ",")
	}
	return ci
}

// shell reports the shell family: $SHELL on Unix; on Windows, PowerShell
// when PSModulePath is set and cmd otherwise.
func (d *Detector) shell() string {
	if d.GOOS == "windows" {
		if d.Getenv("PSModulePath") != "" {
			return "powershell"
		}
		return "cmd"
	}
	if shell := d.Getenv("SHELL"); shell != "" {
		return strings.TrimSuffix(filepath.Base(shell), ".exe")
	}
	return "sh"
}

// ParseOSRelease reads KEY=value lines in the os-release format. Quotes
// around values are removed.
func ParseOSRelease(r io.Reader) map[string]string {
	out := map[string]string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		out[key] = strings.Trim(value, `"'`)
	}
	return out
}
