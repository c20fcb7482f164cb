package platform

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnv(vars map[string]string) func(string) string {
	return func(k string) string { return vars[k] }
}

func TestParseOSRelease(t *testing.T) {
	release := ParseOSRelease(strings.NewReader(`# comment
NAME="Ubuntu"
VERSION_ID="24.04"
ID=ubuntu
PRETTY_NAME='Ubuntu 24.04 LTS'
garbage
`))
	assert.Equal(t, map[string]string{
		"NAME":        "Ubuntu",
		"VERSION_ID":  "24.04",
		"ID":          "ubuntu",
		"PRETTY_NAME": "Ubuntu 24.04 LTS",
	}, release)
}

func TestDetect_Linux(t *testing.T) {
	release := filepath.Join(t.TempDir(), "os-release")
	require.NoError(t, os.WriteFile(release, []byte("ID=debian\nVERSION_ID=\"12\"\nPRETTY_NAME=\"Debian 12\"\n"), 0o644))

	d := &Detector{
		GOOS:          "linux",
		OSReleasePath: release,
		Tools:         []string{"git", "docker", "missing"},
		Getenv:        fakeEnv(map[string]string{"SHELL": "/usr/bin/zsh", "USER": "dev"}),
		Getwd:         func() (string, error) { return "/home/dev", nil },
		LookPath: func(name string) (string, error) {
			if name == "missing" {
				return "", errors.New("not found")
			}
			return "/usr/bin/" + name, nil
		},
	}

	ci := d.Detect()
	assert.Equal(t, "linux", ci.OSFamily)
	assert.Equal(t, "debian", ci.Distribution)
	assert.Equal(t, "12", ci.OSVersion)
	assert.Equal(t, "zsh", ci.ShellFamily)
	assert.Equal(t, "/home/dev", ci.WorkingDir)
	assert.Equal(t, map[string]string{"os_name": "Debian 12", "user": "dev", "tools": "docker,git"}, ci.Extra)
}

func TestDetect_WindowsShell(t *testing.T) {
	base := Detector{
		GOOS:     "windows",
		Getwd:    func() (string, error) { return "", errors.New("no cwd") },
		LookPath: func(string) (string, error) { return "", errors.New("not found") },
	}

	ps := base
	ps.Getenv = fakeEnv(map[string]string{"PSModulePath": `C:\Modules`, "USERNAME": "dev"})
	ci := ps.Detect()
	assert.Equal(t, "powershell", ci.ShellFamily)
	assert.True(t, ci.IsWindows())
	assert.Empty(t, ci.WorkingDir)
	assert.Equal(t, "dev", ci.Extra["user"])

	cmd := base
	cmd.Getenv = fakeEnv(nil)
	assert.Equal(t, "cmd", cmd.Detect().ShellFamily)
}

func TestDetect_NoShellVariable(t *testing.T) {
	d := NewDetector()
	d.GOOS = "darwin"
	d.Getenv = fakeEnv(nil)
	assert.Equal(t, "sh", d.Detect().ShellFamily)
}
