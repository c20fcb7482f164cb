package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatPrompt_SubstitutesPlatform(t *testing.T) {
	out, err := FormatPrompt("  list files  ", PlatformInfo{
		OSFamily:     "linux",
		Distribution: "ubuntu",
		Version:      "24.04",
		Shell:        "bash",
	})
	require.NoError(t, err)

	assert.Contains(t, out, "- OS family: linux")
	assert.Contains(t, out, "- Distribution: ubuntu")
	assert.Contains(t, out, "- Version: 24.04")
	assert.Contains(t, out, "- Shell: bash")
	assert.True(t, strings.HasSuffix(out, "Request: list files"))
}

func TestFormatPrompt_UnknownFields(t *testing.T) {
	out, err := FormatPrompt("df", PlatformInfo{OSFamily: "darwin"})
	require.NoError(t, err)
	assert.Contains(t, out, "- Distribution: unknown")
	assert.Contains(t, out, "- Shell: unknown")
}

func TestFormatPrompt_Deterministic(t *testing.T) {
	p := PlatformInfo{OSFamily: "windows", Shell: "powershell"}
	a, err := FormatPrompt("show disk usage", p)
	require.NoError(t, err)
	b, err := FormatPrompt("show disk usage", p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestNewFormatter_Custom(t *testing.T) {
	f, err := NewFormatter("{{.Shell}}: {{.Request}}")
	require.NoError(t, err)

	out, err := f.Format("whoami", PlatformInfo{Shell: "zsh"})
	require.NoError(t, err)
	assert.Equal(t, "zsh: whoami", out)
}

func TestNewFormatter_InvalidTemplate(t *testing.T) {
	_, err := NewFormatter("{{.Request")
	assert.Error(t, err)
}

func TestFormatter_UnknownFieldFails(t *testing.T) {
	f, err := NewFormatter("{{.Nope}}")
	require.NoError(t, err)
	_, err = f.Format("x", PlatformInfo{})
	assert.Error(t, err)
}
