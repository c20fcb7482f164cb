package extract

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellTranslator_POSIX(t *testing.T) {
	tr := NewShellTranslator(false)
	tests := []struct {
		op     string
		params map[string]any
		want   string
	}{
		{"list", nil, "ls -la '.'"},
		{"read", map[string]any{"path": "notes.txt"}, "cat 'notes.txt'"},
		{"write", map[string]any{"path": "a", "content": "hi"}, `printf '%s\n' 'hi' > 'a'`},
		{"append", map[string]any{"file": "a", "content": "x"}, `printf '%s\n' 'x' >> 'a'`},
		{"delete", map[string]any{"path": "tmp", "recursive": true}, "rm -r 'tmp'"},
		{"copy", map[string]any{"src": "a", "dest": "b", "recursive": "true"}, "cp -r 'a' 'b'"},
		{"move", map[string]any{"from": "a", "to": "b"}, "mv 'a' 'b'"},
		{"mkdir", map[string]any{"dir": "x/y"}, "mkdir -p 'x/y'"},
		{"find", map[string]any{"pattern": "*.go"}, "find '.' -name '*.go'"},
		{"search", map[string]any{"query": "TODO", "path": "src"}, "grep -rn 'TODO' 'src'"},
		{"permissions", map[string]any{"path": "run.sh", "mode": "755"}, "chmod '755' 'run.sh'"},
		{"READ", map[string]any{"path": "it's.txt"}, `cat 'it'\''s.txt'`},
	}
	for _, tt := range tests {
		got, err := tr.Translate(tt.op, tt.params)
		require.NoError(t, err, tt.op)
		assert.Equal(t, tt.want, got, tt.op)
	}
}

func TestShellTranslator_PowerShell(t *testing.T) {
	tr := NewShellTranslator(true)
	assert.True(t, tr.Windows())

	got, err := tr.Translate("delete", map[string]any{"path": "it's", "recursive": true})
	require.NoError(t, err)
	assert.Equal(t, "Remove-Item -LiteralPath 'it''s' -Recurse", got)

	got, err = tr.Translate("copy", map[string]any{"source": "a", "destination": "b"})
	require.NoError(t, err)
	assert.Equal(t, "Copy-Item -LiteralPath 'a' -Destination 'b'", got)

	_, err = tr.Translate("permissions", map[string]any{"path": "a", "mode": "755"})
	assert.True(t, errors.Is(err, ErrUnsupportedOperation))
}

func TestShellTranslator_MissingParams(t *testing.T) {
	tr := NewShellTranslator(false)
	_, err := tr.Translate("copy", map[string]any{"source": "a"})
	assert.ErrorContains(t, err, "destination")

	_, err = tr.Translate("read", nil)
	assert.ErrorContains(t, err, "path")
}

func TestShellTranslator_Register(t *testing.T) {
	tr := NewShellTranslator(false)
	_, err := tr.Translate("archive", nil)
	require.ErrorIs(t, err, ErrUnsupportedOperation)

	tr.Register("Archive", func(p map[string]any) (string, error) {
		return "tar czf " + QuotePOSIX(param(p, "output")) + " " + QuotePOSIX(param(p, pathKeys...)), nil
	})
	got, err := tr.Translate("archive", map[string]any{"output": "out.tgz", "path": "src"})
	require.NoError(t, err)
	assert.Equal(t, "tar czf 'out.tgz' 'src'", got)
	assert.Contains(t, tr.Operations(), "archive")
}
