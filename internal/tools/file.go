package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
)

var (
	pathKeys   = []string{"path", "file", "directory", "dir"}
	sourceKeys = []string{"source", "src", "from"}
	destKeys   = []string{"destination", "dest", "to", "target"}
)

// FileManager performs file operations natively.
type FileManager struct {
	baseDir string
	logger  *zap.Logger
}

// NewFileManager resolves relative paths against baseDir.
func NewFileManager(baseDir string, logger *zap.Logger) *FileManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileManager{baseDir: baseDir, logger: logger}
}

func (f *FileManager) resolve(p string) string {
	if f.baseDir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(f.baseDir, p)
}

func (f *FileManager) requirePath(params map[string]any, keys ...string) (string, error) {
	p := stringParam(params, keys...)
	if p == "" {
		return "", fmt.Errorf("missing required parameter '%s'", keys[0])
	}
	return f.resolve(p), nil
}

// Execute dispatches action. list returns entry names with a trailing
// slash on directories, read returns the content, and the others return a
// confirmation line.
func (f *FileManager) Execute(ctx context.Context, action string, params map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.logger.Debug("File operation", zap.String("op", action), zap.Any("params", params))

	switch action {
	case "list":
		dir := f.resolve(stringParam(params, pathKeys...))
		if dir == "" {
			dir = "."
		}
		return f.list(dir)
	case "read":
		p, err := f.requirePath(params, pathKeys...)
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case "create":
		p, err := f.requirePath(params, pathKeys...)
		if err != nil {
			return nil, err
		}
		file, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		return "created " + p, file.Close()
	case "write", "append":
		p, err := f.requirePath(params, pathKeys...)
		if err != nil {
			return nil, err
		}
		flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
		if action == "append" {
			flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
		}
		file, err := os.OpenFile(p, flags, 0o644)
		if err != nil {
			return nil, err
		}
		content := stringParam(params, "content", "text", "data")
		if _, err := io.WriteString(file, content); err != nil {
			file.Close()
			return nil, err
		}
		return fmt.Sprintf("wrote %d bytes to %s", len(content), p), file.Close()
	case "delete":
		p, err := f.requirePath(params, pathKeys...)
		if err != nil {
			return nil, err
		}
		if boolParam(params, "recursive") {
			if _, err := os.Stat(p); err != nil {
				return nil, err
			}
			err = os.RemoveAll(p)
		} else {
			err = os.Remove(p)
		}
		if err != nil {
			return nil, err
		}
		return "deleted " + p, nil
	case "copy":
		src, err := f.requirePath(params, sourceKeys...)
		if err != nil {
			return nil, err
		}
		dst, err := f.requirePath(params, destKeys...)
		if err != nil {
			return nil, err
		}
		if err := copyPath(src, dst, boolParam(params, "recursive")); err != nil {
			return nil, err
		}
		return fmt.Sprintf("copied %s to %s", src, dst), nil
	case "move":
		src, err := f.requirePath(params, sourceKeys...)
		if err != nil {
			return nil, err
		}
		dst, err := f.requirePath(params, destKeys...)
		if err != nil {
			return nil, err
		}
		if err := os.Rename(src, dst); err != nil {
			return nil, err
		}
		return fmt.Sprintf("moved %s to %s", src, dst), nil
	case "mkdir":
		p, err := f.requirePath(params, pathKeys...)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return nil, err
		}
		return "created directory " + p, nil
	}
	return nil, fmt.Errorf("unsupported file operation '%s'", action)
}

func (f *FileManager) list(dir string) ([]any, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]any, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out, nil
}

func copyPath(src, dst string, recursive bool) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode().Perm())
	}
	if !recursive {
		return errors.New("source is a directory; set recursive to copy it")
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, fi.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
