// Package archive persists recorded reports as files under one root.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrPathEscapesRoot = errors.New("archive: path escapes root")

// Dir is a filesystem archive scoped to root. Paths are slash-separated and
// relative to root.
type Dir struct {
	root string
}

func NewDir(root string) Dir {
	resolved := strings.TrimSpace(root)
	if resolved == "" {
		resolved = filepath.Join("local", "reports")
	}
	return Dir{root: resolved}
}

func (d Dir) Root() string {
	return d.root
}

// Write stores content at rel, creating parent directories. Existing files
// are replaced atomically.
func (d Dir) Write(rel string, content []byte) error {
	p, err := d.resolvePath(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("archive: write %s: %w", rel, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".archive-*")
	if err != nil {
		return fmt.Errorf("archive: write %s: %w", rel, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("archive: write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("archive: write %s: %w", rel, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return fmt.Errorf("archive: write %s: %w", rel, err)
	}
	return nil
}

func (d Dir) Read(rel string) ([]byte, error) {
	p, err := d.resolvePath(rel)
	if err != nil {
		return nil, err
	}
	out, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("archive: read %s: %w", rel, err)
	}
	return out, nil
}

// Delete removes rel. A missing file is not an error.
func (d Dir) Delete(rel string) error {
	p, err := d.resolvePath(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archive: delete %s: %w", rel, err)
	}
	return nil
}

// List returns sorted relative paths starting with prefix. A missing root
// lists nothing.
func (d Dir) List(prefix string) ([]string, error) {
	root, err := filepath.Abs(d.root)
	if err != nil {
		return nil, err
	}
	prefix = strings.TrimSpace(prefix)
	keys := make([]string, 0)
	err = filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root && errors.Is(walkErr, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return walkErr
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".archive-") {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(rel, prefix) {
			keys = append(keys, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("archive: list: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Segment makes raw safe to use as one path element.
func Segment(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}

func (d Dir) resolvePath(pathArg string) (string, error) {
	rel := strings.TrimSpace(pathArg)
	if rel == "" {
		return "", fmt.Errorf("archive: missing path")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathEscapesRoot, rel)
	}
	root, err := filepath.Abs(d.root)
	if err != nil {
		return "", err
	}
	p := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	if !isWithin(p, root) || p == filepath.Clean(root) {
		return "", fmt.Errorf("%w: %q", ErrPathEscapesRoot, rel)
	}
	return p, nil
}

func isWithin(path string, root string) bool {
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}
