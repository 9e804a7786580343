// Package registry locates GGUF model files on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"zord/internal/common/fsutil"
)

// Model describes one GGUF file.
type Model struct {
	// Name is the file name without the .gguf extension.
	Name      string
	Path      string
	SizeBytes int64
}

// notFoundError lists every location that was tried.
type notFoundError struct {
	path  string
	tried []string
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("model %q not found (tried %s)", e.path, strings.Join(e.tried, ", "))
}

// IsNotFound reports whether err came from Resolve failing to find a model.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// exeDir is swapped in tests.
var exeDir = fsutil.ExecutableDir

func isGGUF(name string) bool { return strings.HasSuffix(strings.ToLower(name), ".gguf") }

// LoadDir scans a directory for *.gguf files, sorted by name.
func LoadDir(dir string) ([]Model, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []Model
	for _, e := range entries {
		if e.IsDir() || !isGGUF(e.Name()) {
			continue
		}
		m, err := describe(filepath.Join(abs, e.Name()))
		if err != nil {
			continue
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].Name < models[j].Name })
	return models, nil
}

func describe(path string) (Model, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Model{}, err
	}
	name := filepath.Base(path)
	return Model{Name: name[:len(name)-len(filepath.Ext(name))], Path: path, SizeBytes: fi.Size()}, nil
}

// Resolve finds the model for path. A relative path is tried against the
// working directory, then the directory of the running binary, then each of
// searchDirs. A directory resolves to its first *.gguf file.
func Resolve(path string, searchDirs ...string) (Model, error) {
	expanded, err := fsutil.ExpandHome(path)
	if err != nil {
		return Model{}, err
	}
	if expanded == "" {
		return Model{}, notFoundError{path: path}
	}
	candidates := []string{expanded}
	if !filepath.IsAbs(expanded) {
		if dir, err := exeDir(); err == nil {
			candidates = append(candidates, filepath.Join(dir, expanded))
		}
		for _, d := range searchDirs {
			d, err := fsutil.ExpandHome(d)
			if err != nil || d == "" {
				continue
			}
			candidates = append(candidates, filepath.Join(d, expanded))
		}
	}
	tried := make([]string, 0, len(candidates))
	for _, c := range candidates {
		abs, err := filepath.Abs(c)
		if err != nil {
			continue
		}
		tried = append(tried, abs)
		if fsutil.IsDir(abs) {
			models, err := LoadDir(abs)
			if err == nil && len(models) > 0 {
				return models[0], nil
			}
			continue
		}
		if m, err := describe(abs); err == nil {
			return m, nil
		}
	}
	return Model{}, notFoundError{path: path, tried: tried}
}
