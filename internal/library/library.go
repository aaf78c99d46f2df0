// Package library serves the HTML email templates shipped with the
// deployment.
package library

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

var (
	ErrNotFound    = errors.New("template not found")
	ErrInvalidName = errors.New("invalid template id")
)

type Library struct {
	fsys fs.FS
}

func New(fsys fs.FS) *Library {
	return &Library{fsys: fsys}
}

// Open reads templates from dir on disk.
func Open(dir string) *Library {
	return New(os.DirFS(dir))
}

// List returns the .html file names at the library root, sorted.
func (l *Library) List() ([]string, error) {
	entries, err := fs.ReadDir(l.fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read templates directory: %w", err)
	}
	names := []string{}
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ".html") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Get returns the contents of one template. Ids are plain file names.
func (l *Library) Get(id string) (string, error) {
	if id == "" || strings.Contains(id, "..") || strings.ContainsAny(id, `/\`) || !fs.ValidPath(id) {
		return "", ErrInvalidName
	}
	data, err := fs.ReadFile(l.fsys, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read template %s: %w", id, err)
	}
	return string(data), nil
}
