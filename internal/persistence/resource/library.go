package resource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"inkforge.dev/internal/story/graph"
)

// Library serves compiled stories by name from a directory of resource
// files. A story is decoded once and reloaded when its file changes.
type Library struct {
	Dir string

	mu    sync.Mutex
	cache map[string]libEntry
}

type libEntry struct {
	mod   time.Time
	story *graph.Story
}

func NewLibrary(dir string) *Library {
	return &Library{Dir: dir, cache: map[string]libEntry{}}
}

func (l *Library) Story(name string) (*graph.Story, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("resource: bad story name %q", name)
	}
	path := filepath.Join(l.Dir, name+"."+SaveExtension)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.cache[name]; ok && e.mod.Equal(fi.ModTime()) {
		return e.story, nil
	}
	s, _, err := Load(path)
	if err != nil {
		return nil, err
	}
	l.cache[name] = libEntry{mod: fi.ModTime(), story: s}
	return s, nil
}

// Names lists the story resources in the directory, placeholders included.
func (l *Library) Names() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.Dir, "*."+SaveExtension))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, strings.TrimSuffix(filepath.Base(f), "."+SaveExtension))
	}
	return out, nil
}
