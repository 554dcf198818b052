package testsupport

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"dirjobs/internal/jobstore"
)

// LaggingFS models a network mount whose listings lag behind renames.
// While the consistency window is open, an entry that was renamed away stays
// visible in its old directory and renaming it again succeeds, so several
// workers can all believe they moved the same job. Settle closes the window.
type LaggingFS struct {
	jobstore.OSFileSystem

	mu     sync.Mutex
	open   bool
	ghosts map[string][]byte
	moves  int
}

// NewLaggingFS returns a LaggingFS with its consistency window open.
func NewLaggingFS() *LaggingFS {
	return &LaggingFS{open: true, ghosts: make(map[string][]byte)}
}

// Settle closes the consistency window and forgets stale entries.
func (l *LaggingFS) Settle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	l.ghosts = make(map[string][]byte)
}

// Moves reports how many renames succeeded, stale ones included.
func (l *LaggingFS) Moves() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moves
}

func (l *LaggingFS) Rename(oldpath, newpath string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(oldpath)
	if err == nil {
		if err := os.Rename(oldpath, newpath); err != nil {
			return err
		}
		if l.open {
			l.ghosts[oldpath] = data
		}
		l.moves++
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	ghost, ok := l.ghosts[oldpath]
	if !l.open || !ok {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrNotExist}
	}
	if err := os.WriteFile(newpath, ghost, 0o644); err != nil {
		return err
	}
	l.moves++
	return nil
}

func (l *LaggingFS) ReadDir(path string) ([]fs.DirEntry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.open {
		return entries, nil
	}
	present := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		present[entry.Name()] = struct{}{}
	}
	for ghostPath := range l.ghosts {
		if filepath.Dir(ghostPath) != filepath.Clean(path) {
			continue
		}
		name := filepath.Base(ghostPath)
		if _, ok := present[name]; ok {
			continue
		}
		entries = append(entries, ghostEntry{name: name})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}

type ghostEntry struct{ name string }

func (g ghostEntry) Name() string               { return g.name }
func (g ghostEntry) IsDir() bool                { return false }
func (g ghostEntry) Type() fs.FileMode          { return 0 }
func (g ghostEntry) Info() (fs.FileInfo, error) { return ghostInfo(g), nil }

type ghostInfo struct{ name string }

func (g ghostInfo) Name() string       { return g.name }
func (g ghostInfo) Size() int64        { return 0 }
func (g ghostInfo) Mode() fs.FileMode  { return 0o644 }
func (g ghostInfo) ModTime() time.Time { return time.Time{} }
func (g ghostInfo) IsDir() bool        { return false }
func (g ghostInfo) Sys() any           { return nil }

var _ jobstore.FileSystem = (*LaggingFS)(nil)
