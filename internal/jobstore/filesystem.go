package jobstore

import (
	"io/fs"
	"os"

	"dirjobs/internal/fileutil"
)

// FileSystem is the storage surface the store needs. The default
// implementation talks to the local OS; tests substitute implementations
// that model lagging network mounts.
type FileSystem interface {
	MkdirAll(path string, perm fs.FileMode) error
	ReadDir(path string) ([]fs.DirEntry, error)
	Lstat(path string) (fs.FileInfo, error)
	Rename(oldpath, newpath string) error
	Remove(path string) error
	Touch(path string) error
	WriteFile(path string, data []byte, perm fs.FileMode) error
}

// OSFileSystem is the FileSystem backed by the host operating system.
// Renames across devices fall back to a verified copy.
type OSFileSystem struct{}

func (OSFileSystem) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }

func (OSFileSystem) ReadDir(path string) ([]fs.DirEntry, error) { return os.ReadDir(path) }

func (OSFileSystem) Lstat(path string) (fs.FileInfo, error) { return os.Lstat(path) }

func (OSFileSystem) Rename(oldpath, newpath string) error { return fileutil.MoveFile(oldpath, newpath) }

func (OSFileSystem) Remove(path string) error { return os.Remove(path) }

func (OSFileSystem) Touch(path string) error { return fileutil.Touch(path) }

func (OSFileSystem) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return os.WriteFile(path, data, perm)
}

var _ FileSystem = OSFileSystem{}
