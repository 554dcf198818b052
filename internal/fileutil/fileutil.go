package fileutil

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// rename is swapped in tests to simulate cross-device moves.
var rename = os.Rename

// CopyFileVerified streams src to dst with SHA256 + size integrity verification.
// Removes dst on mismatch. The source permission bits are carried over.
func CopyFileVerified(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, srcInfo.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	return nil
}

// IsCrossDevice reports whether err is a rename failure across filesystems.
func IsCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}

// MoveFile renames src to dst. When the two paths live on different
// filesystems it falls back to a verified copy followed by removal of src.
// A missing source is reported as fs.ErrNotExist.
func MoveFile(src, dst string) error {
	err := rename(src, dst)
	if err == nil || !IsCrossDevice(err) {
		return err
	}
	if err := CopyFileVerified(src, dst); err != nil {
		return fmt.Errorf("cross-device copy %s: %w", src, err)
	}
	if err := os.Remove(src); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Someone else moved the source while we copied; our copy is the live entry.
			return nil
		}
		return fmt.Errorf("remove source after copy: %w", err)
	}
	return nil
}

// MoveDir moves the directory src to dst, copying file by file when a rename
// crosses filesystems. dst must not exist.
func MoveDir(src, dst string) error {
	err := rename(src, dst)
	if err == nil || !IsCrossDevice(err) {
		return err
	}
	if err := copyTree(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return fmt.Errorf("cross-device copy %s: %w", src, err)
	}
	return os.RemoveAll(src)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return CopyFileVerified(path, target)
	})
}

// Touch sets the access and modification time of path to now.
func Touch(path string) error {
	now := time.Now()
	return os.Chtimes(path, now, now)
}

// DirSize sums the sizes of the regular files directly inside dir.
func DirSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}
