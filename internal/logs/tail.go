package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

const maxLineBytes = 1024 * 1024

// DefaultPoll is the follow-mode polling interval.
const DefaultPoll = 250 * time.Millisecond

// Last returns up to n trailing lines of path and the offset of the end of
// the file. A missing file yields no lines and offset 0.
func Last(path string, n int) ([]string, int64, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	if n <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, end, nil
	}

	ring := make([]string, n)
	count := 0
	offset, err := scanLines(file, func(line string) {
		ring[count%n] = line
		count++
	})
	if err != nil {
		return nil, 0, err
	}

	if count <= n {
		return ring[:count], offset, nil
	}
	start := count % n
	lines := make([]string, 0, n)
	lines = append(lines, ring[start:]...)
	lines = append(lines, ring[:start]...)
	return lines, offset, nil
}

// ReadFrom returns the complete lines written after offset and the offset
// following them. An offset past the end of the file means the file was
// truncated or replaced, so reading restarts at the beginning.
func ReadFrom(path string, offset int64) ([]string, int64, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	read, err := scanLines(file, func(line string) { lines = append(lines, line) })
	if err != nil {
		return nil, 0, err
	}
	return lines, offset + read, nil
}

// Follow emits lines appended to path after offset until ctx is done. It
// returns nil on cancellation.
func Follow(ctx context.Context, path string, offset int64, poll time.Duration, emit func(string)) error {
	if poll <= 0 {
		poll = DefaultPoll
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		lines, next, err := ReadFrom(path, offset)
		if err != nil {
			return err
		}
		for _, line := range lines {
			emit(line)
		}
		offset = next

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func open(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}

// scanLines feeds every newline-terminated line from r to fn and returns the
// number of bytes consumed. A trailing partial line is left for the next read
// so follow mode never emits half a line.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadSlice('\n')
		switch {
		case err == nil:
			consumed += int64(len(line))
			fn(string(line[:len(line)-1]))
		case errors.Is(err, bufio.ErrBufferFull):
			rest, restErr := reader.ReadBytes('\n')
			full := append(append([]byte{}, line...), rest...)
			if restErr != nil {
				if errors.Is(restErr, io.EOF) {
					return consumed, nil
				}
				return consumed, fmt.Errorf("read log file: %w", restErr)
			}
			consumed += int64(len(full))
			text := full[:len(full)-1]
			if len(text) > maxLineBytes {
				text = text[:maxLineBytes]
			}
			fn(string(text))
		case errors.Is(err, io.EOF):
			return consumed, nil
		default:
			return consumed, fmt.Errorf("read log file: %w", err)
		}
	}
}
