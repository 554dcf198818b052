package jobstore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"

	"dirjobs/internal/logging"
	"dirjobs/internal/services"
)

// DefaultExtension is the job file extension used when none is configured.
const DefaultExtension = ".txt"

// Filter decides whether a waiting job is eligible for this worker. It
// receives the absolute path and the base name of the job file.
type Filter func(path, name string) bool

// AcceptAll is a Filter that admits every job.
func AcceptAll(string, string) bool { return true }

// RunningEntry is one claim record in the running directory.
type RunningEntry struct {
	WorkerID string
	BaseName string
	Name     string
}

// Store manages one queue root.
type Store struct {
	root      string
	extension string
	layout    Layout
	fs        FileSystem
	logger    *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithExtension sets the job file extension (".txt" by default).
func WithExtension(ext string) Option {
	return func(s *Store) {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			return
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		s.extension = ext
	}
}

// WithLayout overrides the state directory names.
func WithLayout(layout Layout) Option {
	return func(s *Store) { s.layout = layout }
}

// WithFileSystem replaces the storage backend.
func WithFileSystem(fsys FileSystem) Option {
	return func(s *Store) {
		if fsys != nil {
			s.fs = fsys
		}
	}
}

// WithLogger attaches a logger for move and removal tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New binds a Store to root without touching storage.
func New(root string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("%w: queue root is empty", services.ErrConfiguration)
	}
	s := &Store{
		root:      filepath.Clean(root),
		extension: DefaultExtension,
		layout:    DefaultLayout(),
		fs:        OSFileSystem{},
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if err := s.layout.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}
	s.logger = logging.NewComponentLogger(s.logger, "jobstore")
	return s, nil
}

// Open binds a Store to root and ensures the state directories exist.
func Open(root string, opts ...Option) (*Store, error) {
	s, err := New(root, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.EnsureLayout(); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureLayout creates the four state directories. It is idempotent.
func (s *Store) EnsureLayout() error {
	for _, state := range AllStates() {
		dir := s.dir(state)
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: create %s directory %s: %w", services.ErrConfiguration, state, dir, err)
		}
	}
	return nil
}

// Root returns the queue root directory.
func (s *Store) Root() string { return s.root }

// Extension returns the job file extension.
func (s *Store) Extension() string { return s.extension }

// Layout returns the directory names in use.
func (s *Store) Layout() Layout { return s.layout }

// Path returns the absolute path of name inside state.
func (s *Store) Path(state State, name string) string {
	return filepath.Join(s.dir(state), name)
}

func (s *Store) dir(state State) string {
	dir, err := s.layout.Dir(state)
	if err != nil {
		// Unknown states resolve to a path that cannot exist in the tree.
		dir = "invalid_" + string(state)
	}
	return filepath.Join(s.root, dir)
}

// ListWaiting returns the base names of eligible jobs in waiting. Only
// regular, non-hidden files carrying the job extension are considered. The
// order is unspecified.
func (s *Store) ListWaiting(filter Filter) ([]string, error) {
	entries, err := s.readDir(StateWaiting)
	if err != nil {
		return nil, err
	}
	jobs := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !s.isJobFile(entry) {
			continue
		}
		if filter != nil && !filter(s.Path(StateWaiting, name), name) {
			continue
		}
		jobs = append(jobs, name)
	}
	return jobs, nil
}

func (s *Store) isJobFile(entry fs.DirEntry) bool {
	name := entry.Name()
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, s.extension) {
		return false
	}
	return entry.Type().IsRegular()
}

// Move relocates srcName in src to dstName in dst and refreshes its
// modification time. A missing source yields an error matching ErrVanished;
// any other failure matches ErrStorage.
func (s *Store) Move(src State, srcName string, dst State, dstName string) error {
	srcPath := s.Path(src, srcName)
	dstPath := s.Path(dst, dstName)
	s.logger.Debug("MOVE", logging.String("from", srcPath), logging.String("to", dstPath))

	if err := s.fs.Rename(srcPath, dstPath); err != nil {
		if s.vanished(srcPath, err) {
			return fmt.Errorf("move %s: %w", srcPath, ErrVanished)
		}
		return fmt.Errorf("%w: move %s to %s: %w", ErrStorage, srcPath, dstPath, err)
	}
	if err := s.fs.Touch(dstPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.WarnWithContext(s.logger, "touch after move failed", "jobstore_touch_failed",
			logging.String("path", dstPath),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check write permissions on the queue mount"),
			logging.String(logging.FieldImpact, "job timestamp reflects its previous state"),
		)
	}
	return nil
}

// vanished decides whether a failed rename means the source is gone. A
// not-exist error can also come from a missing destination directory, so the
// source is checked explicitly.
func (s *Store) vanished(srcPath string, err error) bool {
	if !errors.Is(err, fs.ErrNotExist) {
		return false
	}
	_, statErr := s.fs.Lstat(srcPath)
	return errors.Is(statErr, fs.ErrNotExist)
}

// Remove deletes name from state.
func (s *Store) Remove(state State, name string) error {
	path := s.Path(state, name)
	s.logger.Debug("RM", logging.String("path", path))
	if err := s.fs.Remove(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", path, ErrVanished)
		}
		return fmt.Errorf("%w: remove %s: %w", ErrStorage, path, err)
	}
	return nil
}

// RunningName encodes the running entry name for workerID holding job.
func RunningName(workerID, job string) string {
	return workerID + "." + job
}

// ParseRunningName splits a running entry name into worker ID and job base
// name. Worker IDs cannot contain '.', so the first dot is the separator.
func ParseRunningName(name string) (workerID, job string, ok bool) {
	workerID, job, ok = strings.Cut(name, ".")
	if !ok || workerID == "" || job == "" {
		return "", "", false
	}
	return workerID, job, true
}

// ListRunning returns every running entry whose job component equals
// baseName. Names are compared in Unicode NFC so decomposed listings from
// SMB and WebDAV servers still match.
func (s *Store) ListRunning(baseName string) ([]RunningEntry, error) {
	entries, err := s.readDir(StateRunning)
	if err != nil {
		return nil, err
	}
	want := norm.NFC.String(baseName)
	var matches []RunningEntry
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		workerID, job, ok := ParseRunningName(name)
		if !ok || norm.NFC.String(job) != want {
			continue
		}
		matches = append(matches, RunningEntry{WorkerID: workerID, BaseName: job, Name: name})
	}
	return matches, nil
}

// List returns the sorted non-hidden entry names in state. Running entries
// are returned encoded; other states only list job files.
func (s *Store) List(state State) ([]string, error) {
	entries, err := s.readDir(state)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || entry.IsDir() {
			continue
		}
		if state != StateRunning && !strings.HasSuffix(name, s.extension) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Counts returns the number of listed entries per state.
func (s *Store) Counts() (map[State]int, error) {
	counts := make(map[State]int, 4)
	for _, state := range AllStates() {
		names, err := s.List(state)
		if err != nil {
			return nil, err
		}
		counts[state] = len(names)
	}
	return counts, nil
}

func (s *Store) readDir(state State) ([]fs.DirEntry, error) {
	dir := s.dir(state)
	entries, err := s.fs.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %w", ErrStorage, dir, err)
	}
	return entries, nil
}

// Enqueue copies the job file at srcPath into waiting under its base name.
func (s *Store) Enqueue(srcPath string) (string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return "", fmt.Errorf("read job %s: %w", srcPath, err)
	}
	name := filepath.Base(srcPath)
	if err := s.EnqueueBytes(name, data); err != nil {
		return "", err
	}
	return name, nil
}

// EnqueueBytes writes data into waiting as name. The payload is written to a
// hidden temporary file first and renamed into place, so listings never see
// a partial job. Names already present anywhere in the queue are refused.
func (s *Store) EnqueueBytes(name string, data []byte) error {
	if err := s.validateName(name); err != nil {
		return err
	}
	if err := s.checkDuplicate(name); err != nil {
		return err
	}

	tmpName := fmt.Sprintf(".%s.%s.tmp", name, uuid.NewString())
	tmpPath := s.Path(StateWaiting, tmpName)
	if err := s.fs.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrStorage, tmpPath, err)
	}
	if err := s.fs.Rename(tmpPath, s.Path(StateWaiting, name)); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("%w: publish %s: %w", ErrStorage, name, err)
	}
	s.logger.Info("job enqueued", logging.String(logging.FieldJob, name))
	return nil
}

func (s *Store) validateName(name string) error {
	switch {
	case name == "" || name != filepath.Base(name) || strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q must be a plain file name", ErrInvalidName, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: %q is hidden", ErrInvalidName, name)
	case !strings.HasSuffix(name, s.extension) || name == s.extension:
		return fmt.Errorf("%w: %q does not end with %s", ErrInvalidName, name, s.extension)
	}
	return nil
}

func (s *Store) checkDuplicate(name string) error {
	want := norm.NFC.String(name)
	for _, state := range []State{StateWaiting, StateDone, StateFailed} {
		names, err := s.List(state)
		if err != nil {
			return err
		}
		for _, existing := range names {
			if norm.NFC.String(existing) == want {
				return fmt.Errorf("%w: %s is in %s", ErrDuplicate, name, state)
			}
		}
	}
	running, err := s.ListRunning(name)
	if err != nil {
		return err
	}
	if len(running) > 0 {
		return fmt.Errorf("%w: %s is held by worker %s", ErrDuplicate, name, running[0].WorkerID)
	}
	return nil
}
