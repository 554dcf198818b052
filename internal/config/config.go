package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the queue root and the working directories of the encode pipeline.
type Paths struct {
	JobsDir   string `toml:"jobs_dir"`
	VideoDir  string `toml:"video_dir"`
	TmpDir    string `toml:"tmp_dir"`
	ResultDir string `toml:"result_dir"`
	LogDir    string `toml:"log_dir"`
}

// Worker contains identity and claim protocol settings.
type Worker struct {
	ID              string `toml:"id"`
	JobExtension    string `toml:"job_extension"`
	RandomSelection bool   `toml:"random_selection"`
	RequireVideo    bool   `toml:"require_video"`
	WorkerSync      bool   `toml:"worker_sync"`
	SyncSeconds     int    `toml:"sync_seconds"`
	IdleMinSeconds  int    `toml:"idle_min_seconds"`
	IdleMaxSeconds  int    `toml:"idle_max_seconds"`
	StopFile        string `toml:"stop_file"`
	OneJob          bool   `toml:"one_job"`
	DryRun          bool   `toml:"dry_run"`
}

// Encoder selects and configures the backend that processes a claimed job.
type Encoder struct {
	Backend         string `toml:"backend"`
	ContainerBinary string `toml:"container_binary"`
	Image           string `toml:"image"`
	Processor       string `toml:"processor"`
	SkipPull        bool   `toml:"skip_pull"`
}

// Delivery describes where encoded output goes once a job finishes.
type Delivery struct {
	SFTPHost              string `toml:"sftp_host"`
	SFTPPort              int    `toml:"sftp_port"`
	SFTPUser              string `toml:"sftp_user"`
	SFTPPassword          string `toml:"sftp_password"`
	SFTPTargetDir         string `toml:"sftp_target_dir"`
	ConnectTimeoutSeconds int    `toml:"connect_timeout_seconds"`
	KnownHostsFile        string `toml:"known_hosts_file"`
	SSHFSDir              string `toml:"sshfs_dir"`
	KeepTmp               bool   `toml:"keep_tmp"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobFailed      bool   `toml:"job_failed"`
	WorkerStopped  bool   `toml:"worker_stopped"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
	WorkerLog     bool   `toml:"worker_log"`
}

// Config encapsulates all configuration values for a dirjobs worker.
//
// Configuration sections by subsystem:
//   - Paths: queue root and pipeline directories
//   - Worker: identity, claim protocol timing, loop behaviour
//   - Encoder: container or drapto backend
//   - Delivery: SFTP upload or SSHFS move of encoded output
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, retention and per-worker log file
type Config struct {
	Paths         Paths         `toml:"paths"`
	Worker        Worker        `toml:"worker"`
	Encoder       Encoder       `toml:"encoder"`
	Delivery      Delivery      `toml:"delivery"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			var strict *toml.StrictMissingError
			if errors.As(err, &strict) {
				return nil, "", false, fmt.Errorf("parse config: %s", strict.String())
			}
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("dirjobs.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the local pipeline directories. The queue root is
// left to the job store, which owns its layout.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.TmpDir, c.Paths.ResultDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Tolerance returns the worker synchronisation window.
func (c *Config) Tolerance() time.Duration {
	return time.Duration(c.Worker.SyncSeconds) * time.Second
}

// IdleRange returns the bounds of the randomized backoff used when the queue is drained.
func (c *Config) IdleRange() (time.Duration, time.Duration) {
	return time.Duration(c.Worker.IdleMinSeconds) * time.Second,
		time.Duration(c.Worker.IdleMaxSeconds) * time.Second
}

// SingleShot reports whether the worker exits after one claim cycle.
// Dry runs are always single shot.
func (c *Config) SingleShot() bool {
	return c.Worker.OneJob || c.Worker.DryRun
}

// SyncEnabled reports whether claims are verified after the tolerance window.
// Dry runs skip synchronisation.
func (c *Config) SyncEnabled() bool {
	return c.Worker.WorkerSync && !c.Worker.DryRun
}

// HistoryPath returns the location of the local job history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.LogDir, "history.db")
}

// WorkerLockPath returns the lock file guarding the configured worker ID on this host.
func (c *Config) WorkerLockPath() string {
	return filepath.Join(c.Paths.LogDir, fmt.Sprintf("worker-%s.lock", c.Worker.ID))
}

// SFTPEnabled reports whether encoded output is uploaded over SFTP.
func (c *Config) SFTPEnabled() bool {
	return strings.TrimSpace(c.Delivery.SFTPHost) != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Marshal renders the effective configuration as TOML with the SFTP password redacted.
func (c *Config) Marshal() ([]byte, error) {
	clone := *c
	if clone.Delivery.SFTPPassword != "" {
		clone.Delivery.SFTPPassword = "********"
	}
	data, err := toml.Marshal(clone)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
