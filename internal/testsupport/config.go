package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"dirjobs/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Worker sync is off and idle backoff is one second so loops stay fast.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Worker.ID = "w1"
	cfgVal.Worker.WorkerSync = false
	cfgVal.Worker.SyncSeconds = 1
	cfgVal.Worker.IdleMinSeconds = 1
	cfgVal.Worker.IdleMaxSeconds = 1
	cfgVal.Worker.StopFile = filepath.Join(base, "STOP_WORKERS")
	cfgVal.Paths.JobsDir = filepath.Join(base, "jobs")
	cfgVal.Paths.VideoDir = filepath.Join(base, "videos")
	cfgVal.Paths.TmpDir = filepath.Join(base, "tmp")
	cfgVal.Paths.ResultDir = filepath.Join(base, "results")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Logging.RetentionDays = 0

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithWorkerID overrides the worker identity on the test config.
func WithWorkerID(id string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.ID = id
	}
}

// WithDryRun enables dry-run mode on the test config.
func WithDryRun() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Worker.DryRun = true
	}
}

// WithStubbedBinaries writes stub executables for the provided names and
// prepends them to PATH. If names is empty, docker is stubbed.
func WithStubbedBinaries(names ...string) ConfigOption {
	return func(b *configBuilder) {
		if len(names) == 0 {
			names = []string{"docker"}
		}
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		script := []byte("#!/bin/sh\nexit 0\n")
		for _, name := range names {
			target := filepath.Join(binDir, name)
			if err := os.WriteFile(target, script, 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.JobsDir)
}
