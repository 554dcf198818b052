package preflight

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"dirjobs/internal/config"
	"dirjobs/internal/testsupport"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if !strings.Contains(result.Detail, "does not exist") {
		t.Fatalf("unexpected detail: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestCheckDirectoryReadable_Empty(t *testing.T) {
	if result := CheckDirectoryReadable("video", ""); result.Passed {
		t.Fatal("expected failure for unconfigured path")
	}
}

func TestCheckQueueLayout(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	results := CheckQueueLayout(cfg.Paths.JobsDir)
	if len(results) != 5 {
		t.Fatalf("expected root plus four state checks, got %d", len(results))
	}
	if results[0].Passed {
		t.Fatal("expected missing queue root to fail")
	}

	testsupport.MustOpenStore(t, cfg)
	for _, r := range CheckQueueLayout(cfg.Paths.JobsDir) {
		if !r.Passed {
			t.Errorf("check %q failed: %s", r.Name, r.Detail)
		}
	}
}

func TestCheckQueueLayout_MissingStateDir(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	testsupport.MustOpenStore(t, cfg)
	if err := os.Remove(filepath.Join(cfg.Paths.JobsDir, "02_done")); err != nil {
		t.Fatal(err)
	}

	var failed []string
	for _, r := range CheckQueueLayout(cfg.Paths.JobsDir) {
		if !r.Passed {
			failed = append(failed, r.Name)
		}
	}
	if len(failed) != 1 || failed[0] != "Queue done" {
		t.Fatalf("expected only the done dir to fail, got %v", failed)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	if results := RunAll(context.Background(), nil); results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestRunAll_ContainerBackend(t *testing.T) {
	cfg := readyConfig(t, testsupport.WithStubbedBinaries())

	results := RunAll(context.Background(), cfg)
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %s", Summarize(failed))
	}
	if !hasResult(results, "Container runtime") {
		t.Fatal("expected container runtime check")
	}
}

func TestRunAll_DryRunSkipsContainerRuntime(t *testing.T) {
	cfg := readyConfig(t, testsupport.WithDryRun())
	t.Setenv("PATH", "")

	results := RunAll(context.Background(), cfg)
	if hasResult(results, "Container runtime") {
		t.Fatal("dry run should not require the container runtime")
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %s", Summarize(failed))
	}
}

func TestRunAll_MissingContainerRuntime(t *testing.T) {
	cfg := readyConfig(t)
	t.Setenv("PATH", "")

	failed := Failed(RunAll(context.Background(), cfg))
	if len(failed) != 1 || failed[0].Name != "Container runtime" {
		t.Fatalf("expected container runtime failure, got %+v", failed)
	}
	if !strings.Contains(Summarize(failed), "docker") {
		t.Fatalf("summary should name the binary: %s", Summarize(failed))
	}
}

func TestRunAll_DraptoBackendSkipsMissingOptionalTools(t *testing.T) {
	cfg := readyConfig(t, testsupport.WithStubbedBinaries("ffmpeg", "ffprobe"))
	cfg.Encoder.Backend = config.BackendDrapto
	t.Setenv("PATH", filepath.Join(testsupport.BaseDir(cfg), "bin"))

	results := RunAll(context.Background(), cfg)
	if hasResult(results, "MediaInfo") {
		t.Fatal("missing optional tool should be omitted")
	}
	if !hasResult(results, "FFmpeg") || !hasResult(results, "FFprobe") {
		t.Fatal("expected ffmpeg and ffprobe checks")
	}
	if failed := Failed(results); len(failed) != 0 {
		t.Fatalf("unexpected failures: %s", Summarize(failed))
	}
}

func TestCheckSFTP(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if result := CheckSFTP(context.Background(), cfg); !result.Passed || result.Detail != "Disabled" {
		t.Fatalf("expected disabled pass, got %+v", result)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	cfg.Delivery.SFTPHost = "127.0.0.1"
	cfg.Delivery.SFTPPort = addr.Port
	if result := CheckSFTP(context.Background(), cfg); !result.Passed {
		t.Fatalf("expected reachable, got %+v", result)
	}

	_ = ln.Close()
	result := CheckSFTP(context.Background(), cfg)
	if result.Passed {
		t.Fatal("expected closed port to fail")
	}
	if !strings.Contains(result.Detail, strconv.Itoa(addr.Port)) {
		t.Fatalf("detail should name the address: %s", result.Detail)
	}
}

func readyConfig(t *testing.T, opts ...testsupport.ConfigOption) *config.Config {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	testsupport.MustOpenStore(t, cfg)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	if err := os.MkdirAll(cfg.Paths.VideoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	return cfg
}

func hasResult(results []Result, name string) bool {
	for _, r := range results {
		if r.Name == name {
			return true
		}
	}
	return false
}
