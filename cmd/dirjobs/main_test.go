package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dirjobs/internal/jobstore"
	"dirjobs/internal/services"
	"dirjobs/internal/testsupport"
)

func TestConfigInitAndValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"config", "validate"}, env.configPath)
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	requireContains(t, out, "Configuration valid")

	target := filepath.Join(t.TempDir(), "config.toml")
	out, _, err = runCLI(t, []string{"config", "init", "--path", target}, "")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote sample configuration")
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected config file at %s: %v", target, err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}, ""); err == nil {
		t.Fatal("expected init to refuse overwriting without --overwrite")
	}

	out, _, err = runCLI(t, []string{"config", "validate"}, target)
	if err != nil {
		t.Fatalf("validate sample: %v", err)
	}
	requireContains(t, out, "Configuration valid")
}

func TestConfigShowRedactsPassword(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.Delivery.SFTPHost = "storage.example"
	env.cfg.Delivery.SFTPUser = "encoder"
	env.cfg.Delivery.SFTPPassword = "hunter2"
	writeTestConfig(t, env.configPath, env.cfg)
	// Marshal redacts, so put the real secret back into the file.
	data, err := os.ReadFile(env.configPath)
	if err != nil {
		t.Fatal(err)
	}
	data = []byte(strings.Replace(string(data), "********", "hunter2", 1))
	if err := os.WriteFile(env.configPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"config", "show"}, env.configPath)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Fatal("password leaked into config show output")
	}
	requireContains(t, out, "storage.example")
}

func TestQueueAddListStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	src := writeDescriptor(t, t.TempDir(), "v1_crf23.txt", testsupport.EncodeJobPayload("v1.y4m"))

	out, _, err := runCLI(t, []string{"queue", "add", src}, env.configPath)
	if err != nil {
		t.Fatalf("queue add: %v", err)
	}
	requireContains(t, out, "Queued v1_crf23.txt")

	if _, _, err := runCLI(t, []string{"queue", "add", src}, env.configPath); !errors.Is(err, jobstore.ErrDuplicate) {
		t.Fatalf("expected duplicate error, got %v", err)
	}

	out, _, err = runCLI(t, []string{"queue", "list", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	var entries []queueEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode list: %v\n%s", err, out)
	}
	if len(entries) != 1 || entries[0].State != "waiting" || entries[0].Job != "v1_crf23.txt" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	out, _, err = runCLI(t, []string{"queue", "status", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status: %v", err)
	}
	var counts map[string]int
	if err := json.Unmarshal([]byte(out), &counts); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if counts["waiting"] != 1 || counts["running"] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}

	out, _, err = runCLI(t, []string{"queue", "status"}, env.configPath)
	if err != nil {
		t.Fatalf("queue status table: %v", err)
	}
	requireContains(t, out, "00_waiting")
}

func TestQueueAddValidatesDescriptors(t *testing.T) {
	env := setupCLITestEnv(t)
	src := writeDescriptor(t, t.TempDir(), "v1_bad.txt", `{"crf": 23}`)

	_, _, err := runCLI(t, []string{"queue", "add", src}, env.configPath)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	out, _, err := runCLI(t, []string{"queue", "add", "--raw", src}, env.configPath)
	if err != nil {
		t.Fatalf("queue add --raw: %v", err)
	}
	requireContains(t, out, "Queued v1_bad.txt")
}

func TestQueueListRunningShowsWorker(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenStore(t, env.cfg)
	path := store.Path(jobstore.StateRunning, jobstore.RunningName("w7", "v1_a.txt"))
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"queue", "list", "--state", "running", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("queue list: %v", err)
	}
	var entries []queueEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(entries) != 1 || entries[0].Worker != "w7" || entries[0].Job != "v1_a.txt" {
		t.Fatalf("unexpected entries %+v", entries)
	}

	if _, _, err := runCLI(t, []string{"queue", "list", "--state", "paused"}, env.configPath); err == nil {
		t.Fatal("expected unknown state to be rejected")
	}
}

func TestQueueRetry(t *testing.T) {
	env := setupCLITestEnv(t)
	store := testsupport.MustOpenStore(t, env.cfg)
	if err := os.WriteFile(store.Path(jobstore.StateFailed, "v1_a.txt"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, _, err := runCLI(t, []string{"queue", "retry", "v1_a.txt", "v1_missing.txt"}, env.configPath)
	if err != nil {
		t.Fatalf("queue retry: %v", err)
	}
	requireContains(t, out, "Job v1_a.txt moved to waiting")
	requireContains(t, out, "Job v1_missing.txt is not in failed")

	waiting, err := store.List(jobstore.StateWaiting)
	if err != nil || len(waiting) != 1 {
		t.Fatalf("expected job back in waiting, got %v (err=%v)", waiting, err)
	}

	if _, _, err := runCLI(t, []string{"queue", "retry", "../escape.txt"}, env.configPath); !errors.Is(err, jobstore.ErrInvalidName) {
		t.Fatalf("expected invalid name error, got %v", err)
	}
}

func TestWorkerRunDryRunProcessesOneJob(t *testing.T) {
	env := setupCLITestEnv(t)
	if err := os.MkdirAll(env.cfg.Paths.VideoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	testsupport.WriteFile(t, filepath.Join(env.cfg.Paths.VideoDir, "v1.y4m"), 32)
	store := testsupport.MustOpenStore(t, env.cfg)
	testsupport.WriteJob(t, store, "v1_crf23.txt", testsupport.EncodeJobPayload("v1.y4m"))
	testsupport.WriteJob(t, store, "v1_crf30.txt", testsupport.EncodeJobPayload("v1.y4m"))

	out, _, err := runCLI(t, []string{"worker", "run", "--dry-run"}, env.configPath)
	if err != nil {
		t.Fatalf("worker run: %v", err)
	}
	requireContains(t, out, "Worker w1 stopped: 1 processed (1 succeeded, 0 failed)")

	counts, err := store.Counts()
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[jobstore.StateDone] != 1 || counts[jobstore.StateWaiting] != 1 {
		t.Fatalf("dry run should finish exactly one job, got %v", counts)
	}

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, `"outcome": "done"`)
}

func TestWorkerRunRejectsInvalidWorkerID(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"worker", "run", "--worker-id", "w 1"}, env.configPath)
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, statErr := os.Stat(env.cfg.Paths.JobsDir); !os.IsNotExist(statErr) {
		t.Fatalf("queue root must not be created for an invalid worker id, stat err=%v", statErr)
	}
}

func TestWorkerStopAndResume(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"worker", "stop"}, env.configPath)
	if err != nil {
		t.Fatalf("worker stop: %v", err)
	}
	requireContains(t, out, "Created")
	if _, err := os.Stat(env.cfg.Worker.StopFile); err != nil {
		t.Fatalf("stop file missing: %v", err)
	}

	out, _, err = runCLI(t, []string{"worker", "resume"}, env.configPath)
	if err != nil {
		t.Fatalf("worker resume: %v", err)
	}
	requireContains(t, out, "Removed")

	out, _, err = runCLI(t, []string{"worker", "resume"}, env.configPath)
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}
	requireContains(t, out, "No stop file")
}

func TestHistoryEmptyAndClear(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"history"}, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "No jobs recorded")

	out, _, err = runCLI(t, []string{"history", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("history --json: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Fatalf("expected empty JSON list, got %q", out)
	}

	out, _, err = runCLI(t, []string{"history", "clear"}, env.configPath)
	if err != nil {
		t.Fatalf("history clear: %v", err)
	}
	requireContains(t, out, "Removed 0 history entries")
}

func TestStatusCommand(t *testing.T) {
	env := setupCLITestEnv(t, testsupport.WithStubbedBinaries())
	testsupport.MustOpenStore(t, env.cfg)

	out, _, err := runCLI(t, []string{"status"}, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Worker ==")
	requireContains(t, out, "== Checks ==")
	requireContains(t, out, "Container runtime")
	requireContains(t, out, "01_running")
	if strings.Contains(out, ansiReset) {
		t.Fatal("status output to a buffer must not be colorized")
	}
}

func TestNotifyTestWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"notify", "test"}, env.configPath)
	if err != nil {
		t.Fatalf("notify test: %v", err)
	}
	requireContains(t, out, "Notifications not configured")
}

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Queue root", statusError, "missing", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Queue root:", "[ERROR] missing")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Queue root", statusOK, "ok", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}

func TestLogsCommand(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"logs"}, env.configPath)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	requireContains(t, out, "No log at")

	if err := os.MkdirAll(env.cfg.Paths.LogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(env.cfg.Paths.LogDir, "worker_w1.log")
	if err := os.WriteFile(path, []byte("first\nsecond\nthird\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, _, err = runCLI(t, []string{"logs", "-n", "2"}, env.configPath)
	if err != nil {
		t.Fatalf("logs -n 2: %v", err)
	}
	if out != "second\nthird\n" {
		t.Fatalf("unexpected output %q", out)
	}
}
