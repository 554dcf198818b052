package processing_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dirjobs/internal/config"
	"dirjobs/internal/processing"
	"dirjobs/internal/testsupport"
)

type fakeJob struct {
	name string
	path string
}

func (j fakeJob) Name() string { return j.name }
func (j fakeJob) Stem() string { return strings.TrimSuffix(j.name, filepath.Ext(j.name)) }
func (j fakeJob) Path() string { return j.path }

type fakeEncoder struct {
	err     error
	output  string
	request *processing.Request
}

func (e *fakeEncoder) Name() string { return "fake" }

func (e *fakeEncoder) Encode(_ context.Context, req *processing.Request) error {
	e.request = req
	req.Stats["docker_cmd"] = "docker run fake"
	if e.output != "" {
		if err := os.WriteFile(filepath.Join(req.TmpDir, "out.mpd"), []byte(e.output), 0o644); err != nil {
			return err
		}
	}
	return e.err
}

type fakeDeliverer struct {
	dirs []string
	err  error
}

func (d *fakeDeliverer) Deliver(_ context.Context, tmpDir string) error {
	d.dirs = append(d.dirs, tmpDir)
	return d.err
}

func writeDescriptor(t *testing.T, cfg *config.Config, name, payload string) fakeJob {
	t.Helper()
	dir := filepath.Join(cfg.Paths.JobsDir, "01_running")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "w1."+name)
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
	return fakeJob{name: name, path: path}
}

func fixedClock() time.Time { return time.Unix(1700000000, 0) }

func readStats(t *testing.T, dir string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, processing.StatsFile))
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	var stats map[string]any
	if err := json.Unmarshal(data, &stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	return stats
}

func TestPipelineProcessesJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Delivery.SFTPPassword = "secret"
	job := writeDescriptor(t, cfg, "abc_1.txt", testsupport.EncodeJobPayload("abc.y4m"))

	encoder := &fakeEncoder{output: "0123456789"}
	deliverer := &fakeDeliverer{}
	pipeline, err := processing.NewPipeline(cfg, encoder,
		processing.WithDeliverer(deliverer),
		processing.WithClock(fixedClock),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	outcome, err := pipeline.Process(context.Background(), job)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("expected success, got %+v", outcome)
	}

	wantName := "1700000000.w1.abc_1"
	if outcome.ResultDir != filepath.Join(cfg.Paths.ResultDir, wantName) {
		t.Fatalf("result dir = %s", outcome.ResultDir)
	}
	if outcome.TmpDir != filepath.Join(cfg.Paths.TmpDir, wantName) {
		t.Fatalf("tmp dir = %s", outcome.TmpDir)
	}
	if encoder.request == nil || encoder.request.Descriptor.Video != "abc.y4m" {
		t.Fatalf("encoder did not receive descriptor: %+v", encoder.request)
	}

	stats := readStats(t, outcome.ResultDir)
	if stats["job"] != "abc_1.txt" || stats["job.path"] != job.path {
		t.Fatalf("job fields missing: %v", stats)
	}
	if stats["tmpsize"] != float64(10) {
		t.Fatalf("tmpsize = %v, want 10", stats["tmpsize"])
	}
	if stats["docker_cmd"] != "docker run fake" {
		t.Fatalf("backend stats missing: %v", stats)
	}
	if _, ok := stats["container_runtime"]; !ok {
		t.Fatal("container_runtime missing")
	}
	if _, ok := stats["sftp_password"]; ok {
		t.Fatal("sftp password leaked into stats")
	}
	if dict, ok := stats["job_dict"].(map[string]any); !ok || dict["video"] != "abc.y4m" {
		t.Fatalf("job_dict missing: %v", stats["job_dict"])
	}
	if len(deliverer.dirs) != 1 || deliverer.dirs[0] != outcome.TmpDir {
		t.Fatalf("expected delivery of tmp dir, got %v", deliverer.dirs)
	}
}

func TestPipelineStatsKeysSorted(t *testing.T) {
	dir := t.TempDir()
	if err := processing.WriteStats(dir, processing.Stats{"zeta": 1, "alpha": 2}); err != nil {
		t.Fatalf("WriteStats: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, processing.StatsFile))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	if strings.Index(text, "alpha") > strings.Index(text, "zeta") {
		t.Fatalf("keys not sorted:\n%s", text)
	}
	if !strings.Contains(text, "\n    \"alpha\"") {
		t.Fatalf("expected four-space indentation:\n%s", text)
	}
}

func TestPipelineBadDescriptorFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	job := writeDescriptor(t, cfg, "abc_2.txt", "{broken")

	encoder := &fakeEncoder{}
	pipeline, err := processing.NewPipeline(cfg, encoder)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	outcome, err := pipeline.Process(context.Background(), job)
	if err == nil || outcome.Success {
		t.Fatalf("expected failure, got %+v err=%v", outcome, err)
	}
	if encoder.request != nil {
		t.Fatal("encoder must not run for an invalid descriptor")
	}
}

func TestPipelineIncompleteDescriptorFails(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	job := writeDescriptor(t, cfg, "abc_3.txt", `{"video": "abc.y4m"}`)

	pipeline, err := processing.NewPipeline(cfg, &fakeEncoder{})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if outcome, err := pipeline.Process(context.Background(), job); err == nil || outcome.Success {
		t.Fatalf("expected validation failure, got %+v", outcome)
	}
}

func TestPipelineEncoderFailureKeepsOutput(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	job := writeDescriptor(t, cfg, "abc_4.txt", testsupport.EncodeJobPayload("abc.y4m"))

	encoder := &fakeEncoder{err: errors.New("docker run failed"), output: "x"}
	deliverer := &fakeDeliverer{}
	pipeline, err := processing.NewPipeline(cfg, encoder,
		processing.WithDeliverer(deliverer),
		processing.WithClock(fixedClock),
	)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	outcome, err := pipeline.Process(context.Background(), job)
	if err == nil || outcome.Success {
		t.Fatalf("expected failure, got %+v", outcome)
	}
	if len(deliverer.dirs) != 0 {
		t.Fatal("failed output must not be delivered")
	}
	stats := readStats(t, outcome.ResultDir)
	if !strings.Contains(stats["error"].(string), "docker run failed") {
		t.Fatalf("stats missing error: %v", stats["error"])
	}
	if _, err := os.Stat(filepath.Join(outcome.TmpDir, "out.mpd")); err != nil {
		t.Fatalf("tmp output should be kept: %v", err)
	}
}

func TestPipelineDeliveryFailureStillSucceeds(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	job := writeDescriptor(t, cfg, "abc_5.txt", testsupport.EncodeJobPayload("abc.y4m"))

	deliverer := &fakeDeliverer{err: errors.New("connection refused")}
	pipeline, err := processing.NewPipeline(cfg, &fakeEncoder{}, processing.WithDeliverer(deliverer))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	outcome, err := pipeline.Process(context.Background(), job)
	if err != nil || !outcome.Success {
		t.Fatalf("delivery failure must not fail the job: %+v err=%v", outcome, err)
	}
}

func TestPipelineDryRunSkipsDelivery(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithDryRun())
	job := writeDescriptor(t, cfg, "abc_6.txt", testsupport.EncodeJobPayload("abc.y4m"))

	encoder := &fakeEncoder{}
	deliverer := &fakeDeliverer{}
	pipeline, err := processing.NewPipeline(cfg, encoder, processing.WithDeliverer(deliverer))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	if _, err := pipeline.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !encoder.request.DryRun {
		t.Fatal("dry-run flag not passed to encoder")
	}
	if len(deliverer.dirs) != 0 {
		t.Fatal("dry run must not deliver")
	}
}

func TestNewPipelineRequiresEncoder(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	if _, err := processing.NewPipeline(cfg, nil); err == nil {
		t.Fatal("expected error without encoder")
	}
}

func TestProcessorFunc(t *testing.T) {
	called := false
	var p processing.Processor = processing.ProcessorFunc(func(context.Context, processing.Job) (processing.Outcome, error) {
		called = true
		return processing.Outcome{Success: true}, nil
	})
	outcome, err := p.Process(context.Background(), fakeJob{name: "a.txt"})
	if err != nil || !outcome.Success || !called {
		t.Fatalf("ProcessorFunc did not delegate: %+v %v", outcome, err)
	}
}
