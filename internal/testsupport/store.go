package testsupport

import (
	"os"
	"testing"

	"dirjobs/internal/config"
	"dirjobs/internal/jobstore"
)

// MustOpenStore opens the job store configured in cfg.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...jobstore.Option) *jobstore.Store {
	t.Helper()

	opts = append([]jobstore.Option{jobstore.WithExtension(cfg.Worker.JobExtension)}, opts...)
	store, err := jobstore.Open(cfg.Paths.JobsDir, opts...)
	if err != nil {
		t.Fatalf("jobstore.Open: %v", err)
	}
	return store
}

// WriteJob drops a job file with payload into the waiting directory.
func WriteJob(t testing.TB, store *jobstore.Store, name, payload string) string {
	t.Helper()

	path := store.Path(jobstore.StateWaiting, name)
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write job %s: %v", name, err)
	}
	return path
}

// EncodeJobPayload returns a valid JSON job descriptor for video.
func EncodeJobPayload(video string) string {
	return `{"video": "` + video + `", "reference_video": "` + video + `", "crf": 23, "min_length": 24, "max_length": 48, "target_seg_length": 4, "encoder": "libx264"}`
}
