package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"time"

	"dirjobs/internal/config"
	"dirjobs/internal/encodejob"
	"dirjobs/internal/fileutil"
	"dirjobs/internal/logging"
	"dirjobs/internal/services"
)

// StatsFile is written into every result directory.
const StatsFile = "stats.json"

// Stats is the per-job record written to StatsFile. Keys are sorted on output.
type Stats map[string]any

// Request is one encoding invocation.
type Request struct {
	Job        Job
	Descriptor *encodejob.Descriptor
	VideoDir   string
	TmpDir     string
	ResultDir  string
	DryRun     bool
	// Stats is shared with the pipeline; backends add their own keys.
	Stats Stats
}

// Encoder is an encoding backend.
type Encoder interface {
	Name() string
	Encode(ctx context.Context, req *Request) error
}

// Deliverer ships the scratch directory of a finished job.
type Deliverer interface {
	Deliver(ctx context.Context, tmpDir string) error
}

// Pipeline is the Processor used by workers.
type Pipeline struct {
	workerID   string
	videoDir   string
	tmpDir     string
	resultDir  string
	dryRun     bool
	workerArgs Stats
	encoder    Encoder
	deliverer  Deliverer
	logger     *slog.Logger
	now        func() time.Time
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithDeliverer sets the delivery target. Without one, scratch output stays
// in the tmp directory.
func WithDeliverer(d Deliverer) PipelineOption {
	return func(p *Pipeline) { p.deliverer = d }
}

// WithLogger sets the pipeline logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithClock overrides the time source used for directory names and stats.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPipeline builds a pipeline for cfg around encoder.
func NewPipeline(cfg *config.Config, encoder Encoder, opts ...PipelineOption) (*Pipeline, error) {
	if cfg == nil {
		return nil, errors.New("processing pipeline requires configuration")
	}
	if encoder == nil {
		return nil, services.Wrap(services.ErrConfiguration, "processing", "new pipeline", "encoder backend is required", nil)
	}
	p := &Pipeline{
		workerID:   cfg.Worker.ID,
		videoDir:   cfg.Paths.VideoDir,
		tmpDir:     cfg.Paths.TmpDir,
		resultDir:  cfg.Paths.ResultDir,
		dryRun:     cfg.Worker.DryRun,
		workerArgs: WorkerArgs(cfg),
		encoder:    encoder,
		logger:     logging.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logging.NewComponentLogger(p.logger, "processing")
	return p, nil
}

// WorkerArgs returns the worker settings recorded with every job. The SFTP
// password is never included.
func WorkerArgs(cfg *config.Config) Stats {
	return Stats{
		"id":              cfg.Worker.ID,
		"tmpdir":          cfg.Paths.TmpDir,
		"viddir":          cfg.Paths.VideoDir,
		"resultdir":       cfg.Paths.ResultDir,
		"backend":         cfg.Encoder.Backend,
		"container":       cfg.Encoder.Image,
		"processor":       cfg.Encoder.Processor,
		"keep_tmp":        cfg.Delivery.KeepTmp,
		"sftp_host":       cfg.Delivery.SFTPHost,
		"sftp_port":       cfg.Delivery.SFTPPort,
		"sftp_user":       cfg.Delivery.SFTPUser,
		"sftp_target_dir": cfg.Delivery.SFTPTargetDir,
		"sshfs_dir":       cfg.Delivery.SSHFSDir,
	}
}

// RunDirName is the result and scratch directory name for a job.
func RunDirName(ts int64, workerID, stem string) string {
	return fmt.Sprintf("%d.%s.%s", ts, workerID, stem)
}

// Process implements Processor. Every failure is reported through the
// returned error with Outcome.Success false.
func (p *Pipeline) Process(ctx context.Context, job Job) (Outcome, error) {
	logger := logging.WithContext(ctx, p.logger)
	ts := p.now().Unix()

	stats := Stats{
		"ts":       ts,
		"job":      job.Name(),
		"job.path": job.Path(),
	}
	maps.Copy(stats, p.workerArgs)

	logger.Info("processing job",
		logging.String(logging.FieldEventType, "job_processing"),
		logging.String("path", job.Path()),
		logging.String("backend", p.encoder.Name()),
	)

	desc, err := encodejob.Load(job.Path())
	if err != nil {
		return p.fail(logger, Outcome{}, "decode job descriptor", err)
	}
	if err := desc.Validate(); err != nil {
		return p.fail(logger, Outcome{}, "validate job descriptor", err)
	}
	stats["job_dict"] = desc.Raw
	logger.Debug("job descriptor", logging.Any("descriptor", desc.Raw))

	name := RunDirName(ts, p.workerID, job.Stem())
	outcome := Outcome{
		ResultDir: filepath.Join(p.resultDir, name),
		TmpDir:    filepath.Join(p.tmpDir, name),
	}
	for _, dir := range []string{outcome.ResultDir, outcome.TmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return p.fail(logger, outcome, "create run directory", err)
		}
	}

	req := &Request{
		Job:        job,
		Descriptor: desc,
		VideoDir:   p.videoDir,
		TmpDir:     outcome.TmpDir,
		ResultDir:  outcome.ResultDir,
		DryRun:     p.dryRun,
		Stats:      stats,
	}

	start := time.Now()
	encodeErr := p.encoder.Encode(ctx, req)
	outcome.Runtime = time.Since(start)
	stats["container_runtime"] = outcome.Runtime.Seconds()
	logger.Info("encoder finished",
		logging.String(logging.FieldEventType, "encode_complete"),
		logging.String("runtime", fmt.Sprintf("%.1fs", outcome.Runtime.Seconds())),
		logging.Bool("ok", encodeErr == nil),
	)

	size, err := fileutil.DirSize(outcome.TmpDir)
	if err != nil {
		logging.WarnWithContext(logger, "failed to measure tmp dir", "tmpsize_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "tmpsize missing from stats"),
			logging.String(logging.FieldErrorHint, "check permissions on the tmp directory"),
		)
	} else {
		stats["tmpsize"] = size
	}
	if encodeErr != nil {
		stats["error"] = encodeErr.Error()
	}

	if err := WriteStats(outcome.ResultDir, stats); err != nil {
		if encodeErr == nil {
			return p.fail(logger, outcome, "write stats", err)
		}
		logger.Warn("failed to write stats", logging.Error(err))
	}

	if encodeErr != nil {
		return p.fail(logger, outcome, "encode", encodeErr)
	}

	if !p.dryRun && p.deliverer != nil {
		if err := p.deliverer.Deliver(ctx, outcome.TmpDir); err != nil {
			logging.ErrorWithContext(logger, "delivery failed; keeping output locally", "delivery_failed",
				logging.Error(err),
				logging.String("tmp_dir", outcome.TmpDir),
				logging.String(logging.FieldErrorHint, "check the delivery target and upload the tmp dir by hand"),
			)
		}
	}

	outcome.Success = true
	outcome.Message = "encoded"
	return outcome, nil
}

func (p *Pipeline) fail(logger *slog.Logger, outcome Outcome, op string, err error) (Outcome, error) {
	hint := "inspect the job descriptor and the encoder logs"
	if outcome.ResultDir != "" {
		hint = "check the logs in " + outcome.ResultDir
	}
	logging.ErrorWithContext(logger, "failed to process job", "job_processing_failed",
		logging.String("operation", op),
		logging.Error(err),
		logging.String(logging.FieldErrorHint, hint),
	)
	outcome.Success = false
	outcome.Message = fmt.Sprintf("%s: %v", op, err)
	return outcome, fmt.Errorf("%s: %w", op, err)
}

// WriteStats writes stats as indented JSON with sorted keys into dir.
func WriteStats(dir string, stats Stats) error {
	data, err := json.MarshalIndent(stats, "", "    ")
	if err != nil {
		return fmt.Errorf("encode stats: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(filepath.Join(dir, StatsFile), data, 0o644); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	return nil
}
