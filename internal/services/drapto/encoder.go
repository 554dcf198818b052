package drapto

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	draptolib "github.com/five82/drapto"

	"dirjobs/internal/logging"
	"dirjobs/internal/processing"
	"dirjobs/internal/services"
)

// BackendName identifies this backend in logs and stats.
const BackendName = "drapto"

// runEncode performs the library call; tests replace it.
var runEncode = func(ctx context.Context, inputPath, outputDir string, rep draptolib.Reporter) error {
	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return err
	}
	_, err = encoder.EncodeWithReporter(ctx, inputPath, outputDir, rep)
	return err
}

// Encoder implements processing.Encoder with the Drapto library.
type Encoder struct {
	logger *slog.Logger
}

// NewEncoder constructs a Drapto backend.
func NewEncoder(logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Encoder{logger: logging.NewComponentLogger(logger, "drapto")}
}

// Name implements processing.Encoder.
func (e *Encoder) Name() string { return BackendName }

// Encode encodes <video dir>/<video> into the job's tmp dir.
func (e *Encoder) Encode(ctx context.Context, req *processing.Request) error {
	if req == nil || req.Descriptor == nil {
		return errors.New("drapto encode requires a job descriptor")
	}
	if strings.TrimSpace(req.TmpDir) == "" {
		return errors.New("output directory required")
	}
	logger := logging.WithContext(ctx, e.logger)

	input := filepath.Join(req.VideoDir, req.Descriptor.Video)
	if _, err := os.Stat(input); err != nil {
		return services.Wrap(services.ErrNotFound, "drapto", "locate input", "could not find video "+req.Descriptor.Video, err)
	}
	if req.Stats != nil {
		req.Stats["drapto_input"] = input
		req.Stats["drapto_output_dir"] = req.TmpDir
	}

	if req.DryRun {
		logging.WarnWithContext(logger, "dry run selected; not starting drapto", "dry_run",
			logging.String("input", input),
			logging.String(logging.FieldImpact, "no output is produced"),
			logging.String(logging.FieldErrorHint, "disable dry_run to encode"),
		)
		return nil
	}

	logger.Info("drapto encode started",
		logging.String(logging.FieldEventType, "encode_start"),
		logging.String("input", input),
		logging.String("output_dir", req.TmpDir),
	)
	if err := runEncode(ctx, input, req.TmpDir, newLogReporter(logger)); err != nil {
		return services.Wrap(services.ErrExternalTool, "drapto", "encode", input, err)
	}
	return nil
}

var _ processing.Encoder = (*Encoder)(nil)
