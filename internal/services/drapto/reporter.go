package drapto

import (
	"fmt"
	"log/slog"
	"math"

	draptolib "github.com/five82/drapto"

	"dirjobs/internal/logging"
)

// progressStep is the percentage interval between progress log lines.
const progressStep = 10

// logReporter adapts Drapto's Reporter callbacks to log lines. Progress is
// sampled to one line per progressStep percent.
type logReporter struct {
	logger     *slog.Logger
	lastBucket int
}

func newLogReporter(logger *slog.Logger) *logReporter {
	return &logReporter{logger: logger, lastBucket: -1}
}

func (r *logReporter) Hardware(s draptolib.HardwareSummary) {
	r.logger.Debug("drapto hardware", logging.Any("hostname", s.Hostname))
}

func (r *logReporter) Initialization(s draptolib.InitializationSummary) {
	r.logger.Info("drapto initialized",
		logging.Any("input_file", s.InputFile),
		logging.Any("output_file", s.OutputFile),
		logging.Any("duration", s.Duration),
		logging.Any("resolution", s.Resolution),
	)
}

func (r *logReporter) StageProgress(s draptolib.StageProgress) {
	r.logger.Debug("drapto stage",
		logging.Any("stage", s.Stage),
		logging.Float64("percent", float64(s.Percent)),
		logging.Any("message", s.Message),
	)
}

func (r *logReporter) CropResult(s draptolib.CropSummary) {
	r.logger.Debug("drapto crop detection",
		logging.Any("crop", s.Crop),
		logging.Any("required", s.Required),
		logging.Any("message", s.Message),
	)
}

func (r *logReporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.logger.Info("drapto encoding config",
		logging.Any("encoder", s.Encoder),
		logging.Any("preset", s.Preset),
		logging.Any("quality", s.Quality),
	)
}

func (r *logReporter) EncodingStarted(totalFrames uint64) {
	r.lastBucket = -1
	r.logger.Info("drapto encoding started", logging.Int64("total_frames", int64(totalFrames)))
}

func (r *logReporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	percent := float64(s.Percent)
	bucket := int(math.Floor(percent / progressStep))
	if bucket <= r.lastBucket {
		return
	}
	r.lastBucket = bucket
	r.logger.Info("drapto progress",
		logging.String("percent", fmt.Sprintf("%.0f%%", percent)),
		logging.Float64("fps", float64(s.FPS)),
		logging.Float64("speed", float64(s.Speed)),
		logging.Duration("eta", s.ETA),
	)
}

func (r *logReporter) ValidationComplete(s draptolib.ValidationSummary) {
	r.logger.Info("drapto validation", logging.Any("passed", s.Passed), logging.Int("steps", len(s.Steps)))
}

func (r *logReporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.logger.Info("drapto encoding complete",
		logging.String(logging.FieldEventType, "encode_complete"),
		logging.Any("output_file", s.OutputFile),
		logging.Int64("original_size", int64(s.OriginalSize)),
		logging.Int64("encoded_size", int64(s.EncodedSize)),
		logging.Any("total_time", s.TotalTime),
	)
}

func (r *logReporter) Warning(message string) {
	r.logger.Warn("drapto warning",
		logging.String("message", message),
		logging.String(logging.FieldEventType, "drapto_warning"),
		logging.String(logging.FieldErrorHint, "see drapto output for details"),
		logging.String(logging.FieldImpact, "encode continues"),
	)
}

func (r *logReporter) Error(e draptolib.ReporterError) {
	logging.ErrorWithContext(r.logger, "drapto error", "drapto_error",
		logging.Any("title", e.Title),
		logging.Any("message", e.Message),
		logging.Any("context", e.Context),
		logging.String(logging.FieldErrorHint, fmt.Sprint(e.Suggestion)),
	)
}

func (r *logReporter) OperationComplete(message string) {
	r.logger.Debug("drapto operation complete", logging.String("message", message))
}

func (r *logReporter) BatchStarted(s draptolib.BatchStartInfo) {
	r.logger.Debug("drapto batch started", logging.Any("total_files", s.TotalFiles))
}

func (r *logReporter) FileProgress(s draptolib.FileProgressContext) {
	r.logger.Debug("drapto file progress",
		logging.Any("current_file", s.CurrentFile),
		logging.Any("total_files", s.TotalFiles),
	)
}

func (r *logReporter) BatchComplete(s draptolib.BatchSummary) {
	r.logger.Debug("drapto batch complete",
		logging.Any("successful", s.SuccessfulCount),
		logging.Any("total_files", s.TotalFiles),
	)
}

var _ draptolib.Reporter = (*logReporter)(nil)
