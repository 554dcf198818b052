package workerrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"dirjobs/internal/claim"
	"dirjobs/internal/config"
	"dirjobs/internal/container"
	"dirjobs/internal/delivery"
	"dirjobs/internal/history"
	"dirjobs/internal/jobstore"
	"dirjobs/internal/logging"
	"dirjobs/internal/notifications"
	"dirjobs/internal/preflight"
	"dirjobs/internal/processing"
	"dirjobs/internal/services"
	"dirjobs/internal/services/drapto"
	"dirjobs/internal/worker"
	"dirjobs/internal/workerlock"
)

// Options configures worker process runtime behavior.
type Options struct {
	// Logger replaces the logger built from the logging section of the config.
	Logger *slog.Logger
	// Encoder replaces the configured encoder backend.
	Encoder processing.Encoder
	// SkipPreflight disables directory and binary checks at startup.
	SkipPreflight bool
	// LoopOptions are appended after the options derived from config.
	LoopOptions []worker.Option
	// ClaimOptions are appended after the options derived from config.
	ClaimOptions []claim.Option
}

// Run starts a worker and blocks until it stops. SIGINT and SIGTERM behave
// like the stop file: the current job finishes, then Run returns.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) (worker.Summary, error) {
	if cfg == nil {
		return worker.Summary{}, errors.New("config is required")
	}
	// Nothing touches storage before the identity is known to be usable.
	if !claim.ValidWorkerID(cfg.Worker.ID) {
		return worker.Summary{}, fmt.Errorf("%w: %q", claim.ErrInvalidWorkerID, cfg.Worker.ID)
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return worker.Summary{}, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}

	logger := opts.Logger
	if logger == nil {
		built, err := logging.NewFromConfig(cfg)
		if err != nil {
			return worker.Summary{}, fmt.Errorf("init logger: %w", err)
		}
		logger = built
	}

	currentLog := ""
	if cfg.Logging.WorkerLog {
		currentLog = logging.WorkerLogPath(cfg.Paths.LogDir, cfg.Worker.ID)
	}
	logging.PruneWorkerLogs(logger, cfg.Paths.LogDir, currentLog, cfg.Logging.RetentionDays)

	lock, err := workerlock.Acquire(cfg.WorkerLockPath())
	if err != nil {
		return worker.Summary{}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release worker lock", logging.Error(err))
		}
	}()

	store, err := OpenStore(cfg, logger)
	if err != nil {
		return worker.Summary{}, err
	}

	filter, err := eligibilityFilter(cfg, logger)
	if err != nil {
		return worker.Summary{}, err
	}

	if !opts.SkipPreflight {
		if failed := preflight.Failed(preflight.RunAll(signalCtx, cfg)); len(failed) > 0 {
			return worker.Summary{}, fmt.Errorf("%w: preflight failed: %s", services.ErrConfiguration, preflight.Summarize(failed))
		}
	}

	encoder := opts.Encoder
	if encoder == nil {
		encoder, err = NewEncoder(cfg, logger)
		if err != nil {
			return worker.Summary{}, err
		}
	}
	deliverer := delivery.New(cfg, delivery.WithLogger(logger))
	pipeline, err := processing.NewPipeline(cfg, encoder,
		processing.WithDeliverer(deliverer),
		processing.WithLogger(logger),
	)
	if err != nil {
		return worker.Summary{}, err
	}

	claimOpts := []claim.Option{
		claim.WithSelection(Selection(cfg)),
		claim.WithWorkerSync(cfg.SyncEnabled()),
		claim.WithTolerance(cfg.Tolerance()),
		claim.WithFilter(filter),
		claim.WithLogger(logger),
	}
	claimer, err := claim.New(store, cfg.Worker.ID, append(claimOpts, opts.ClaimOptions...)...)
	if err != nil {
		return worker.Summary{}, err
	}

	idleMin, idleMax := cfg.IdleRange()
	loopOpts := []worker.Option{
		worker.WithLogger(logger),
		worker.WithSingleShot(cfg.SingleShot()),
		worker.WithIdleRange(idleMin, idleMax),
		worker.WithStopFile(cfg.Worker.StopFile),
		worker.WithNotifier(notifications.NewService(cfg)),
	}
	if ledger := openHistory(signalCtx, cfg, logger); ledger != nil {
		defer ledger.Close()
		loopOpts = append(loopOpts, worker.WithHistory(ledger))
	}
	loop, err := worker.New(claimer, pipeline, append(loopOpts, opts.LoopOptions...)...)
	if err != nil {
		return worker.Summary{}, err
	}

	logger.Info("worker configuration",
		logging.String(logging.FieldEventType, "worker_config"),
		logging.String("jobs_dir", store.Root()),
		logging.String("job_extension", store.Extension()),
		logging.String("encoder", encoder.Name()),
		logging.String("delivery", deliverer.Target()),
		logging.String("selection", Selection(cfg).String()),
		logging.Bool("worker_sync", cfg.SyncEnabled()),
		logging.Duration("tolerance", cfg.Tolerance()),
		logging.Bool("require_video", cfg.Worker.RequireVideo),
		logging.Bool("dry_run", cfg.Worker.DryRun),
		logging.String("lock", lock.Path()),
	)

	err = loop.Run(signalCtx)
	return loop.Summary(), err
}

// OpenStore opens the queue configured in cfg, creating its state directories.
func OpenStore(cfg *config.Config, logger *slog.Logger) (*jobstore.Store, error) {
	store, err := jobstore.Open(cfg.Paths.JobsDir,
		jobstore.WithExtension(cfg.Worker.JobExtension),
		jobstore.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	return store, nil
}

// NewEncoder builds the encoder backend named by encoder.backend.
func NewEncoder(cfg *config.Config, logger *slog.Logger) (processing.Encoder, error) {
	switch cfg.Encoder.Backend {
	case config.BackendContainer:
		return container.New(cfg, logger), nil
	case config.BackendDrapto:
		return drapto.NewEncoder(logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown encoder backend %q", services.ErrConfiguration, cfg.Encoder.Backend)
	}
}

// Selection maps worker.random_selection to a claim policy.
func Selection(cfg *config.Config) claim.Selection {
	if cfg.Worker.RandomSelection {
		return claim.SelectRandom
	}
	return claim.SelectOrdered
}

func eligibilityFilter(cfg *config.Config, logger *slog.Logger) (jobstore.Filter, error) {
	if !cfg.Worker.RequireVideo {
		logger.Info("video check disabled; every waiting job is eligible")
		return processing.AcceptAll, nil
	}
	if err := processing.CheckVideoNames(cfg.Paths.VideoDir); err != nil {
		return nil, err
	}
	videos, err := processing.ListVideos(cfg.Paths.VideoDir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", services.ErrConfiguration, err)
	}
	if len(videos) == 0 {
		logging.WarnWithContext(logger, "no local videos; no job will be eligible", "no_videos",
			logging.String("video_dir", cfg.Paths.VideoDir),
			logging.String(logging.FieldErrorHint, "copy input videos into video_dir or set require_video = false"),
		)
	} else {
		logger.Info("local videos", logging.Strings("videos", videos))
	}
	return processing.VideoFilter(cfg.Paths.VideoDir), nil
}

func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) *history.Store {
	ledger, err := history.Open(ctx, cfg.HistoryPath())
	if err != nil {
		logging.WarnWithContext(logger, "history ledger unavailable; jobs will not be recorded", "history_unavailable",
			logging.Error(err),
			logging.String("path", cfg.HistoryPath()),
			logging.String(logging.FieldErrorHint, "remove history.db if its schema is outdated"),
		)
		return nil
	}
	return ledger
}
