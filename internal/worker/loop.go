package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"dirjobs/internal/claim"
	"dirjobs/internal/history"
	"dirjobs/internal/logging"
	"dirjobs/internal/notifications"
	"dirjobs/internal/processing"
	"dirjobs/internal/services"
)

// DefaultStopFile is the sentinel checked in the working directory.
const DefaultStopFile = "STOP_WORKERS"

// Default idle pause bounds.
const (
	DefaultIdleMin = 30 * time.Second
	DefaultIdleMax = 90 * time.Second
)

// Loop is one worker's claim/process/resolve cycle.
type Loop struct {
	claimer    *claim.Claimer
	processor  processing.Processor
	logger     *slog.Logger
	singleShot bool
	idleMin    time.Duration
	idleMax    time.Duration
	stopFile   string
	history    Recorder
	notifier   notifications.Service
	rng        *rand.Rand
	wait       func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	mu      sync.Mutex
	state   State
	summary Summary
}

// New builds a loop around claimer and processor.
func New(claimer *claim.Claimer, processor processing.Processor, opts ...Option) (*Loop, error) {
	if claimer == nil {
		return nil, errors.New("worker: claimer is nil")
	}
	if processor == nil {
		return nil, errors.New("worker: processor is nil")
	}
	l := &Loop{
		claimer:   claimer,
		processor: processor,
		logger:    logging.NewNop(),
		idleMin:   DefaultIdleMin,
		idleMax:   DefaultIdleMax,
		stopFile:  DefaultStopFile,
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		wait:      sleepContext,
		now:       time.Now,
		state:     StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	l.logger = logging.NewComponentLogger(l.logger, "worker").
		With(logging.String(logging.FieldWorkerID, claimer.WorkerID()))
	return l, nil
}

// State returns the loop's current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Summary returns the counts of resolved jobs so far.
func (l *Loop) Summary() Summary {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.summary
}

func (l *Loop) setState(state State) {
	l.mu.Lock()
	prev := l.state
	l.state = state
	l.mu.Unlock()
	if prev != state {
		l.logger.Debug("worker state", logging.String("from", string(prev)), logging.String("to", string(state)))
	}
}

// Run cycles until ctx is cancelled, the stop file appears, or single-shot
// mode has handled its job. Cancellation is only observed while idle.
// Run returns nil on a requested stop and an error for protocol violations,
// a failed terminal move, or a storage failure in single-shot mode.
func (l *Loop) Run(ctx context.Context) error {
	started := l.now()
	l.logger.Info("worker started",
		logging.String(logging.FieldEventType, "worker_start"),
		logging.Bool("single_shot", l.singleShot),
		logging.String("stop_file", l.stopFile),
	)
	defer func() {
		l.setState(StateStopped)
		l.finish(started)
	}()

	for {
		l.setState(StateIdle)
		if l.stopRequested(ctx) {
			return nil
		}

		l.setState(StateClaiming)
		handle, err := l.claimer.Claim(ctx, l.singleShot)
		if err != nil {
			if services.IsFatal(err) {
				logging.ErrorWithContext(l.logger, "claim failed; stopping worker", "claim_fatal",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "fix the configuration or report the protocol violation"),
				)
				return err
			}
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				continue
			}
			logging.ErrorWithContext(l.logger, "claim failed", "claim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that jobs_dir is mounted and writable"),
			)
			if l.singleShot {
				return err
			}
			l.idle(ctx)
			continue
		}

		if handle == nil {
			if l.singleShot {
				l.logger.Info("no eligible job; exiting", logging.String(logging.FieldEventType, "queue_empty"))
				return nil
			}
			l.idle(ctx)
			continue
		}

		if err := l.runJob(ctx, handle); err != nil {
			return err
		}

		if l.singleShot {
			l.logger.Warn("one job only; exiting loop",
				logging.String(logging.FieldEventType, "single_shot_exit"),
				logging.String(logging.FieldImpact, "remaining jobs are left for other workers"),
				logging.String(logging.FieldErrorHint, "unset one_job and dry_run to keep processing"),
			)
			return nil
		}
	}
}

func (l *Loop) stopRequested(ctx context.Context) bool {
	if err := ctx.Err(); err != nil {
		l.logger.Info("stop requested; quitting", logging.String("reason", err.Error()))
		return true
	}
	if fileExists(l.stopFile) {
		l.logger.Warn("stop file exists; quitting",
			logging.String("stop_file", l.stopFile),
			logging.String(logging.FieldEventType, "stop_file"),
			logging.String(logging.FieldImpact, "worker exits between jobs"),
			logging.String(logging.FieldErrorHint, "remove the stop file before restarting workers"),
		)
		return true
	}
	return false
}

func (l *Loop) idle(ctx context.Context) {
	delay := l.idleDelay()
	l.logger.Debug("no job found; pausing", logging.Duration("pause", delay))
	_ = l.wait(ctx, delay)
}

func (l *Loop) idleDelay() time.Duration {
	span := l.idleMax - l.idleMin
	if span <= 0 {
		return l.idleMin
	}
	return l.idleMin + time.Duration(l.rng.Int64N(int64(span)+1))
}

// runJob processes and resolves h. Processing runs on a context detached
// from ctx so a stop request never interrupts a started job.
func (l *Loop) runJob(ctx context.Context, h *claim.Handle) error {
	runID := uuid.NewString()
	jobCtx := context.WithoutCancel(ctx)
	jobCtx = services.WithWorkerID(jobCtx, h.WorkerID())
	jobCtx = services.WithJob(jobCtx, h.Name())
	jobCtx = services.WithRequestID(jobCtx, runID)
	jobCtx = services.WithStage(jobCtx, string(StateProcessing))
	logger := logging.WithContext(jobCtx, l.logger)

	attempts := h.Attempts()
	logger.Info("job claimed",
		logging.String(logging.FieldEventType, "job_claimed"),
		logging.String("path", h.Path()),
		logging.Int("vanished", attempts.Vanished),
		logging.Int("arbitration_losses", attempts.ArbitrationLosses),
	)

	l.setState(StateProcessing)
	started := l.now()
	outcome, procErr := l.process(jobCtx, logger, h)
	success := procErr == nil && outcome.Success

	l.setState(StateResolving)
	var resolveErr error
	if success {
		resolveErr = h.Complete()
	} else {
		resolveErr = h.Fail()
	}
	finished := l.now()
	if resolveErr != nil {
		logging.ErrorWithContext(logger, "failed to move job to terminal state", "resolve_failed",
			logging.Error(resolveErr),
			logging.Bool("success", success),
			logging.String(logging.FieldErrorHint, "the job stays in running; move it by hand"),
		)
		return fmt.Errorf("resolve %s: %w", h.Name(), resolveErr)
	}

	entry := history.Entry{
		RunID:             runID,
		WorkerID:          h.WorkerID(),
		Job:               h.Name(),
		Outcome:           history.OutcomeDone,
		StartedAt:         started,
		FinishedAt:        finished,
		ResultDir:         outcome.ResultDir,
		Vanished:          attempts.Vanished,
		ArbitrationLosses: attempts.ArbitrationLosses,
	}
	if success {
		l.count(true)
		logger.Info("job done",
			logging.String(logging.FieldEventType, "job_done"),
			logging.Duration("elapsed", finished.Sub(started)),
			logging.String("result_dir", outcome.ResultDir),
		)
	} else {
		l.count(false)
		reason := outcome.Message
		if procErr != nil {
			reason = procErr.Error()
		}
		entry.Outcome = history.OutcomeFailed
		entry.Error = reason
		logging.ErrorWithContext(logger, "encoding job failed", "job_failed",
			logging.String("reason", reason),
			logging.String("result_dir", outcome.ResultDir),
			logging.String(logging.FieldErrorHint, "inspect stats.json and the container logs in the result dir"),
		)
		l.publish(jobCtx, logger, notifications.EventJobFailed, notifications.Payload{
			"job":      h.Name(),
			"workerID": h.WorkerID(),
			"reason":   reason,
		})
	}

	if l.history != nil {
		if err := l.history.Record(jobCtx, entry); err != nil {
			logging.WarnWithContext(logger, "failed to record job history", "history_record_failed",
				logging.Error(err),
				logging.String(logging.FieldImpact, "job missing from 'dirjobs history'"),
				logging.String(logging.FieldErrorHint, "check the history database in log_dir"),
			)
		}
	}
	return nil
}

func (l *Loop) process(ctx context.Context, logger *slog.Logger, h *claim.Handle) (outcome processing.Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
			outcome = processing.Outcome{Message: err.Error()}
			logging.ErrorWithContext(logger, "processor panicked", "processor_panic",
				logging.String("panic", fmt.Sprint(r)),
				logging.String("stack", string(debug.Stack())),
				logging.String(logging.FieldErrorHint, "this is a bug in the processor"),
			)
		}
	}()
	return l.processor.Process(ctx, h)
}

func (l *Loop) count(success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.summary.Processed++
	if success {
		l.summary.Succeeded++
	} else {
		l.summary.Failed++
	}
}

func (l *Loop) finish(started time.Time) {
	summary := l.Summary()
	stats := l.claimer.Stats()
	elapsed := l.now().Sub(started)
	l.logger.Info("worker stopped",
		logging.String(logging.FieldEventType, "worker_stop"),
		logging.Int("processed", summary.Processed),
		logging.Int("failed", summary.Failed),
		logging.Int("vanished", stats.Vanished),
		logging.Int("arbitration_losses", stats.ArbitrationLosses),
		logging.Duration("elapsed", elapsed),
	)
	l.publish(context.Background(), l.logger, notifications.EventWorkerStopped, notifications.Payload{
		"workerID":  l.claimer.WorkerID(),
		"processed": summary.Processed,
		"failed":    summary.Failed,
		"duration":  elapsed,
	})
}

func (l *Loop) publish(ctx context.Context, logger *slog.Logger, event notifications.Event, payload notifications.Payload) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.Publish(ctx, event, payload); err != nil {
		logging.WarnWithContext(logger, "notification failed", "notification_failed",
			logging.String("event", string(event)),
			logging.Error(err),
			logging.String(logging.FieldImpact, "operators are not alerted"),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
