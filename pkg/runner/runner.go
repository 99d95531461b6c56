// Package runner executes decomposition jobs in the background and streams
// their progress and produced files over a channel.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"lowrankdecomp/internal/logging"
	"lowrankdecomp/pkg/config"
	"lowrankdecomp/pkg/history"
	"lowrankdecomp/pkg/pipeline"
	"lowrankdecomp/pkg/registration"
)

// ErrAlreadyRunning is returned by Start when another run holds the result
// directory.
var ErrAlreadyRunning = errors.New("runner: processing is already running")

// EventKind distinguishes run events.
type EventKind int

const (
	EventProgress EventKind = iota
	EventOutput
	EventDone
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventProgress:
		return "progress"
	case EventOutput:
		return "output"
	case EventDone:
		return "done"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event is delivered on Run.Events. Done or Failed is always the last event.
type Event struct {
	Kind     EventKind
	RunID    string
	Progress pipeline.Progress

	// Name and Path identify a produced file (EventOutput).
	Name string
	Path string

	// Summary is set on EventDone, Err on EventFailed.
	Summary *pipeline.Summary
	Err     error
}

// Job describes one run.
type Job struct {
	Config     *config.Config
	ConfigPath string
	ExtraImage string

	// Software and Exec override registration tool discovery and execution.
	Software registration.Software
	Exec     registration.Executor
}

// processFunc runs the pipeline; replaced in tests.
type processFunc func(ctx context.Context, params *pipeline.Params) (*pipeline.Summary, error)

func runPipeline(ctx context.Context, params *pipeline.Params) (*pipeline.Summary, error) {
	return pipeline.NewProcessor(params).Process(ctx)
}

// Runner starts jobs. It is safe for concurrent use.
type Runner struct {
	logger  *slog.Logger
	history *history.Store
	process processFunc
}

// New creates a Runner. store may be nil to skip run history.
func New(logger *slog.Logger, store *history.Store) *Runner {
	return &Runner{logger: logging.OrDefault(logger), history: store, process: runPipeline}
}

// Run is a job in progress.
type Run struct {
	ID string

	events chan Event
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Events returns the event stream. It is closed after Done or Failed.
// Progress events are dropped when the consumer falls behind; output and
// final events are always delivered.
func (r *Run) Events() <-chan Event { return r.events }

// Cancel requests cooperative cancellation.
func (r *Run) Cancel() { r.cancel() }

// Wait blocks until the run finishes and returns its error. Events must be
// drained concurrently or beforehand.
func (r *Run) Wait() error {
	<-r.done
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

const eventBuffer = 64

// Start acquires the result directory lock and launches the job.
func (rn *Runner) Start(ctx context.Context, job Job) (*Run, error) {
	cfg := job.Config
	if cfg == nil {
		return nil, fmt.Errorf("%w: missing configuration", config.ErrInvalidConfig)
	}
	if err := os.MkdirAll(cfg.Output.ResultDir, 0o755); err != nil {
		return nil, fmt.Errorf("create result directory: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		rn.logger.Warn("processing is already running", "result_dir", cfg.Output.ResultDir)
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, cfg.Output.ResultDir)
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:     uuid.NewString(),
		events: make(chan Event, eventBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	if rn.history != nil {
		rec := history.Run{
			ID:         run.ID,
			Algorithm:  string(cfg.Algorithm),
			ConfigPath: job.ConfigPath,
			ResultDir:  cfg.Output.ResultDir,
			StartedAt:  time.Now(),
		}
		if err := rn.history.Start(runCtx, rec); err != nil {
			rn.logger.Warn("failed to record run start", "run_id", run.ID, "error", err)
		}
	}

	go rn.execute(runCtx, run, lock, job)
	return run, nil
}

func (rn *Runner) execute(ctx context.Context, run *Run, lock *flock.Flock, job Job) {
	logger := rn.logger.With("run_id", run.ID)
	defer close(run.done)
	defer close(run.events)
	defer run.cancel()

	params := &pipeline.Params{
		Config:     job.Config,
		ExtraImage: job.ExtraImage,
		RunID:      run.ID,
		Logger:     logger,
		Software:   job.Software,
		Exec:       job.Exec,
		OnProgress: func(p pipeline.Progress) {
			select {
			case run.events <- Event{Kind: EventProgress, RunID: run.ID, Progress: p}:
			default:
			}
		},
		OnOutput: func(name, path string) {
			run.events <- Event{Kind: EventOutput, RunID: run.ID, Name: name, Path: path}
		},
	}

	logger.Info("run started", "algorithm", job.Config.Algorithm, "result_dir", job.Config.Output.ResultDir)
	summary, err := rn.process(ctx, params)

	run.mu.Lock()
	run.err = err
	run.mu.Unlock()

	rn.recordFinish(run.ID, summary, err, logger)

	// release before the final event so a consumer can start the next run
	if unlockErr := lock.Unlock(); unlockErr != nil {
		logger.Warn("failed to release lock", "error", unlockErr)
	}

	if err != nil {
		logger.Error("run failed", "error", err)
		run.events <- Event{Kind: EventFailed, RunID: run.ID, Err: err}
		return
	}
	logger.Info("run finished", "outputs", len(summary.Outputs))
	run.events <- Event{Kind: EventDone, RunID: run.ID, Summary: summary}
}

func (rn *Runner) recordFinish(id string, summary *pipeline.Summary, err error, logger *slog.Logger) {
	if rn.history == nil {
		return
	}
	out := history.Outcome{Err: err}
	if summary != nil && summary.Metrics != nil {
		m := summary.Metrics
		out.Images = m.Images
		out.Iterations = m.Iterations
		out.Residual = m.Residual
		out.Rank = m.Rank
		out.Converged = m.Converged
	}
	// the run context may already be cancelled
	if err := rn.history.Finish(context.Background(), id, out); err != nil {
		logger.Warn("failed to record run finish", "error", err)
	}
}
