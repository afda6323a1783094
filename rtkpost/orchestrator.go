// The rtkpost package post-processes raw UBX files with the RTKLIB tools.
//
// A job runs in stages:
//
//	Pending -> Converting -> FetchingCorrections -> Solving -> Completed
//
// and moves to Failed from any stage.  Converting runs convbin to turn the
// raw file into RINEX.  FetchingCorrections gets the IGS products for the
// observation period and copies them into the job's scratch directory.
// Solving runs rnx2rtkp over the RINEX files and the corrections, and the
// report it produces is parsed into Solutions which replace any earlier set
// for the same source.
//
// Each job owns a scratch directory under the work root, named by its ID.
// The directory is removed when the job ends, unless the job failed while
// converting or Config.KeepFailed is set.  A kept directory loses its copy of
// the corrections.
package rtkpost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goblimey/go-rtkpost/clock"
	"github.com/goblimey/go-rtkpost/corrections"
	filehandler "github.com/goblimey/go-rtkpost/file_handler"
	"github.com/goblimey/go-rtkpost/metrics"
	"github.com/goblimey/go-rtkpost/rdnap"
)

// CorrectionResolver gets the correction files for an observation period.
type CorrectionResolver interface {
	ResolveSpan(ctx context.Context, start, stop time.Time, kinds []corrections.FileKind) ([]corrections.Ref, []*corrections.CorrectionFetchError)
}

// SolutionStore keeps the results.
type SolutionStore interface {
	// ReplaceSolutions replaces the solutions for a source.
	ReplaceSolutions(ctx context.Context, source string, solutions []Solution) error
	// RecordRun records a finished job.
	RecordRun(ctx context.Context, run Run) error
}

// Config controls the orchestrator.
type Config struct {
	// WorkRoot is the directory under which each job gets its scratch
	// directory.
	WorkRoot string
	// Convbin and Solver give the executables and static options.  The
	// file names are filled in for each job.
	Convbin ConvbinCommand
	Solver  Rnx2RtkpCommand
	// Kinds are the correction files wanted.  Nil means all of them.
	Kinds []corrections.FileKind
	// KeepFailed keeps the scratch directory of a failed job.  A job that
	// fails while converting is kept regardless.
	KeepFailed bool
}

// Orchestrator runs jobs.  It may run several jobs at once.
type Orchestrator struct {
	config      Config
	resolver    CorrectionResolver
	runner      Runner
	store       SolutionStore
	transformer *rdnap.Transformer
	clock       clock.Clock
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// New creates an orchestrator.  transformer may be nil, in which case the
// solutions have no local coordinates.  m may be nil.
func New(config Config, resolver CorrectionResolver, runner Runner, store SolutionStore,
	transformer *rdnap.Transformer, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Orchestrator {

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if config.Kinds == nil {
		config.Kinds = corrections.AllKinds
	}
	return &Orchestrator{
		config:      config,
		resolver:    resolver,
		runner:      runner,
		store:       store,
		transformer: transformer,
		clock:       clk,
		metrics:     m,
		logger:      logger,
	}
}

// files are the names of a job's files in its scratch directory.
type files struct {
	obs, nav, sbs, pos string
	corrections        string
}

func newFiles(workDir, source string) files {
	name := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return files{
		obs:         filepath.Join(workDir, name+".obs"),
		nav:         filepath.Join(workDir, name+".nav"),
		sbs:         filepath.Join(workDir, name+".sbs"),
		pos:         filepath.Join(workDir, name+".pos"),
		corrections: filepath.Join(workDir, name+".d"),
	}
}

// Run runs a job to completion or failure.  The job's fields record what
// happened.  The error is the job's Err.  Cancelling ctx stops the job
// between stages.
func (o *Orchestrator) Run(ctx context.Context, job *Job) error {
	logger := o.logger.With("job", job.ID, "source", job.Source)
	job.Started = o.clock.Now()
	job.WorkDir = filepath.Join(o.config.WorkRoot, job.ID)
	f := newFiles(job.WorkDir, job.Source)

	err := o.stages(ctx, logger, job, f)

	job.Finished = o.clock.Now()
	failedIn := job.State
	if err != nil {
		job.State = Failed
		job.Err = err
		job.Solutions = nil
		logger.Error("job failed", "error", err)
	} else {
		job.State = Completed
		logger.Info("job completed", "solutions", len(job.Solutions), "missing", len(job.Missing))
	}

	o.cleanUp(logger, job, f, failedIn)

	if o.store != nil {
		if recErr := o.store.RecordRun(context.WithoutCancel(ctx), job.Record()); recErr != nil {
			logger.Error("cannot record the run", "error", recErr)
		}
	}
	o.metrics.JobFinished(job.State.String(), job.Finished.Sub(job.Started), len(job.Solutions))

	return job.Err
}

func (o *Orchestrator) stages(ctx context.Context, logger *slog.Logger, job *Job, f files) error {
	if err := os.MkdirAll(job.WorkDir, 0o755); err != nil {
		return err
	}

	// Converting.
	if err := o.enter(ctx, logger, job, Converting); err != nil {
		return err
	}
	source, err := filepath.Abs(job.Source)
	if err != nil {
		return err
	}
	convbin := o.config.Convbin
	convbin.Input = source
	convbin.Obs = f.obs
	convbin.Nav = f.nav
	convbin.Sbs = f.sbs
	if err := o.run(ctx, job.WorkDir, convbin); err != nil {
		return err
	}

	// FetchingCorrections.
	if err := o.enter(ctx, logger, job, FetchingCorrections); err != nil {
		return err
	}
	start, stop, err := o.span(ctx, logger, job)
	if err != nil {
		return err
	}
	job.Observed = start
	job.Through = stop
	if err := o.fetchCorrections(ctx, logger, job, f, start, stop); err != nil {
		return err
	}

	// Solving.
	if err := o.enter(ctx, logger, job, Solving); err != nil {
		return err
	}
	expanded, err := ExpandCorrections(f.corrections)
	if err != nil {
		return err
	}
	solver := o.config.Solver
	solver.Start = job.Start
	solver.Output = f.pos
	solver.Obs = f.obs
	solver.Nav = f.nav
	solver.Sbs = f.sbs
	solver.Corrections = expanded
	if err := o.run(ctx, job.WorkDir, solver); err != nil {
		return err
	}

	solutions, err := o.readReport(f.pos)
	if err != nil {
		return err
	}

	if o.store != nil {
		if err := o.store.ReplaceSolutions(ctx, job.Source, solutions); err != nil {
			return fmt.Errorf("storing solutions: %w", err)
		}
	}
	job.Solutions = solutions
	return nil
}

// enter moves the job to the next stage, unless the caller has cancelled.
func (o *Orchestrator) enter(ctx context.Context, logger *slog.Logger, job *Job, state State) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("cancelled before %s: %w", state, err)
	}
	logger.Debug("stage", "from", job.State.String(), "to", state.String())
	job.State = state
	return nil
}

func (o *Orchestrator) run(ctx context.Context, dir string, c Command) error {
	err := o.runner.Run(ctx, dir, c)
	o.metrics.ToolRun(c.Tool(), err)
	return err
}

// span returns the observation period, from the override or the file.
func (o *Orchestrator) span(ctx context.Context, logger *slog.Logger, job *Job) (time.Time, time.Time, error) {
	summary, err := filehandler.Scan(ctx, job.Source, logger)
	if !job.Start.IsZero() {
		stop := job.Start
		if err == nil && summary.Stop.After(stop) {
			stop = summary.Stop
		}
		return job.Start, stop, nil
	}
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("cannot find the start of the observations: %w", err)
	}
	return summary.Start, summary.Stop, nil
}

// fetchCorrections gets the correction files and copies them into the
// job's corrections directory.  Missing files are recorded but don't stop
// the job.
func (o *Orchestrator) fetchCorrections(ctx context.Context, logger *slog.Logger, job *Job, f files, start, stop time.Time) error {
	if err := os.MkdirAll(f.corrections, 0o755); err != nil {
		return err
	}

	refs, missing := o.resolver.ResolveSpan(ctx, start, stop, o.config.Kinds)
	for _, m := range missing {
		logger.Warn("correction file missing", "error", m)
	}
	job.Missing = missing

	for _, ref := range refs {
		target := filepath.Join(f.corrections, filepath.Base(ref.LocalPath))
		if err := copyFile(ref.LocalPath, target); err != nil {
			return fmt.Errorf("copying correction file: %w", err)
		}
		job.Corrections = append(job.Corrections, ref)
		job.Class = ref.Class
	}
	return nil
}

func (o *Orchestrator) readReport(name string) ([]Solution, error) {
	report, err := os.Open(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &SolutionFormatError{Reason: "no report produced"}
		}
		return nil, err
	}
	defer report.Close()
	return ParseReport(report, o.transformer)
}

// cleanUp removes the corrections directory always, and the whole scratch
// directory unless the job failed and failed jobs are kept.
// cleanUp removes the job's scratch directory.  The directory of a job that
// failed while converting is always kept, so that the partial RINEX files
// can be examined.  Other failed jobs are kept if the config says so.
func (o *Orchestrator) cleanUp(logger *slog.Logger, job *Job, f files, failedIn State) {
	if err := os.RemoveAll(f.corrections); err != nil {
		logger.Warn("cannot remove the corrections directory", "error", err)
	}
	if job.State == Failed && (o.config.KeepFailed || failedIn == Converting) {
		logger.Info("scratch directory kept", "dir", job.WorkDir)
		return
	}
	if err := os.RemoveAll(job.WorkDir); err != nil {
		logger.Warn("cannot remove the scratch directory", "error", err)
	}
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
