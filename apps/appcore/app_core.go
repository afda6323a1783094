// This is the core of a number of applications.  Core is the entry point
// used by the web application and the daemon: it extracts fixes from a raw
// UBX file, post-processes a file, works through an inbox of captured files
// and re-runs files when better corrections become available.
//
// Relay contains the functionality to read from an input device, typically
// a serial line connected to a GNSS receiver, and hand the decoded messages
// to the applications that display or record them.
package appcore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/goblimey/go-rtkpost/clock"
	"github.com/goblimey/go-rtkpost/corrections"
	filehandler "github.com/goblimey/go-rtkpost/file_handler"
	"github.com/goblimey/go-rtkpost/rtkpost"
	"github.com/goblimey/go-rtkpost/store"
)

// JobRunner runs post-processing jobs.  *rtkpost.Orchestrator is one.
type JobRunner interface {
	Run(ctx context.Context, job *rtkpost.Job) error
}

// Exporter receives the solutions of completed jobs.
type Exporter interface {
	WriteSolutions(ctx context.Context, source string, solutions []rtkpost.Solution) error
}

// Notifier is told about finished jobs.
type Notifier interface {
	JobFinished(ctx context.Context, run rtkpost.Run) error
}

// Core holds the parts that the applications share.
type Core struct {
	Store  store.Store
	Runner JobRunner
	// Exporter and Notifier may be nil.
	Exporter Exporter
	Notifier Notifier
	// Inbox is the directory scanned for new UBX files.
	Inbox string
	// MaxConcurrentJobs limits the jobs run at once by ScanInbox and
	// Upgrade.
	MaxConcurrentJobs int
	Clock             clock.Clock
	Logger            *slog.Logger
}

// New creates a Core.
func New(st store.Store, runner JobRunner, inbox string, maxConcurrentJobs int, clk clock.Clock, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	if maxConcurrentJobs < 1 {
		maxConcurrentJobs = 1
	}
	return &Core{
		Store:             st,
		Runner:            runner,
		Inbox:             inbox,
		MaxConcurrentJobs: maxConcurrentJobs,
		Clock:             clk,
		Logger:            logger,
	}
}

// FixSummary describes the fixes extracted from a file.
type FixSummary struct {
	Source string
	Count  int
	// First and Last are the times of the earliest and latest fixes, zero
	// if there are none.
	First time.Time
	Last  time.Time
}

// ExtractFixes decodes the usable NAV-PVT fixes in a UBX file and replaces
// the fixes stored for it.  A file with no usable fixes gives a count of
// zero and clears any fixes stored earlier.
func (c *Core) ExtractFixes(ctx context.Context, path string) (FixSummary, error) {
	result := FixSummary{Source: path}
	summary, err := filehandler.Scan(ctx, path, c.Logger)
	if err != nil && !errors.Is(err, filehandler.ErrNoFixes) {
		return result, err
	}

	fixes := make([]store.Fix, 0, len(summary.Fixes))
	for _, m := range summary.Fixes {
		fixes = append(fixes, store.FixFromNavPVT(m))
	}
	if err := c.Store.ReplaceFixes(ctx, path, fixes); err != nil {
		return result, fmt.Errorf("storing fixes: %w", err)
	}

	result.Count = len(fixes)
	result.First = summary.Start
	result.Last = summary.Stop
	c.Logger.Info("extracted fixes", "source", path, "count", result.Count,
		"checksumErrors", summary.Stats.ChecksumErrors)
	return result, nil
}

// Options adjust a post-processing run.
type Options struct {
	// Start overrides the start of the observations.
	Start time.Time
}

// Result is the outcome of post-processing a file.
type Result struct {
	Source    string
	JobID     string
	State     rtkpost.State
	Solutions int
	// Class is the product class of the corrections used, empty if none.
	Class string
	// Missing is the number of correction files that could not be
	// fetched.
	Missing int
	Err     error
}

// PostProcess runs a job for the file.  The error is the job's failure.
// Failures to export or announce the result are logged and don't fail the
// job.
func (c *Core) PostProcess(ctx context.Context, path string, opts Options) (Result, error) {
	job := rtkpost.NewJob(path)
	job.Start = opts.Start
	err := c.Runner.Run(ctx, job)

	run := job.Record()
	result := Result{
		Source:    path,
		JobID:     job.ID,
		State:     job.State,
		Solutions: len(job.Solutions),
		Class:     run.Class,
		Missing:   len(job.Missing),
		Err:       err,
	}

	// The job is over, so the follow-up work is not cancelled with it.
	after := context.WithoutCancel(ctx)
	if job.State == rtkpost.Completed && c.Exporter != nil {
		if exportErr := c.Exporter.WriteSolutions(after, path, job.Solutions); exportErr != nil {
			c.Logger.Warn("cannot export solutions", "source", path, "error", exportErr)
		}
	}
	if c.Notifier != nil {
		if notifyErr := c.Notifier.JobFinished(after, run); notifyErr != nil {
			c.Logger.Warn("cannot announce job", "source", path, "error", notifyErr)
		}
	}
	return result, err
}

// ScanInbox post-processes the UBX files in the inbox that have not been
// processed before, extracting their fixes first.  Failed jobs are in the
// results, they are not errors of the scan.
func (c *Core) ScanInbox(ctx context.Context) ([]Result, error) {
	names, err := c.inboxFiles()
	if err != nil {
		return nil, err
	}

	var todo []string
	for _, name := range names {
		runs, err := c.Store.Runs(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			todo = append(todo, name)
		}
	}
	if len(todo) > 0 {
		c.Logger.Info("new files in the inbox", "count", len(todo))
	}

	return c.processAll(ctx, todo, func(ctx context.Context, name string) (Result, error) {
		if _, err := c.ExtractFixes(ctx, name); err != nil {
			c.Logger.Warn("cannot extract fixes", "source", name, "error", err)
		}
		return c.PostProcess(ctx, name, Options{})
	})
}

// inboxFiles returns the full names of the UBX files in the inbox, sorted.
func (c *Core) inboxFiles() ([]string, error) {
	entries, err := os.ReadDir(c.Inbox)
	if err != nil {
		return nil, fmt.Errorf("cannot read the inbox: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		if strings.ToLower(filepath.Ext(name)) != ".ubx" {
			continue
		}
		names = append(names, filepath.Join(c.Inbox, name))
	}
	sort.Strings(names)
	return names, nil
}

// Upgrade re-runs the sources whose latest run could now use a more
// precise class of correction products, or could use corrections for the
// first time.  Sources that no longer exist are skipped.
func (c *Core) Upgrade(ctx context.Context) ([]Result, error) {
	runs, err := c.Store.LatestRuns(ctx)
	if err != nil {
		return nil, err
	}

	now := c.Clock.Now()
	var todo []string
	for _, run := range runs {
		if !c.canImprove(run, now) {
			continue
		}
		if _, err := os.Stat(run.Source); err != nil {
			c.Logger.Debug("source has gone", "source", run.Source)
			continue
		}
		todo = append(todo, run.Source)
	}
	if len(todo) > 0 {
		c.Logger.Info("upgrading solutions", "count", len(todo))
	}

	return c.processAll(ctx, todo, func(ctx context.Context, name string) (Result, error) {
		return c.PostProcess(ctx, name, Options{})
	})
}

// canImprove returns true if a completed run could be bettered by the
// corrections available now.  The class is judged from the end of the
// observations, as the resolver chooses it.
func (c *Core) canImprove(run rtkpost.Run, now time.Time) bool {
	if run.State != rtkpost.Completed.String() || run.Observed.IsZero() {
		return false
	}
	through := run.Through
	if through.IsZero() {
		through = run.Observed
	}
	best, ok := corrections.SelectClass(through, now)
	if !ok {
		return false
	}
	if run.Class == "" {
		return true
	}
	used, err := corrections.ParseProductClass(run.Class)
	if err != nil {
		c.Logger.Warn("unknown product class in run", "source", run.Source, "class", run.Class)
		return false
	}
	return best.MorePreciseThan(used)
}

// processAll applies fn to each name, running up to MaxConcurrentJobs at
// once.  The results are in the order of the names.  Job failures are in
// the results.  The error is only set if ctx was cancelled.
func (c *Core) processAll(ctx context.Context, names []string, fn func(context.Context, string) (Result, error)) ([]Result, error) {
	results := make([]Result, len(names))
	for i, name := range names {
		results[i].Source = name
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.MaxConcurrentJobs)
	for i, name := range names {
		if gctx.Err() != nil {
			break
		}
		i, name := i, name
		g.Go(func() error {
			result, err := fn(gctx, name)
			result.Source = name
			results[i] = result
			if err != nil {
				c.Logger.Warn("post-processing failed", "source", name, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}
