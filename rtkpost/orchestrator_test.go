package rtkpost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goblimey/go-rtkpost/clock"
	"github.com/goblimey/go-rtkpost/corrections"
	"github.com/goblimey/go-rtkpost/rdnap"
	"github.com/goblimey/go-rtkpost/ubx/testdata"
)

// fakeRunner stands in for the RTKLIB tools.  convbin writes empty RINEX
// files and rnx2rtkp writes the given report.
type fakeRunner struct {
	report   string
	failTool string
	commands []Command
	seen     []string // the correction files present when the solver ran
}

func (r *fakeRunner) Run(ctx context.Context, dir string, c Command) error {
	r.commands = append(r.commands, c)
	if c.Tool() == r.failTool {
		return &ExternalToolError{Tool: c.Tool(), ExitCode: 2, Stderr: "error: no data"}
	}
	switch cmd := c.(type) {
	case ConvbinCommand:
		for _, name := range []string{cmd.Obs, cmd.Nav, cmd.Sbs} {
			if err := os.WriteFile(name, []byte("RINEX"), 0o644); err != nil {
				return err
			}
		}
	case Rnx2RtkpCommand:
		for _, name := range cmd.Corrections {
			if _, err := os.Stat(name); err != nil {
				return err
			}
			r.seen = append(r.seen, filepath.Base(name))
		}
		if r.report != "" {
			return os.WriteFile(cmd.Output, []byte(r.report), 0o644)
		}
	}
	return nil
}

// fakeResolver returns files in a directory of its own, with the clock
// file always missing.
type fakeResolver struct {
	dir    string
	start  time.Time
	stop   time.Time
	kinds  []corrections.FileKind
	called bool
}

func (r *fakeResolver) ResolveSpan(ctx context.Context, start, stop time.Time, kinds []corrections.FileKind) ([]corrections.Ref, []*corrections.CorrectionFetchError) {
	r.called = true
	r.start, r.stop, r.kinds = start, stop, kinds
	var refs []corrections.Ref
	for _, name := range []string{"igr19643.sp3", "igr19643.erp"} {
		local := filepath.Join(r.dir, name)
		os.WriteFile(local, []byte(name), 0o644)
		refs = append(refs, corrections.Ref{Class: corrections.Rapid, Kind: corrections.Ephemeris, LocalPath: local})
	}
	missing := []*corrections.CorrectionFetchError{{
		Ref: corrections.Ref{Class: corrections.Rapid, Kind: corrections.Clock},
		Err: corrections.ErrNotFound,
	}}
	return refs, missing
}

type fakeStore struct {
	mu        sync.Mutex
	solutions map[string][]Solution
	runs      []Run
}

func (s *fakeStore) ReplaceSolutions(ctx context.Context, source string, solutions []Solution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.solutions == nil {
		s.solutions = make(map[string][]Solution)
	}
	s.solutions[source] = solutions
	return nil
}

func (s *fakeStore) RecordRun(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, run)
	return nil
}

type fixture struct {
	source   string
	root     string
	runner   *fakeRunner
	resolver *fakeResolver
	store    *fakeStore
	clock    *clock.StoppedClock
}

func newFixture(t *testing.T, report string) *fixture {
	t.Helper()
	dir := t.TempDir()
	source := filepath.Join(dir, "data.20170906.ubx")
	if err := os.WriteFile(source, testdata.Capture(3), 0o644); err != nil {
		t.Fatal(err)
	}
	return &fixture{
		source:   source,
		root:     filepath.Join(dir, "work"),
		runner:   &fakeRunner{report: report},
		resolver: &fakeResolver{dir: t.TempDir()},
		store:    &fakeStore{},
		clock:    clock.NewStoppedClockAt(testdata.FirstFixTime.Add(20 * time.Hour)),
	}
}

func (f *fixture) orchestrator(t *testing.T, keepFailed bool) *Orchestrator {
	t.Helper()
	transformer, err := rdnap.New(rdnap.DefaultParams())
	if err != nil {
		t.Fatal(err)
	}
	config := Config{WorkRoot: f.root, KeepFailed: keepFailed}
	return New(config, f.resolver, f.runner, f.store, transformer, f.clock, nil, nil)
}

// TestRunCompleted checks a job that goes all the way through.
func TestRunCompleted(t *testing.T) {
	f := newFixture(t, report)
	job := NewJob(f.source)

	err := f.orchestrator(t, true).Run(context.Background(), job)
	if err != nil {
		t.Fatal(err)
	}

	if job.State != Completed {
		t.Errorf("want Completed got %v", job.State)
	}
	if len(job.Solutions) != 2 {
		t.Errorf("want 2 solutions got %d", len(job.Solutions))
	}
	if len(f.store.solutions[f.source]) != 2 {
		t.Errorf("want 2 solutions stored got %d", len(f.store.solutions[f.source]))
	}
	if job.Solutions[0].Local == nil {
		t.Error("want local coordinates")
	}
	if job.Class != corrections.Rapid || len(job.Corrections) != 2 || len(job.Missing) != 1 {
		t.Errorf("unexpected corrections %v %v %v", job.Class, job.Corrections, job.Missing)
	}

	// The observation span comes from the file.
	if !testdata.FirstFixTime.Equal(f.resolver.start) {
		t.Errorf("want start %v got %v", testdata.FirstFixTime, f.resolver.start)
	}
	wantStop := testdata.FirstFixTime.Add(2 * time.Second)
	if !wantStop.Equal(f.resolver.stop) {
		t.Errorf("want stop %v got %v", wantStop, f.resolver.stop)
	}
	if diff := cmp.Diff(corrections.AllKinds, f.resolver.kinds); diff != "" {
		t.Errorf("kinds: %s", diff)
	}

	// The solver saw the copied corrections.
	if diff := cmp.Diff([]string{"igr19643.erp", "igr19643.sp3"}, f.runner.seen); diff != "" {
		t.Errorf("corrections: %s", diff)
	}

	// The solver was run on the converter's output, without a start time.
	if len(f.runner.commands) != 2 {
		t.Fatalf("want 2 commands got %d", len(f.runner.commands))
	}
	solverArgs := strings.Join(f.runner.commands[1].Args(), " ")
	if !strings.Contains(solverArgs, "data.20170906.obs") || strings.Contains(solverArgs, "-ts") {
		t.Errorf("unexpected solver arguments %s", solverArgs)
	}

	// The scratch directory has gone.
	if _, err := os.Stat(job.WorkDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("want %s removed got %v", job.WorkDir, err)
	}

	if len(f.store.runs) != 1 {
		t.Fatalf("want 1 run got %d", len(f.store.runs))
	}
	run := f.store.runs[0]
	if run.State != "Completed" || run.Class != "rapid" || run.Solutions != 2 || run.Missing != 1 {
		t.Errorf("unexpected run %+v", run)
	}
	if !testdata.FirstFixTime.Equal(run.Observed) {
		t.Errorf("want observed %v got %v", testdata.FirstFixTime, run.Observed)
	}
	if !run.Through.After(run.Observed) {
		t.Errorf("want the observations to end after %v got %v", run.Observed, run.Through)
	}
}

// TestRunConvertFails checks that a converter failure fails the job with
// the tool's exit code, and keeps the scratch directory.
func TestRunConvertFails(t *testing.T) {
	f := newFixture(t, report)
	f.runner.failTool = "convbin"
	job := NewJob(f.source)

	err := f.orchestrator(t, true).Run(context.Background(), job)

	var toolErr *ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("want an ExternalToolError got %v", err)
	}
	if toolErr.ExitCode != 2 {
		t.Errorf("want exit code 2 got %d", toolErr.ExitCode)
	}
	if job.State != Failed {
		t.Errorf("want Failed got %v", job.State)
	}
	if len(f.runner.commands) != 1 {
		t.Errorf("want only the converter run got %d commands", len(f.runner.commands))
	}
	if f.resolver.called {
		t.Error("want no corrections fetched")
	}
	if _, err := os.Stat(job.WorkDir); err != nil {
		t.Errorf("want %s kept got %v", job.WorkDir, err)
	}
	if len(f.store.runs) != 1 || f.store.runs[0].State != "Failed" {
		t.Errorf("want a failed run recorded got %+v", f.store.runs)
	}
}

// TestRunConvertFailsNotKeepingFailed checks that a converter failure keeps
// the scratch directory even when failed jobs are normally removed.
func TestRunConvertFailsNotKeepingFailed(t *testing.T) {
	f := newFixture(t, report)
	f.runner.failTool = "convbin"
	job := NewJob(f.source)

	err := f.orchestrator(t, false).Run(context.Background(), job)

	var toolErr *ExternalToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("want an ExternalToolError got %v", err)
	}
	if _, err := os.Stat(job.WorkDir); err != nil {
		t.Errorf("want %s kept got %v", job.WorkDir, err)
	}
	if _, err := os.Stat(filepath.Join(job.WorkDir, "data.20170906.d")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("want no corrections directory got %v", err)
	}
}

// TestRunBadReport checks that a report without the header fails the job
// and stores nothing.
func TestRunBadReport(t *testing.T) {
	f := newFixture(t, "% program : RNX2RTKP\n2017/09/06 12:00:00.000,52.0,4.7,45.0\n")
	job := NewJob(f.source)

	err := f.orchestrator(t, true).Run(context.Background(), job)

	var formatErr *SolutionFormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("want a SolutionFormatError got %v", err)
	}
	if job.State != Failed {
		t.Errorf("want Failed got %v", job.State)
	}
	if len(job.Solutions) != 0 || len(f.store.solutions) != 0 {
		t.Errorf("want no solutions got %d %d", len(job.Solutions), len(f.store.solutions))
	}

	// The directory is kept for diagnosis but without the corrections.
	if _, err := os.Stat(filepath.Join(job.WorkDir, "data.20170906.obs")); err != nil {
		t.Errorf("want the RINEX kept got %v", err)
	}
	if _, err := os.Stat(filepath.Join(job.WorkDir, "data.20170906.d")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("want the corrections removed got %v", err)
	}
}

// TestRunSolverProducesNothing checks a solver that exits cleanly without
// a report.
func TestRunSolverProducesNothing(t *testing.T) {
	f := newFixture(t, "")
	job := NewJob(f.source)

	err := f.orchestrator(t, false).Run(context.Background(), job)

	var formatErr *SolutionFormatError
	if !errors.As(err, &formatErr) {
		t.Fatalf("want a SolutionFormatError got %v", err)
	}
	// Failed jobs are not kept.
	if _, err := os.Stat(job.WorkDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("want %s removed got %v", job.WorkDir, err)
	}
}

// TestRunEmptyReport checks that a well-formed empty report completes the
// job with no solutions, replacing any earlier ones.
func TestRunEmptyReport(t *testing.T) {
	f := newFixture(t, "%  GPST,latitude(deg),longitude(deg),height(m),Q,ns,sdn(m),sde(m),sdu(m)\n")
	f.store.solutions = map[string][]Solution{f.source: {{Height: 1}}}
	job := NewJob(f.source)

	if err := f.orchestrator(t, true).Run(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if job.State != Completed {
		t.Errorf("want Completed got %v", job.State)
	}
	if got := f.store.solutions[f.source]; len(got) != 0 {
		t.Errorf("want the earlier solutions replaced got %v", got)
	}
}

// TestRunCancelled checks that a cancelled job runs nothing.
func TestRunCancelled(t *testing.T) {
	f := newFixture(t, report)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := NewJob(f.source)

	err := f.orchestrator(t, true).Run(ctx, job)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled got %v", err)
	}
	if job.State != Failed {
		t.Errorf("want Failed got %v", job.State)
	}
	if len(f.runner.commands) != 0 {
		t.Errorf("want nothing run got %d commands", len(f.runner.commands))
	}
}

// TestRunStartOverride checks that a given start time is used for the
// corrections and passed to the solver.
func TestRunStartOverride(t *testing.T) {
	f := newFixture(t, report)
	job := NewJob(f.source)
	job.Start = time.Date(2017, time.September, 6, 11, 0, 0, 0, time.UTC)

	if err := f.orchestrator(t, true).Run(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if !job.Start.Equal(f.resolver.start) {
		t.Errorf("want start %v got %v", job.Start, f.resolver.start)
	}
	solverArgs := strings.Join(f.runner.commands[1].Args(), " ")
	if !strings.Contains(solverArgs, "-ts 2017/09/06 11:00:00") {
		t.Errorf("want -ts in %s", solverArgs)
	}
}

// TestRunNoFixes checks that a file with nothing to date it by fails.
func TestRunNoFixes(t *testing.T) {
	f := newFixture(t, report)
	if err := os.WriteFile(f.source, testdata.RxmRawFrame(), 0o644); err != nil {
		t.Fatal(err)
	}
	job := NewJob(f.source)

	err := f.orchestrator(t, true).Run(context.Background(), job)
	if err == nil || job.State != Failed {
		t.Errorf("want failure got %v %v", job.State, err)
	}
	if f.resolver.called {
		t.Error("want no corrections fetched")
	}
}

func TestStateString(t *testing.T) {
	want := []string{"Pending", "Converting", "FetchingCorrections", "Solving", "Completed", "Failed"}
	for i, w := range want {
		s := State(i)
		if w != s.String() {
			t.Errorf("want %s got %s", w, s.String())
		}
		if s.Terminal() != (s == Completed || s == Failed) {
			t.Errorf("%s: wrong Terminal", s)
		}
	}
}

func TestNewJob(t *testing.T) {
	a := NewJob("a.ubx")
	b := NewJob("a.ubx")
	if a.ID == b.ID || len(a.ID) != 36 {
		t.Errorf("want distinct UUIDs got %s %s", a.ID, b.ID)
	}
	if a.State != Pending {
		t.Errorf("want Pending got %v", a.State)
	}
}
