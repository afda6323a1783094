package corrections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/goblimey/go-rtkpost/clock"
	"github.com/goblimey/go-rtkpost/gpstime"
	"github.com/goblimey/go-rtkpost/metrics"
)

// ErrNotEligible is the cause of a CorrectionFetchError when no product
// class is available yet for the requested time.
var ErrNotEligible = errors.New("no product class is available yet")

// Ref describes one correction file.
type Ref struct {
	Class ProductClass
	Kind  FileKind
	// Epoch is the GPS time the file was chosen for.
	Epoch gpstime.Epoch
	// RemotePath is the path in the archive, including any compression
	// suffix.
	RemotePath string
	// LocalPath is where the file is (or will be) in the cache.
	LocalPath string
}

func (r Ref) String() string {
	return fmt.Sprintf("%s %s for %s: %s", r.Class, r.Kind, r.Epoch, r.RemotePath)
}

// CorrectionFetchError reports a correction file that could not be
// obtained.  It's not fatal.  The solution is just less precise without the
// file.
type CorrectionFetchError struct {
	Ref Ref
	Err error
}

func (e *CorrectionFetchError) Error() string {
	return fmt.Sprintf("correction file %s %s (%s): %v", e.Ref.Class, e.Ref.Kind, e.Ref.RemotePath, e.Err)
}

func (e *CorrectionFetchError) Unwrap() error {
	return e.Err
}

// Config gives the layout of the archive.
type Config struct {
	// ProductDir is the directory of the archive holding the products,
	// under which each GPS week has a directory.
	ProductDir string
	// BroadcastDir is the directory holding the daily data, under which
	// are YYYY/DDD/YYn directories.
	BroadcastDir string
	// CompressionSuffix is appended to the archive file names, for
	// example ".gz".  The local copies are stored decompressed.
	CompressionSuffix string
}

// Resolver chooses the correction files for a time and gets them via the
// cache.
type Resolver struct {
	cache   *Cache
	config  Config
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewResolver creates a Resolver.  The clock gives the current time used to
// choose the product class.  m may be nil.
func NewResolver(cache *Cache, config Config, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	return &Resolver{cache: cache, config: config, clock: clk, metrics: m, logger: logger}
}

// ref describes the file of the given class and kind for time t.  The result
// is false if the class doesn't publish that kind.
func (r *Resolver) ref(c ProductClass, k FileKind, t time.Time) (Ref, bool) {
	name, ok := Name(c, k, t)
	if !ok {
		return Ref{}, false
	}
	dir := r.config.ProductDir
	if k == Broadcast {
		dir = r.config.BroadcastDir
	}
	canonical := path.Join(dir, name)
	return Ref{
		Class:      c,
		Kind:       k,
		Epoch:      gpstime.FromCalendar(t),
		RemotePath: canonical + r.config.CompressionSuffix,
		LocalPath:  r.cache.LocalPath(canonical),
	}, true
}

// Plan returns the files that Resolve would fetch for the span from start
// to stop, without fetching anything.  The product class is chosen from
// stop, the most recent time, and used for the whole span.  The result is
// false if no class is eligible.
func (r *Resolver) Plan(start, stop time.Time, kinds []FileKind) (ProductClass, []Ref, bool) {
	class, ok := SelectClass(stop, r.clock.Now())
	if !ok {
		return 0, nil, false
	}

	// Daily products change at midnight and ultra-rapid ones every six
	// hours, so stepping through the span six hours at a time finds every
	// file.
	times := []time.Time{start}
	for t := start.Add(IssueInterval); t.Before(stop); t = t.Add(IssueInterval) {
		times = append(times, t)
	}
	if stop.After(start) {
		times = append(times, stop)
	}

	seen := make(map[string]bool)
	refs := make([]Ref, 0)
	for _, k := range kinds {
		for _, t := range times {
			ref, ok := r.ref(class, k, t)
			if !ok || seen[ref.LocalPath] {
				continue
			}
			seen[ref.LocalPath] = true
			refs = append(refs, ref)
		}
	}
	return class, refs, true
}

// Resolve gets the correction files of the given kinds for data observed
// at epoch.  It returns the files obtained and an error for each file that
// could not be.  One missing file doesn't stop the others being fetched.
func (r *Resolver) Resolve(ctx context.Context, epoch time.Time, kinds []FileKind) ([]Ref, []*CorrectionFetchError) {
	return r.ResolveSpan(ctx, epoch, epoch, kinds)
}

// ResolveSpan is Resolve for data observed between start and stop.
func (r *Resolver) ResolveSpan(ctx context.Context, start, stop time.Time, kinds []FileKind) ([]Ref, []*CorrectionFetchError) {
	class, planned, ok := r.Plan(start, stop, kinds)
	if !ok {
		failures := make([]*CorrectionFetchError, 0, len(kinds))
		for _, k := range kinds {
			failures = append(failures, &CorrectionFetchError{
				Ref: Ref{Kind: k, Epoch: gpstime.FromCalendar(start)},
				Err: ErrNotEligible,
			})
		}
		return nil, failures
	}

	r.logger.Info("resolving correction files", "class", class.String(), "files", len(planned))

	refs := make([]Ref, 0, len(planned))
	failures := make([]*CorrectionFetchError, 0)
	for _, ref := range planned {
		if err := ctx.Err(); err != nil {
			failures = append(failures, &CorrectionFetchError{Ref: ref, Err: err})
			continue
		}

		canonical := ref.RemotePath[:len(ref.RemotePath)-len(r.config.CompressionSuffix)]
		_, fetched, err := r.cache.Get(ctx, canonical, ref.RemotePath)
		if err != nil {
			r.metrics.CorrectionLookup(ref.Kind.String(), metrics.OutcomeFailed)
			r.logger.Warn("correction file not available", "file", ref.RemotePath, "error", err)
			failures = append(failures, &CorrectionFetchError{Ref: ref, Err: err})
			continue
		}

		if fetched {
			r.metrics.CorrectionLookup(ref.Kind.String(), metrics.OutcomeFetched)
		} else {
			r.metrics.CorrectionLookup(ref.Kind.String(), metrics.OutcomeCached)
		}
		refs = append(refs, ref)
	}

	return refs, failures
}
