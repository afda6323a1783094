// rtkpost post-processes raw UBX files captured by a GNSS receiver.  For
// each file it extracts the receiver's own fixes, runs the RTKLIB tools
// over the file with the best IGS corrections available, stores the
// solutions and displays a summary.
//
// Usage:
//
//	rtkpost -c config.json [-start time] [-fixes] [-dump] [-select latest|best] file...
//
// -start overrides the start of the observations, for example
// 2017-09-06T12:00:00Z.  -fixes only extracts the fixes.  -dump writes the
// fixes and solutions as CSV on the standard output, one line each:
//
//	source,type,time,lat,lon,alt,sdu,x,y,z
//
// where type is "fix" or "solution" and x, y and z are the RD/NAP
// coordinates.  The summary goes to the standard error channel with the
// log.
//
// The config file is described in the jsonconfig package.  If it names a
// Prometheus push gateway, the metrics of the run are pushed there at the
// end.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/goblimey/go-rtkpost/apps/appcore"
	"github.com/goblimey/go-rtkpost/jsonconfig"
	"github.com/goblimey/go-rtkpost/metrics"
	"github.com/goblimey/go-rtkpost/rdnap"
	"github.com/goblimey/go-rtkpost/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

// options are the command line options.
type options struct {
	configFileName string
	start          time.Time
	fixesOnly      bool
	dump           bool
	selection      string
	files          []string
}

func parseArgs(args []string, stderr io.Writer) (*options, error) {
	var opts options
	var start string
	flags := flag.NewFlagSet("rtkpost", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.configFileName, "c", "", "JSON or YAML config file")
	flags.StringVar(&opts.configFileName, "config", "", "JSON or YAML config file")
	flags.StringVar(&start, "start", "", "start of the observations (RFC3339)")
	flags.BoolVar(&opts.fixesOnly, "fixes", false, "only extract the fixes")
	flags.BoolVar(&opts.dump, "dump", false, "write the fixes and solutions as CSV")
	flags.StringVar(&opts.selection, "select", "", "representative solution: latest or best")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	if len(opts.configFileName) == 0 {
		return nil, errors.New("missing config file: -c or --config")
	}
	if len(start) > 0 {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return nil, fmt.Errorf("-start: %w", err)
		}
		opts.start = t.UTC()
	}
	opts.files = flags.Args()
	if len(opts.files) == 0 {
		return nil, errors.New("no UBX files given")
	}
	return &opts, nil
}

// run does the work and returns the exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	opts, err := parseArgs(args, stderr)
	if err != nil {
		logger.Error(err.Error())
		return 2
	}

	config, err := jsonconfig.GetConfigFromFile(opts.configFileName, logger)
	if err != nil {
		logger.Error("cannot read the config", "file", opts.configFileName, "error", err)
		return 1
	}
	if len(opts.selection) > 0 {
		config.Selection = opts.selection
	}
	selection, err := store.ParseSelection(config.Selection)
	if err != nil {
		logger.Error(err.Error())
		return 2
	}
	level, _ := config.Level()
	logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	m := metrics.New()
	services, err := appcore.Build(config, nil, m, logger)
	if err != nil {
		logger.Error("cannot start", "error", err)
		return 1
	}
	defer services.Close()

	status := 0
	for _, name := range opts.files {
		source, err := filepath.Abs(name)
		if err != nil {
			logger.Error("bad file name", "file", name, "error", err)
			status = 1
			continue
		}
		if !processFile(ctx, services, source, opts, selection, logger) {
			status = 1
		}
		if ctx.Err() != nil {
			break
		}
	}

	if opts.dump {
		if err := dump(ctx, stdout, services, opts.files); err != nil {
			logger.Error("dump failed", "error", err)
			status = 1
		}
	}

	if len(config.PushGateway) > 0 {
		if err := m.Push(config.PushGateway, "rtkpost"); err != nil {
			logger.Warn("cannot push the metrics", "gateway", config.PushGateway, "error", err)
		}
	}
	return status
}

// processFile extracts the fixes from a file and post-processes it,
// logging the outcome.  It returns false on failure.
func processFile(ctx context.Context, services *appcore.Services, source string, opts *options,
	selection store.Selection, logger *slog.Logger) bool {

	logger = logger.With("source", source)
	fixes, err := services.Core.ExtractFixes(ctx, source)
	if err != nil {
		logger.Error("cannot extract fixes", "error", err)
		return false
	}
	logger.Info("fixes", "count", fixes.Count, "first", fixes.First, "last", fixes.Last)
	if opts.fixesOnly {
		return true
	}

	result, err := services.Core.PostProcess(ctx, source, appcore.Options{Start: opts.start})
	if err != nil {
		logger.Error("post-processing failed", "job", result.JobID, "state", result.State.String(), "error", err)
		return false
	}
	logger.Info("post-processed", "job", result.JobID, "solutions", result.Solutions,
		"class", result.Class, "missingCorrections", result.Missing)

	representative, err := services.Aggregator.Representative(ctx, source, selection)
	if err != nil {
		if !errors.Is(err, store.ErrNoData) {
			logger.Error("cannot choose a solution", "error", err)
			return false
		}
		logger.Warn("no solutions")
		return true
	}
	logger.Info("representative solution", "selection", selection.String(), "solution", representative.String())

	if stats, err := services.Aggregator.HeightStatistics(ctx, source); err == nil {
		logger.Info("ellipsoidal height", "count", stats.Count, "mean", stats.Mean, "stddev", stats.StdDev)
	}
	if stats, err := services.Aggregator.LocalHeightStatistics(ctx, source); err == nil {
		logger.Info("NAP height", "count", stats.Count, "mean", stats.Mean, "stddev", stats.StdDev)
	}
	return true
}

// dump writes the fixes and solutions of the files as CSV.
func dump(ctx context.Context, w io.Writer, services *appcore.Services, files []string) error {
	out := csv.NewWriter(w)
	out.Write([]string{"source", "type", "time", "lat", "lon", "alt", "sdu", "x", "y", "z"})

	st := services.Core.Store
	for _, name := range files {
		source, err := filepath.Abs(name)
		if err != nil {
			return err
		}
		base := filepath.Base(source)

		fixes, err := st.Fixes(ctx, source)
		if err != nil {
			return err
		}
		for _, fix := range fixes {
			height := float64(fix.Height) / 1000
			row := []string{base, "fix", fix.Time.Format(time.RFC3339),
				formatFloat(fix.Latitude, 7), formatFloat(fix.Longitude, 7),
				formatFloat(height, 3), formatFloat(float64(fix.VAcc)/1000, 3)}
			if services.Transformer == nil {
				out.Write(append(row, localColumns(nil, nil)...))
				continue
			}
			local, err := services.Transformer.ToLocal(fix.Longitude, fix.Latitude, height)
			out.Write(append(row, localColumns(&local, err)...))
		}

		solutions, err := st.Solutions(ctx, source)
		if err != nil {
			return err
		}
		for _, s := range solutions {
			row := []string{base, "solution", s.Time.Format(time.RFC3339),
				formatFloat(s.Latitude, 9), formatFloat(s.Longitude, 9),
				formatFloat(s.Height, 4), formatFloat(s.SDU, 4)}
			out.Write(append(row, localColumns(s.Local, nil)...))
		}
	}
	out.Flush()
	return out.Error()
}

func localColumns(p *rdnap.Point, err error) []string {
	if p == nil || err != nil {
		return []string{"", "", ""}
	}
	return []string{formatFloat(p.X, 3), formatFloat(p.Y, 3), formatFloat(p.Z, 3)}
}

func formatFloat(v float64, precision int) string {
	return strconv.FormatFloat(v, 'f', precision, 64)
}
