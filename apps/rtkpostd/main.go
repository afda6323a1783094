// rtkpostd is the post-processing daemon.  It watches the inbox (the
// "data.ready" directory under the capture directory, where ubxlogger puts
// each finished day's capture) and post-processes every new UBX file with
// the best IGS corrections available.  Later, when more precise correction
// products have been published, it runs the jobs again, so a day's
// solutions improve from ultra-rapid through rapid to final.
//
// Usage:
//
//	rtkpostd -c config.json
//
// The schedules come from the config, in the cron syntax with a seconds
// field, or a descriptor such as "@every 5m" or "@hourly":
//
//	{
//	    "capture_directory": "/var/gnss",
//	    "inbox_schedule": "@every 5m",
//	    "upgrade_schedule": "0 30 * * * *",
//	    "metrics_address": ":9110",
//	    "log_directory": "/var/log/rtkpost"
//	}
//
// Events are logged to the daily log "rtkpostd.{yyyymmdd}.log" in the log
// directory, or to stderr if there isn't one.  If metrics_address is set,
// the daemon serves its Prometheus metrics on /metrics and the latest run of
// each source as JSON on /status.
//
// The daemon scans the inbox once at start, then runs until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron"

	"github.com/goblimey/go-rtkpost/apps/appcore"
	"github.com/goblimey/go-rtkpost/dailylog"
	"github.com/goblimey/go-rtkpost/jsonconfig"
	"github.com/goblimey/go-rtkpost/metrics"
	"github.com/goblimey/go-rtkpost/rtkpost"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

// run does the work and returns the exit status.
func run(ctx context.Context, args []string, stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	var configFileName string
	flags := flag.NewFlagSet("rtkpostd", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&configFileName, "c", "", "JSON or YAML config file")
	flags.StringVar(&configFileName, "config", "", "JSON or YAML config file")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	if len(configFileName) == 0 {
		logger.Error("missing config file: -c or --config")
		return 2
	}

	config, err := jsonconfig.GetConfigFromFile(configFileName, logger)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}

	level, _ := config.Level()
	if len(config.LogDirectory) > 0 {
		eventLog := dailylog.NewEventLog(config.LogDirectory, "rtkpostd")
		defer eventLog.Close()
		logger = slog.New(slog.NewTextHandler(eventLog, &slog.HandlerOptions{Level: level}))
	} else {
		logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	}

	if err := os.MkdirAll(config.ReadyDirectory(), 0o755); err != nil {
		logger.Error("cannot create the inbox", "error", err)
		return 1
	}

	m := metrics.New()
	services, err := appcore.Build(config, nil, m, logger)
	if err != nil {
		logger.Error("cannot start", "error", err)
		return 1
	}
	defer services.Close()

	d := newDaemon(services, logger)

	var server *http.Server
	if len(config.MetricsAddress) > 0 {
		server = &http.Server{
			Addr:              config.MetricsAddress,
			Handler:           d.mux(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "address", config.MetricsAddress, "error", err)
			}
		}()
	}

	scheduler, err := d.schedule(ctx, config.InboxSchedule, config.UpgradeSchedule)
	if err != nil {
		logger.Error("bad schedule", "error", err)
		return 1
	}

	logger.Info("started", "inbox", config.ReadyDirectory())
	d.scan(ctx)
	scheduler.Start()

	<-ctx.Done()
	logger.Info("stopping")
	scheduler.Stop()
	d.wait()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}
	return 0
}

// daemon runs the scheduled work.  A scan or upgrade that is due while the
// previous one is still running is skipped.
type daemon struct {
	services  *appcore.Services
	logger    *slog.Logger
	scanning  sync.Mutex
	upgrading sync.Mutex
	running   sync.WaitGroup
}

func newDaemon(services *appcore.Services, logger *slog.Logger) *daemon {
	return &daemon{services: services, logger: logger}
}

// schedule creates a cron scheduler for the inbox scan and the upgrade,
// working in UTC.  The caller starts it.
func (d *daemon) schedule(ctx context.Context, inboxSpec, upgradeSpec string) (*cron.Cron, error) {
	scheduler := cron.NewWithLocation(time.UTC)
	if err := scheduler.AddFunc(inboxSpec, func() { d.scan(ctx) }); err != nil {
		return nil, errors.New("inbox_schedule: " + err.Error())
	}
	if err := scheduler.AddFunc(upgradeSpec, func() { d.upgrade(ctx) }); err != nil {
		return nil, errors.New("upgrade_schedule: " + err.Error())
	}
	return scheduler, nil
}

// scan post-processes the new files in the inbox.  It returns false if it
// was skipped because a scan is already running.
func (d *daemon) scan(ctx context.Context) bool {
	if !d.scanning.TryLock() {
		d.logger.Debug("inbox scan still running - skipped")
		return false
	}
	defer d.scanning.Unlock()
	d.running.Add(1)
	defer d.running.Done()

	results, err := d.services.Core.ScanInbox(ctx)
	if err != nil {
		d.logger.Error("inbox scan failed", "error", err)
		return true
	}
	d.report(results)
	return true
}

// upgrade re-runs the jobs that can now use better corrections.  It returns
// false if it was skipped because an upgrade is already running.
func (d *daemon) upgrade(ctx context.Context) bool {
	if !d.upgrading.TryLock() {
		d.logger.Debug("upgrade still running - skipped")
		return false
	}
	defer d.upgrading.Unlock()
	d.running.Add(1)
	defer d.running.Done()

	results, err := d.services.Core.Upgrade(ctx)
	if err != nil {
		d.logger.Error("upgrade failed", "error", err)
		return true
	}
	d.report(results)
	return true
}

// wait waits for the work in progress to finish.
func (d *daemon) wait() {
	d.running.Wait()
}

func (d *daemon) report(results []appcore.Result) {
	for _, r := range results {
		if r.Err != nil {
			d.logger.Warn("job failed", "source", r.Source, "job", r.JobID,
				"state", r.State.String(), "error", r.Err)
			continue
		}
		d.logger.Info("job finished", "source", r.Source, "job", r.JobID,
			"solutions", r.Solutions, "class", r.Class, "missingCorrections", r.Missing)
	}
}

// mux serves the metrics and the status.
func (d *daemon) mux() http.Handler {
	mux := http.NewServeMux()
	if d.services.Metrics != nil {
		mux.Handle("/metrics", d.services.Metrics.Handler())
	}
	mux.HandleFunc("/status", d.status)
	return mux
}

// status writes the latest run of each source as JSON.
func (d *daemon) status(w http.ResponseWriter, r *http.Request) {
	runs, err := d.services.Core.Store.LatestRuns(r.Context())
	if err != nil {
		d.logger.Error("status", "error", err)
		http.Error(w, "cannot read the runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []rtkpost.Run{}
	}
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(runs); err != nil {
		d.logger.Warn("status write failed", "error", err)
	}
}
