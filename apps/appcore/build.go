package appcore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/goblimey/go-rtkpost/clock"
	"github.com/goblimey/go-rtkpost/corrections"
	"github.com/goblimey/go-rtkpost/export"
	"github.com/goblimey/go-rtkpost/jsonconfig"
	"github.com/goblimey/go-rtkpost/metrics"
	"github.com/goblimey/go-rtkpost/notify"
	"github.com/goblimey/go-rtkpost/rdnap"
	"github.com/goblimey/go-rtkpost/rtkpost"
	"github.com/goblimey/go-rtkpost/store"
)

// Services are the long-lived parts of the post-processing tools, built
// from the config.
type Services struct {
	Core       *Core
	Aggregator *store.Aggregator
	// Transformer converts positions to RD/NAP.  It's nil if the geoid
	// grid could not be loaded.
	Transformer *rdnap.Transformer
	Metrics     *metrics.Metrics

	closers []func() error
}

// Build creates the store, the correction resolver, the orchestrator and
// the optional outputs described by the config, and a Core that uses them.
// m may be nil.  The caller should Close the result.
func Build(config *jsonconfig.Config, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if clk == nil {
		clk = clock.NewSystemClock()
	}
	services := Services{Metrics: m}

	st, err := openStore(config.Database)
	if err != nil {
		return nil, err
	}
	services.closers = append(services.closers, st.Close)

	if err := build(&services, config, st, clk, m, logger); err != nil {
		services.Close()
		return nil, err
	}
	return &services, nil
}

func build(services *Services, config *jsonconfig.Config, st store.Store, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) error {
	fetcher, err := corrections.NewFetcher(config.ArchiveURL)
	if err != nil {
		return err
	}
	if f, ok := fetcher.(*corrections.FTPFetcher); ok {
		f.DialTimeout = config.FetchTimeout()
	}
	if err := os.MkdirAll(config.CacheDirectory, 0o755); err != nil {
		return fmt.Errorf("cache directory: %w", err)
	}
	cache := corrections.NewCache(config.CacheDirectory, fetcher, config.FetchTimeout(), logger)
	resolver := corrections.NewResolver(cache, config.CorrectionsConfig(), clk, m, logger)

	params := rdnap.DefaultParams()
	params.GeoidGridFile = config.GeoidGridFile
	transformer, err := rdnap.New(params)
	if err != nil {
		// The solutions are still worth having, without RD/NAP.
		logger.Warn("no RD/NAP coordinates", "geoidGrid", config.GeoidGridFile, "error", err)
		transformer = nil
	}
	services.Transformer = transformer

	kinds, err := config.Kinds()
	if err != nil {
		return err
	}
	orchestratorConfig := rtkpost.Config{
		WorkRoot: config.WorkDirectory,
		Convbin: rtkpost.ConvbinCommand{
			Executable: config.Convbin,
			Options:    config.ConvbinOptions,
		},
		Solver: rtkpost.Rnx2RtkpCommand{
			Executable: config.Rnx2rtkp,
			Options:    config.Rnx2rtkpOptions,
		},
		Kinds:      kinds,
		KeepFailed: config.KeepFailedJobs,
	}
	runner := &rtkpost.ExecRunner{Timeout: config.ToolTimeout(), Logger: logger}
	orchestrator := rtkpost.New(orchestratorConfig, resolver, runner, st, transformer, clk, m, logger)

	core := New(st, orchestrator, config.ReadyDirectory(), config.MaxConcurrentJobs, clk, logger)

	if config.InfluxURL != "" {
		writer := export.NewInfluxWriter(config.InfluxURL, config.InfluxToken,
			config.InfluxOrg, config.InfluxBucket, logger)
		core.Exporter = writer
		services.closers = append(services.closers, func() error { writer.Close(); return nil })
	}

	if config.MQTTBroker != "" {
		publisher, err := notify.Connect(config.MQTTBroker, config.MQTTClientID, config.MQTTTopic, logger)
		if err != nil {
			return err
		}
		core.Notifier = publisher
		services.closers = append(services.closers, func() error { publisher.Close(); return nil })
	}

	services.Core = core
	services.Aggregator = store.NewAggregator(st)
	return nil
}

// openStore opens the SQLite database, or a memory store if no database
// is configured.
func openStore(database string) (store.Store, error) {
	if database == "" {
		return store.NewMemoryStore(), nil
	}
	st, err := store.OpenSQLite(database)
	if err != nil {
		return nil, fmt.Errorf("database %s: %w", database, err)
	}
	return st, nil
}

// Close releases the outputs and the store, in the reverse order of
// creation.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
