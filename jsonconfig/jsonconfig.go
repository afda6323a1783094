// The jsonconfig package reads the configuration file shared by the
// rtkpost applications.  The file is JSON, or YAML if its name ends in
// .yaml or .yml.
//
// An example config file:
//
//	{
//	    "input": ["/dev/ttyACM0", "/dev/ttyACM1"],
//	    "baud_rate": 9600,
//	    "capture_directory": "/var/lib/rtkpost/capture",
//	    "work_directory": "/var/lib/rtkpost/work",
//	    "cache_directory": "/var/lib/rtkpost/igs",
//	    "archive_url": "ftp://igs.ign.fr/pub/igs",
//	    "convbin": "/usr/local/bin/convbin",
//	    "rnx2rtkp": "/usr/local/bin/rnx2rtkp",
//	    "rnx2rtkp_options": ["-t", "-s", ",", "-p", "7", "-c"],
//	    "tool_timeout_seconds": 600,
//	    "database": "/var/lib/rtkpost/rtkpost.db",
//	    "log_level": "info"
//	}
//
// The capture tools use the input devices and the capture directory.  The
// post-processing tools use the rest.  Fields that are not given take the
// defaults set by ApplyDefaults.  Durations are given in seconds, or
// milliseconds where the name says so.
//
// The package also contains a function to connect to the first available
// input device and to retry if none is there.
package jsonconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/goblimey/go-rtkpost/corrections"
	"github.com/goblimey/go-rtkpost/store"
)

// ReadyDirectoryName is the directory under the capture directory to which
// finished capture files are moved for post-processing.
const ReadyDirectoryName = "data.ready"

// Config contains the values from the config file.
type Config struct {
	// Capture.
	Filenames []string `json:"input" yaml:"input"`
	BaudRate  int      `json:"baud_rate" yaml:"baud_rate"`
	// Parity is no_parity (default), odd_parity, even_parity, mark_parity
	// or space_parity.
	Parity   string  `json:"parity" yaml:"parity"`
	DataBits int     `json:"data_bits" yaml:"data_bits"`
	StopBits float32 `json:"stop_bits" yaml:"stop_bits"`
	// InitialStatusBits may contain "dtr" and "rts", which are set true.
	InitialStatusBits []string `json:"initial_status_bits" yaml:"initial_status_bits"`
	// LostInputConnectionTimeout is the read timeout on the input device.
	LostInputConnectionTimeout uint `json:"timeout" yaml:"timeout"`
	// LostInputConnectionSleepTime is the time to sleep between connection
	// attempts.
	LostInputConnectionSleepTime uint   `json:"sleep_time" yaml:"sleep_time"`
	WaitTimeOnEOFMillis          uint   `json:"wait_time_on_EOF_millis" yaml:"wait_time_on_EOF_millis"`
	TimeoutOnEOFSeconds          uint   `json:"timeout_on_EOF_seconds" yaml:"timeout_on_EOF_seconds"`
	CaptureDirectory             string `json:"capture_directory" yaml:"capture_directory"`

	// Post-processing.
	WorkDirectory      string   `json:"work_directory" yaml:"work_directory"`
	KeepFailedJobs     bool     `json:"keep_failed_jobs" yaml:"keep_failed_jobs"`
	Convbin            string   `json:"convbin" yaml:"convbin"`
	ConvbinOptions     []string `json:"convbin_options" yaml:"convbin_options"`
	Rnx2rtkp           string   `json:"rnx2rtkp" yaml:"rnx2rtkp"`
	Rnx2rtkpOptions    []string `json:"rnx2rtkp_options" yaml:"rnx2rtkp_options"`
	ToolTimeoutSeconds uint     `json:"tool_timeout_seconds" yaml:"tool_timeout_seconds"`
	MaxConcurrentJobs  int      `json:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	InboxSchedule      string   `json:"inbox_schedule" yaml:"inbox_schedule"`
	UpgradeSchedule    string   `json:"upgrade_schedule" yaml:"upgrade_schedule"`

	// Corrections.
	ArchiveURL          string   `json:"archive_url" yaml:"archive_url"`
	ProductDirectory    string   `json:"product_directory" yaml:"product_directory"`
	BroadcastDirectory  string   `json:"broadcast_directory" yaml:"broadcast_directory"`
	CompressionSuffix   *string  `json:"compression_suffix" yaml:"compression_suffix"`
	CacheDirectory      string   `json:"cache_directory" yaml:"cache_directory"`
	FetchTimeoutSeconds uint     `json:"fetch_timeout_seconds" yaml:"fetch_timeout_seconds"`
	CorrectionKinds     []string `json:"correction_kinds" yaml:"correction_kinds"`

	// Coordinates and results.
	GeoidGridFile string `json:"geoid_grid_file" yaml:"geoid_grid_file"`
	Database      string `json:"database" yaml:"database"`
	Selection     string `json:"selection" yaml:"selection"`

	// Logging, metrics and outputs.
	LogLevel       string `json:"log_level" yaml:"log_level"`
	LogDirectory   string `json:"log_directory" yaml:"log_directory"`
	MetricsAddress string `json:"metrics_address" yaml:"metrics_address"`
	PushGateway    string `json:"push_gateway" yaml:"push_gateway"`
	InfluxURL      string `json:"influx_url" yaml:"influx_url"`
	InfluxToken    string `json:"influx_token" yaml:"influx_token"`
	InfluxOrg      string `json:"influx_org" yaml:"influx_org"`
	InfluxBucket   string `json:"influx_bucket" yaml:"influx_bucket"`
	MQTTBroker     string `json:"mqtt_broker" yaml:"mqtt_broker"`
	MQTTTopic      string `json:"mqtt_topic" yaml:"mqtt_topic"`
	MQTTClientID   string `json:"mqtt_client_id" yaml:"mqtt_client_id"`
}

// GetConfigFromFile gets the config from the file given by configFileName.
func GetConfigFromFile(configFileName string, logger *slog.Logger) (*Config, error) {
	reader, err := os.Open(configFileName)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	switch strings.ToLower(filepath.Ext(configFileName)) {
	case ".yaml", ".yml":
		return getYAMLConfig(reader, logger)
	default:
		return getJSONConfig(reader, logger)
	}
}

// getJSONConfig reads JSON from the given source and returns the config.
func getJSONConfig(source io.Reader, logger *slog.Logger) (*Config, error) {
	var config Config
	if err := json.NewDecoder(source).Decode(&config); err != nil {
		logError(logger, "cannot parse the JSON config file", err)
		return nil, err
	}
	return finish(&config, logger)
}

// getYAMLConfig reads YAML from the given source and returns the config.
func getYAMLConfig(source io.Reader, logger *slog.Logger) (*Config, error) {
	var config Config
	decoder := yaml.NewDecoder(source)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		logError(logger, "cannot parse the YAML config file", err)
		return nil, err
	}
	return finish(&config, logger)
}

func finish(config *Config, logger *slog.Logger) (*Config, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		logError(logger, "invalid config", err)
		return nil, err
	}
	return config, nil
}

func logError(logger *slog.Logger, message string, err error) {
	if logger != nil {
		logger.Error(message, "error", err)
	}
}

// ApplyDefaults fills in the fields that were not given.
func (config *Config) ApplyDefaults() {
	if config.BaudRate == 0 {
		config.BaudRate = 9600
	}
	if config.LostInputConnectionSleepTime == 0 {
		config.LostInputConnectionSleepTime = 2
	}
	if config.CaptureDirectory == "" {
		config.CaptureDirectory = "."
	}
	if config.WorkDirectory == "" {
		config.WorkDirectory = filepath.Join(os.TempDir(), "rtkpost")
	}
	if config.ToolTimeoutSeconds == 0 {
		config.ToolTimeoutSeconds = 600
	}
	if config.MaxConcurrentJobs == 0 {
		config.MaxConcurrentJobs = 2
	}
	if config.InboxSchedule == "" {
		config.InboxSchedule = "@every 5m"
	}
	if config.UpgradeSchedule == "" {
		config.UpgradeSchedule = "@hourly"
	}
	if config.ArchiveURL == "" {
		config.ArchiveURL = "ftp://igs.ign.fr/pub/igs"
	}
	if config.ProductDirectory == "" {
		config.ProductDirectory = "products"
	}
	if config.BroadcastDirectory == "" {
		config.BroadcastDirectory = "data"
	}
	if config.CompressionSuffix == nil {
		suffix := ".gz"
		config.CompressionSuffix = &suffix
	}
	if config.CacheDirectory == "" {
		config.CacheDirectory = filepath.Join(config.WorkDirectory, "igs")
	}
	if config.FetchTimeoutSeconds == 0 {
		config.FetchTimeoutSeconds = 120
	}
	if config.Selection == "" {
		config.Selection = "latest"
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if config.MQTTTopic == "" {
		config.MQTTTopic = "rtkpost/jobs"
	}
	if config.MQTTClientID == "" {
		config.MQTTClientID = "rtkpost"
	}
}

// Validate checks the values that can be wrong.
func (config *Config) Validate() error {
	if config.MaxConcurrentJobs < 0 {
		return fmt.Errorf("max_concurrent_jobs must not be negative")
	}
	if _, err := config.Kinds(); err != nil {
		return err
	}
	if _, err := store.ParseSelection(config.Selection); err != nil {
		return err
	}
	if _, err := config.Level(); err != nil {
		return err
	}
	if config.InfluxURL != "" && config.InfluxBucket == "" {
		return fmt.Errorf("influx_url is set but influx_bucket is not")
	}
	return nil
}

// Kinds returns the correction file kinds wanted, all of them by default.
func (config *Config) Kinds() ([]corrections.FileKind, error) {
	if len(config.CorrectionKinds) == 0 {
		return corrections.AllKinds, nil
	}
	kinds := make([]corrections.FileKind, 0, len(config.CorrectionKinds))
	for _, name := range config.CorrectionKinds {
		k, err := corrections.ParseFileKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// SelectionValue returns the configured choice of representative solution.
func (config *Config) SelectionValue() store.Selection {
	sel, _ := store.ParseSelection(config.Selection)
	return sel
}

// Level returns the log level.
func (config *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(config.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// CorrectionsConfig returns the archive layout.
func (config *Config) CorrectionsConfig() corrections.Config {
	suffix := ""
	if config.CompressionSuffix != nil {
		suffix = *config.CompressionSuffix
	}
	return corrections.Config{
		ProductDir:        config.ProductDirectory,
		BroadcastDir:      config.BroadcastDirectory,
		CompressionSuffix: suffix,
	}
}

// ReadyDirectory is where finished capture files wait to be processed.
func (config *Config) ReadyDirectory() string {
	return filepath.Join(config.CaptureDirectory, ReadyDirectoryName)
}

// ToolTimeout is the limit on each run of an external tool.
func (config *Config) ToolTimeout() time.Duration {
	return time.Duration(config.ToolTimeoutSeconds) * time.Second
}

// FetchTimeout is the limit on each correction file fetch.
func (config *Config) FetchTimeout() time.Duration {
	return time.Duration(config.FetchTimeoutSeconds) * time.Second
}

// WaitTimeOnEOF is the pause between reads after the input reports EOF.
func (config *Config) WaitTimeOnEOF() time.Duration {
	return time.Duration(config.WaitTimeOnEOFMillis) * time.Millisecond
}

// TimeoutOnEOF is how long EOF must persist before the input is treated as
// finished.
func (config *Config) TimeoutOnEOF() time.Duration {
	return time.Duration(config.TimeoutOnEOFSeconds) * time.Second
}

// Opener opens an input device.
type Opener func(name string) (io.ReadCloser, error)

// OpenFile is an Opener for plain files.
func OpenFile(name string) (io.ReadCloser, error) {
	return os.Open(name)
}

// WaitAndConnectToInput tries repeatedly to connect to one of the input
// devices named in the config, until it succeeds or ctx is cancelled.  It
// returns the connection and the name of the device.
func WaitAndConnectToInput(ctx context.Context, config *Config, open Opener, logger *slog.Logger) (io.ReadCloser, string, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sleepTime := time.Duration(config.LostInputConnectionSleepTime) * time.Second
	reported := false
	for {
		reader, name := findInputDevice(config, open)
		if reader != nil {
			logger.Info("connected to GNSS source", "device", name)
			return reader, name, nil
		}
		// Log the first failure only.  The device may be missing for hours.
		if !reported {
			logger.Warn("failed to connect to GNSS source - retrying", "devices", config.Filenames)
			reported = true
		}

		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(sleepTime):
		}
	}
}

// findInputDevice returns a connection to the first device in the list that
// it can open, or nil if it can't open any of them.
func findInputDevice(config *Config, open Opener) (io.ReadCloser, string) {
	// Note:  The device names "/dev/ttyACM0" etc on a Raspberry Pi
	// DO NOT relate to the physical USB sockets on the circuit board. They
	// are used in turn.  If the GNSS device loses power briefly, then when it
	// comes back, the connection is represented by "/dev/ttyACM1", and so on,
	// even though the USB plug is connected to the same port.  So, whenever
	// software needs to establish a connection with a serial USB device, it
	// needs to do this search.
	for _, name := range config.Filenames {
		reader, err := open(name)
		if err == nil {
			return reader, name
		}
	}
	return nil, ""
}
