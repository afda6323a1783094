package jsonconfig

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goblimey/go-rtkpost/corrections"
	"github.com/goblimey/go-rtkpost/store"
)

// TestGetJSONConfig tests that the correct data is produced when the
// text from a JSON control file is unmarshalled.
func TestGetJSONConfig(t *testing.T) {
	reader := strings.NewReader(`{
		"input": ["a", "b"],
		"baud_rate": 38400,
		"timeout": 1,
		"sleep_time": 2,
		"wait_time_on_EOF_millis": 3,
		"timeout_on_EOF_seconds": 4,
		"capture_directory": "capture",
		"work_directory": "work",
		"keep_failed_jobs": true,
		"rnx2rtkp_options": ["-p", "0"],
		"tool_timeout_seconds": 30,
		"archive_url": "https://igs.example.com/pub",
		"compression_suffix": "",
		"correction_kinds": ["sp3", "nav"],
		"selection": "best",
		"log_level": "debug"
	}`)

	config, err := getJSONConfig(reader, nil)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"a", "b"}, config.Filenames); diff != "" {
		t.Errorf("input: %s", diff)
	}
	if config.BaudRate != 38400 {
		t.Errorf("want 38400 got %d", config.BaudRate)
	}
	if config.LostInputConnectionTimeout != 1 || config.LostInputConnectionSleepTime != 2 {
		t.Errorf("want 1 and 2 got %d and %d",
			config.LostInputConnectionTimeout, config.LostInputConnectionSleepTime)
	}
	if config.WaitTimeOnEOF() != 3*time.Millisecond {
		t.Errorf("want 3ms got %v", config.WaitTimeOnEOF())
	}
	if config.TimeoutOnEOF() != 4*time.Second {
		t.Errorf("want 4s got %v", config.TimeoutOnEOF())
	}
	if config.ReadyDirectory() != "capture/data.ready" {
		t.Errorf("want capture/data.ready got %s", config.ReadyDirectory())
	}
	if !config.KeepFailedJobs {
		t.Error("want failed jobs kept")
	}
	if diff := cmp.Diff([]string{"-p", "0"}, config.Rnx2rtkpOptions); diff != "" {
		t.Errorf("options: %s", diff)
	}
	if config.ToolTimeout() != 30*time.Second {
		t.Errorf("want 30s got %v", config.ToolTimeout())
	}
	// An explicitly empty suffix is kept, not replaced by the default.
	wantLayout := corrections.Config{ProductDir: "products", BroadcastDir: "data"}
	if diff := cmp.Diff(wantLayout, config.CorrectionsConfig()); diff != "" {
		t.Errorf("layout: %s", diff)
	}
	kinds, err := config.Kinds()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]corrections.FileKind{corrections.Ephemeris, corrections.Broadcast}, kinds); diff != "" {
		t.Errorf("kinds: %s", diff)
	}
	if config.SelectionValue() != store.SelectBest {
		t.Errorf("want best got %v", config.SelectionValue())
	}
	level, err := config.Level()
	if err != nil {
		t.Fatal(err)
	}
	if level.String() != "DEBUG" {
		t.Errorf("want DEBUG got %v", level)
	}
}

// TestDefaults checks the values given to fields that are not in the file.
func TestDefaults(t *testing.T) {
	config, err := getJSONConfig(strings.NewReader(`{"work_directory": "/w"}`), nil)
	if err != nil {
		t.Fatal(err)
	}

	if config.BaudRate != 9600 {
		t.Errorf("want 9600 got %d", config.BaudRate)
	}
	if config.KeepFailedJobs {
		t.Error("want failed jobs removed")
	}
	if config.CacheDirectory != "/w/igs" {
		t.Errorf("want /w/igs got %s", config.CacheDirectory)
	}
	if config.CorrectionsConfig().CompressionSuffix != ".gz" {
		t.Errorf("want .gz got %s", config.CorrectionsConfig().CompressionSuffix)
	}
	if config.FetchTimeout() != 2*time.Minute {
		t.Errorf("want 2m got %v", config.FetchTimeout())
	}
	if config.MaxConcurrentJobs != 2 {
		t.Errorf("want 2 got %d", config.MaxConcurrentJobs)
	}
	if config.SelectionValue() != store.SelectLatest {
		t.Errorf("want latest got %v", config.SelectionValue())
	}
	kinds, _ := config.Kinds()
	if diff := cmp.Diff(corrections.AllKinds, kinds); diff != "" {
		t.Errorf("kinds: %s", diff)
	}
}

// TestGetYAMLConfig checks that YAML gives the same result as JSON.
func TestGetYAMLConfig(t *testing.T) {
	reader := strings.NewReader(`
input:
  - /dev/ttyACM0
  - /dev/ttyACM1
work_directory: work
convbin_options: ["-v", "3.04"]
influx_url: http://localhost:8086
influx_bucket: heights
selection: latest
`)

	config, err := getYAMLConfig(reader, nil)
	if err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff([]string{"/dev/ttyACM0", "/dev/ttyACM1"}, config.Filenames); diff != "" {
		t.Errorf("input: %s", diff)
	}
	if diff := cmp.Diff([]string{"-v", "3.04"}, config.ConvbinOptions); diff != "" {
		t.Errorf("options: %s", diff)
	}
	if config.InfluxBucket != "heights" {
		t.Errorf("want heights got %s", config.InfluxBucket)
	}
}

// TestEmptyYAMLConfig checks that an empty YAML file gives the defaults.
func TestEmptyYAMLConfig(t *testing.T) {
	config, err := getYAMLConfig(strings.NewReader(""), nil)
	if err != nil {
		t.Fatal(err)
	}
	if config.LogLevel != "info" {
		t.Errorf("want info got %s", config.LogLevel)
	}
}

// TestInvalidConfig checks the values that Validate rejects.
func TestInvalidConfig(t *testing.T) {
	var testData = []struct {
		description string
		json        string
	}{
		{"syntax", `{"input": [}`},
		{"kind", `{"correction_kinds": ["sp3", "bogus"]}`},
		{"selection", `{"selection": "median"}`},
		{"level", `{"log_level": "noisy"}`},
		{"jobs", `{"max_concurrent_jobs": -1}`},
		{"influx", `{"influx_url": "http://localhost:8086"}`},
	}

	for _, td := range testData {
		t.Run(td.description, func(t *testing.T) {
			config, err := getJSONConfig(strings.NewReader(td.json), nil)
			if err == nil {
				t.Errorf("want an error got %+v", config)
			}
		})
	}
}

// TestUnknownYAMLField checks that a misspelt field name is rejected.
func TestUnknownYAMLField(t *testing.T) {
	_, err := getYAMLConfig(strings.NewReader("wrok_directory: /w\n"), nil)
	if err == nil {
		t.Error("want an error")
	}
}
