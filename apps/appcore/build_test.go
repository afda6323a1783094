package appcore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goblimey/go-rtkpost/clock"
	"github.com/goblimey/go-rtkpost/jsonconfig"
	"github.com/goblimey/go-rtkpost/metrics"
	"github.com/goblimey/go-rtkpost/rtkpost"
	"github.com/goblimey/go-rtkpost/ubx/testdata"
)

// fakeConvbin creates the observation file named by -o.
const fakeConvbin = `#!/bin/sh
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then obs="$2"; fi
	shift
done
echo "observations" > "$obs"
`

// fakeSolver writes a report to the file named by -o.
const fakeSolver = `#!/bin/sh
while [ $# -gt 0 ]; do
	if [ "$1" = "-o" ]; then out="$2"; fi
	shift
done
cat > "$out" <<'END'
% program   : RNX2RTKP ver.2.4.3 b29
%  GPST,latitude(deg),longitude(deg),height(m),Q,ns,sdn(m),sde(m),sdu(m),sdne(m),sdeu(m),sdun(m),age(s),ratio
2017/09/06 12:00:00.000,52.021350000,4.710488600,45.3490,6,9,0.0123,0.0100,0.0250,0.0010,-0.0020,0.0030,0.00,0.0
2017/09/06 12:00:01.000,52.021350100,4.710488500,45.3510,6,9,0.0120,0.0098,0.0240,0.0010,-0.0020,0.0030,0.00,0.0
END
`

func writeScript(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// testConfig returns a config using the fake tools, an empty local
// archive and a SQLite database, all in a temporary directory.
func testConfig(t *testing.T) *jsonconfig.Config {
	t.Helper()
	dir := t.TempDir()
	archive := filepath.Join(dir, "archive")
	if err := os.Mkdir(archive, 0o755); err != nil {
		t.Fatal(err)
	}
	config := jsonconfig.Config{
		CaptureDirectory: filepath.Join(dir, "capture"),
		WorkDirectory:    filepath.Join(dir, "work"),
		ArchiveURL:       archive,
		Convbin:          writeScript(t, dir, "convbin", fakeConvbin),
		Rnx2rtkp:         writeScript(t, dir, "rnx2rtkp", fakeSolver),
		Database:         filepath.Join(dir, "rtkpost.db"),
	}
	config.ApplyDefaults()
	if err := os.MkdirAll(config.ReadyDirectory(), 0o755); err != nil {
		t.Fatal(err)
	}
	return &config
}

// TestBuild runs a captured file through the whole pipeline with fake
// tools.  The archive is empty, so the correction files are missing, which
// doesn't stop the job.
func TestBuild(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("the fake tools are shell scripts")
	}

	var influxWrites atomic.Int32
	influx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		influxWrites.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer influx.Close()

	config := testConfig(t)
	config.InfluxURL = influx.URL
	config.InfluxBucket = "heights"
	source := filepath.Join(config.ReadyDirectory(), "data.20170906.ubx")
	if err := os.WriteFile(source, testdata.Capture(2), 0o644); err != nil {
		t.Fatal(err)
	}

	clk := clock.NewStoppedClockAt(testdata.FirstFixTime.Add(20 * time.Hour))
	services, err := Build(config, clk, metrics.New(), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer services.Close()

	results, err := services.Core.ScanInbox(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("want 1 result got %d", len(results))
	}
	result := results[0]
	if result.Err != nil {
		t.Fatal(result.Err)
	}
	if result.State != rtkpost.Completed || result.Solutions != 2 {
		t.Errorf("want completed with 2 solutions got %+v", result)
	}
	// Four kinds of file, none of them in the archive.
	if result.Missing != 4 {
		t.Errorf("want 4 missing files got %d", result.Missing)
	}

	ctx := context.Background()
	count, err := services.Aggregator.SolutionCount(ctx, source)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("want 2 stored solutions got %d", count)
	}
	stats, err := services.Aggregator.FixHeightStatistics(ctx, source)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Count != 2 {
		t.Errorf("want 2 fixes got %d", stats.Count)
	}
	if influxWrites.Load() != 1 {
		t.Errorf("want 1 influx write got %d", influxWrites.Load())
	}

	// The scratch directory of the completed job has gone.
	entries, err := os.ReadDir(config.WorkDirectory)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if entry.Name() != "igs" {
			t.Errorf("unexpected %s in the work directory", entry.Name())
		}
	}
}

// TestBuildErrors checks that a bad config is reported.
func TestBuildErrors(t *testing.T) {
	var testData = []struct {
		description string
		change      func(*jsonconfig.Config)
	}{
		{"archive", func(c *jsonconfig.Config) { c.ArchiveURL = "gopher://example.com/igs" }},
		{"database", func(c *jsonconfig.Config) { c.Database = filepath.Join(c.WorkDirectory, "junk", "junk.db") }},
	}

	for _, td := range testData {
		t.Run(td.description, func(t *testing.T) {
			config := testConfig(t)
			td.change(config)
			services, err := Build(config, nil, nil, nil)
			if err == nil {
				services.Close()
				t.Error("want an error")
			}
		})
	}
}

// TestBuildWithoutGeoid checks that a geoid grid that can't be read doesn't
// stop the post-processing.  The solutions come back without RD/NAP.
func TestBuildWithoutGeoid(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("the fake tools are shell scripts")
	}

	config := testConfig(t)
	config.GeoidGridFile = filepath.Join(config.WorkDirectory, "junk.grid")
	source := filepath.Join(config.ReadyDirectory(), "data.20170906.ubx")
	if err := os.WriteFile(source, testdata.Capture(2), 0o644); err != nil {
		t.Fatal(err)
	}

	clk := clock.NewStoppedClockAt(testdata.FirstFixTime.Add(20 * time.Hour))
	services, err := Build(config, clk, nil, nil)
	if err != nil {
		t.Fatalf("want no error got %v", err)
	}
	defer services.Close()

	if services.Transformer != nil {
		t.Error("want no transformer")
	}

	ctx := context.Background()
	result, err := services.Core.PostProcess(ctx, source, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result.State != rtkpost.Completed || result.Solutions != 2 {
		t.Errorf("want completed with 2 solutions got %+v", result)
	}

	solutions, err := services.Core.Store.Solutions(ctx, source)
	if err != nil {
		t.Fatal(err)
	}
	if len(solutions) != 2 {
		t.Fatalf("want 2 solutions got %d", len(solutions))
	}
	for _, s := range solutions {
		if s.Local != nil {
			t.Errorf("want no RD/NAP position got %v", *s.Local)
		}
	}
}
