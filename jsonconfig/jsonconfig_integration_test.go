package jsonconfig

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestWaitAndConnectToInput tests that WaitAndConnectToInput returns a
// reader connected to the correct file when the file does not exist
// initially.
func TestWaitAndConnectToInput(t *testing.T) {
	dir := t.TempDir()

	// The filename list in the config contains "a", "b" and "c"
	config := Config{
		Filenames: []string{
			filepath.Join(dir, "a"), filepath.Join(dir, "b"), filepath.Join(dir, "c"),
		},
		LostInputConnectionSleepTime: 1,
	}

	// Wait for a short time and then create file "b" with some contents.
	const expectedContents = "Hello world"
	done := make(chan error, 1)
	go func() {
		time.Sleep(1500 * time.Millisecond)
		// To avoid a race while writing, create "t", write to it and
		// then rename it.  The test won't notice it until it's renamed.
		temp := filepath.Join(dir, "t")
		if err := os.WriteFile(temp, []byte(expectedContents), 0644); err != nil {
			done <- err
			return
		}
		done <- os.Rename(temp, filepath.Join(dir, "b"))
	}()

	// File b doesn't exist at first when this is called.  It should spin
	// and, once file "b" appears, open it for reading.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	reader, name, err := WaitAndConnectToInput(ctx, &config, OpenFile, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close()
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	if name != config.Filenames[1] {
		t.Errorf("want %s got %s", config.Filenames[1], name)
	}
	contents, err := io.ReadAll(reader)
	if err != nil {
		t.Fatal(err)
	}
	if expectedContents != string(contents) {
		t.Fatalf("want %s got %s", expectedContents, string(contents))
	}
}

// TestWaitAndConnectToInputCancelled checks that the search stops when the
// context is cancelled.
func TestWaitAndConnectToInputCancelled(t *testing.T) {
	config := Config{
		Filenames:                    []string{filepath.Join(t.TempDir(), "missing")},
		LostInputConnectionSleepTime: 1,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	reader, _, err := WaitAndConnectToInput(ctx, &config, OpenFile, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("want deadline exceeded got %v", err)
	}
	if reader != nil {
		t.Error("want nil reader")
	}
}

// TestFindInputDevice tests that findInputDevice scans correctly for the
// files in its list.
func TestFindInputDevice(t *testing.T) {
	dir := t.TempDir()
	path := func(name string) string { return filepath.Join(dir, name) }

	config := Config{Filenames: []string{path("a"), path("b"), path("c")}}

	// Create files "a", "b", "c" and "d".
	for _, name := range []string{"a", "b", "c", "d"} {
		if err := os.WriteFile(path(name), nil, 0644); err != nil {
			t.Fatal(err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		reader, name := findInputDevice(&config, OpenFile)
		if reader == nil {
			t.Fatalf("want %s got nil", want)
		}
		reader.Close()
		if name != path(want) {
			t.Errorf("want %s got %s", path(want), name)
		}
		os.Remove(path(want))
	}

	// With no matching files, this call should return nil, not "d".
	reader, name := findInputDevice(&config, OpenFile)
	if reader != nil {
		t.Errorf("want nil got %s", name)
	}
}

// TestGetConfigFromFile tests that GetConfigFromFile reads JSON and YAML
// config files.
func TestGetConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	jsonName := filepath.Join(dir, "rtkpost.json")
	yamlName := filepath.Join(dir, "rtkpost.yaml")
	if err := os.WriteFile(jsonName, []byte(`{"database": "a.db"}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(yamlName, []byte("database: b.db\n"), 0644); err != nil {
		t.Fatal(err)
	}

	for name, want := range map[string]string{jsonName: "a.db", yamlName: "b.db"} {
		config, err := GetConfigFromFile(name, nil)
		if err != nil {
			t.Fatal(err)
		}
		if config.Database != want {
			t.Errorf("%s: want %s got %s", name, want, config.Database)
		}
	}

	if _, err := GetConfigFromFile(filepath.Join(dir, "junk.json"), nil); err == nil {
		t.Error("want an error for a missing file")
	}
}
