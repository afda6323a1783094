package appcore

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goblimey/go-rtkpost/jsonconfig"
	ubx "github.com/goblimey/go-rtkpost/ubx/handler"
	"github.com/goblimey/go-rtkpost/ubx/testdata"
)

// wantKinds are the kinds of the messages in testdata.Capture(2).
var wantKinds = []ubx.Kind{
	ubx.KindRxmRaw, ubx.KindRxmSfrb, ubx.KindNavPVT,
	ubx.KindRxmRaw, ubx.KindRxmSfrb, ubx.KindNonUBX, ubx.KindNavPVT,
}

// TestRelayUntilEOF checks that each channel gets a copy of every message.
func TestRelayUntilEOF(t *testing.T) {
	// Zero timeouts, so that the handler stops at end of file.
	config := jsonconfig.Config{}
	channels := []chan ubx.Message{make(chan ubx.Message, 20), nil, make(chan ubx.Message, 20)}

	err := RelayUntilEOF(context.Background(), bytes.NewReader(testdata.Capture(2)), &config, channels, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	for _, i := range []int{0, 2} {
		close(channels[i])
		var got []ubx.Kind
		for message := range channels[i] {
			got = append(got, message.Kind)
		}
		if len(got) != len(wantKinds) {
			t.Fatalf("channel %d: want %d messages got %d", i, len(wantKinds), len(got))
		}
		for j := range got {
			if wantKinds[j] != got[j] {
				t.Errorf("channel %d message %d: want %v got %v", i, j, wantKinds[j], got[j])
			}
		}
	}
}

// TestRelay checks that Relay finds the input, relays the messages and
// closes the channels when it's cancelled.
func TestRelay(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "ttyACM0")
	if err := os.WriteFile(input, testdata.Capture(2), 0644); err != nil {
		t.Fatal(err)
	}
	config := jsonconfig.Config{
		Filenames:                    []string{filepath.Join(dir, "ttyACM1"), input},
		LostInputConnectionSleepTime: 1,
	}
	ch := make(chan ubx.Message, 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Relay(ctx, &config, jsonconfig.OpenFile, []chan ubx.Message{ch}, nil, nil)
	}()

	// The input is read again each time it's exhausted, so the messages
	// repeat.  Check the first set.
	for i, want := range wantKinds {
		select {
		case message := <-ch:
			if want != message.Kind {
				t.Errorf("%d: want %v got %v", i, want, message.Kind)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for messages")
		}
	}
	cancel()

	// Drain the channel.  Relay closes it on the way out.
	for range ch {
	}
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled got %v", err)
	}
}
