package filehandler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goblimey/go-rtkpost/metrics"
	ubx "github.com/goblimey/go-rtkpost/ubx/handler"
	"github.com/goblimey/go-rtkpost/ubx/testdata"
)

// TestHandle checks that Handle correctly processes a bit stream containing a
// set of messages.
func TestHandle(t *testing.T) {

	// Two fixes, each preceded by RXM-RAW and RXM-SFRB, with an NMEA
	// sentence before the second fix.
	bitStream := testdata.Capture(2)

	wantKinds := []ubx.Kind{
		ubx.KindRxmRaw,
		ubx.KindRxmSfrb,
		ubx.KindNavPVT,
		ubx.KindRxmRaw,
		ubx.KindRxmSfrb,
		ubx.KindNonUBX,
		ubx.KindNavPVT,
	}

	reader := bufio.NewReader(bytes.NewReader(bitStream))
	messageChan := make(chan ubx.Message, 10)

	m := metrics.New()
	fh := New(messageChan, 0, 0, nil)
	fh.Metrics = m
	go fh.Handle(context.Background(), reader)

	// Fetch the messages from the channel.
	messages := make([]ubx.Message, 0)
	for message := range messageChan {
		messages = append(messages, message)
	}

	if len(wantKinds) != len(messages) {
		t.Fatalf("want %d messages got %d", len(wantKinds), len(messages))
	}
	for i, message := range messages {
		if wantKinds[i] != message.Kind {
			t.Errorf("%d: want %v got %v", i, wantKinds[i], message.Kind)
		}
	}

	recorder := httptest.NewRecorder()
	m.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	const want = `rtkpost_ubx_messages_total{kind="NAV-PVT"} 2`
	if !strings.Contains(recorder.Body.String(), want) {
		t.Errorf("want %s in\n%s", want, recorder.Body.String())
	}
}

// slowReader returns its data in two parts with a run of EOFs between
// them, the way a file that's still being written does.
type slowReader struct {
	parts    [][]byte
	eofCount int
	eofs     int
}

func (r *slowReader) Read(buf []byte) (int, error) {
	if len(r.parts) == 0 {
		return 0, io.EOF
	}
	if len(r.parts) == 1 && r.eofs < r.eofCount {
		r.eofs++
		return 0, io.EOF
	}
	n := copy(buf, r.parts[0])
	r.parts[0] = r.parts[0][n:]
	if len(r.parts[0]) == 0 {
		r.parts = r.parts[1:]
	}
	return n, nil
}

// TestHandleRetriesOnEOF checks that with a timeout set, Handle waits for
// more data after an EOF.
func TestHandleRetriesOnEOF(t *testing.T) {
	first := testdata.NavPVTFrame(0)
	second := testdata.NavPVTFrame(1)
	// Split the second frame so that a frame straddles the pause.
	reader := &slowReader{
		parts:    [][]byte{append(first, second[:10]...), second[10:]},
		eofCount: 3,
	}

	messageChan := make(chan ubx.Message, 10)
	fh := New(messageChan, time.Millisecond, 100*time.Millisecond, nil)
	err := fh.Handle(context.Background(), reader)
	if err != nil {
		t.Fatal(err)
	}

	count := 0
	for message := range messageChan {
		if message.Kind != ubx.KindNavPVT {
			t.Errorf("want NAV-PVT got %v", message.Kind)
		}
		count++
	}
	if count != 2 {
		t.Errorf("want 2 messages got %d", count)
	}
}

// TestHandleCancelled checks that Handle stops waiting for data when the
// context is cancelled.
func TestHandleCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	messageChan := make(chan ubx.Message, 10)
	fh := New(messageChan, time.Hour, time.Hour, nil)
	err := fh.Handle(ctx, bytes.NewReader(testdata.NavPVTFrame(0)))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("want context.Canceled got %v", err)
	}
	for range messageChan {
	}
}

// TestScan checks the summary of a capture file.
func TestScan(t *testing.T) {
	name := filepath.Join(t.TempDir(), "data.20170906.ubx")
	capture := append(testdata.Capture(5), testdata.UnusableNavPVTFrame(10)...)
	if err := os.WriteFile(name, capture, 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := Scan(context.Background(), name, nil)
	if err != nil {
		t.Fatal(err)
	}

	if len(summary.Fixes) != 5 {
		t.Errorf("want 5 fixes got %d", len(summary.Fixes))
	}
	if !testdata.FirstFixTime.Equal(summary.Start) {
		t.Errorf("want start %v got %v", testdata.FirstFixTime, summary.Start)
	}
	wantStop := testdata.FirstFixTime.Add(4 * time.Second)
	if !wantStop.Equal(summary.Stop) {
		t.Errorf("want stop %v got %v", wantStop, summary.Stop)
	}
	if summary.Stats.RejectedFixes != 1 {
		t.Errorf("want 1 rejected fix got %d", summary.Stats.RejectedFixes)
	}
}

// TestScanNoFixes checks that a file without fixes is reported.
func TestScanNoFixes(t *testing.T) {
	name := filepath.Join(t.TempDir(), "empty.ubx")
	if err := os.WriteFile(name, testdata.RxmRawFrame(), 0o644); err != nil {
		t.Fatal(err)
	}

	summary, err := Scan(context.Background(), name, nil)
	if !errors.Is(err, ErrNoFixes) {
		t.Errorf("want ErrNoFixes got %v", err)
	}
	if summary == nil || summary.Stats.Frames != 1 {
		t.Errorf("want a summary with one frame got %+v", summary)
	}

	_, err = Scan(context.Background(), filepath.Join(t.TempDir(), "missing.ubx"), nil)
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("want ErrNotExist got %v", err)
	}
}
