package filehandler

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/goblimey/go-rtkpost/metrics"
	ubx "github.com/goblimey/go-rtkpost/ubx/handler"
	"github.com/goblimey/go-rtkpost/ubx/navpvt"
)

// ErrNoFixes is returned by Scan when a file holds no usable fix.
var ErrNoFixes = errors.New("no usable NAV-PVT fix")

// Handler provides code to handle a file containing UBX messages, possibly
// interspersed with messages of other formats such as NMEA.  The file may
// still be being written, as the daily capture file is.
type Handler struct {
	MessageChan        chan ubx.Message // Decoded messages are issued on this channel.
	RetryIntervalOnEOF time.Duration    // The time to wait between retries on EOF.
	EOFTimeout         time.Duration    // Give up retrying after this time has elapsed.
	Metrics            *metrics.Metrics // May be nil.
	Logger             *slog.Logger
}

// New creates a handler.
func New(messageChan chan ubx.Message, retryIntervalOnEOF, eofTimeout time.Duration, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	handler := Handler{
		MessageChan:        messageChan,
		RetryIntervalOnEOF: retryIntervalOnEOF,
		EOFTimeout:         eofTimeout,
		Logger:             logger,
	}
	return &handler
}

// Handle reads the input and sends it to a UBX decoder which issues
// messages on the message channel.  The message channel is closed when
// Handle returns.  If there is a read error other than EOF, it's returned.
func (handler *Handler) Handle(ctx context.Context, reader io.Reader) error {

	// An EOF on a read is not necessarily fatal.  It can just mean that there
	// is no data to read just now, but there may be some in the future.  If
	// EOFTimeout is zero, we stop on the first EOF.  If it's set, then we
	// retry reads for that duration and then stop.  On any other read error
	// we stop immediately.
	//
	// If the timeout is too short then we may stop part way through a
	// frame.  The decoder treats the tail as truncated and it's lost.

	byteChan := make(chan byte, 4096)

	decoder := ubx.NewChannelDecoder(byteChan, handler.Logger)
	decoded := make(chan ubx.Message)
	done := make(chan error, 1)
	go func() {
		done <- decoder.HandleMessages(decoded)
	}()
	go func() {
		defer close(handler.MessageChan)
		for message := range decoded {
			handler.Metrics.MessageDecoded(message.Kind.String())
			handler.MessageChan <- message
		}
	}()

	err := handler.feed(ctx, reader, byteChan)
	close(byteChan)
	<-done

	stats := decoder.Stats()
	handler.Logger.Debug("input finished",
		"frames", stats.Frames, "fixes", stats.Fixes, "checksumErrors", stats.ChecksumErrors)

	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// feed copies the input to the byte channel until EOF persists for longer
// than the timeout, a read fails or ctx is cancelled.
func (handler *Handler) feed(ctx context.Context, reader io.Reader, byteChan chan<- byte) error {
	// timeOfFirstEOF is set when the read has returned EOF one or more times
	// in a row.  It's the time that we saw the first of a stream of EOFs.
	var timeOfFirstEOF *time.Time

	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := reader.Read(buf)
		for _, b := range buf[:n] {
			byteChan <- b
		}
		if n > 0 {
			// We have read some data.  Reset the timeout mechanism.
			timeOfFirstEOF = nil
		}

		if err == nil {
			continue
		}
		if err != io.EOF {
			// Some other kind of file handling error.
			return err
		}
		if handler.EOFTimeout == 0 {
			// No timeout so don't retry.
			return err
		}

		// EOF may really mean end of file or just that there is currently
		// no data to read.  Retry until the timeout elapses.
		now := time.Now()
		if timeOfFirstEOF == nil {
			timeOfFirstEOF = &now
		} else if now.Sub(*timeOfFirstEOF) > handler.EOFTimeout {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(handler.RetryIntervalOnEOF):
		}
	}
}

// Summary describes the usable fixes in a UBX file.
type Summary struct {
	Fixes []*navpvt.Message
	// Start and Stop are the times of the earliest and latest fixes.
	Start time.Time
	Stop  time.Time
	Stats ubx.Stats
}

// Scan reads a complete UBX file and returns its usable fixes.  A file with
// no usable fixes gives ErrNoFixes along with the summary.
func Scan(ctx context.Context, name string, logger *slog.Logger) (*Summary, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fixes, stats, err := ubx.ReadFixes(ctx, bufio.NewReader(f), logger)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	summary := Summary{Fixes: fixes, Stats: stats}
	if len(fixes) == 0 {
		return &summary, fmt.Errorf("%s: %w", name, ErrNoFixes)
	}

	summary.Start = fixes[0].Timestamp()
	summary.Stop = summary.Start
	for _, fix := range fixes[1:] {
		t := fix.Timestamp()
		if t.Before(summary.Start) {
			summary.Start = t
		}
		if t.After(summary.Stop) {
			summary.Stop = t
		}
	}
	return &summary, nil
}
