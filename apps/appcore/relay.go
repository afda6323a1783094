package appcore

import (
	"context"
	"io"
	"log/slog"

	filehandler "github.com/goblimey/go-rtkpost/file_handler"
	"github.com/goblimey/go-rtkpost/jsonconfig"
	"github.com/goblimey/go-rtkpost/metrics"
	ubx "github.com/goblimey/go-rtkpost/ubx/handler"
)

// Relay repeatedly searches for and reads the input devices specified in
// the config, converts the data to messages and sends a copy of each
// message to each of the channels.  It runs until ctx is cancelled and
// then closes the channels.
//
// It's assumed that the input files are the device names of a device that
// is sending data on a serial connection and will do so indefinitely.  If
// the device is connecting on a serial USB connection and connectivity is
// lost and then restored, the device name this time will be different from
// the one used last time.  The config should specify all the possible
// device file names.  If the device is connected using an RS/232 serial
// line then the config just needs to specify one name.
//
// This setup copes well with a GNSS device that occasionally drops out of
// service and then comes back.  The function simply waits until messages
// start arriving again.
func Relay(ctx context.Context, config *jsonconfig.Config, open jsonconfig.Opener,
	channels []chan ubx.Message, m *metrics.Metrics, logger *slog.Logger) error {

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	defer func() {
		for _, ch := range channels {
			if ch != nil {
				close(ch)
			}
		}
	}()

	for {
		reader, name, err := jsonconfig.WaitAndConnectToInput(ctx, config, open, logger)
		if err != nil {
			return err
		}
		err = RelayUntilEOF(ctx, reader, config, channels, m, logger)
		reader.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("lost the GNSS source", "device", name, "error", err)
	}
}

// RelayUntilEOF takes the given reader, creates a file handler and runs it
// until the input is exhausted.  Whenever it receives a message from the
// handler, it sends a copy to each of the channels.  It's assumed that
// something is listening to each channel and doing something with the
// messages, for example writing them to a log file.
func RelayUntilEOF(ctx context.Context, reader io.Reader, config *jsonconfig.Config,
	channels []chan ubx.Message, m *metrics.Metrics, logger *slog.Logger) error {

	messageChan := make(chan ubx.Message)
	fh := filehandler.New(messageChan, config.WaitTimeOnEOF(), config.TimeoutOnEOF(), logger)
	fh.Metrics = m

	// The file handler closes the message channel when it finishes, which
	// is how we know that it's done.
	done := make(chan error, 1)
	go func() {
		done <- fh.Handle(ctx, reader)
	}()

	// The handler must be drained even after ctx is cancelled, or it
	// can't finish.
	for message := range messageChan {
		for _, ch := range channels {
			if ch == nil {
				continue
			}
			select {
			case ch <- message:
			case <-ctx.Done():
			}
		}
	}
	return <-done
}
