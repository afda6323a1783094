// ubxgrabber reads from a GNSS receiver on a serial USB port and writes what
// it reads to stdout, typically into a pipeline feeding ubxlogger.
//
// Usage:
//
//	ubxgrabber -c config.json
//
// The config file is described in the jsonconfig package.  The grabber uses
// the "input" list of device names and the serial line settings (baud_rate,
// parity, data_bits, stop_bits and initial_status_bits).  It tries each
// device in turn until it can open one, then reads until the device goes
// quiet for "timeout" seconds or fails, then looks for a device again.  It
// runs until killed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/goblimey/go-rtkpost/jsonconfig"
)

// errTimeout is returned by grab when the device stops sending.
var errTimeout = errors.New("timeout")

func main() {
	// Log to stderr.  Stdout carries the data.
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var configFileName string
	flag.StringVar(&configFileName, "c", "", "JSON or YAML config file")
	flag.StringVar(&configFileName, "config", "", "JSON or YAML config file")
	flag.Parse()

	if len(configFileName) == 0 {
		logger.Error("missing config file: -c or --config")
		os.Exit(2)
	}

	config, err := jsonconfig.GetConfigFromFile(configFileName, logger)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	mode, err := serialMode(config)
	if err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	timeout := time.Duration(config.LostInputConnectionTimeout) * time.Second
	grabFromPorts(ctx, config, serialOpener(mode, timeout), os.Stdout, logger)
}

// grabFromPorts loops until ctx is cancelled.  It connects to one of the
// configured devices, copies its output to out until the supply dries up,
// then waits for a short time and connects again.
func grabFromPorts(ctx context.Context, config *jsonconfig.Config, open jsonconfig.Opener, out io.Writer, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sleepTime := time.Duration(config.LostInputConnectionSleepTime) * time.Second
	for {
		port, name, err := jsonconfig.WaitAndConnectToInput(ctx, config, open, logger)
		if err != nil {
			// Cancelled.
			return
		}

		errGrab := grab(ctx, port, out)
		port.Close()
		if errGrab != nil && !errors.Is(errGrab, context.Canceled) {
			logger.Warn("lost the GNSS source", "device", name, "error", errGrab)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepTime):
		}
	}
}

// grab copies data from the port to out until the read times out or fails.
// A serial port with a read timeout returns zero bytes and no error when the
// timeout expires.
func grab(ctx context.Context, port io.Reader, out io.Writer) error {
	buffer := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, errRead := port.Read(buffer)
		if n > 0 {
			if _, err := out.Write(buffer[:n]); err != nil {
				return fmt.Errorf("write failed - %w", err)
			}
		}
		if errRead != nil {
			return errRead
		}
		if n == 0 {
			return errTimeout
		}
	}
}

// serialOpener returns an Opener that opens serial ports with the given
// mode and read timeout.  A zero timeout means block forever.
func serialOpener(mode *serial.Mode, timeout time.Duration) jsonconfig.Opener {
	return func(name string) (io.ReadCloser, error) {
		port, err := serial.Open(name, mode)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			if err := port.SetReadTimeout(timeout); err != nil {
				port.Close()
				return nil, err
			}
		}
		return port, nil
	}
}

// serialMode builds the serial line settings from the config.
func serialMode(config *jsonconfig.Config) (*serial.Mode, error) {
	mode := serial.Mode{BaudRate: config.BaudRate}
	if mode.BaudRate == 0 {
		mode.BaudRate = 9600
	}

	switch config.Parity {
	case "", "no_parity":
		mode.Parity = serial.NoParity
	case "odd_parity":
		mode.Parity = serial.OddParity
	case "even_parity":
		mode.Parity = serial.EvenParity
	case "mark_parity":
		mode.Parity = serial.MarkParity
	case "space_parity":
		mode.Parity = serial.SpaceParity
	default:
		return nil, errors.New("config: illegal parity value " + config.Parity)
	}

	// Must be 5-8.
	switch {
	case config.DataBits == 0:
		mode.DataBits = 8
	case config.DataBits >= 5 && config.DataBits <= 8:
		mode.DataBits = config.DataBits
	default:
		return nil, fmt.Errorf("config: data bits must be 5-8, got %d", config.DataBits)
	}

	switch config.StopBits {
	case 0, 1:
		mode.StopBits = serial.OneStopBit
	case 1.5:
		mode.StopBits = serial.OnePointFiveStopBits
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("config: stop bit value must be 1, 1.5 or 2.  Got %v", config.StopBits)
	}

	if len(config.InitialStatusBits) > 0 {
		var bits serial.ModemOutputBits
		for _, b := range config.InitialStatusBits {
			switch strings.ToLower(b) {
			case "dtr":
				bits.DTR = true
			case "rts":
				bits.RTS = true
			default:
				return nil, errors.New("config: illegal initial status bit value " + b)
			}
		}
		mode.InitialStatusBits = &bits
	}

	return &mode, nil
}
