// ubxfilter reads a byte stream from stdin, converts it to UBX messages and
// writes the valid UBX frames to stdout.  It's designed to receive data from
// a receiver that emits messages continuously, typically via ubxgrabber, so
// it runs until the input ends or it's forcibly stopped.
//
// u-blox receivers mix NMEA sentences with the UBX output and a noisy serial
// line corrupts the occasional frame.  The filter drops both, so what comes
// out is clean UBX that RTKLIB's convbin can read.  The NMEA sentences are
// not thrown away unread: the filter parses the GGA and RMC sentences and
// logs the position that the receiver reports, which is a quick check that
// the receiver has a fix:
//
//	 --------   UBX and                                  UBX
//	|receiver|  NMEA                                     only
//	|        |-------> ubxgrabber ---> ubxfilter ---> ubxlogger ---> data.ready
//	 --------   serial USB        pipe           pipe
//
// Usage:
//
//	ubxfilter [-c config.json]
//
// The config is optional.  If given, the filter uses its EOF handling
// settings (wait_time_on_EOF_millis and timeout_on_EOF_seconds) and its log
// level.  Without it the filter stops at the first EOF.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/goblimey/go-rtkpost/apps/appcore"
	"github.com/goblimey/go-rtkpost/jsonconfig"
	ubx "github.com/goblimey/go-rtkpost/ubx/handler"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	var configFileName string
	flag.StringVar(&configFileName, "c", "", "JSON or YAML config file")
	flag.StringVar(&configFileName, "config", "", "JSON or YAML config file")
	flag.Parse()

	var config jsonconfig.Config
	if len(configFileName) > 0 {
		c, err := jsonconfig.GetConfigFromFile(configFileName, logger)
		if err != nil {
			logger.Error(err.Error())
			os.Exit(1)
		}
		config = *c
		level, _ := config.Level()
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	report, err := HandleMessages(ctx, os.Stdin, os.Stdout, &config, logger)
	logger.Info("input finished", "ubxFrames", report.UBXFrames, "dropped", report.Dropped,
		"nmeaSentences", report.NMEASentences, "nmeaErrors", report.NMEAErrors)
	if err != nil && ctx.Err() == nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// Report summarises what the filter saw.
type Report struct {
	// UBXFrames is the number of frames written.
	UBXFrames int
	// Dropped is the number of runs of non-UBX data dropped.
	Dropped       int
	NMEASentences int
	NMEAErrors    int
	// LastPosition is the last position reported in NMEA, nil if none.
	LastPosition *Position
}

// Position is a position taken from an NMEA GGA or RMC sentence.
type Position struct {
	Sentence  string
	Time      string
	Latitude  float64
	Longitude float64
	// Altitude is the height above mean sea level.  RMC doesn't carry it.
	Altitude   float64
	Quality    string
	Satellites int64
}

// HandleMessages decodes the input, writes the UBX frames to the writer and
// watches the NMEA sentences.  It runs until the input is exhausted or ctx
// is cancelled.
func HandleMessages(ctx context.Context, reader io.Reader, writer io.Writer,
	config *jsonconfig.Config, logger *slog.Logger) (*Report, error) {

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	var report Report
	var wg sync.WaitGroup

	ubxChan := make(chan ubx.Message, 16)
	wg.Add(1)
	go func() {
		defer wg.Done()
		report.UBXFrames, report.Dropped = writeUBXMessages(ubxChan, writer, logger)
	}()

	nmeaChan := make(chan ubx.Message, 16)
	watcher := nmeaWatcher{logger: logger}
	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher.watch(nmeaChan)
	}()

	errRelay := appcore.RelayUntilEOF(ctx, bufio.NewReader(reader), config,
		[]chan ubx.Message{ubxChan, nmeaChan}, nil, logger)
	close(ubxChan)
	close(nmeaChan)
	wg.Wait()

	report.NMEASentences = watcher.sentences
	report.NMEAErrors = watcher.errors
	report.LastPosition = watcher.last
	return &report, errRelay
}

// writeUBXMessages receives messages from the channel and writes the UBX
// frames to the writer.  It returns the number of frames written and the
// number of runs of other data dropped.  After a write failure it carries on
// draining the channel.
func writeUBXMessages(ch <-chan ubx.Message, writer io.Writer, logger *slog.Logger) (int, int) {
	written := 0
	dropped := 0
	writing := true
	for message := range ch {
		if message.Kind == ubx.KindNonUBX {
			dropped++
			continue
		}
		if !writing {
			continue
		}
		if _, err := writer.Write(message.RawData); err != nil {
			// Run out of disk space or the pipe is closed.
			logger.Error("write failed", "error", err)
			writing = false
			continue
		}
		written++
	}
	return written, dropped
}

// nmeaWatcher parses the NMEA sentences in the non-UBX data and logs the
// positions they report.
type nmeaWatcher struct {
	logger    *slog.Logger
	sentences int
	errors    int
	last      *Position
}

func (w *nmeaWatcher) watch(ch <-chan ubx.Message) {
	for message := range ch {
		if message.Kind == ubx.KindNonUBX {
			w.handle(message.RawData)
		}
	}
}

// handle parses each line of the data that looks like an NMEA sentence.  A
// sentence may be split across two runs of data by a UBX frame, in which
// case both halves fail the checksum.
func (w *nmeaWatcher) handle(data []byte) {
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			w.errors++
			w.logger.Debug("bad NMEA sentence", "sentence", line, "error", err)
			continue
		}
		w.sentences++

		position := toPosition(sentence)
		if position == nil {
			continue
		}
		w.last = position
		w.logger.Info("receiver position", "sentence", position.Sentence, "time", position.Time,
			"lat", position.Latitude, "lon", position.Longitude, "alt", position.Altitude,
			"quality", position.Quality, "satellites", position.Satellites)
	}
}

// toPosition extracts the position from a GGA or RMC sentence.  It returns
// nil for other sentences and for RMC sentences flagged invalid.
func toPosition(sentence nmea.Sentence) *Position {
	switch sentence.DataType() {
	case nmea.TypeGGA:
		gga := sentence.(nmea.GGA)
		return &Position{
			Sentence:   nmea.TypeGGA,
			Time:       gga.Time.String(),
			Latitude:   gga.Latitude,
			Longitude:  gga.Longitude,
			Altitude:   gga.Altitude,
			Quality:    gga.FixQuality,
			Satellites: gga.NumSatellites,
		}
	case nmea.TypeRMC:
		rmc := sentence.(nmea.RMC)
		if rmc.Validity != nmea.ValidRMC {
			return nil
		}
		return &Position{
			Sentence:  nmea.TypeRMC,
			Time:      rmc.Date.String() + " " + rmc.Time.String(),
			Latitude:  rmc.Latitude,
			Longitude: rmc.Longitude,
			Quality:   rmc.Validity,
		}
	default:
		return nil
	}
}
