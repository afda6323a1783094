// ubxlogger reads the output of a GNSS receiver on standard input and writes
// it unchanged to standard output.  It also records a copy in a daily
// capture file "data.{yyyymmdd}.ubx" in the capture directory.  When the day
// is over the file is moved into the "data.ready" subdirectory where
// rtkpostd picks it up for post-processing.  The program is intended to run
// in a pipeline after ubxgrabber:
//
//	ubxgrabber -c config.json | ubxlogger -c config.json | ubxfilter -c config.json
//
// Runtime problems are reported in an event log "ubxlogger.{yyyymmdd}.log" in
// the log directory, or on stderr if no log directory is configured.  If the
// program dies during the day and is restarted, it appends to the existing
// capture file.  On start it pushes any capture file left over from an
// earlier day into "data.ready".
//
// Around midnight the input block may contain data from two days, so the
// capture is suspended for a minute either side of midnight UTC.  (For the
// precise timings, see the dailylog package.)  This only applies to the
// capture file.  All the input is copied to stdout regardless of the time of
// day.
package main

import (
	"flag"
	"io"
	"log/slog"
	"os"

	"github.com/goblimey/go-rtkpost/dailylog"
	"github.com/goblimey/go-rtkpost/jsonconfig"
)

const bufferLength = 8096

func main() {
	// Until we have the config, log to stderr.
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

	level, _ := config.Level()
	if len(config.LogDirectory) > 0 {
		eventLog := dailylog.NewEventLog(config.LogDirectory, "ubxlogger")
		defer eventLog.Close()
		logger = slog.New(slog.NewTextHandler(eventLog, &slog.HandlerOptions{Level: level}))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}

	capture, err := dailylog.NewCaptureWriter(config.CaptureDirectory, logger)
	if err != nil {
		logger.Error("cannot create the capture writer", "error", err)
		os.Exit(1)
	}
	defer capture.Close()

	pushed, err := capture.PushOldFiles()
	if err != nil {
		logger.Warn("cannot push old capture files", "error", err)
	}
	for _, name := range pushed {
		logger.Info("pushed old capture file", "file", name)
	}

	readAndWrite(os.Stdin, os.Stdout, capture, logger)
}

// readAndWrite runs until the input is exhausted (which may never happen) or
// the process is stopped.  It copies the input to out and sends a copy of
// each block to the recorder, which writes it to the capture file.
func readAndWrite(in io.Reader, out io.Writer, capture io.Writer, logger *slog.Logger) {
	recorderChannel := make(chan []byte, 16)
	done := make(chan struct{})
	go func() {
		recorder(recorderChannel, capture)
		close(done)
	}()

	// Only the first of a stream of failures is reported.
	reportingReadErrors := true
	reportingWriteErrors := true

	readBuffer := make([]byte, bufferLength)
	for {
		n, errRead := in.Read(readBuffer)
		if errRead == io.EOF {
			// Expected when the source is a pre-recorded file.  If the
			// source is a live device it only happens if the device dies.
			logger.Info("end of file")
			break
		}
		if errRead != nil {
			if reportingReadErrors {
				logger.Error("read failed", "error", errRead)
				reportingReadErrors = false
			}
		} else if !reportingReadErrors {
			logger.Info("successful read after failure")
			reportingReadErrors = true
		}

		if n == 0 {
			continue
		}

		if _, errWrite := out.Write(readBuffer[:n]); errWrite != nil {
			if reportingWriteErrors {
				logger.Error("write failed", "error", errWrite)
				reportingWriteErrors = false
			}
		} else if !reportingWriteErrors {
			logger.Info("successful write after failure")
			reportingWriteErrors = true
		}

		buffer := make([]byte, n)
		copy(buffer, readBuffer[:n])
		recorderChannel <- buffer
	}

	close(recorderChannel)
	<-done
}

// recorder writes the buffers from the channel until it's closed.  The
// capture writer reports its own failures.
func recorder(recorderChannel <-chan []byte, capture io.Writer) {
	for buffer := range recorderChannel {
		capture.Write(buffer)
	}
}
