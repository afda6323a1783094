// The dailylog package provides an io.Writer that writes to a file with a
// datestamped name, starting a new file each day.  It's used for the UBX
// capture files and for the event logs of the long-running tools.
//
// A capture Writer writes data files called "data.{yyyymmdd}.ubx" and, when
// the day is over, moves the finished file into the "data.ready"
// subdirectory.  It's assumed that some process watches that directory and
// does sensible things when a new file appears there, for example runs the
// post-processing job.
//
// The data arrives in blocks each containing many messages and a block that
// arrives just after midnight could contain messages from yesterday and
// today.  In any case, the host machine's clock may have drifted a little.
// RTKLIB assumes that all the data in an observation file was collected
// within a 24-hour period, so a capture Writer ignores calls to Write within
// one minute either side of midnight UTC.  A cron job runs at half a minute
// before midnight and closes the day's file and pushes it into "data.ready".
// The first call of Write after 00:01 creates a new file for that day.
//
// If the program dies during the day and is restarted, the Writer picks up
// the existing file and appends to it, so the data already collected is
// preserved.
package dailylog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/goblimey/go-rtkpost/clock"
)

// ReadyDirectoryName is the subdirectory into which finished data files are
// moved.
const ReadyDirectoryName = "data.ready"

// endOfDaySpec runs the end of day job at 23:59:30 UTC.
const endOfDaySpec = "30 59 23 * * *"

// This is a compile-time check that Writer implements the io.Writer interface.
var _ io.Writer = (*Writer)(nil)

// Writer satisfies the io.Writer interface and writes to a daily file.
type Writer struct {
	mutex     sync.Mutex
	clock     clock.Clock
	directory string
	prefix    string
	suffix    string
	// readyDirectory is where finished files go.  If empty they stay put.
	readyDirectory string
	// quiet is true if writes around midnight are dropped.
	quiet bool

	currentYYYYMMDD string   // The datestamp of the open file.
	file            *os.File // The current file (nil if not logging).
	cronjob         *cron.Cron
	logger          *slog.Logger

	// A stream of failures is only logged once.
	reportingWriteErrors bool
}

// NewCaptureWriter creates a Writer for data files in the given directory
// and starts the end of day job.  The caller should Close it when finished.
func NewCaptureWriter(directory string, logger *slog.Logger) (*Writer, error) {
	writer := newCaptureWriterWithClock(clock.NewSystemClock(), directory, logger)
	cr := cron.NewWithLocation(time.UTC)
	if err := cr.AddFunc(endOfDaySpec, writer.EndOfDay); err != nil {
		return nil, err
	}
	writer.cronjob = cr
	cr.Start()
	return writer, nil
}

// newCaptureWriterWithClock creates a capture Writer with a supplied clock
// and no cron job.  (This is used for testing.)
func newCaptureWriterWithClock(clk clock.Clock, directory string, logger *slog.Logger) *Writer {
	return &Writer{
		clock:                clk,
		directory:            directory,
		prefix:               "data.",
		suffix:               ".ubx",
		readyDirectory:       filepath.Join(directory, ReadyDirectoryName),
		quiet:                true,
		logger:               orDiscard(logger),
		reportingWriteErrors: true,
	}
}

// NewEventLog creates a Writer for an event log, for example
// "rtkpostd.20200214.log".  It writes all day and leaves old files where
// they are.
func NewEventLog(directory, name string) *Writer {
	return NewEventLogWithClock(clock.NewSystemClock(), directory, name)
}

// NewEventLogWithClock is NewEventLog with a supplied clock.
func NewEventLogWithClock(clk clock.Clock, directory, name string) *Writer {
	return &Writer{
		clock:     clk,
		directory: directory,
		prefix:    name + ".",
		suffix:    ".log",
		// An event log can't report its own failures.
		logger:               slog.New(slog.NewTextHandler(io.Discard, nil)),
		reportingWriteErrors: true,
	}
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return logger
}

// Write writes the buffer to the daily file, creating the file at the start
// of each day.
func (w *Writer) Write(buffer []byte) (int, error) {
	// Avoid a race with EndOfDay.
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if !w.loggingAllowed() {
		// We have reached end of day and should not be logging.
		if w.file != nil {
			// On the first call after end of day, close the file.
			w.closeFile()
		}
		// We don't log anything but we return the buffer length so that
		// caller doesn't think there has been an error.
		return len(buffer), nil
	}

	yyyymmdd := w.todayYYYYMMDD()
	if w.file == nil || yyyymmdd != w.currentYYYYMMDD {
		// We have just started up or the day has rolled over.  Create
		// today's file.
		if w.file != nil {
			w.closeFile()
		}
		file, err := openFile(filepath.Join(w.directory, w.Filename(yyyymmdd)))
		if err != nil {
			w.reportWriteError(err)
			return 0, err
		}
		w.currentYYYYMMDD = yyyymmdd
		w.file = file
	}

	n, err := w.file.Write(buffer)
	if err != nil {
		w.reportWriteError(err)
		return n, err
	}
	w.reportingWriteErrors = true // start logging write failures
	return n, nil
}

func (w *Writer) reportWriteError(err error) {
	if w.reportingWriteErrors {
		w.reportingWriteErrors = false // stop logging write failures
		w.logger.Error("write to daily file failed", "error", err)
	}
}

// EndOfDay saves the day's file.  It's run by the cron job soon after
// logging is disabled at the end of the day, so it doesn't clash with a
// call of Write.  If it's delayed for some reason the mutex prevents a
// race.  In the worst case, the file will not be rolled over and will
// contain data from more than one day.
func (w *Writer) EndOfDay() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.loggingAllowed() {
		w.logger.Warn("end of day job run when logging is allowed")
		return
	}
	w.closeFile()
}

// Close stops the end of day job and closes the current file, leaving it
// in place.  A restart on the same day appends to it.
func (w *Writer) Close() error {
	if w.cronjob != nil {
		w.cronjob.Stop()
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

// closeFile closes any open file and saves it.  It does not set the mutex,
// so it should ONLY be called by another method which does.
func (w *Writer) closeFile() {
	if w.file == nil {
		return
	}
	name := w.file.Name()
	if err := w.file.Close(); err != nil {
		w.logger.Warn("error while closing daily file - continuing", "file", name, "error", err)
	}
	w.file = nil
	if w.readyDirectory != "" {
		w.save(name)
	}
}

// save moves the named file into the ready directory.
func (w *Writer) save(name string) {
	if err := os.MkdirAll(w.readyDirectory, 0755); err != nil {
		w.logger.Error("cannot create directory", "directory", w.readyDirectory, "error", err)
		return
	}
	target := filepath.Join(w.readyDirectory, filepath.Base(name))
	if err := os.Rename(name, target); err != nil {
		w.logger.Error("failed to move daily file", "file", name, "directory", w.readyDirectory, "error", err)
		return
	}
	w.logger.Info("daily file ready", "file", target)
}

// PushOldFiles moves any data files from earlier days into the ready
// directory.  They are left behind if the program was not running at
// midnight.  It returns the names of the files moved.
func (w *Writer) PushOldFiles() ([]string, error) {
	if w.readyDirectory == "" {
		return nil, errors.New("this writer has no ready directory")
	}
	w.mutex.Lock()
	defer w.mutex.Unlock()

	today := w.Filename(w.todayYYYYMMDD())
	entries, err := os.ReadDir(w.directory)
	if err != nil {
		return nil, fmt.Errorf("cannot open directory %s: %w", w.directory, err)
	}

	var moved []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || name == today {
			continue
		}
		if !strings.HasPrefix(name, w.prefix) || !strings.HasSuffix(name, w.suffix) {
			continue
		}
		w.save(filepath.Join(w.directory, name))
		moved = append(moved, name)
	}
	return moved, nil
}

// Filename returns the name of the file for the given day, for example
// "data.20200214.ubx".
func (w *Writer) Filename(yyyymmdd string) string {
	return w.prefix + yyyymmdd + w.suffix
}

// todayYYYYMMDD returns today's date in the UTC timezone in yyyymmdd format.
func (w *Writer) todayYYYYMMDD() string {
	return w.clock.Now().In(time.UTC).Format("20060102")
}

// loggingAllowed returns true if logging should be enabled, false
// otherwise.  A quiet Writer logs all day except for one minute either side
// of midnight UTC.
func (w *Writer) loggingAllowed() bool {
	if !w.quiet {
		return true
	}
	nowUTC := w.clock.Now().In(time.UTC)
	if nowUTC.Hour() == 0 && nowUTC.Minute() == 0 {
		return false
	}
	if nowUTC.Hour() == 23 && nowUTC.Minute() == 59 {
		return false
	}
	return true
}

// openFile either creates and opens the file or, if it already exists,
// opens it in append mode.
func openFile(name string) (*os.File, error) {
	return os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}
