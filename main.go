// go-rtkpost reads UBX data from stdin and writes a summary to stdout: the
// number of messages of each type and the span of the usable fixes.  It's a
// quick way to check a capture file before post-processing it:
//
//	go-rtkpost < data.20170906.ubx
//
// See the apps directory for the tools that do the real work.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	ubx "github.com/goblimey/go-rtkpost/ubx/handler"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := summarise(os.Stdin, os.Stdout, logger); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// summarise decodes the input to the end and writes the counts.  A frame
// truncated by the end of the input is not an error.
func summarise(r io.Reader, w io.Writer, logger *slog.Logger) error {
	messageCount := make(map[string]int)
	var first, last time.Time

	decoder := ubx.NewDecoder(r, logger)
	for {
		message, err := decoder.Next()
		if err != nil {
			var truncated *ubx.TruncatedStreamError
			if errors.Is(err, io.EOF) || errors.As(err, &truncated) {
				break
			}
			return err
		}
		messageCount[message.Name()]++

		if message.Kind == ubx.KindNavPVT && message.NavPVT.Usable() {
			t := message.NavPVT.Timestamp()
			if first.IsZero() || t.Before(first) {
				first = t
			}
			if t.After(last) {
				last = t
			}
		}
	}

	names := make([]string, 0, len(messageCount))
	for name := range messageCount {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "message type %-12s %6d\n", name, messageCount[name])
	}

	stats := decoder.Stats()
	fmt.Fprintf(w, "checksum errors %d\n", stats.ChecksumErrors)
	if first.IsZero() {
		fmt.Fprintln(w, "no usable fixes")
		return nil
	}
	fmt.Fprintf(w, "usable fixes %d from %s to %s\n", stats.Fixes,
		first.Format(time.RFC3339), last.Format(time.RFC3339))
	return nil
}
