// displayubx reads UBX data from a file or stdin and writes a readable
// version of the messages to the standard output channel, followed by a
// count of each message type.
//
// UBX is the binary protocol of u-blox GNSS receivers.  The tool decodes
// the message types that the post-processing uses: NAV-PVT and NAV-POSLLH,
// which carry the receiver's own fixes, and RXM-RAW and RXM-SFRB, which
// carry the raw observations and navigation subframes that RTKLIB turns
// into RINEX.  Each message is shown as a hex dump followed by the decoded
// fields, for example:
//
//	NAV-PVT, frame length 100
//	00000000  b5 62 01 07 5c 00 80 2d  06 12 e1 07 09 06 0c 00  |.b..\..-........|
//	...
//
// Other UBX frames are shown as a hex dump only.  Receivers often mix NMEA
// sentences with the UBX output and these are shown as quoted text.
//
// The tool is useful when you have a misbehaving receiver and want to see
// what it's sending.  A receiver typically sends a batch of messages every
// second, so the tool produces A LOT of output.
//
// Usage:
//
//	displayubx file
//
//	displayubx - # take input from the standard input channel.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/goblimey/go-rtkpost/apps/appcore"
	"github.com/goblimey/go-rtkpost/jsonconfig"
	ubx "github.com/goblimey/go-rtkpost/ubx/handler"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if len(os.Args) < 2 {
		logger.Error(fmt.Sprintf("usage: %s file", os.Args[0]))
		os.Exit(2)
	}

	reader, err := openFile(os.Args[1])
	if err != nil {
		logger.Error("cannot open the input", "file", os.Args[1], "error", err)
		os.Exit(1)
	}
	defer reader.Close()

	if err := HandleMessages(context.Background(), reader, os.Stdout, logger); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// openFile opens the named file, or returns stdin if the name is "-".
func openFile(name string) (io.ReadCloser, error) {
	if name == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(name)
}

// HandleMessages decodes the input and writes the display.
func HandleMessages(ctx context.Context, reader io.Reader, writer io.Writer, logger *slog.Logger) error {
	// The zero config has an EOF timeout of zero, which stops the relay
	// when the input is exhausted.
	var config jsonconfig.Config

	if _, err := io.WriteString(writer, "UBX data\n\n"); err != nil {
		return err
	}

	messageChan := make(chan ubx.Message, 2)
	done := make(chan map[string]int)
	go func() {
		done <- DisplayMessages(messageChan, writer)
	}()

	err := appcore.RelayUntilEOF(ctx, bufio.NewReader(reader), &config,
		[]chan ubx.Message{messageChan}, nil, logger)
	close(messageChan)
	counts := <-done
	if err != nil {
		return err
	}
	return writeCounts(writer, counts)
}

// DisplayMessages receives messages from the given channel, writes a
// readable display of each and returns the number of each type seen.  It
// runs until the channel is closed.  After a write failure it carries on
// draining the channel.
func DisplayMessages(messageChan <-chan ubx.Message, writer io.Writer) map[string]int {
	counts := make(map[string]int)
	writing := true
	for message := range messageChan {
		counts[message.Name()]++
		if !writing {
			continue
		}
		// The result is very verbose!
		if _, err := io.WriteString(writer, message.String()+"\n"); err != nil {
			writing = false
		}
	}
	return counts
}

func writeCounts(writer io.Writer, counts map[string]int) error {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	if _, err := io.WriteString(writer, "message counts:\n"); err != nil {
		return err
	}
	for _, name := range names {
		if _, err := fmt.Fprintf(writer, "%-12s %6d\n", name, counts[name]); err != nil {
			return err
		}
	}
	return nil
}
