// The handler package reads a stream of bytes from a u-blox GNSS receiver
// and splits it into UBX messages.
//
//	decoder := handler.NewDecoder(reader, logger)
//	for {
//	    message, err := decoder.Next()
//	    if err != nil {
//	        break // io.EOF or a *TruncatedStreamError at the end of the input.
//	    }
//	    ...
//	}
//
// A UBX frame is two sync bytes 0xb5 0x62, a class byte, an ID byte, a
// two-byte little-endian payload length, the payload and a two-byte
// checksum.  The receiver may also be producing other data such as NMEA
// sentences, so the input is a mixture of UBX frames and other stuff.  The
// decoder returns the other stuff as a message of kind KindNonUBX.
//
// Finding the sync bytes doesn't guarantee the start of a frame.  They may
// turn up by chance inside a frame or in the middle of some binary junk
// written when the receiver was powered down.  The decoder only knows it has
// a frame when it has read the whole thing and checked the checksum.  If the
// checksum is wrong, it pushes back everything after the sync bytes and
// looks for the next pair, so a corrupted frame costs that frame and nothing
// else.  If the input ends part way through a frame, the same thing happens
// and the sequence ends with a *TruncatedStreamError instead of io.EOF.
//
// Problems with individual frames never stop the decoder.  They are logged
// and counted in the Stats.
//
// The decoder decodes NAV-PVT, NAV-POSLLH, RXM-RAW and RXM-SFRB messages.
// Valid frames of other types are returned as KindUnknown.  NAV-PVT messages
// that don't carry a usable 3D fix are dropped (and counted) unless
// KeepUnusableFixes is set.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/goblimey/go-rtkpost/ubx/frame"
	"github.com/goblimey/go-rtkpost/ubx/navposllh"
	"github.com/goblimey/go-rtkpost/ubx/navpvt"
	"github.com/goblimey/go-rtkpost/ubx/pushback"
	"github.com/goblimey/go-rtkpost/ubx/rxmraw"
	"github.com/goblimey/go-rtkpost/ubx/rxmsfrb"
	"github.com/goblimey/go-rtkpost/ubx/utils"
)

// maxNonUBXLength is the longest run of non-UBX data returned as one message.
const maxNonUBXLength = 4096

// Stats counts what the decoder has seen.
type Stats struct {
	// Frames is the number of frames with a good checksum.
	Frames int
	// Fixes is the number of usable NAV-PVT fixes.
	Fixes int
	// RejectedFixes is the number of NAV-PVT messages without a usable fix.
	RejectedFixes int
	// Unknown is the number of valid frames of types not decoded.
	Unknown int
	// ChecksumErrors is the number of candidate frames that failed the
	// checksum test.
	ChecksumErrors int
	// FormatErrors is the number of frames whose length didn't fit.
	FormatErrors int
	// NonUBXBytes is the number of bytes returned as non-UBX data.
	NonUBXBytes int
	// Truncated is true if the input ended part way through a frame.
	Truncated bool
}

// Decoder splits a byte stream into messages.
type Decoder struct {
	// KeepUnusableFixes makes the decoder return NAV-PVT messages that don't
	// carry a usable fix.  By default they are dropped.
	KeepUnusableFixes bool

	source *pushback.ByteSource
	logger *slog.Logger
	stats  Stats

	// partial is the length of the incomplete frame found at the end of
	// the input, if any.
	partial int

	// err is set when the input is exhausted.  Once set, it's returned by
	// every call of Next.
	err error
}

// NewDecoder creates a decoder reading from r.  If logger is nil, nothing is
// logged.
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	return newDecoder(pushback.NewReader(r), logger)
}

// NewChannelDecoder creates a decoder reading from a channel of bytes.  The
// input ends when the channel is closed.
func NewChannelDecoder(ch <-chan byte, logger *slog.Logger) *Decoder {
	return newDecoder(pushback.New(ch), logger)
}

func newDecoder(source *pushback.ByteSource, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Decoder{source: source, logger: logger}
}

// Stats returns the counts so far.
func (d *Decoder) Stats() Stats {
	return d.stats
}

// Next returns the next message.  At the end of the input it returns io.EOF,
// or a *TruncatedStreamError if the input ended part way through a frame.
// Any other error comes from the underlying reader.
func (d *Decoder) Next() (*Message, error) {
	for {
		if d.err != nil {
			return nil, d.err
		}
		message, err := d.fetchNextMessage()
		if err != nil {
			d.err = err
			return nil, err
		}
		if message != nil {
			return message, nil
		}
		// The bytes read were discarded or pushed back.  Try again.
	}
}

// HandleMessages reads messages until the input is exhausted and writes them
// to ch, then closes ch.  Reaching the end of the input, even part way through
// a frame, is not an error.
func (d *Decoder) HandleMessages(ch chan<- Message) error {
	defer close(ch)
	for {
		message, err := d.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		ch <- *message
	}
}

// ReadFixes reads r to the end and returns the usable NAV-PVT fixes in the
// order they appear, plus the decoder's counts.  It stops early if ctx is
// cancelled.
func ReadFixes(ctx context.Context, r io.Reader, logger *slog.Logger) ([]*navpvt.Message, Stats, error) {
	decoder := NewDecoder(r, logger)
	fixes := make([]*navpvt.Message, 0)
	for {
		if err := ctx.Err(); err != nil {
			return fixes, decoder.Stats(), err
		}
		message, err := decoder.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fixes, decoder.Stats(), nil
			}
			return fixes, decoder.Stats(), err
		}
		if message.Kind == KindNavPVT && message.NavPVT.Usable() {
			fixes = append(fixes, message.NavPVT)
		}
	}
}

// fetchNextMessage reads the next message.  It returns nil and no error if it
// read something that it discarded or pushed back.
func (d *Decoder) fetchNextMessage() (*Message, error) {

	// Phase 1: eat bytes until we see the sync pair.
	stuff, synced, eatError := d.eatUntilSync()

	if len(stuff) > 0 {
		// Some non-UBX data.  If it was followed by the sync pair, push that
		// back so that the next call sees it.  If it was followed by the end
		// of the input, the next call will get the error again.
		if synced {
			d.source.PushBack(utils.SyncChar1, utils.SyncChar2)
		}
		d.stats.NonUBXBytes += len(stuff)
		return NewNonUBX(stuff), nil
	}

	if eatError != nil {
		return nil, d.endOfInput(eatError)
	}

	// Phase 2: we have the sync pair.  Read the rest of the header to get
	// the payload length.
	frameBytes := make([]byte, 0, utils.HeaderLength)
	frameBytes = append(frameBytes, utils.SyncChar1, utils.SyncChar2)
	frameBytes, err := d.fill(frameBytes, utils.HeaderLength)
	if err != nil {
		d.truncate(frameBytes)
		return nil, nil
	}

	class, id := frameBytes[2], frameBytes[3]
	length := frame.PayloadLength(frameBytes)
	if length > utils.MaxPayloadLength {
		// Either not a frame or a corrupt header.
		d.stats.FormatErrors++
		d.logger.Debug("impossible payload length - resynchronising",
			"message", utils.MessageName(class, id), "length", length)
		d.source.PushBack(frameBytes[2:]...)
		return nil, nil
	}

	// Phase 3: read the payload and the checksum.
	frameBytes, err = d.fill(frameBytes, utils.FrameOverhead+length)
	if err != nil {
		d.truncate(frameBytes)
		return nil, nil
	}

	// Phase 4: check the checksum.
	f, parseError := frame.Parse(frameBytes)
	if parseError != nil {
		d.stats.ChecksumErrors++
		d.logger.Debug("bad frame - resynchronising", "error", parseError)
		d.source.PushBack(frameBytes[2:]...)
		return nil, nil
	}

	d.stats.Frames++

	// Phase 5: decode the payload.
	return d.decode(f, frameBytes), nil
}

// eatUntilSync reads bytes until it finds the sync pair, the input is
// exhausted or it has read maxNonUBXLength bytes.  It returns the bytes read
// before the sync pair and whether the pair was found.
func (d *Decoder) eatUntilSync() ([]byte, bool, error) {
	stuff := make([]byte, 0)
	for len(stuff) < maxNonUBXLength {
		b, err := d.source.GetNextByte()
		if err != nil {
			return stuff, false, err
		}
		if b != utils.SyncChar1 {
			stuff = append(stuff, b)
			continue
		}

		next, err := d.source.GetNextByte()
		if err != nil {
			stuff = append(stuff, b)
			return stuff, false, err
		}
		if next == utils.SyncChar2 {
			return stuff, true, nil
		}

		// The next byte may be the first sync byte, so look at it again.
		stuff = append(stuff, b)
		d.source.PushBack(next)
	}

	return stuff, false, nil
}

// fill reads bytes into buffer until it's n bytes long.
func (d *Decoder) fill(buffer []byte, n int) ([]byte, error) {
	for len(buffer) < n {
		b, err := d.source.GetNextByte()
		if err != nil {
			return buffer, err
		}
		buffer = append(buffer, b)
	}
	return buffer, nil
}

// truncate handles the input ending part way through a frame.  It pushes
// back what followed the sync pair so that it can be returned as non-UBX
// data (or searched for another sync pair).
func (d *Decoder) truncate(frameBytes []byte) {
	d.stats.Truncated = true
	d.partial = len(frameBytes)
	d.logger.Debug("input ended part way through a frame", "bytes", len(frameBytes))
	d.source.PushBack(frameBytes[2:]...)
}

// endOfInput produces the error that ends the message sequence.
func (d *Decoder) endOfInput(err error) error {
	if errors.Is(err, io.EOF) && d.stats.Truncated {
		return &TruncatedStreamError{Partial: d.partial}
	}
	return err
}

// decode creates a message from a frame with a good checksum.  It returns nil
// if the frame is dropped.
func (d *Decoder) decode(f *frame.Frame, raw []byte) *Message {
	message := Message{Class: f.Class, ID: f.ID, RawData: raw}

	var decodeError error
	switch {
	case f.Class == utils.ClassNAV && f.ID == utils.IDNavPVT:
		message.Kind = KindNavPVT
		message.NavPVT, decodeError = navpvt.GetMessage(f.Payload)
		if decodeError == nil && !message.NavPVT.Usable() {
			d.stats.RejectedFixes++
			if !d.KeepUnusableFixes {
				return nil
			}
		} else if decodeError == nil {
			d.stats.Fixes++
		}

	case f.Class == utils.ClassNAV && f.ID == utils.IDNavPosLLH:
		message.Kind = KindNavPosLLH
		message.NavPosLLH, decodeError = navposllh.GetMessage(f.Payload)

	case f.Class == utils.ClassRXM && f.ID == utils.IDRxmRaw:
		message.Kind = KindRxmRaw
		message.RxmRaw, decodeError = rxmraw.GetMessage(f.Payload)

	case f.Class == utils.ClassRXM && f.ID == utils.IDRxmSfrb:
		message.Kind = KindRxmSfrb
		message.RxmSfrb, decodeError = rxmsfrb.GetMessage(f.Payload)

	default:
		message.Kind = KindUnknown
		d.stats.Unknown++
	}

	if decodeError != nil {
		// The checksum is good so the frame really is what it says it is,
		// but the payload doesn't fit.  Pushing it back would be pointless.
		d.stats.FormatErrors++
		formatError := &FrameFormatError{Class: f.Class, ID: f.ID, Length: len(f.Payload), Err: decodeError}
		d.logger.Warn("discarding frame", "error", formatError)
		return nil
	}

	return &message
}
