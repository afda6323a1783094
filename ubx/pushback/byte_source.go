// The pushback package supplies a stream of bytes that the consumer can
// push bytes back onto.  The UBX decoder uses it to resynchronise: when a
// candidate frame turns out to be bad, everything after its first sync byte
// is pushed back and scanned again.
package pushback

import (
	"bufio"
	"errors"
	"io"
)

// ErrNilSource is returned when the ByteSource has nothing to read from.
var ErrNilSource = errors.New("pushback: source is nil")

// ByteSource is a source of bytes with pushback.  The source is either a
// channel of bytes or a reader.  When it's exhausted, GetNextByte returns
// io.EOF.
type ByteSource struct {
	// pushBackBuffer contains any bytes that have been pushed back, in
	// the order that they will be returned.
	pushBackBuffer []byte

	ch     <-chan byte
	reader io.ByteReader
}

// New creates a ByteSource that reads from the given channel.  The
// channel is exhausted when it's closed.
func New(ch <-chan byte) *ByteSource {
	return &ByteSource{ch: ch}
}

// NewReader creates a ByteSource that reads from r.
func NewReader(r io.Reader) *ByteSource {
	if r == nil {
		return &ByteSource{}
	}
	br, ok := r.(io.ByteReader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ByteSource{reader: br}
}

// get reads the next byte from the underlying source, ignoring any pushed
// back bytes.
func (bs *ByteSource) get() (byte, error) {
	switch {
	case bs.reader != nil:
		return bs.reader.ReadByte()
	case bs.ch != nil:
		b, more := <-bs.ch
		if !more {
			return 0, io.EOF
		}
		return b, nil
	default:
		return 0, ErrNilSource
	}
}

// GetNextByte returns the first pushed back byte if there is one, otherwise
// the next byte from the source.
func (bs *ByteSource) GetNextByte() (byte, error) {
	if len(bs.pushBackBuffer) > 0 {
		b := bs.pushBackBuffer[0]
		bs.pushBackBuffer = bs.pushBackBuffer[1:]
		return b, nil
	}
	return bs.get()
}

// PushBack pushes back some bytes.  They will be returned by the following
// calls of GetNextByte in the order given here, ahead of anything pushed back
// earlier and not yet consumed.
func (bs *ByteSource) PushBack(b ...byte) {
	if len(b) == 0 {
		return
	}
	buffer := make([]byte, 0, len(b)+len(bs.pushBackBuffer))
	buffer = append(buffer, b...)
	buffer = append(buffer, bs.pushBackBuffer...)
	bs.pushBackBuffer = buffer
}

// Pending returns the number of pushed back bytes not yet consumed.
func (bs *ByteSource) Pending() int {
	return len(bs.pushBackBuffer)
}
