// The frame package handles the UBX message frame: two sync bytes, a message
// class, a message ID, a two-byte little-endian payload length, the payload
// and a two-byte checksum.
//
//	0xb5 0x62 class id lenLo lenHi payload... ckA ckB
//
// The checksum is the 8-bit Fletcher algorithm run over everything from the
// class byte to the end of the payload.
package frame

import (
	"errors"
	"fmt"

	"github.com/goblimey/go-rtkpost/ubx/utils"
)

// ErrShortFrame is returned by Parse when the data is too short to hold the
// frame that its header describes.
var ErrShortFrame = errors.New("frame: incomplete frame")

// ErrNoSync is returned by Parse when the data doesn't start with the sync
// bytes.
var ErrNoSync = errors.New("frame: missing sync bytes")

// Frame is a UBX message frame.
type Frame struct {
	Class     byte
	ID        byte
	Payload   []byte
	ChecksumA byte
	ChecksumB byte
}

// ChecksumMismatchError is returned when the checksum carried by a frame
// doesn't match the checksum calculated over its contents.
type ChecksumMismatchError struct {
	Class, ID    byte
	WantA, WantB byte
	GotA, GotB   byte
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("frame: checksum mismatch in %s - calculated 0x%02x%02x, frame carries 0x%02x%02x",
		utils.MessageName(e.Class, e.ID), e.WantA, e.WantB, e.GotA, e.GotB)
}

// New creates a frame with the given contents and the correct checksum.
func New(class, id byte, payload []byte) *Frame {
	a, b := Checksum(class, id, payload)
	return &Frame{Class: class, ID: id, Payload: payload, ChecksumA: a, ChecksumB: b}
}

// Checksum calculates the checksum of a frame with the given contents.
func Checksum(class, id byte, payload []byte) (byte, byte) {
	var a, b byte
	add := func(c byte) {
		a += c
		b += a
	}
	add(class)
	add(id)
	add(byte(len(payload)))
	add(byte(len(payload) >> 8))
	for _, c := range payload {
		add(c)
	}
	return a, b
}

// ChecksumOK returns true if the frame's checksum matches its contents.
func (f *Frame) ChecksumOK() bool {
	a, b := Checksum(f.Class, f.ID, f.Payload)
	return a == f.ChecksumA && b == f.ChecksumB
}

// Encode produces the frame in its binary form.
func (f *Frame) Encode() []byte {
	result := make([]byte, utils.FrameOverhead+len(f.Payload))
	result[0] = utils.SyncChar1
	result[1] = utils.SyncChar2
	result[2] = f.Class
	result[3] = f.ID
	utils.PutUint16(result, 4, uint16(len(f.Payload)))
	copy(result[utils.HeaderLength:], f.Payload)
	result[len(result)-2] = f.ChecksumA
	result[len(result)-1] = f.ChecksumB
	return result
}

// Encode produces a binary frame with the given contents and the correct
// checksum.
func Encode(class, id byte, payload []byte) []byte {
	return New(class, id, payload).Encode()
}

// Name returns the conventional name of the frame's message type.
func (f *Frame) Name() string {
	return utils.MessageName(f.Class, f.ID)
}

// String returns a one-line summary of the frame.
func (f *Frame) String() string {
	return fmt.Sprintf("%s length %d", f.Name(), len(f.Payload))
}

// PayloadLength gets the payload length from the header of a binary frame.
// The header must be complete.
func PayloadLength(header []byte) int {
	return int(utils.GetUint16(header, 4))
}

// Parse creates a Frame from the start of a binary frame.  Bytes beyond the
// end of the frame are ignored.  If the checksum is wrong, BOTH the frame and a
// *ChecksumMismatchError are returned, so the caller can report what it found.
func Parse(b []byte) (*Frame, error) {
	if len(b) < 2 || b[0] != utils.SyncChar1 || b[1] != utils.SyncChar2 {
		return nil, ErrNoSync
	}
	if len(b) < utils.HeaderLength {
		return nil, ErrShortFrame
	}
	length := PayloadLength(b)
	if len(b) < utils.FrameOverhead+length {
		return nil, ErrShortFrame
	}

	end := utils.HeaderLength + length
	payload := make([]byte, length)
	copy(payload, b[utils.HeaderLength:end])
	f := Frame{
		Class:     b[2],
		ID:        b[3],
		Payload:   payload,
		ChecksumA: b[end],
		ChecksumB: b[end+1],
	}

	wantA, wantB := Checksum(f.Class, f.ID, f.Payload)
	if wantA != f.ChecksumA || wantB != f.ChecksumB {
		return &f, &ChecksumMismatchError{
			Class: f.Class, ID: f.ID,
			WantA: wantA, WantB: wantB,
			GotA: f.ChecksumA, GotB: f.ChecksumB,
		}
	}

	return &f, nil
}
