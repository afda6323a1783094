// The utils package holds the constants and small helpers shared by the UBX
// packages.
package utils

import (
	"encoding/binary"
	"fmt"
	"time"
)

// The first two bytes of every UBX frame.
const SyncChar1 = 0xb5
const SyncChar2 = 0x62

// HeaderLength is the number of bytes before the payload: two sync bytes,
// class, ID and a two-byte little-endian payload length.
const HeaderLength = 6

// ChecksumLength is the number of checksum bytes at the end of a frame.
const ChecksumLength = 2

// FrameOverhead is the size of a frame with an empty payload.
const FrameOverhead = HeaderLength + ChecksumLength

// MaxPayloadLength is the largest payload the decoder will believe.  The
// length field can hold 65535 but no message in use is anything like that
// big, and a garbage length would otherwise make the decoder swallow a large
// chunk of good data before discovering the checksum is wrong.
const MaxPayloadLength = 8192

// Message classes.
const ClassNAV = 0x01
const ClassRXM = 0x02

// Message IDs within their class.
const IDNavPosLLH = 0x02
const IDNavPVT = 0x07
const IDRxmRaw = 0x10
const IDRxmSfrb = 0x11

// DateLayout is the layout used to display times.
const DateLayout = "2006-01-02 15:04:05.000 MST"

// LocationUTC is the UTC timezone.
var LocationUTC = time.UTC

// GetUint16 gets a little-endian unsigned 16-bit value from b at offset pos.
func GetUint16(b []byte, pos int) uint16 {
	return binary.LittleEndian.Uint16(b[pos:])
}

// GetUint32 gets a little-endian unsigned 32-bit value from b at offset pos.
func GetUint32(b []byte, pos int) uint32 {
	return binary.LittleEndian.Uint32(b[pos:])
}

// GetInt16 gets a little-endian signed 16-bit value from b at offset pos.
func GetInt16(b []byte, pos int) int16 {
	return int16(GetUint16(b, pos))
}

// GetInt32 gets a little-endian signed 32-bit value from b at offset pos.
func GetInt32(b []byte, pos int) int32 {
	return int32(GetUint32(b, pos))
}

// PutUint16 writes v into b at pos, little-endian.
func PutUint16(b []byte, pos int, v uint16) {
	binary.LittleEndian.PutUint16(b[pos:], v)
}

// PutUint32 writes v into b at pos, little-endian.
func PutUint32(b []byte, pos int, v uint32) {
	binary.LittleEndian.PutUint32(b[pos:], v)
}

// PutInt32 writes v into b at pos, little-endian.
func PutInt32(b []byte, pos int, v int32) {
	PutUint32(b, pos, uint32(v))
}

// PutInt16 writes v into b at pos, little-endian.
func PutInt16(b []byte, pos int, v int16) {
	PutUint16(b, pos, uint16(v))
}

// MessageName gives the conventional name of a class/ID pair, for example
// "NAV-PVT".  Pairs this system doesn't know are shown in hex.
func MessageName(class, id byte) string {
	switch {
	case class == ClassNAV && id == IDNavPVT:
		return "NAV-PVT"
	case class == ClassNAV && id == IDNavPosLLH:
		return "NAV-POSLLH"
	case class == ClassRXM && id == IDRxmRaw:
		return "RXM-RAW"
	case class == ClassRXM && id == IDRxmSfrb:
		return "RXM-SFRB"
	default:
		return fmt.Sprintf("0x%02x-0x%02x", class, id)
	}
}

// ScaledDegrees converts an angle in units of 1e-7 degrees to degrees.
func ScaledDegrees(v int32) float64 {
	return float64(v) * 1e-7
}
