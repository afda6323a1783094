// The rxmraw package handles UBX-RXM-RAW messages (class 0x02, ID 0x10), the
// raw measurement data that convbin turns into RINEX observations.  The
// header is decoded.  The per-satellite blocks are kept as they are.
package rxmraw

import (
	"fmt"

	"github.com/goblimey/go-rtkpost/ubx/utils"
)

// HeaderLength is the length of the fixed part of the payload.
const HeaderLength = 8

// BlockLength is the length of the measurement block for one satellite.
const BlockLength = 24

// Message is a decoded RXM-RAW message.
type Message struct {
	// RcvTow is the receiver time of week in ms.
	RcvTow int32 `json:"rcv_tow"`
	// Week is the GPS week number.
	Week int16 `json:"week"`
	// NumSV is the number of satellites following.
	NumSV uint8 `json:"num_sv"`
	// Blocks holds one opaque measurement block per satellite.
	Blocks [][]byte `json:"-"`
}

// GetMessage decodes an RXM-RAW payload.  The payload length must match the
// number of satellites given in the header.
func GetMessage(payload []byte) (*Message, error) {
	if len(payload) < HeaderLength {
		return nil, fmt.Errorf("expected at least %d bytes in an RXM-RAW payload, got %d",
			HeaderLength, len(payload))
	}

	m := Message{
		RcvTow: utils.GetInt32(payload, 0),
		Week:   utils.GetInt16(payload, 4),
		NumSV:  payload[6],
	}

	want := HeaderLength + int(m.NumSV)*BlockLength
	if len(payload) != want {
		return nil, fmt.Errorf("expected %d bytes in an RXM-RAW payload with %d satellites, got %d",
			want, m.NumSV, len(payload))
	}

	m.Blocks = make([][]byte, m.NumSV)
	for i := range m.Blocks {
		start := HeaderLength + i*BlockLength
		m.Blocks[i] = append([]byte(nil), payload[start:start+BlockLength]...)
	}

	return &m, nil
}

// Encode produces the payload carrying the message.  Blocks must each be
// BlockLength bytes.
func (m *Message) Encode() []byte {
	b := make([]byte, HeaderLength, HeaderLength+len(m.Blocks)*BlockLength)
	utils.PutInt32(b, 0, m.RcvTow)
	utils.PutInt16(b, 4, m.Week)
	b[6] = byte(len(m.Blocks))
	for _, block := range m.Blocks {
		b = append(b, block...)
	}
	return b
}

// String returns a readable version of the message.
func (m *Message) String() string {
	return fmt.Sprintf("week %d rcvTow %d satellites %d\n", m.Week, m.RcvTow, m.NumSV)
}
