// The rxmsfrb package handles UBX-RXM-SFRB messages (class 0x02, ID 0x11),
// the navigation subframe buffer.  convbin reads the broadcast ephemeris
// from these.
package rxmsfrb

import (
	"fmt"

	"github.com/goblimey/go-rtkpost/ubx/utils"
)

// NumWords is the number of 32-bit words in a subframe.
const NumWords = 10

// PayloadLength is the length of an RXM-SFRB payload.
const PayloadLength = 2 + 4*NumWords

// Message is a decoded RXM-SFRB message.
type Message struct {
	Channel uint8            `json:"chn"`
	SVID    uint8            `json:"svid"`
	Words   [NumWords]uint32 `json:"dwrd"`
}

// GetMessage decodes an RXM-SFRB payload.
func GetMessage(payload []byte) (*Message, error) {
	if len(payload) != PayloadLength {
		return nil, fmt.Errorf("expected %d bytes in an RXM-SFRB payload, got %d",
			PayloadLength, len(payload))
	}

	m := Message{Channel: payload[0], SVID: payload[1]}
	for i := range m.Words {
		m.Words[i] = utils.GetUint32(payload, 2+4*i)
	}
	return &m, nil
}

// Encode produces the payload carrying the message.
func (m *Message) Encode() []byte {
	b := make([]byte, PayloadLength)
	b[0] = m.Channel
	b[1] = m.SVID
	for i, w := range m.Words {
		utils.PutUint32(b, 2+4*i, w)
	}
	return b
}

// String returns a readable version of the message.
func (m *Message) String() string {
	return fmt.Sprintf("channel %d SV %d first word 0x%08x\n", m.Channel, m.SVID, m.Words[0])
}
