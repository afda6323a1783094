package handler

import (
	"encoding/hex"
	"fmt"

	"github.com/goblimey/go-rtkpost/ubx/navposllh"
	"github.com/goblimey/go-rtkpost/ubx/navpvt"
	"github.com/goblimey/go-rtkpost/ubx/rxmraw"
	"github.com/goblimey/go-rtkpost/ubx/rxmsfrb"
	"github.com/goblimey/go-rtkpost/ubx/utils"
)

// Kind says what a Message contains.
type Kind int

const (
	// KindNonUBX is a run of bytes found between frames, for example NMEA
	// sentences.
	KindNonUBX Kind = iota
	KindNavPVT
	KindNavPosLLH
	KindRxmRaw
	KindRxmSfrb
	// KindUnknown is a valid frame of a type this package doesn't decode.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNonUBX:
		return "non-UBX"
	case KindNavPVT:
		return "NAV-PVT"
	case KindNavPosLLH:
		return "NAV-POSLLH"
	case KindRxmRaw:
		return "RXM-RAW"
	case KindRxmSfrb:
		return "RXM-SFRB"
	case KindUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Message is one item from the input stream, either a decoded UBX frame or
// some data that isn't UBX.  Exactly one of the decoded fields is set,
// according to Kind.  For KindUnknown and KindNonUBX none is.
type Message struct {
	Kind Kind

	// Class and ID are the message class and ID.  Both are zero for
	// non-UBX data.
	Class byte
	ID    byte

	// RawData is the message frame in its original binary form, including
	// the sync bytes and the checksum, or the non-UBX bytes.
	RawData []byte

	NavPVT    *navpvt.Message
	NavPosLLH *navposllh.Message
	RxmRaw    *rxmraw.Message
	RxmSfrb   *rxmsfrb.Message
}

// NewNonUBX creates a message holding data that isn't UBX.
func NewNonUBX(data []byte) *Message {
	return &Message{Kind: KindNonUBX, RawData: data}
}

// Name returns the conventional name of the message type.
func (m *Message) Name() string {
	if m.Kind == KindNonUBX {
		return m.Kind.String()
	}
	return utils.MessageName(m.Class, m.ID)
}

// String returns a readable version of the message: a heading, a hex dump of
// the raw data and, if the message was decoded, the decoded version.
func (m *Message) String() string {
	display := fmt.Sprintf("%s, frame length %d\n", m.Name(), len(m.RawData))
	display += hex.Dump(m.RawData) + "\n"

	switch m.Kind {
	case KindNavPVT:
		display += m.NavPVT.String()
	case KindNavPosLLH:
		display += m.NavPosLLH.String()
	case KindRxmRaw:
		display += m.RxmRaw.String()
	case KindRxmSfrb:
		display += m.RxmSfrb.String()
	case KindNonUBX:
		// The data may be readable, for example NMEA.
		display += fmt.Sprintf("%q\n", m.RawData)
	default:
		display += "(not decoded)\n"
	}

	return display
}
