// The navposllh package handles UBX-NAV-POSLLH messages (class 0x01, ID
// 0x02), the geodetic position solution.  Older receivers send this instead
// of NAV-PVT.  It carries no fix type, so the decoder reports it but doesn't
// use it as a fix.
package navposllh

import (
	"fmt"

	"github.com/goblimey/go-rtkpost/ubx/utils"
)

// PayloadLength is the length of a NAV-POSLLH payload.
const PayloadLength = 28

// Message is a decoded NAV-POSLLH message.
type Message struct {
	// ITOW is the GPS time of week of the navigation epoch, in ms.
	ITOW uint32 `json:"itow"`
	// Lon and Lat are in units of 1e-7 degrees.
	Lon int32 `json:"lon"`
	Lat int32 `json:"lat"`
	// Heights and accuracies are in mm.
	Height int32  `json:"height"`
	HMSL   int32  `json:"hmsl"`
	HAcc   uint32 `json:"h_acc"`
	VAcc   uint32 `json:"v_acc"`
}

// GetMessage decodes a NAV-POSLLH payload.
func GetMessage(payload []byte) (*Message, error) {
	if len(payload) != PayloadLength {
		return nil, fmt.Errorf("expected %d bytes in a NAV-POSLLH payload, got %d",
			PayloadLength, len(payload))
	}

	m := Message{
		ITOW:   utils.GetUint32(payload, 0),
		Lon:    utils.GetInt32(payload, 4),
		Lat:    utils.GetInt32(payload, 8),
		Height: utils.GetInt32(payload, 12),
		HMSL:   utils.GetInt32(payload, 16),
		HAcc:   utils.GetUint32(payload, 20),
		VAcc:   utils.GetUint32(payload, 24),
	}
	return &m, nil
}

// Encode produces the payload carrying the message.
func (m *Message) Encode() []byte {
	b := make([]byte, PayloadLength)
	utils.PutUint32(b, 0, m.ITOW)
	utils.PutInt32(b, 4, m.Lon)
	utils.PutInt32(b, 8, m.Lat)
	utils.PutInt32(b, 12, m.Height)
	utils.PutInt32(b, 16, m.HMSL)
	utils.PutUint32(b, 20, m.HAcc)
	utils.PutUint32(b, 24, m.VAcc)
	return b
}

// String returns a readable version of the message.
func (m *Message) String() string {
	return fmt.Sprintf("iTOW %d lat %.7f lon %.7f height %.3f hMSL %.3f hAcc %d vAcc %d\n",
		m.ITOW, utils.ScaledDegrees(m.Lat), utils.ScaledDegrees(m.Lon),
		float64(m.Height)/1000, float64(m.HMSL)/1000, m.HAcc, m.VAcc)
}
