// The navpvt package handles UBX-NAV-PVT messages (class 0x01, ID 0x07), the
// receiver's navigation solution: time, position, velocity and their
// accuracies.
package navpvt

import (
	"fmt"
	"time"

	"github.com/goblimey/go-rtkpost/ubx/utils"
)

// PayloadLength is the length of the payload produced by u-blox 8 and later
// receivers.
const PayloadLength = 92

// LegacyPayloadLength is the length of the payload produced by older
// firmware.  The fields up to and including pDOP are the same.
const LegacyPayloadLength = 84

// Fix types.
const (
	NoFix             = 0
	DeadReckoningOnly = 1
	Fix2D             = 2
	Fix3D             = 3
	GNSSPlusDeadReck  = 4
	TimeOnly          = 5
)

// Bits in the flags field.
const (
	// FlagGNSSFixOK is set when the fix is within the configured limits.
	FlagGNSSFixOK = 0x01
	// FlagDiffSoln is set when differential corrections were applied.
	FlagDiffSoln = 0x02
)

// Bits in the valid field.
const (
	ValidDate = 0x01
	ValidTime = 0x02
)

// Message is a decoded NAV-PVT message.  Angles are held as scaled integers
// (1e-7 degrees) and lengths in millimetres, as the receiver sends them.
type Message struct {
	ITOW    uint32 `json:"itow"`
	Year    uint16 `json:"year"`
	Month   uint8  `json:"month"`
	Day     uint8  `json:"day"`
	Hour    uint8  `json:"hour"`
	Min     uint8  `json:"min"`
	Sec     uint8  `json:"sec"`
	Valid   uint8  `json:"valid"`
	TAcc    uint32 `json:"t_acc"`
	Nano    int32  `json:"nano"`
	FixType uint8  `json:"fix_type"`
	Flags   uint8  `json:"flags"`
	Flags2  uint8  `json:"flags2"`
	NumSV   uint8  `json:"num_sv"`
	// Lon and Lat are in units of 1e-7 degrees.
	Lon int32 `json:"lon"`
	Lat int32 `json:"lat"`
	// Height is above the ellipsoid and HMSL above mean sea level, both mm.
	Height  int32  `json:"height"`
	HMSL    int32  `json:"hmsl"`
	HAcc    uint32 `json:"h_acc"`
	VAcc    uint32 `json:"v_acc"`
	VelN    int32  `json:"vel_n"`
	VelE    int32  `json:"vel_e"`
	VelD    int32  `json:"vel_d"`
	GSpeed  int32  `json:"g_speed"`
	HeadMot int32  `json:"head_mot"`
	SAcc    uint32 `json:"s_acc"`
	HeadAcc uint32 `json:"head_acc"`
	// PDOP is in units of 0.01.
	PDOP uint16 `json:"pdop"`
	// The remaining fields are only present in the 92-byte payload.
	HeadVeh int32  `json:"head_veh"`
	MagDec  int16  `json:"mag_dec"`
	MagAcc  uint16 `json:"mag_acc"`
}

// GetMessage decodes a NAV-PVT payload.
func GetMessage(payload []byte) (*Message, error) {
	if len(payload) != PayloadLength && len(payload) != LegacyPayloadLength {
		return nil, fmt.Errorf("expected %d or %d bytes in a NAV-PVT payload, got %d",
			PayloadLength, LegacyPayloadLength, len(payload))
	}

	m := Message{
		ITOW:    utils.GetUint32(payload, 0),
		Year:    utils.GetUint16(payload, 4),
		Month:   payload[6],
		Day:     payload[7],
		Hour:    payload[8],
		Min:     payload[9],
		Sec:     payload[10],
		Valid:   payload[11],
		TAcc:    utils.GetUint32(payload, 12),
		Nano:    utils.GetInt32(payload, 16),
		FixType: payload[20],
		Flags:   payload[21],
		Flags2:  payload[22],
		NumSV:   payload[23],
		Lon:     utils.GetInt32(payload, 24),
		Lat:     utils.GetInt32(payload, 28),
		Height:  utils.GetInt32(payload, 32),
		HMSL:    utils.GetInt32(payload, 36),
		HAcc:    utils.GetUint32(payload, 40),
		VAcc:    utils.GetUint32(payload, 44),
		VelN:    utils.GetInt32(payload, 48),
		VelE:    utils.GetInt32(payload, 52),
		VelD:    utils.GetInt32(payload, 56),
		GSpeed:  utils.GetInt32(payload, 60),
		HeadMot: utils.GetInt32(payload, 64),
		SAcc:    utils.GetUint32(payload, 68),
		HeadAcc: utils.GetUint32(payload, 72),
		PDOP:    utils.GetUint16(payload, 76),
	}

	if len(payload) == PayloadLength {
		m.HeadVeh = utils.GetInt32(payload, 84)
		m.MagDec = utils.GetInt16(payload, 88)
		m.MagAcc = utils.GetUint16(payload, 90)
	}

	return &m, nil
}

// Encode produces the 92-byte payload carrying the message.
func (m *Message) Encode() []byte {
	b := make([]byte, PayloadLength)
	utils.PutUint32(b, 0, m.ITOW)
	utils.PutUint16(b, 4, m.Year)
	b[6] = m.Month
	b[7] = m.Day
	b[8] = m.Hour
	b[9] = m.Min
	b[10] = m.Sec
	b[11] = m.Valid
	utils.PutUint32(b, 12, m.TAcc)
	utils.PutInt32(b, 16, m.Nano)
	b[20] = m.FixType
	b[21] = m.Flags
	b[22] = m.Flags2
	b[23] = m.NumSV
	utils.PutInt32(b, 24, m.Lon)
	utils.PutInt32(b, 28, m.Lat)
	utils.PutInt32(b, 32, m.Height)
	utils.PutInt32(b, 36, m.HMSL)
	utils.PutUint32(b, 40, m.HAcc)
	utils.PutUint32(b, 44, m.VAcc)
	utils.PutInt32(b, 48, m.VelN)
	utils.PutInt32(b, 52, m.VelE)
	utils.PutInt32(b, 56, m.VelD)
	utils.PutInt32(b, 60, m.GSpeed)
	utils.PutInt32(b, 64, m.HeadMot)
	utils.PutUint32(b, 68, m.SAcc)
	utils.PutUint32(b, 72, m.HeadAcc)
	utils.PutUint16(b, 76, m.PDOP)
	utils.PutInt32(b, 84, m.HeadVeh)
	utils.PutInt16(b, 88, m.MagDec)
	utils.PutUint16(b, 90, m.MagAcc)
	return b
}

// Usable returns true if the message carries a valid 3D fix.  Anything else
// is not used for positioning.
func (m *Message) Usable() bool {
	return m.Flags&FlagGNSSFixOK != 0 && m.FixType == Fix3D
}

// Timestamp returns the UTC time of the solution to the second.  The
// nanosecond correction is not applied, so two messages in the same second
// get the same timestamp.
func (m *Message) Timestamp() time.Time {
	return time.Date(int(m.Year), time.Month(m.Month), int(m.Day),
		int(m.Hour), int(m.Min), int(m.Sec), 0, utils.LocationUTC)
}

// Longitude returns the longitude in decimal degrees.
func (m *Message) Longitude() float64 {
	return utils.ScaledDegrees(m.Lon)
}

// Latitude returns the latitude in decimal degrees.
func (m *Message) Latitude() float64 {
	return utils.ScaledDegrees(m.Lat)
}

// HeightMetres returns the height above the ellipsoid in metres.
func (m *Message) HeightMetres() float64 {
	return float64(m.Height) / 1000
}

// HMSLMetres returns the height above mean sea level in metres.
func (m *Message) HMSLMetres() float64 {
	return float64(m.HMSL) / 1000
}

// PDOPValue returns the position dilution of precision.
func (m *Message) PDOPValue() float64 {
	return float64(m.PDOP) * 0.01
}

// String returns a readable version of the message.
func (m *Message) String() string {
	return fmt.Sprintf("%s fix type %d flags 0x%02x sats %d lat %.7f lon %.7f height %.3f hMSL %.3f hAcc %d vAcc %d pDOP %.2f\n",
		m.Timestamp().Format(utils.DateLayout), m.FixType, m.Flags, m.NumSV,
		m.Latitude(), m.Longitude(), m.HeightMetres(), m.HMSLMetres(),
		m.HAcc, m.VAcc, m.PDOPValue())
}
