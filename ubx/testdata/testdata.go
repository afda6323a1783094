// The testdata package supplies UBX data for the tests of the other ubx
// packages and of the packages that consume decoded fixes.
package testdata

import (
	"time"

	"github.com/goblimey/go-rtkpost/ubx/frame"
	"github.com/goblimey/go-rtkpost/ubx/navposllh"
	"github.com/goblimey/go-rtkpost/ubx/navpvt"
	"github.com/goblimey/go-rtkpost/ubx/rxmraw"
	"github.com/goblimey/go-rtkpost/ubx/rxmsfrb"
	"github.com/goblimey/go-rtkpost/ubx/utils"
)

// NMEASentence is an NMEA GGA sentence of the kind that receivers interleave
// with UBX output.
var NMEASentence = []byte("$GPGGA,120000.00,5201.28100,N,00442.62932,E,1,09,1.56,2.5,M,42.8,M,,*5E\r\n")

// PollPosLLH is a complete NAV-POSLLH frame with an empty payload (a poll
// request).
var PollPosLLH = []byte{0xb5, 0x62, 0x01, 0x02, 0x00, 0x00, 0x03, 0x0a}

// FirstFixTime is the time of the fix in NavPVTFrame.
var FirstFixTime = time.Date(2017, time.September, 6, 12, 0, 0, 0, time.UTC)

// NavPVT returns a usable NAV-PVT message for a position near Gouda at
// FirstFixTime plus the given number of seconds.
func NavPVT(seconds int) *navpvt.Message {
	t := FirstFixTime.Add(time.Duration(seconds) * time.Second)
	return &navpvt.Message{
		ITOW:    uint32(302400000 + seconds*1000),
		Year:    uint16(t.Year()),
		Month:   uint8(t.Month()),
		Day:     uint8(t.Day()),
		Hour:    uint8(t.Hour()),
		Min:     uint8(t.Minute()),
		Sec:     uint8(t.Second()),
		Valid:   navpvt.ValidDate | navpvt.ValidTime,
		FixType: navpvt.Fix3D,
		Flags:   navpvt.FlagGNSSFixOK,
		NumSV:   9,
		Lon:     47104886,
		Lat:     520213500,
		Height:  45349 + int32(seconds),
		HMSL:    2500,
		HAcc:    1500,
		VAcc:    2300,
		PDOP:    156,
	}
}

// NavPVTFrame returns the binary frame carrying NavPVT(seconds).
func NavPVTFrame(seconds int) []byte {
	return frame.Encode(utils.ClassNAV, utils.IDNavPVT, NavPVT(seconds).Encode())
}

// UnusableNavPVTFrame returns a NAV-PVT frame carrying a 2D fix.
func UnusableNavPVTFrame(seconds int) []byte {
	m := NavPVT(seconds)
	m.FixType = navpvt.Fix2D
	return frame.Encode(utils.ClassNAV, utils.IDNavPVT, m.Encode())
}

// NavPosLLHFrame returns a NAV-POSLLH frame.
func NavPosLLHFrame() []byte {
	m := navposllh.Message{ITOW: 302400000, Lon: 47104886, Lat: 520213500, Height: 45349, HMSL: 2500, HAcc: 1500, VAcc: 2300}
	return frame.Encode(utils.ClassNAV, utils.IDNavPosLLH, m.Encode())
}

// RxmRawFrame returns an RXM-RAW frame with two satellites.
func RxmRawFrame() []byte {
	block := make([]byte, rxmraw.BlockLength)
	m := rxmraw.Message{RcvTow: 302400000, Week: 1964, NumSV: 2, Blocks: [][]byte{block, block}}
	return frame.Encode(utils.ClassRXM, utils.IDRxmRaw, m.Encode())
}

// RxmSfrbFrame returns an RXM-SFRB frame.
func RxmSfrbFrame() []byte {
	m := rxmsfrb.Message{Channel: 1, SVID: 5}
	m.Words[0] = 0x22c00000
	return frame.Encode(utils.ClassRXM, utils.IDRxmSfrb, m.Encode())
}

// UnknownFrame returns a valid frame of a type the decoder doesn't handle
// (MON-HW).
func UnknownFrame() []byte {
	return frame.Encode(0x0a, 0x09, make([]byte, 60))
}

// Capture returns a capture as the logger writes it: n usable fixes at one
// second intervals, each preceded by an RXM-RAW and an RXM-SFRB frame, with
// an NMEA sentence in the middle.
func Capture(n int) []byte {
	var result []byte
	for i := 0; i < n; i++ {
		result = append(result, RxmRawFrame()...)
		result = append(result, RxmSfrbFrame()...)
		if i == n/2 {
			result = append(result, NMEASentence...)
		}
		result = append(result, NavPVTFrame(i)...)
	}
	return result
}
