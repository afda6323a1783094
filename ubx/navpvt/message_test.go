package navpvt

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/kylelemons/godebug/diff"
)

func sampleMessage() *Message {
	return &Message{
		ITOW: 302400000, Year: 2017, Month: 9, Day: 6, Hour: 12, Min: 0, Sec: 0,
		Valid: ValidDate | ValidTime, TAcc: 25, Nano: -1234,
		FixType: Fix3D, Flags: FlagGNSSFixOK, NumSV: 9,
		Lon: 47104886, Lat: 520213500, Height: 45349, HMSL: 2500,
		HAcc: 1500, VAcc: 2300, PDOP: 156,
		HeadVeh: 1000, MagDec: -5, MagAcc: 7,
	}
}

// TestEncodeAndGetMessage checks that GetMessage decodes what Encode encodes.
func TestEncodeAndGetMessage(t *testing.T) {
	want := sampleMessage()
	got, err := GetMessage(want.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}
}

// TestGetMessageLegacy checks that the older 84-byte payload is accepted and
// the fields after pDOP are left zero.
func TestGetMessageLegacy(t *testing.T) {
	original := sampleMessage()
	got, err := GetMessage(original.Encode()[:LegacyPayloadLength])
	if err != nil {
		t.Fatal(err)
	}
	want := sampleMessage()
	want.HeadVeh, want.MagDec, want.MagAcc = 0, 0, 0
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}
}

// TestGetMessageWithBadLength checks the error for a payload of the wrong length.
func TestGetMessageWithBadLength(t *testing.T) {
	const want = "expected 92 or 84 bytes in a NAV-PVT payload, got 91"
	m, err := GetMessage(make([]byte, 91))
	if m != nil {
		t.Error("expected a nil message")
	}
	if err == nil || want != err.Error() {
		t.Errorf("want %s got %v", want, err)
	}
}

// TestDerivedValues checks the scaled values.
func TestDerivedValues(t *testing.T) {
	m := sampleMessage()

	if got := m.Longitude(); math.Abs(got-4.7104886) > 1e-9 {
		t.Errorf("longitude: want 4.7104886 got %.9f", got)
	}
	if got := m.Latitude(); math.Abs(got-52.02135) > 1e-9 {
		t.Errorf("latitude: want 52.02135 got %.9f", got)
	}
	if got := m.HeightMetres(); math.Abs(got-45.349) > 1e-9 {
		t.Errorf("height: want 45.349 got %f", got)
	}
	if got := m.PDOPValue(); math.Abs(got-1.56) > 1e-9 {
		t.Errorf("pDOP: want 1.56 got %f", got)
	}

	want := time.Date(2017, time.September, 6, 12, 0, 0, 0, time.UTC)
	if got := m.Timestamp(); !want.Equal(got) {
		t.Errorf("timestamp: want %v got %v", want, got)
	}
}

// TestUsable checks that only a 3D fix with the gnssFixOK flag is usable.
func TestUsable(t *testing.T) {
	var testData = []struct {
		fixType uint8
		flags   uint8
		want    bool
	}{
		{Fix3D, FlagGNSSFixOK, true},
		{Fix3D, FlagGNSSFixOK | FlagDiffSoln, true},
		{Fix3D, 0, false},
		{Fix3D, FlagDiffSoln, false},
		{Fix2D, FlagGNSSFixOK, false},
		{GNSSPlusDeadReck, FlagGNSSFixOK, false},
		{NoFix, 0, false},
	}

	for _, td := range testData {
		m := Message{FixType: td.fixType, Flags: td.flags}
		if got := m.Usable(); td.want != got {
			t.Errorf("fix %d flags 0x%02x: want %v got %v", td.fixType, td.flags, td.want, got)
		}
	}
}

func TestString(t *testing.T) {
	const want = "2017-09-06 12:00:00.000 UTC fix type 3 flags 0x01 sats 9 lat 52.0213500 lon 4.7104886 height 45.349 hMSL 2.500 hAcc 1500 vAcc 2300 pDOP 1.56\n"
	got := sampleMessage().String()
	if want != got {
		t.Error(diff.Diff(want, got))
	}
}
