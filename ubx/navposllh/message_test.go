package navposllh

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/kylelemons/godebug/diff"
)

func TestGetMessage(t *testing.T) {
	want := &Message{ITOW: 1000, Lon: 47104886, Lat: 520213500, Height: 45349, HMSL: 2500, HAcc: 10, VAcc: 20}

	got, err := GetMessage(want.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}

	const wantString = "iTOW 1000 lat 52.0213500 lon 4.7104886 height 45.349 hMSL 2.500 hAcc 10 vAcc 20\n"
	if wantString != got.String() {
		t.Error(diff.Diff(wantString, got.String()))
	}
}

func TestGetMessageWithBadLength(t *testing.T) {
	const want = "expected 28 bytes in a NAV-POSLLH payload, got 27"
	_, err := GetMessage(make([]byte, 27))
	if err == nil || want != err.Error() {
		t.Errorf("want %s got %v", want, err)
	}
}
