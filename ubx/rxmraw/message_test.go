package rxmraw

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGetMessage(t *testing.T) {
	want := &Message{
		RcvTow: 302400000,
		Week:   1964,
		NumSV:  2,
		Blocks: [][]byte{bytes.Repeat([]byte{1}, BlockLength), bytes.Repeat([]byte{2}, BlockLength)},
	}

	payload := want.Encode()
	if len(payload) != 56 {
		t.Errorf("want payload length 56 got %d", len(payload))
	}

	got, err := GetMessage(payload)
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(want, got); d != "" {
		t.Errorf("mismatch (-want +got):\n%s", d)
	}

	const wantString = "week 1964 rcvTow 302400000 satellites 2\n"
	if wantString != got.String() {
		t.Errorf("want %s got %s", wantString, got.String())
	}
}

func TestGetMessageErrors(t *testing.T) {
	var testData = []struct {
		description string
		payload     []byte
		want        string
	}{
		{"short header", make([]byte, 7), "expected at least 8 bytes in an RXM-RAW payload, got 7"},
		{"missing block", []byte{0, 0, 0, 0, 0, 0, 1, 0}, "expected 32 bytes in an RXM-RAW payload with 1 satellites, got 8"},
	}

	for _, td := range testData {
		_, err := GetMessage(td.payload)
		if err == nil || td.want != err.Error() {
			t.Errorf("%s: want %s got %v", td.description, td.want, err)
		}
	}
}
