package framing

import (
	"errors"
	"testing"
)

func TestEncodeParseRoundTrip(t *testing.T) {
	f := Frame{ID: 1, Status: SeqYield, Payload: `{"a":1}`}
	chunk := Encode(f)
	if chunk != `1:0:{"a":1}` {
		t.Fatalf("unexpected encoding: %q", chunk)
	}
	got, err := Parse(chunk)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if got != f {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, f)
	}
}

func TestParsePreservesColonsInPayload(t *testing.T) {
	got, err := Parse(`42:1:"time is 10:30"`)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	want := Frame{ID: 42, Status: 1, Payload: `"time is 10:30"`}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestParseRejectsMissingDelimiters(t *testing.T) {
	cases := []string{"", "1", "1:2", "notanumber:2:x"}
	for _, c := range cases {
		if _, err := Parse(c); !errors.Is(err, ErrMalformedChunk) {
			t.Fatalf("Parse(%q): expected ErrMalformedChunk, got %v", c, err)
		}
	}
}

func TestParseRejectsInvalidStatus(t *testing.T) {
	if _, err := Parse("1:notanumber:x"); !errors.Is(err, ErrMalformedChunk) {
		t.Fatalf("expected ErrMalformedChunk, got %v", err)
	}
	if _, err := Parse("1:-1:x"); !errors.Is(err, ErrMalformedChunk) {
		t.Fatalf("expected ErrMalformedChunk for negative status, got %v", err)
	}
}
