package control

import (
	"errors"
	"strings"
	"testing"
)

func TestParseFormatRoundTrip(t *testing.T) {
	line := "CONFIG SET baud=115200 parity=none bits=8"
	m, err := Parse(line)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Verb != VerbConfig || m.Subverb != "SET" {
		t.Fatalf("verb/subverb = %q/%q", m.Verb, m.Subverb)
	}
	if v, _ := m.Get("baud"); v != "115200" {
		t.Fatalf("baud = %q", v)
	}

	out, err := Format(m.Verb, m.Subverb, m.Fields)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	m2, err := Parse(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if v, _ := m2.Get("parity"); v != "none" {
		t.Fatalf("reparse parity = %q", v)
	}
}

func TestParseMultiWordSubverb(t *testing.T) {
	m, err := Parse("TEST BEGIN ACK id=r1 name=max-rate")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Verb != VerbTest || m.Subverb != "BEGIN ACK" {
		t.Fatalf("verb/subverb = %q/%q", m.Verb, m.Subverb)
	}
	if v, _ := m.Get("name"); v != "max-rate" {
		t.Fatalf("name = %q", v)
	}

	out, err := Format(m.Verb, m.Subverb, m.Fields)
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	m2, err := Parse(out)
	if err != nil || m2.Subverb != "BEGIN ACK" {
		t.Fatalf("reparse subverb = %q, err = %v", m2.Subverb, err)
	}
}

func TestParseNoSubverb(t *testing.T) {
	m, err := Parse("HELLO run_id=abc123 role=auto")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if m.Subverb != "" {
		t.Fatalf("subverb = %q, want empty", m.Subverb)
	}
	if v, _ := m.Get("role"); v != "auto" {
		t.Fatalf("role = %q", v)
	}
}

func TestParseUnknownVerb(t *testing.T) {
	_, err := Parse("BOGUS key=value")
	if !errors.Is(err, ErrUnknownVerb) {
		t.Fatalf("err = %v, want ErrUnknownVerb", err)
	}
}

func TestParseMalformedToken(t *testing.T) {
	cases := []string{
		"HELLO =value",
		"HELLO key=bad value",
		"HELLO key=has space",
		"",
		"   ",
	}
	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Fatalf("Parse(%q) succeeded, want error", c)
		}
	}
}

func TestParseIllegalValueChar(t *testing.T) {
	_, err := Parse("HELLO key=bad;value")
	if !errors.Is(err, ErrMalformed) {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}

func TestDecoderStreamsMultipleLines(t *testing.T) {
	stream := "HELLO role=auto run_id=r1\nACK seq=1\nTERMINATE reason=done\n"
	d := NewDecoder()
	d.Write([]byte(stream))

	m1, err, ok := d.Next()
	if !ok || err != nil || m1.Verb != VerbHello {
		t.Fatalf("m1 = %+v, err = %v, ok = %v", m1, err, ok)
	}
	m2, err, ok := d.Next()
	if !ok || err != nil || m2.Verb != VerbAck {
		t.Fatalf("m2 = %+v, err = %v, ok = %v", m2, err, ok)
	}
	m3, err, ok := d.Next()
	if !ok || err != nil || m3.Verb != VerbTerminate {
		t.Fatalf("m3 = %+v, err = %v, ok = %v", m3, err, ok)
	}
	if _, _, ok := d.Next(); ok {
		t.Fatalf("expected no more complete lines")
	}
}

func TestDecoderResyncsAfterOversizedLine(t *testing.T) {
	overflow := strings.Repeat("a", MaxLineLen+50)
	stream := "HELLO id=" + overflow + "\nACK id=r1\n"
	d := NewDecoder()
	d.Write([]byte(stream))

	_, err, ok := d.Next()
	if !ok || err == nil {
		t.Fatalf("expected an error event for the oversized line, ok = %v err = %v", ok, err)
	}
	m, err, ok := d.Next()
	if !ok || err != nil || m.Verb != VerbAck {
		t.Fatalf("expected ACK after resync, got %+v err=%v ok=%v", m, err, ok)
	}
}

func TestFormatRejectsIllegalValue(t *testing.T) {
	_, err := Format(VerbHello, "", map[string]string{"k": "bad value"})
	if err != ErrMalformed {
		t.Fatalf("err = %v, want ErrMalformed", err)
	}
}
