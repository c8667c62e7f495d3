package frame

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello uart world")
	wire, err := Encode(nil, 42, payload, 0)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	d := NewDecoder(0)
	d.Write(wire)
	ev, ok := d.Next()
	if !ok {
		t.Fatalf("expected an event")
	}
	if ev.Kind != EventFrame {
		t.Fatalf("kind = %v, want EventFrame", ev.Kind)
	}
	if ev.Frame.Seq != 42 {
		t.Fatalf("seq = %d, want 42", ev.Frame.Seq)
	}
	if !bytes.Equal(ev.Frame.Payload, payload) {
		t.Fatalf("payload mismatch: got %q want %q", ev.Frame.Payload, payload)
	}
	if _, ok := d.Next(); ok {
		t.Fatalf("expected no further events")
	}
}

func TestDecodeTwoFramesBackToBack(t *testing.T) {
	var wire []byte
	wire, _ = Encode(wire, 0, []byte{1, 2, 3}, 0)
	wire, _ = Encode(wire, 1, []byte{4, 5}, 0)

	d := NewDecoder(0)
	d.Write(wire)
	var got []DataFrame
	d.Drain(func(ev Event) {
		if ev.Kind == EventFrame {
			got = append(got, ev.Frame)
		}
	})
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if got[0].Seq != 0 || got[1].Seq != 1 {
		t.Fatalf("seq mismatch: %+v", got)
	}
}

func TestBadCrcSingleBitFlipIsDetected(t *testing.T) {
	wire, _ := Encode(nil, 7, []byte("payload data"), 0)
	for bitPos := 0; bitPos < len(wire)*8; bitPos++ {
		corrupted := append([]byte(nil), wire...)
		corrupted[bitPos/8] ^= 1 << uint(bitPos%8)

		d := NewDecoder(0)
		d.Write(corrupted)
		ev, ok := d.Next()
		if !ok {
			t.Fatalf("bit %d: expected an event", bitPos)
		}
		if ev.Kind == EventFrame {
			t.Fatalf("bit %d: flipped bit silently accepted as a good frame", bitPos)
		}
	}
}

func TestResyncAfterGarbagePrefix(t *testing.T) {
	wire, _ := Encode(nil, 3, []byte("abc"), 0)
	stream := append([]byte("garbage-before-frame"), wire...)

	d := NewDecoder(0)
	d.Write(stream)
	ev, ok := d.Next()
	if !ok || ev.Kind != EventResync {
		t.Fatalf("expected resync event first, got %+v ok=%v", ev, ok)
	}
	ev, ok = d.Next()
	if !ok || ev.Kind != EventFrame || ev.Frame.Seq != 3 {
		t.Fatalf("expected frame seq=3 after resync, got %+v ok=%v", ev, ok)
	}
}

func TestOversizedLengthTriggersResync(t *testing.T) {
	d := NewDecoder(8)
	wire, _ := Encode(nil, 1, make([]byte, 16), 64)
	d.Write(wire)
	ev, ok := d.Next()
	if !ok || ev.Kind != EventResync {
		t.Fatalf("expected resync for oversized length, got %+v ok=%v", ev, ok)
	}
}

func TestEncodePayloadTooLarge(t *testing.T) {
	_, err := Encode(nil, 0, make([]byte, 10), 4)
	if err != ErrPayloadTooLarge {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
}

func TestGeneratePayloadDeterministic(t *testing.T) {
	p := make([]byte, 300)
	GeneratePayload(p, 250)
	if p[0] != 250 || p[10] != byte((250+10)%256) {
		t.Fatalf("unexpected payload generation: %v", p[:12])
	}
}
