package frame

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// EventKind distinguishes the three outcomes a Decoder can emit per
// spec.md §4.2.
type EventKind int

const (
	EventFrame EventKind = iota
	EventBadCrc
	EventResync
)

// Event is one decode outcome. For EventFrame, Frame is populated. For
// EventResync, BytesDropped records how many bytes were discarded while
// searching for the next Magic.
type Event struct {
	Kind         EventKind
	Frame        DataFrame
	BytesDropped int
}

// Decoder streams bytes and emits frame events, re-synchronizing on Magic
// after any loss of alignment. It keeps its own accumulation buffer; feed it
// with Write and drain events with Next until it returns false.
//
// Grounded on the scan-for-preamble decode loop in the teacher's serial
// frame codec: on failure to validate a candidate frame, advance by one
// byte and rescan, never get stuck.
type Decoder struct {
	buf        bytes.Buffer
	maxPayload int
}

// NewDecoder creates a Decoder. maxPayload <= 0 means DefaultMaxPayload.
func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{maxPayload: maxPayload}
}

// Write feeds newly received bytes into the decoder's accumulation buffer.
func (d *Decoder) Write(p []byte) {
	d.buf.Write(p)
}

// compactBuffer reclaims the buffer's backing array once most of it has
// been consumed, so a long-running decode doesn't retain an ever-growing
// allocation behind a small unread tail.
func compactBuffer(b *bytes.Buffer) {
	data := b.Bytes()
	if len(data) < 1024 {
		return
	}
	if cap(data) > 0 && len(data)*4 < cap(data) {
		clone := make([]byte, len(data))
		copy(clone, data)
		b.Reset()
		b.Write(clone)
	}
}

// Next pulls the next decode event out of the buffer. It returns
// (Event{}, false) when there isn't enough data yet to decide anything.
func (d *Decoder) Next() (Event, bool) {
	compactBuffer(&d.buf)
	for {
		data := d.buf.Bytes()
		if len(data) < headerLen {
			return Event{}, false
		}
		idx := bytes.Index(data, Magic[:])
		if idx < 0 {
			// Keep the last len(Magic)-1 bytes in case the split straddles a
			// partial match across Write calls.
			keep := len(Magic) - 1
			if len(data) <= keep {
				return Event{}, false
			}
			dropped := len(data) - keep
			tail := append([]byte(nil), data[dropped:]...)
			d.buf.Reset()
			d.buf.Write(tail)
			return Event{Kind: EventResync, BytesDropped: dropped}, true
		}
		if idx > 0 {
			d.buf.Next(idx)
			return Event{Kind: EventResync, BytesDropped: idx}, true
		}

		if len(data) < headerLen {
			return Event{}, false
		}
		seq := binary.LittleEndian.Uint32(data[4:8])
		ln := int(binary.LittleEndian.Uint16(data[8:10]))
		if ln > d.maxPayload {
			d.buf.Next(len(Magic))
			return Event{Kind: EventResync, BytesDropped: len(Magic)}, true
		}
		total := headerLen + ln + trailerLen
		if len(data) < total {
			return Event{}, false
		}

		sum := crc32.ChecksumIEEE(data[4 : headerLen+ln])
		wantCrc := binary.LittleEndian.Uint32(data[headerLen+ln : total])
		if sum != wantCrc {
			// Advance past the whole claimed frame: the sequence number is
			// not consumed, so the next good frame's gap reflects this loss.
			d.buf.Next(total)
			return Event{Kind: EventBadCrc}, true
		}

		payload := append([]byte(nil), data[headerLen:headerLen+ln]...)
		d.buf.Next(total)
		return Event{Kind: EventFrame, Frame: DataFrame{Seq: seq, Payload: payload}}, true
	}
}

// Drain calls fn for every currently-available event.
func (d *Decoder) Drain(fn func(Event)) {
	for {
		ev, ok := d.Next()
		if !ok {
			return
		}
		fn(ev)
	}
}
