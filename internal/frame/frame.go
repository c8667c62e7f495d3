// Package frame implements the on-wire data frame used by data tests:
// a magic-prefixed, length-delimited, CRC-32 checked record with a
// monotonically increasing sequence number.
//
// Wire layout: MAGIC(4) seq(4 LE) len(2 LE) payload(len) crc(4 LE), where
// crc is CRC-32 (IEEE, poly 0xEDB88320, init/xorout 0xFFFFFFFF) computed
// over seq‖len‖payload.
package frame

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Magic is the 4-byte resync anchor prefixing every frame on the wire.
var Magic = [4]byte{0x55, 0x48, 0x4D, 0x52} // "UHMR"

// DefaultMaxPayload bounds payload length; oversized lengths force a resync.
const DefaultMaxPayload = 4096

const headerLen = 4 + 4 + 2 // magic + seq + len
const trailerLen = 4        // crc

// ErrPayloadTooLarge is returned by Encode when the payload exceeds its
// maxPayload limit.
var ErrPayloadTooLarge = errors.New("frame: payload exceeds max size")

// DataFrame is one decoded record.
type DataFrame struct {
	Seq     uint32
	Payload []byte
}

// Encode appends the wire representation of seq/payload to dst and returns
// the result. maxPayload <= 0 means DefaultMaxPayload.
func Encode(dst []byte, seq uint32, payload []byte, maxPayload int) ([]byte, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	if len(payload) > maxPayload {
		return dst, ErrPayloadTooLarge
	}
	start := len(dst)
	dst = append(dst, Magic[:]...)
	var seqBuf [4]byte
	binary.LittleEndian.PutUint32(seqBuf[:], seq)
	dst = append(dst, seqBuf[:]...)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(payload)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, payload...)
	sum := crc32.ChecksumIEEE(dst[start+4:])
	var crcBuf [4]byte
	binary.LittleEndian.PutUint32(crcBuf[:], sum)
	dst = append(dst, crcBuf[:]...)
	return dst, nil
}

// GeneratePayload fills p deterministically as payload[i] = (seq+i) mod 256,
// per spec.md's max-rate test generator.
func GeneratePayload(p []byte, seq uint32) {
	for i := range p {
		p[i] = byte((seq + uint32(i)) % 256)
	}
}
