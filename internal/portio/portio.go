// Package portio opens serial devices and applies PortConfig settings,
// exposing blocking byte I/O with deadlines while hiding platform quirks.
// Control and data channels both pass through the same Port; reconfigure
// switches PortConfig atomically between them.
package portio

import (
	"errors"
	"fmt"
	"time"
)

// Parity enumerates the parity modes spec.md's PortConfig allows.
type Parity string

const (
	ParityNone Parity = "none"
	ParityEven Parity = "even"
	ParityOdd  Parity = "odd"
)

// Flow enumerates the flow-control modes spec.md's PortConfig allows.
type Flow string

const (
	FlowNone   Flow = "none"
	FlowRTSCTS Flow = "rtscts"
)

// PortConfig is the immutable tuple applied atomically to a Port.
// StopBits is always 1 per spec.md; kept as a field for forward
// compatibility with the wire/CLI representation rather than hardcoded
// everywhere it is threaded through.
type PortConfig struct {
	Baud     uint32
	Parity   Parity
	Bits     int // 7 or 8
	StopBits int // always 1
	Flow     Flow
}

// ControlPortConfig is the pinned configuration the control channel always
// runs at, regardless of which data PortConfig is under test.
var ControlPortConfig = PortConfig{Baud: 115200, Parity: ParityNone, Bits: 8, StopBits: 1, Flow: FlowNone}

// String renders the conventional "baud bits-parity-stopbits flow" form,
// e.g. "115200 8N1 none".
func (c PortConfig) String() string {
	return fmt.Sprintf("%d %d%s%d %s", c.Baud, c.Bits, parityLetter(c.Parity), c.StopBits, c.Flow)
}

func parityLetter(p Parity) string {
	switch p {
	case ParityEven:
		return "E"
	case ParityOdd:
		return "O"
	default:
		return "N"
	}
}

// ErrorFlags is a best-effort driver counter snapshot; fields are zero
// where the platform doesn't expose the corresponding counter.
type ErrorFlags struct {
	Overruns      uint32
	FramingErrors uint32
	ParityErrors  uint32
	BreakCount    uint32
}

var (
	// ErrPortOpen wraps failures to open the underlying device.
	ErrPortOpen = errors.New("portio: open failed")
	// ErrPortIO wraps read/write failures against an open device.
	ErrPortIO = errors.New("portio: io failed")
	// ErrPortConfigUnsupported is returned by Reconfigure when the driver
	// refuses a PortConfig (baud too high, parity unsupported, etc).
	ErrPortConfigUnsupported = errors.New("portio: unsupported port configuration")
	// ErrTimeout is returned by Read/Write when a deadline elapses.
	ErrTimeout = errors.New("portio: i/o timeout")
)

// Port is the blocking byte-I/O abstraction both roles use for the control
// channel and, once a test is underway, the data channel.
type Port interface {
	// Reconfigure applies cfg atomically. It drains and discards
	// in-flight bytes before returning, and fails with
	// ErrPortConfigUnsupported if the driver refuses the setting.
	Reconfigure(cfg PortConfig) error

	// Read blocks until at least one byte is available, the deadline set
	// by SetReadDeadline elapses (ErrTimeout), or the port is closed.
	Read(p []byte) (int, error)

	// Write blocks until all of p is written, the deadline set by
	// SetWriteDeadline elapses (ErrTimeout), or an error occurs. Under
	// FlowRTSCTS with CTS deasserted a Write can otherwise block forever;
	// spec.md §4.1 requires write(bytes, deadline) to carry a Timeout
	// disposition instead.
	Write(p []byte) (int, error)

	// SetReadDeadline bounds the next Read call(s). Zero value disables
	// the deadline.
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline bounds the next Write call(s). Zero value disables
	// the deadline.
	SetWriteDeadline(t time.Time) error

	// ErrorFlags returns a best-effort driver counter snapshot.
	ErrorFlags() (ErrorFlags, error)

	// Close releases the underlying device.
	Close() error
}
