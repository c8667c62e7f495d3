//go:build linux

package portio

import (
	"fmt"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/daedaluz/fdev/poll"
	ioctl "github.com/daedaluz/goioctl"
)

// tiocgicount is TIOCGICOUNT, which returns a best-effort count of serial
// line events (overruns, framing/parity errors, breaks) accumulated by the
// driver since open.
const tiocgicount = 0x545D

// icounter mirrors struct serial_icounter_struct from <linux/serial.h>.
// Only the fields portio.ErrorFlags cares about are named; the remainder
// keep the struct's true size so the ioctl doesn't write past it.
type icounter struct {
	Cts, Dsr, Rng, Dcd         int32
	Rx, Tx                     int32
	Frame, Overrun, Parity     int32
	Brk                        int32
	BufOverrun                 int32
	_                          [9]int32
}

type linuxPort struct {
	mu           sync.Mutex
	fd           int
	timeout      time.Duration // -1 means no read deadline
	writeTimeout time.Duration // -1 means no write deadline
}

// Open opens name (e.g. "/dev/ttyUSB0") and applies cfg as its initial
// configuration.
func Open(name string, cfg PortConfig) (Port, error) {
	fd, err := syscall.Open(name, syscall.O_RDWR|syscall.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrPortOpen, name, err)
	}
	p := &linuxPort{fd: fd, timeout: -1, writeTimeout: -1}
	if err := p.Reconfigure(cfg); err != nil {
		syscall.Close(fd)
		return nil, err
	}
	return p, nil
}

func (p *linuxPort) Reconfigure(cfg PortConfig) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Drain and discard in-flight bytes before changing the line
	// discipline, per spec.md's reconfigure contract.
	_ = ioctl.Ioctl(uintptr(p.fd), 0x540B /* TCFLSH */, 2 /* TCIOFLUSH */)

	t, err := getTermios2(p.fd)
	if err != nil {
		return fmt.Errorf("%w: get attrs: %v", ErrPortConfigUnsupported, err)
	}
	if err := applyPortConfig(&t, cfg); err != nil {
		return err
	}
	if err := setTermios2(p.fd, &t); err != nil {
		return fmt.Errorf("%w: set attrs: %v", ErrPortConfigUnsupported, err)
	}
	return nil
}

func (p *linuxPort) SetReadDeadline(t time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.IsZero() {
		p.timeout = -1
		return nil
	}
	p.timeout = time.Until(t)
	if p.timeout < 0 {
		p.timeout = 0
	}
	return nil
}

func (p *linuxPort) SetWriteDeadline(t time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if t.IsZero() {
		p.writeTimeout = -1
		return nil
	}
	p.writeTimeout = time.Until(t)
	if p.writeTimeout < 0 {
		p.writeTimeout = 0
	}
	return nil
}

func (p *linuxPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	fd, timeout := p.fd, p.timeout
	p.mu.Unlock()

	if timeout >= 0 {
		if err := poll.WaitInput(fd, timeout); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
	}
	n, err := syscall.Read(fd, b)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrPortIO, err)
	}
	return n, nil
}

func (p *linuxPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	fd, timeout := p.fd, p.writeTimeout
	p.mu.Unlock()

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}

	total := 0
	for total < len(b) {
		if timeout >= 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return total, ErrTimeout
			}
			// Under FlowRTSCTS with CTS deasserted the driver's output
			// buffer can fill and stay full; wait for writability with a
			// deadline instead of blocking in syscall.Write indefinitely.
			if err := poll.WaitOutput(fd, remaining); err != nil {
				return total, fmt.Errorf("%w: %v", ErrTimeout, err)
			}
		}
		n, err := syscall.Write(fd, b[total:])
		if err != nil {
			return total, fmt.Errorf("%w: %v", ErrPortIO, err)
		}
		total += n
	}
	return total, nil
}

func (p *linuxPort) ErrorFlags() (ErrorFlags, error) {
	p.mu.Lock()
	fd := p.fd
	p.mu.Unlock()

	var ic icounter
	if err := ioctl.Ioctl(uintptr(fd), tiocgicount, uintptr(unsafe.Pointer(&ic))); err != nil {
		// Best-effort: unsupported drivers return zeros, not an error.
		return ErrorFlags{}, nil
	}
	return ErrorFlags{
		Overruns:      uint32(ic.Overrun),
		FramingErrors: uint32(ic.Frame),
		ParityErrors:  uint32(ic.Parity),
		BreakCount:    uint32(ic.Brk),
	}, nil
}

func (p *linuxPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fd < 0 {
		return nil
	}
	err := syscall.Close(p.fd)
	p.fd = -1
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPortIO, err)
	}
	return nil
}
