//go:build linux

package portio

import "unsafe"

import ioctl "github.com/daedaluz/goioctl"

// termios2 mirrors struct termios2 from <asm-generic/termbits.h>. Field
// layout and the BOTHER/CBAUD handling below are grounded on
// Daedaluz-goserial's port_linux.go, generalized into this package's own
// PortConfig vocabulary instead of exposing raw termios flags.
type termios2 struct {
	Iflag  uint32
	Oflag  uint32
	Cflag  uint32
	Lflag  uint32
	Line   byte
	Cc     [19]byte
	ISpeed uint32
	OSpeed uint32
}

const (
	cBAUD   = 0010017
	cBOTHER = 0010000
	cCSIZE  = 0000060
	cCS5    = 0000000
	cCS6    = 0000020
	cCS7    = 0000040
	cCS8    = 0000060
	cCSTOPB = 0000100
	cCREAD  = 0000200
	cPARENB = 0000400
	cPARODD = 0001000
	cHUPCL  = 0002000
	cCLOCAL = 0004000
	cCRTSCTS = 020000000000

	iIGNPAR = 0000004
	iINPCK  = 0000020
	iIGNBRK = 0000001
	iBRKINT = 0000002
	iISTRIP = 0000040
	iINLCR  = 0000100
	iIGNCR  = 0000200
	iICRNL  = 0000400
	iIXON   = 0002000

	oOPOST = 0000001

	lECHO   = 0000010
	lECHONL = 0000100
	lICANON = 0000002
	lISIG   = 0000001
	lIEXTEN = 0100000

	vmin  = 5
	vtime = 6
)

var (
	tcgets2 = ioctl.IOR('T', 0x2A, unsafe.Sizeof(termios2{}))
	tcsets2 = ioctl.IOW('T', 0x2B, unsafe.Sizeof(termios2{}))
)

// applyPortConfig mutates t in place to reflect cfg, in raw mode (no
// canonical processing, no software flow control, no signal generation) so
// every byte on the wire reaches the caller untouched.
func applyPortConfig(t *termios2, cfg PortConfig) error {
	t.Cflag &^= cBAUD
	t.Cflag |= cBOTHER
	t.ISpeed = cfg.Baud
	t.OSpeed = cfg.Baud

	t.Cflag &^= cCSIZE
	switch cfg.Bits {
	case 7:
		t.Cflag |= cCS7
	case 8:
		t.Cflag |= cCS8
	default:
		return ErrPortConfigUnsupported
	}

	t.Cflag &^= (cPARENB | cPARODD)
	switch cfg.Parity {
	case ParityNone:
	case ParityEven:
		t.Cflag |= cPARENB
	case ParityOdd:
		t.Cflag |= cPARENB | cPARODD
	default:
		return ErrPortConfigUnsupported
	}

	if cfg.StopBits != 1 {
		return ErrPortConfigUnsupported
	}
	t.Cflag &^= cCSTOPB

	t.Cflag &^= cCRTSCTS
	switch cfg.Flow {
	case FlowNone:
	case FlowRTSCTS:
		t.Cflag |= cCRTSCTS
	default:
		return ErrPortConfigUnsupported
	}

	t.Cflag |= cCREAD | cCLOCAL
	t.Iflag &^= (iIGNBRK | iBRKINT | iISTRIP | iINLCR | iIGNCR | iICRNL | iIXON)
	t.Iflag |= iIGNPAR
	t.Oflag &^= oOPOST
	t.Lflag &^= (lECHO | lECHONL | lICANON | lISIG | lIEXTEN)
	t.Cc[vmin] = 1
	t.Cc[vtime] = 0
	return nil
}

func getTermios2(fd int) (termios2, error) {
	var t termios2
	err := ioctl.Ioctl(uintptr(fd), tcgets2, uintptr(unsafe.Pointer(&t)))
	return t, err
}

func setTermios2(fd int, t *termios2) error {
	return ioctl.Ioctl(uintptr(fd), tcsets2, uintptr(unsafe.Pointer(t)))
}
