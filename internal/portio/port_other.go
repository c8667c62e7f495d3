//go:build !linux

package portio

import (
	"fmt"
	"runtime"
)

// Open always fails on non-Linux platforms. The termios2/BOTHER ioctl path
// this package relies on for custom baud rates and CRTSCTS is Linux-only;
// no other backend is implemented.
func Open(name string, cfg PortConfig) (Port, error) {
	return nil, fmt.Errorf("%w: unsupported platform %s", ErrPortOpen, runtime.GOOS)
}
