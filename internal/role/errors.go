package role

import "errors"

// Sentinel errors used for wrapping so callers can classify via errors.Is,
// mirroring the error-disposition table of spec.md §7.
var (
	ErrPortOpen              = errors.New("role: port open failed")
	ErrPortIO                = errors.New("role: port io failed")
	ErrPortConfigUnsupported = errors.New("role: port config unsupported")
	ErrPeerUnresponsive      = errors.New("role: peer unresponsive")
	ErrEmptyPlan             = errors.New("role: empty plan")
)

// classifyReason maps a lower-layer portio error into the reason string
// stamped onto a TEST RESULT, e.g. "port:unsupported-baud".
func classifyReason(err error) string {
	switch {
	case errors.Is(err, ErrPortConfigUnsupported):
		return "port:unsupported-baud"
	case errors.Is(err, ErrPortOpen):
		return "port:open-failed"
	case errors.Is(err, ErrPortIO):
		return "port:io-error"
	case errors.Is(err, ErrPeerUnresponsive):
		return "peer-unresponsive"
	default:
		return "internal-error"
	}
}
