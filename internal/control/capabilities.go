package control

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tholian/uartstress/internal/portio"
)

// Capabilities is what each peer advertises at handshake time.
type Capabilities struct {
	MaxBaud           uint32
	SupportedParities []portio.Parity
	SupportedBits     []int
	SupportedFlow     []portio.Flow
	SupportsFullDuplex bool
}

// Tokens renders Capabilities as the comma-separated key:value caplist
// used in HELLO/ACK/CAPS messages.
func (c Capabilities) Tokens() string {
	parities := make([]string, len(c.SupportedParities))
	for i, p := range c.SupportedParities {
		parities[i] = string(p)
	}
	bits := make([]string, len(c.SupportedBits))
	for i, b := range c.SupportedBits {
		bits[i] = strconv.Itoa(b)
	}
	flows := make([]string, len(c.SupportedFlow))
	for i, f := range c.SupportedFlow {
		flows[i] = string(f)
	}
	fullDuplex := "false"
	if c.SupportsFullDuplex {
		fullDuplex = "true"
	}
	toks := []string{
		"max_baud:" + strconv.FormatUint(uint64(c.MaxBaud), 10),
		"parities:" + strings.Join(parities, "."),
		"bits:" + strings.Join(bits, "."),
		"flow:" + strings.Join(flows, "."),
		"full_duplex:" + fullDuplex,
	}
	return strings.Join(toks, ",")
}

// ParseCapList parses a comma-separated key:value caplist into
// Capabilities. Unknown keys are ignored per spec.md's "unknown keys are
// ignored" rule for ControlMessage fields.
func ParseCapList(caplist string) (Capabilities, error) {
	var c Capabilities
	if caplist == "" {
		return c, nil
	}
	for _, tok := range strings.Split(caplist, ",") {
		k, v, ok := strings.Cut(tok, ":")
		if !ok {
			continue
		}
		switch k {
		case "max_baud":
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return Capabilities{}, fmt.Errorf("control: bad max_baud %q: %w", v, err)
			}
			c.MaxBaud = uint32(n)
		case "parities":
			for _, p := range splitDot(v) {
				c.SupportedParities = append(c.SupportedParities, portio.Parity(p))
			}
		case "bits":
			for _, b := range splitDot(v) {
				n, err := strconv.Atoi(b)
				if err != nil {
					return Capabilities{}, fmt.Errorf("control: bad bits token %q: %w", b, err)
				}
				c.SupportedBits = append(c.SupportedBits, n)
			}
		case "flow":
			for _, f := range splitDot(v) {
				c.SupportedFlow = append(c.SupportedFlow, portio.Flow(f))
			}
		case "full_duplex":
			c.SupportsFullDuplex = v == "true"
		}
	}
	return c, nil
}

// splitDot splits a sub-list joined with "." (not "|": control.valueRune's
// legal value charset excludes "|", so caps=... would fail Format's
// validation on any multi-valued field otherwise).
func splitDot(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ".")
}

// IntersectBaud returns the highest baud both sides support.
func IntersectBaud(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}

// IntersectParities returns parities present in both sets, in a's order.
func IntersectParities(a, b []portio.Parity) []portio.Parity {
	set := make(map[portio.Parity]bool, len(b))
	for _, p := range b {
		set[p] = true
	}
	var out []portio.Parity
	for _, p := range a {
		if set[p] {
			out = append(out, p)
		}
	}
	return out
}

// IntersectBits returns bit-widths present in both sets, sorted ascending.
func IntersectBits(a, b []int) []int {
	set := make(map[int]bool, len(b))
	for _, x := range b {
		set[x] = true
	}
	var out []int
	for _, x := range a {
		if set[x] {
			out = append(out, x)
		}
	}
	sort.Ints(out)
	return out
}

// IntersectFlow returns flow modes present in both sets, in a's order.
func IntersectFlow(a, b []portio.Flow) []portio.Flow {
	set := make(map[portio.Flow]bool, len(b))
	for _, f := range b {
		set[f] = true
	}
	var out []portio.Flow
	for _, f := range a {
		if set[f] {
			out = append(out, f)
		}
	}
	return out
}
