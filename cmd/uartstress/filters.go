package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tholian/uartstress/internal/planner"
	"github.com/tholian/uartstress/internal/portio"
)

// buildFilters parses the test subcommand's comma-separated flag values
// into a planner.Filters.
func buildFilters(c *testConfig) (planner.Filters, error) {
	var f planner.Filters

	for _, tok := range splitCSV(c.tests) {
		switch planner.TestName(tok) {
		case planner.TestMaxRate, planner.TestFIFOResidue:
			f.Tests = append(f.Tests, planner.TestName(tok))
		default:
			return f, fmt.Errorf("unknown test name %q", tok)
		}
	}

	for _, tok := range splitCSV(c.bauds) {
		n, err := strconv.ParseUint(tok, 10, 32)
		if err != nil {
			return f, fmt.Errorf("bad baud %q: %w", tok, err)
		}
		f.Bauds = append(f.Bauds, uint32(n))
	}

	for _, tok := range splitCSV(c.parity) {
		switch portio.Parity(tok) {
		case portio.ParityNone, portio.ParityEven, portio.ParityOdd:
			f.Parities = append(f.Parities, portio.Parity(tok))
		default:
			return f, fmt.Errorf("unknown parity %q", tok)
		}
	}

	for _, tok := range splitCSV(c.bits) {
		n, err := strconv.Atoi(tok)
		if err != nil || (n != 7 && n != 8) {
			return f, fmt.Errorf("bad bits value %q", tok)
		}
		f.Bits = append(f.Bits, n)
	}

	for _, tok := range splitCSV(c.dir) {
		switch planner.Direction(tok) {
		case planner.DirTX, planner.DirRX, planner.DirBoth:
			f.Dirs = append(f.Dirs, planner.Direction(tok))
		default:
			return f, fmt.Errorf("unknown direction %q", tok)
		}
	}

	for _, tok := range splitCSV(c.flow) {
		switch portio.Flow(tok) {
		case portio.FlowNone, portio.FlowRTSCTS:
			f.Flows = append(f.Flows, portio.Flow(tok))
		default:
			return f, fmt.Errorf("unknown flow %q", tok)
		}
	}

	f.PayloadSize = c.payload
	f.Frames = c.frames
	f.DurationMS = c.durationMS
	f.FIFOAllConfigs = c.fifoAllConfigs
	return f, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, tok := range strings.Split(s, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}
