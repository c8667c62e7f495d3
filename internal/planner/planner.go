// Package planner builds the ordered Cartesian test matrix from user
// filters intersected with local and peer Capabilities, per spec.md §4.6.
package planner

import (
	"sort"

	"github.com/tholian/uartstress/internal/control"
	"github.com/tholian/uartstress/internal/portio"
)

// Direction is which side(s) transmit during a TestCase.
type Direction string

const (
	DirTX   Direction = "tx"
	DirRX   Direction = "rx"
	DirBoth Direction = "both"
)

// TestName identifies which Test runner implementation a case dispatches
// to.
type TestName string

const (
	TestMaxRate     TestName = "max-rate"
	TestFIFOResidue TestName = "fifo-residue"
)

// TestCase is one entry of a Plan.
type TestCase struct {
	Name           TestName
	PortConfig     portio.PortConfig
	Direction      Direction
	Frames         int // 0 if DurationMS is set
	DurationMS     int
	PayloadSize    int
}

// Plan is the ordered sequence of cases the Orchestrator drives through.
type Plan []TestCase

// Filters are the user-supplied CLI selections, pre-expansion.
type Filters struct {
	Bauds           []uint32
	Parities        []portio.Parity
	Bits            []int
	Dirs            []Direction
	Flows           []portio.Flow
	Tests           []TestName
	PayloadSize     int
	Frames          int
	DurationMS      int
	FIFOAllConfigs  bool
}

// Build computes the Plan as the intersection of f with local and peer
// Capabilities, ordered per spec.md §4.6: outer loop PortConfig (baud
// ascending, then parity, then bits, then flow), middle loop test name in
// user order, inner loop direction in user order.
func Build(f Filters, local, peer control.Capabilities) Plan {
	maxBaud := control.IntersectBaud(local.MaxBaud, peer.MaxBaud)
	parities := control.IntersectParities(local.SupportedParities, peer.SupportedParities)
	bits := control.IntersectBits(local.SupportedBits, peer.SupportedBits)
	flows := control.IntersectFlow(local.SupportedFlow, peer.SupportedFlow)

	paritySet := toParitySet(parities)
	bitSet := toIntSet(bits)
	flowSet := toFlowSet(flows)

	var bauds []uint32
	for _, b := range f.Bauds {
		if b <= maxBaud {
			bauds = append(bauds, b)
		}
	}
	sort.Slice(bauds, func(i, j int) bool { return bauds[i] < bauds[j] })

	var configs []portio.PortConfig
	for _, baud := range bauds {
		for _, p := range f.Parities {
			if !paritySet[p] {
				continue
			}
			for _, b := range f.Bits {
				if !bitSet[b] {
					continue
				}
				for _, fl := range f.Flows {
					if !flowSet[fl] {
						continue
					}
					configs = append(configs, portio.PortConfig{
						Baud: baud, Parity: p, Bits: b, StopBits: 1, Flow: fl,
					})
				}
			}
		}
	}

	var plan Plan
	for _, cfg := range configs {
		for _, name := range f.Tests {
			if name == TestFIFOResidue && !f.FIFOAllConfigs && cfg != portio.ControlPortConfig {
				continue
			}
			for _, dir := range f.Dirs {
				plan = append(plan, TestCase{
					Name:        name,
					PortConfig:  cfg,
					Direction:   dir,
					Frames:      f.Frames,
					DurationMS:  f.DurationMS,
					PayloadSize: f.PayloadSize,
				})
			}
		}
	}
	return plan
}

func toParitySet(ps []portio.Parity) map[portio.Parity]bool {
	m := make(map[portio.Parity]bool, len(ps))
	for _, p := range ps {
		m[p] = true
	}
	return m
}

func toIntSet(xs []int) map[int]bool {
	m := make(map[int]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

func toFlowSet(fs []portio.Flow) map[portio.Flow]bool {
	m := make(map[portio.Flow]bool, len(fs))
	for _, f := range fs {
		m[f] = true
	}
	return m
}
