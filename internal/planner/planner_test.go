package planner

import (
	"testing"

	"github.com/tholian/uartstress/internal/control"
	"github.com/tholian/uartstress/internal/portio"
)

func baseCaps(maxBaud uint32) control.Capabilities {
	return control.Capabilities{
		MaxBaud:           maxBaud,
		SupportedParities: []portio.Parity{portio.ParityNone},
		SupportedBits:     []int{8},
		SupportedFlow:     []portio.Flow{portio.FlowNone},
	}
}

func TestBuildPrunesByPeerCapability(t *testing.T) {
	f := Filters{
		Bauds:    []uint32{115200, 230400, 460800},
		Parities: []portio.Parity{portio.ParityNone},
		Bits:     []int{8},
		Dirs:     []Direction{DirTX},
		Flows:    []portio.Flow{portio.FlowNone},
		Tests:    []TestName{TestMaxRate},
		Frames:   10,
	}
	plan := Build(f, baseCaps(2000000), baseCaps(230400))

	var bauds []uint32
	for _, c := range plan {
		bauds = append(bauds, c.PortConfig.Baud)
	}
	if len(bauds) != 2 || bauds[0] != 115200 || bauds[1] != 230400 {
		t.Fatalf("bauds = %v, want [115200 230400]", bauds)
	}
}

func TestBuildOrdersPortConfigOuterTestMiddleDirectionInner(t *testing.T) {
	f := Filters{
		Bauds:    []uint32{9600, 19200},
		Parities: []portio.Parity{portio.ParityNone},
		Bits:     []int{8},
		Dirs:     []Direction{DirTX, DirRX},
		Flows:    []portio.Flow{portio.FlowNone},
		Tests:    []TestName{TestMaxRate},
		Frames:   10,
	}
	plan := Build(f, baseCaps(2000000), baseCaps(2000000))
	if len(plan) != 4 {
		t.Fatalf("len(plan) = %d, want 4", len(plan))
	}
	want := []struct {
		baud uint32
		dir  Direction
	}{
		{9600, DirTX}, {9600, DirRX}, {19200, DirTX}, {19200, DirRX},
	}
	for i, w := range want {
		if plan[i].PortConfig.Baud != w.baud || plan[i].Direction != w.dir {
			t.Fatalf("plan[%d] = %+v, want baud=%d dir=%s", i, plan[i], w.baud, w.dir)
		}
	}
}

func TestBuildRestrictsFifoResidueToControlConfigByDefault(t *testing.T) {
	f := Filters{
		Bauds:    []uint32{115200, 460800, 921600},
		Parities: []portio.Parity{portio.ParityNone},
		Bits:     []int{8},
		Dirs:     []Direction{DirTX},
		Flows:    []portio.Flow{portio.FlowNone},
		Tests:    []TestName{TestFIFOResidue},
		Frames:   10,
	}
	plan := Build(f, baseCaps(2000000), baseCaps(2000000))
	if len(plan) != 1 {
		t.Fatalf("len(plan) = %d, want 1", len(plan))
	}
	if plan[0].PortConfig != portio.ControlPortConfig {
		t.Fatalf("plan[0].PortConfig = %+v, want control config", plan[0].PortConfig)
	}
}

func TestBuildExpandsFifoResidueWithFlag(t *testing.T) {
	f := Filters{
		Bauds:          []uint32{115200, 460800},
		Parities:       []portio.Parity{portio.ParityNone},
		Bits:           []int{8},
		Dirs:           []Direction{DirTX},
		Flows:          []portio.Flow{portio.FlowNone},
		Tests:          []TestName{TestFIFOResidue},
		Frames:         10,
		FIFOAllConfigs: true,
	}
	plan := Build(f, baseCaps(2000000), baseCaps(2000000))
	if len(plan) != 2 {
		t.Fatalf("len(plan) = %d, want 2", len(plan))
	}
}
