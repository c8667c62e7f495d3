package portio

import "testing"

func TestPortConfigString(t *testing.T) {
	cfg := PortConfig{Baud: 115200, Parity: ParityNone, Bits: 8, StopBits: 1, Flow: FlowNone}
	got := cfg.String()
	want := "115200 8N1 none"
	if got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}

func TestControlPortConfigIsPinned(t *testing.T) {
	want := PortConfig{Baud: 115200, Parity: ParityNone, Bits: 8, StopBits: 1, Flow: FlowNone}
	if ControlPortConfig != want {
		t.Fatalf("ControlPortConfig = %+v, want %+v", ControlPortConfig, want)
	}
}
