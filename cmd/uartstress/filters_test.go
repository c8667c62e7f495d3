package main

import "testing"

func TestBuildFilters_OK(t *testing.T) {
	c := baseTestConfig()
	f, err := buildFilters(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.Tests) != 2 || len(f.Bauds) != 2 || len(f.Parities) != 1 || len(f.Bits) != 1 || len(f.Dirs) != 2 || len(f.Flows) != 1 {
		t.Fatalf("unexpected filter shape: %+v", f)
	}
	if f.PayloadSize != c.payload || f.Frames != c.frames || f.DurationMS != c.durationMS {
		t.Fatalf("scalar fields not copied through: %+v", f)
	}
}

func TestBuildFilters_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*testConfig)
	}{
		{"badTest", func(c *testConfig) { c.tests = "bogus-test" }},
		{"badBaud", func(c *testConfig) { c.bauds = "fast" }},
		{"badParity", func(c *testConfig) { c.parity = "mark" }},
		{"badBits", func(c *testConfig) { c.bits = "9" }},
		{"badDir", func(c *testConfig) { c.dir = "sideways" }},
		{"badFlow", func(c *testConfig) { c.flow = "xonxoff" }},
	}
	for _, tc := range tests {
		base := baseTestConfig()
		tc.mod(base)
		if _, err := buildFilters(base); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, b ,,c")
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
}
