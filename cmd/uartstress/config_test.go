package main

import (
	"testing"
	"time"
)

func baseTestConfig() *testConfig {
	return &testConfig{
		commonConfig: commonConfig{
			dev:             "/dev/null",
			logFormat:       "text",
			logLevel:        "info",
			metricsAddr:     "",
			logMetricsEvery: 0,
		},
		tests:          "max-rate,fifo-residue",
		bauds:          "9600,115200",
		parity:         "none",
		bits:           "8",
		dir:            "tx,rx",
		flow:           "none",
		payload:        256,
		frames:         1000,
		durationMS:     0,
		fifoAllConfigs: false,
		dumpPlan:       false,
	}
}

func TestCommonConfigValidate_OK(t *testing.T) {
	c := baseTestConfig()
	if err := c.commonConfig.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestCommonConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*commonConfig)
	}{
		{"emptyDev", func(c *commonConfig) { c.dev = "" }},
		{"badLogFormat", func(c *commonConfig) { c.logFormat = "xml" }},
		{"badLogLevel", func(c *commonConfig) { c.logLevel = "verbose" }},
		{"negativeMetricsInterval", func(c *commonConfig) { c.logMetricsEvery = -time.Second }},
	}
	for _, tc := range tests {
		base := baseTestConfig()
		tc.mod(&base.commonConfig)
		if err := base.commonConfig.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestTestConfigValidate_OK(t *testing.T) {
	c := baseTestConfig()
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestTestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*testConfig)
	}{
		{"zeroPayload", func(c *testConfig) { c.payload = 0 }},
		{"negativeFrames", func(c *testConfig) { c.frames = -1 }},
		{"negativeDuration", func(c *testConfig) { c.durationMS = -1 }},
		{"framesAndDurationBothZero", func(c *testConfig) { c.frames = 0; c.durationMS = 0 }},
		{"emptyTests", func(c *testConfig) { c.tests = "" }},
		{"emptyBauds", func(c *testConfig) { c.bauds = "  " }},
	}
	for _, tc := range tests {
		base := baseTestConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestTestConfigValidate_DurationOnlyIsOK(t *testing.T) {
	c := baseTestConfig()
	c.frames = 0
	c.durationMS = 5000
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok with duration-only, got %v", err)
	}
}
