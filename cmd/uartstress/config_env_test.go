package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyCommonEnvOverrides_Basic(t *testing.T) {
	base := &commonConfig{
		dev:             "/dev/ttyUSB0",
		logFormat:       "text",
		logLevel:        "info",
		metricsAddr:     "",
		logMetricsEvery: 0,
	}

	os.Setenv("UARTSTRESS_DEV", "/dev/ttyUSB1")
	os.Setenv("UARTSTRESS_LOG_LEVEL", "debug")
	os.Setenv("UARTSTRESS_METRICS", ":9100")
	os.Setenv("UARTSTRESS_LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("UARTSTRESS_DEV")
		os.Unsetenv("UARTSTRESS_LOG_LEVEL")
		os.Unsetenv("UARTSTRESS_METRICS")
		os.Unsetenv("UARTSTRESS_LOG_METRICS_INTERVAL")
	})

	if err := applyCommonEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.dev != "/dev/ttyUSB1" {
		t.Fatalf("expected dev override, got %q", base.dev)
	}
	if base.logLevel != "debug" {
		t.Fatalf("expected logLevel override, got %q", base.logLevel)
	}
	if base.metricsAddr != ":9100" {
		t.Fatalf("expected metricsAddr override, got %q", base.metricsAddr)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyCommonEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &commonConfig{dev: "/dev/ttyUSB0"}
	os.Setenv("UARTSTRESS_DEV", "/dev/ttyUSB9")
	t.Cleanup(func() { os.Unsetenv("UARTSTRESS_DEV") })

	if err := applyCommonEnvOverrides(base, map[string]struct{}{"dev": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.dev != "/dev/ttyUSB0" {
		t.Fatalf("expected dev unchanged, got %q", base.dev)
	}
}

func TestApplyCommonEnvOverrides_BadDuration(t *testing.T) {
	base := &commonConfig{}
	os.Setenv("UARTSTRESS_LOG_METRICS_INTERVAL", "not-a-duration")
	t.Cleanup(func() { os.Unsetenv("UARTSTRESS_LOG_METRICS_INTERVAL") })

	if err := applyCommonEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad duration")
	}
}

func TestApplyTestEnvOverrides_Basic(t *testing.T) {
	base := &testConfig{bauds: "9600", payload: 256, frames: 1000, fifoAllConfigs: false}

	os.Setenv("UARTSTRESS_BAUDS", "115200,230400")
	os.Setenv("UARTSTRESS_PAYLOAD", "64")
	os.Setenv("UARTSTRESS_FRAMES", "50")
	os.Setenv("UARTSTRESS_FIFO_ALL_CONFIGS", "true")
	t.Cleanup(func() {
		os.Unsetenv("UARTSTRESS_BAUDS")
		os.Unsetenv("UARTSTRESS_PAYLOAD")
		os.Unsetenv("UARTSTRESS_FRAMES")
		os.Unsetenv("UARTSTRESS_FIFO_ALL_CONFIGS")
	})

	if err := applyTestEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.bauds != "115200,230400" {
		t.Fatalf("expected bauds override, got %q", base.bauds)
	}
	if base.payload != 64 {
		t.Fatalf("expected payload override, got %d", base.payload)
	}
	if base.frames != 50 {
		t.Fatalf("expected frames override, got %d", base.frames)
	}
	if !base.fifoAllConfigs {
		t.Fatalf("expected fifoAllConfigs true")
	}
}

func TestApplyTestEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &testConfig{payload: 256}
	os.Setenv("UARTSTRESS_PAYLOAD", "4096")
	t.Cleanup(func() { os.Unsetenv("UARTSTRESS_PAYLOAD") })

	if err := applyTestEnvOverrides(base, map[string]struct{}{"payload": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.payload != 256 {
		t.Fatalf("expected payload unchanged, got %d", base.payload)
	}
}

func TestApplyTestEnvOverrides_BadInt(t *testing.T) {
	base := &testConfig{frames: 1000}
	os.Setenv("UARTSTRESS_FRAMES", "notint")
	t.Cleanup(func() { os.Unsetenv("UARTSTRESS_FRAMES") })

	if err := applyTestEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
