package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// commonConfig holds the ambient flags shared by both subcommands.
type commonConfig struct {
	dev             string
	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
}

// autoConfig is the "auto" (Responder) subcommand's configuration.
type autoConfig struct {
	commonConfig
}

// testConfig is the "test" (Orchestrator) subcommand's configuration.
type testConfig struct {
	commonConfig
	tests          string
	bauds          string
	parity         string
	bits           string
	dir            string
	flow           string
	payload        int
	frames         int
	durationMS     int
	fifoAllConfigs bool
	dumpPlan       bool
}

func parseAutoFlags(args []string) (*autoConfig, error) {
	fs := flag.NewFlagSet("auto", flag.ContinueOnError)
	dev := fs.String("dev", "/dev/ttyUSB0", "Serial device path")
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })

	cfg := &autoConfig{commonConfig{
		dev:             *dev,
		logFormat:       *logFormat,
		logLevel:        *logLevel,
		metricsAddr:     *metricsAddr,
		logMetricsEvery: *logMetricsEvery,
	}}
	if err := applyCommonEnvOverrides(&cfg.commonConfig, set); err != nil {
		return nil, err
	}
	if err := cfg.commonConfig.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parseTestFlags(args []string) (*testConfig, error) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	dev := fs.String("dev", "/dev/ttyUSB0", "Serial device path")
	logFormat := fs.String("log-format", "text", "Log format: text|json")
	logLevel := fs.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := fs.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := fs.Duration("log-metrics-interval", 0, "If >0, periodically log metrics counters")
	tests := fs.String("tests", "max-rate,fifo-residue", "Comma-separated test names to run")
	bauds := fs.String("bauds", "9600,115200", "Comma-separated candidate baud rates")
	parity := fs.String("parity", "none", "Comma-separated candidate parities: none|even|odd")
	bits := fs.String("bits", "8", "Comma-separated candidate data bit widths: 7|8")
	dir := fs.String("dir", "tx,rx", "Comma-separated candidate directions: tx|rx|both")
	flow := fs.String("flow", "none", "Comma-separated candidate flow modes: none|rtscts")
	payload := fs.Int("payload", 256, "Payload size in bytes for max-rate / max payload for fifo-residue")
	frames := fs.Int("frames", 1000, "Frame count for max-rate (0 to use --duration-ms instead)")
	durationMS := fs.Int("duration-ms", 0, "Duration in milliseconds for max-rate (overrides --frames if > 0)")
	fifoAllConfigs := fs.Bool("fifo-all-configs", false, "Run fifo-residue at every PortConfig instead of only the control config")
	dumpPlan := fs.Bool("dump-plan", false, "Print the computed test plan and exit without running it")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	set := map[string]struct{}{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = struct{}{} })

	cfg := &testConfig{
		commonConfig: commonConfig{
			dev:             *dev,
			logFormat:       *logFormat,
			logLevel:        *logLevel,
			metricsAddr:     *metricsAddr,
			logMetricsEvery: *logMetricsEvery,
		},
		tests:          *tests,
		bauds:          *bauds,
		parity:         *parity,
		bits:           *bits,
		dir:            *dir,
		flow:           *flow,
		payload:        *payload,
		frames:         *frames,
		durationMS:     *durationMS,
		fifoAllConfigs: *fifoAllConfigs,
		dumpPlan:       *dumpPlan,
	}
	if err := applyCommonEnvOverrides(&cfg.commonConfig, set); err != nil {
		return nil, err
	}
	if err := applyTestEnvOverrides(cfg, set); err != nil {
		return nil, err
	}
	if err := cfg.commonConfig.validate(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *commonConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if c.dev == "" {
		return errors.New("dev must not be empty")
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	if c.logMetricsEvery < 0 {
		return errors.New("log-metrics-interval must be >= 0")
	}
	return nil
}

func (c *testConfig) validate() error {
	if c.payload <= 0 {
		return fmt.Errorf("payload must be > 0 (got %d)", c.payload)
	}
	if c.frames < 0 {
		return errors.New("frames must be >= 0")
	}
	if c.durationMS < 0 {
		return errors.New("duration-ms must be >= 0")
	}
	if c.frames == 0 && c.durationMS == 0 {
		return errors.New("one of frames or duration-ms must be > 0")
	}
	if strings.TrimSpace(c.tests) == "" {
		return errors.New("tests must not be empty")
	}
	if strings.TrimSpace(c.bauds) == "" {
		return errors.New("bauds must not be empty")
	}
	return nil
}

// applyCommonEnvOverrides maps UARTSTRESS_* environment variables onto the
// ambient config fields shared by both subcommands, unless a flag of the
// same name was explicitly set (flags win).
func applyCommonEnvOverrides(c *commonConfig, set map[string]struct{}) error {
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["dev"]; !ok {
		if v, ok := get("UARTSTRESS_DEV"); ok && v != "" {
			c.dev = v
		}
	}
	if _, ok := set["log-format"]; !ok {
		if v, ok := get("UARTSTRESS_LOG_FORMAT"); ok && v != "" {
			c.logFormat = v
		}
	}
	if _, ok := set["log-level"]; !ok {
		if v, ok := get("UARTSTRESS_LOG_LEVEL"); ok && v != "" {
			c.logLevel = v
		}
	}
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("UARTSTRESS_METRICS"); ok {
			c.metricsAddr = v
		}
	}
	if _, ok := set["log-metrics-interval"]; !ok {
		if v, ok := get("UARTSTRESS_LOG_METRICS_INTERVAL"); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid UARTSTRESS_LOG_METRICS_INTERVAL: %w", err)
			}
			c.logMetricsEvery = d
		}
	}
	return nil
}

func applyTestEnvOverrides(c *testConfig, set map[string]struct{}) error {
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	if _, ok := set["tests"]; !ok {
		if v, ok := get("UARTSTRESS_TESTS"); ok && v != "" {
			c.tests = v
		}
	}
	if _, ok := set["bauds"]; !ok {
		if v, ok := get("UARTSTRESS_BAUDS"); ok && v != "" {
			c.bauds = v
		}
	}
	if _, ok := set["parity"]; !ok {
		if v, ok := get("UARTSTRESS_PARITY"); ok && v != "" {
			c.parity = v
		}
	}
	if _, ok := set["bits"]; !ok {
		if v, ok := get("UARTSTRESS_BITS"); ok && v != "" {
			c.bits = v
		}
	}
	if _, ok := set["dir"]; !ok {
		if v, ok := get("UARTSTRESS_DIR"); ok && v != "" {
			c.dir = v
		}
	}
	if _, ok := set["flow"]; !ok {
		if v, ok := get("UARTSTRESS_FLOW"); ok && v != "" {
			c.flow = v
		}
	}
	if _, ok := set["payload"]; !ok {
		if v, ok := get("UARTSTRESS_PAYLOAD"); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid UARTSTRESS_PAYLOAD: %w", err)
			}
			c.payload = n
		}
	}
	if _, ok := set["frames"]; !ok {
		if v, ok := get("UARTSTRESS_FRAMES"); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid UARTSTRESS_FRAMES: %w", err)
			}
			c.frames = n
		}
	}
	if _, ok := set["duration-ms"]; !ok {
		if v, ok := get("UARTSTRESS_DURATION_MS"); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid UARTSTRESS_DURATION_MS: %w", err)
			}
			c.durationMS = n
		}
	}
	if _, ok := set["fifo-all-configs"]; !ok {
		if v, ok := get("UARTSTRESS_FIFO_ALL_CONFIGS"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.fifoAllConfigs = true
			case "0", "false", "no", "off":
				c.fifoAllConfigs = false
			}
		}
	}
	return nil
}
