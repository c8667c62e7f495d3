// Package metrics exposes Prometheus counters/gauges for frame traffic and
// test outcomes, plus a /metrics + /ready HTTP endpoint, in the same shape
// the teacher uses for its CAN-frame metrics.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tholian/uartstress/internal/logging"
)

// Prometheus counters
var (
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uartstress_tx_frames_total",
		Help: "Total data frames transmitted on the serial link.",
	})
	RxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uartstress_rx_frames_total",
		Help: "Total data frames decoded from the serial link.",
	})
	BadCRCFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uartstress_bad_crc_frames_total",
		Help: "Total frames rejected for a CRC mismatch.",
	})
	ResyncEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uartstress_resync_events_total",
		Help: "Total magic-scan resyncs performed by the frame decoder.",
	})
	SeqGaps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uartstress_seq_gaps_total",
		Help: "Total sequence-number gap units observed across all test cases.",
	})
	ProtocolErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uartstress_protocol_errors_total",
		Help: "Control-channel protocol errors by classification.",
	}, []string{"where"})
	DriverOverruns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "uartstress_driver_overruns_total",
		Help: "Total UART overrun events reported by the driver's error counters.",
	})
	TestCasesRun = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "uartstress_test_cases_total",
		Help: "Total test cases executed, by pass/fail outcome.",
	}, []string{"outcome"})
	CurrentThroughputBPS = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "uartstress_throughput_bps",
		Help: "Observed bits-per-second throughput of the test case currently running.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "uartstress_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Protocol error label constants for ProtocolErrors' "where" label
// (stable label values to bound cardinality).
const (
	ErrPortOpen     = "port_open"
	ErrPortIO       = "port_io"
	ErrPortConfig   = "port_config_unsupported"
	ErrPeerTimeout  = "peer_unresponsive"
	ErrControlSyntax = "control_malformed"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for cheap in-process logging without scraping.
var (
	localTx         uint64
	localRx         uint64
	localBadCRC     uint64
	localResync     uint64
	localSeqGaps    uint64
	localProtoErr   uint64
	localOverruns   uint64
	localCasesPass  uint64
	localCasesFail  uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	TxFrames       uint64
	RxFrames       uint64
	BadCRC         uint64
	Resyncs        uint64
	SeqGaps        uint64
	ProtocolErrors uint64
	DriverOverruns uint64
	CasesPassed    uint64
	CasesFailed    uint64
}

func Snap() Snapshot {
	return Snapshot{
		TxFrames:       atomic.LoadUint64(&localTx),
		RxFrames:       atomic.LoadUint64(&localRx),
		BadCRC:         atomic.LoadUint64(&localBadCRC),
		Resyncs:        atomic.LoadUint64(&localResync),
		SeqGaps:        atomic.LoadUint64(&localSeqGaps),
		ProtocolErrors: atomic.LoadUint64(&localProtoErr),
		DriverOverruns: atomic.LoadUint64(&localOverruns),
		CasesPassed:    atomic.LoadUint64(&localCasesPass),
		CasesFailed:    atomic.LoadUint64(&localCasesFail),
	}
}

// AddTxFrames records n frames transmitted.
func AddTxFrames(n int) {
	TxFrames.Add(float64(n))
	atomic.AddUint64(&localTx, uint64(n))
}

// AddRxFrames records n frames successfully decoded.
func AddRxFrames(n int) {
	RxFrames.Add(float64(n))
	atomic.AddUint64(&localRx, uint64(n))
}

// IncBadCRC records one CRC-mismatched frame.
func IncBadCRC() {
	BadCRCFrames.Inc()
	atomic.AddUint64(&localBadCRC, 1)
}

// IncResync records one decoder resync event.
func IncResync() {
	ResyncEvents.Inc()
	atomic.AddUint64(&localResync, 1)
}

// AddSeqGaps records n sequence-gap units.
func AddSeqGaps(n int) {
	if n <= 0 {
		return
	}
	SeqGaps.Add(float64(n))
	atomic.AddUint64(&localSeqGaps, uint64(n))
}

// IncProtocolError records a classified control-channel protocol error.
func IncProtocolError(where string) {
	ProtocolErrors.WithLabelValues(where).Inc()
	atomic.AddUint64(&localProtoErr, 1)
}

// AddDriverOverruns records n UART overrun events.
func AddDriverOverruns(n uint32) {
	if n == 0 {
		return
	}
	DriverOverruns.Add(float64(n))
	atomic.AddUint64(&localOverruns, uint64(n))
}

// SetThroughput records the current test case's observed bits-per-second.
func SetThroughput(bps float64) {
	CurrentThroughputBPS.Set(bps)
}

// RecordCaseOutcome tallies one finished test case by pass/fail.
func RecordCaseOutcome(pass bool) {
	if pass {
		TestCasesRun.WithLabelValues("pass").Inc()
		atomic.AddUint64(&localCasesPass, 1)
		return
	}
	TestCasesRun.WithLabelValues("fail").Inc()
	atomic.AddUint64(&localCasesFail, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at
// startup) and pre-registers the protocol-error label series so the first
// real error doesn't pay registration latency.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrPortOpen, ErrPortIO, ErrPortConfig, ErrPeerTimeout, ErrControlSyntax} {
		ProtocolErrors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
