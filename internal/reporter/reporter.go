// Package reporter formats the Orchestrator's finished CaseResult list:
// one structured slog summary line, plus a human-readable table for
// interactive use.
package reporter

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/tholian/uartstress/internal/planner"
	"github.com/tholian/uartstress/internal/role"
)

// LogSummary emits one structured log line per finished case plus a final
// aggregate line, matching the teacher's shutdown_summary shape.
func LogSummary(log *slog.Logger, results []role.CaseResult) {
	var passed, failed int
	for i, cr := range results {
		log.Info("case_result",
			"index", i,
			"name", cr.Case.Name,
			"config", cr.Case.PortConfig.String(),
			"dir", cr.Case.Direction,
			"pass", cr.Result.Pass,
			"reason", cr.Reason,
			"rx_frames", cr.Result.RxFrames,
			"bad_crc", cr.Result.BadCRC,
			"seq_gaps", cr.Result.SeqGaps,
			"rate_bps", cr.Result.RateBPS,
		)
		if cr.Result.Pass {
			passed++
		} else {
			failed++
		}
	}
	log.Info("run_summary", "total", len(results), "passed", passed, "failed", failed)
}

// WriteTable renders results as an aligned, human-readable table to w.
func WriteTable(w io.Writer, results []role.CaseResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTEST\tCONFIG\tDIR\tPASS\tREASON\tRX\tBAD_CRC\tGAPS\tRATE_BPS")
	for i, cr := range results {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%t\t%s\t%d\t%d\t%d\t%.0f\n",
			i, cr.Case.Name, cr.Case.PortConfig.String(), cr.Case.Direction,
			cr.Result.Pass, cr.Reason,
			cr.Result.RxFrames, cr.Result.BadCRC, cr.Result.SeqGaps, cr.Result.RateBPS)
	}
	return tw.Flush()
}

// WritePlan renders a Plan (no results yet) as an aligned table, used by
// --dump-plan to preview what a run would execute.
func WritePlan(w io.Writer, plan planner.Plan) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTEST\tCONFIG\tDIR\tFRAMES\tDURATION_MS\tPAYLOAD")
	for i, tc := range plan {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%d\t%d\n",
			i, tc.Name, tc.PortConfig.String(), tc.Direction, tc.Frames, tc.DurationMS, tc.PayloadSize)
	}
	return tw.Flush()
}

// AllPassed reports whether every case in results passed.
func AllPassed(results []role.CaseResult) bool {
	for _, cr := range results {
		if !cr.Result.Pass {
			return false
		}
	}
	return true
}
