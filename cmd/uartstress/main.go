// Command uartstress drives a two-node UART stress-test harness: one side
// runs "auto" (Responder, waits to be discovered and services whatever the
// peer asks for) and the other runs "test" (Orchestrator, builds a test
// matrix and drives it to completion).
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/tholian/uartstress/internal/metrics"
	"github.com/tholian/uartstress/internal/reporter"
	"github.com/tholian/uartstress/internal/role"
)

const (
	exitOK              = 0
	exitTestFailure     = 1
	exitProtocolOrIOErr = 2
	exitBadInvocation   = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: uartstress <auto|test> [flags]")
		return exitBadInvocation
	}
	if args[0] == "--version" || args[0] == "version" {
		fmt.Printf("uartstress %s (commit %s, built %s)\n", version, commit, date)
		return exitOK
	}

	switch args[0] {
	case "auto":
		return runAuto(args[1:])
	case "test":
		return runTest(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q; expected auto or test\n", args[0])
		return exitBadInvocation
	}
}

func runAuto(args []string) int {
	cfg, err := parseAutoFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitBadInvocation
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	resp, err := role.NewResponder(cfg.dev)
	if err != nil {
		l.Error("responder_open_failed", "error", err)
		return exitProtocolOrIOErr
	}
	defer resp.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	startMetricsHTTP(cfg.metricsAddr, ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- resp.Run(ctx) }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			l.Error("responder_run_failed", "error", err)
			cancel()
			wg.Wait()
			return exitProtocolOrIOErr
		}
	}
	wg.Wait()
	return exitOK
}

func runTest(args []string) int {
	cfg, err := parseTestFlags(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitBadInvocation
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	filters, err := buildFilters(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitBadInvocation
	}

	orch, err := role.NewOrchestrator(cfg.dev, role.WithFilters(filters))
	if err != nil {
		l.Error("orchestrator_open_failed", "error", err)
		return exitProtocolOrIOErr
	}
	defer orch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	startMetricsHTTP(cfg.metricsAddr, ctx)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sigCh
		l.Info("shutdown_signal", "signal", s.String())
		cancel()
	}()

	if cfg.dumpPlan {
		plan, err := orch.BuildPlan(ctx)
		if err != nil && !errors.Is(err, role.ErrEmptyPlan) {
			l.Error("dump_plan_failed", "error", err)
			wg.Wait()
			return exitProtocolOrIOErr
		}
		orch.Terminate(ctx, "dump-plan")
		_ = reporter.WritePlan(os.Stdout, plan)
		wg.Wait()
		return exitOK
	}

	results, _, err := orch.Run(ctx)
	if err != nil {
		l.Error("orchestrator_run_failed", "error", err)
		wg.Wait()
		return exitProtocolOrIOErr
	}

	reporter.LogSummary(l, results)
	_ = reporter.WriteTable(os.Stdout, results)
	wg.Wait()

	if !reporter.AllPassed(results) {
		return exitTestFailure
	}
	return exitOK
}

func startMetricsHTTP(addr string, ctx context.Context) {
	if addr == "" {
		return
	}
	metrics.InitBuildInfo(version, commit, date)
	srv := metrics.StartHTTP(addr)
	go func() {
		<-ctx.Done()
		_ = srv.Shutdown(context.Background())
	}()
}
