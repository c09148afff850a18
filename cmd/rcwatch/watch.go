package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/rcwatch/internal/app"
	"github.com/ManuGH/rcwatch/internal/config"
	xglog "github.com/ManuGH/rcwatch/internal/log"
	"github.com/ManuGH/rcwatch/internal/metrics"
	"github.com/ManuGH/rcwatch/internal/telemetry"
	"github.com/ManuGH/rcwatch/internal/version"
	"github.com/ManuGH/rcwatch/internal/watcher"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Submit playback telemetry until every video of the classroom is complete",
		Long: `Resolves the classroom, enumerates its video leaves and runs submission
rounds until the platform reports every video complete or the retry
ceiling is reached.

Exit status is 0 when all videos converged, 2 when some remain incomplete
after the last round and 1 on any other error.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, opts)
		},
	}
}

func runWatch(cmd *cobra.Command, opts *rootOptions) error {
	cfg, logger, err := opts.load(cmd, true)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	provider, err := telemetry.NewProvider(ctx, tracingConfig(cfg))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Str(xglog.FieldEvent, "tracing.shutdown_failed").Msg("tracer shutdown failed")
		}
	}()

	client, err := app.NewClient(cfg)
	if err != nil {
		return err
	}
	w := app.New(client, cfg)

	// The job owns jobCtx; ending it stops the metrics listener.
	jobCtx, stopJob := context.WithCancel(ctx)
	defer stopJob()
	g, gctx := errgroup.WithContext(jobCtx)
	if cfg.MetricsListen != "" {
		srv := metrics.NewServer(cfg.MetricsListen, xglog.WithComponent("metrics"))
		g.Go(func() error { return srv.Run(gctx) })
	}
	var report *app.Report
	g.Go(func() error {
		defer stopJob()
		var runErr error
		report, runErr = w.Run(gctx)
		return runErr
	})
	runErr := g.Wait()

	if report != nil {
		printReport(cmd.OutOrStdout(), report)
	}
	if runErr != nil {
		return runErr
	}
	switch report.Outcome {
	case watcher.OutcomeExhausted:
		return &exitCodeError{code: exitExhausted, err: fmt.Errorf("%w: %d of %d videos remain", watcher.ErrConvergenceExhausted, len(report.Remaining), report.Videos)}
	case watcher.OutcomeCanceled:
		return &exitCodeError{code: exitError, err: fmt.Errorf("watch canceled: %w", context.Cause(ctx))}
	}
	return nil
}

func tracingConfig(cfg config.AppConfig) telemetry.Config {
	return telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "rcwatch",
		ServiceVersion: version.Version,
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
	}
}

func printReport(out io.Writer, r *app.Report) {
	fmt.Fprintf(out, "outcome: %s  rounds: %d  submissions: %d  completed: %d/%d\n",
		r.Outcome, r.Rounds, len(r.Submissions), len(r.Completed), r.Videos)
	for _, p := range r.Remaining {
		rate := "-"
		if p.Rate != nil {
			rate = fmt.Sprintf("%.0f%%", *p.Rate*100)
		}
		line := fmt.Sprintf("  remaining %d %q rate=%s", p.ID, p.Name, rate)
		if p.LastError != "" {
			line += " error=" + p.LastError
		}
		fmt.Fprintln(out, line)
	}
}
