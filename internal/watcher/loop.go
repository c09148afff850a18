// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package watcher drives videos to completion by submitting synthesized
// playback telemetry and polling the platform until it reports them done.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	xglog "github.com/ManuGH/rcwatch/internal/log"
	"github.com/ManuGH/rcwatch/internal/metrics"
	"github.com/ManuGH/rcwatch/internal/telemetry"
	"github.com/ManuGH/rcwatch/internal/videolog"
)

const (
	DefaultMaxRetries         = 3
	DefaultConcurrency        = 4
	DefaultRoundDelayBase     = 2 * time.Second
	DefaultRoundDelayPerVideo = time.Second
)

// Config tunes a Loop.
type Config struct {
	// MaxRetries is the last round index; rounds 0..MaxRetries run.
	MaxRetries int
	// Concurrency caps in-flight calls within one batch.
	Concurrency        int
	RoundDelayBase     time.Duration
	RoundDelayPerVideo time.Duration
	// Backdate shifts synthesized timestamps into the past.
	Backdate time.Duration
	LOB      videolog.LOB
	CDNHost  string
}

// DefaultConfig returns the stock loop settings.
func DefaultConfig() Config {
	return Config{
		MaxRetries:         DefaultMaxRetries,
		Concurrency:        DefaultConcurrency,
		RoundDelayBase:     DefaultRoundDelayBase,
		RoundDelayPerVideo: DefaultRoundDelayPerVideo,
		Backdate:           30 * time.Minute,
		LOB:                videolog.DefaultLOB,
		CDNHost:            videolog.DefaultCDNHost,
	}
}

// Loop runs convergence rounds against a Gateway.
type Loop struct {
	gw      Gateway
	cfg     Config
	builder *videolog.Builder
	sleep   func(ctx context.Context, d time.Duration) error
	now     func() time.Time
	logger  zerolog.Logger
}

// Option configures a Loop.
type Option func(*Loop)

// WithSleeper replaces the inter-round wait.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) { l.sleep = fn }
}

// WithClock replaces the wall clock used for event timestamps.
func WithClock(fn func() time.Time) Option {
	return func(l *Loop) { l.now = fn }
}

// WithBuilder replaces the telemetry builder.
func WithBuilder(b *videolog.Builder) Option {
	return func(l *Loop) { l.builder = b }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loop) { l.logger = logger }
}

// New creates a Loop.
func New(gw Gateway, cfg Config, opts ...Option) *Loop {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.RoundDelayBase < 0 {
		cfg.RoundDelayBase = 0
	}
	if cfg.RoundDelayPerVideo < 0 {
		cfg.RoundDelayPerVideo = 0
	}
	if cfg.LOB == "" {
		cfg.LOB = videolog.DefaultLOB
	}
	l := &Loop{
		gw:      gw,
		cfg:     cfg,
		builder: videolog.NewBuilder(),
		sleep:   sleepWithContext,
		now:     time.Now,
		logger:  xglog.WithComponent("watcher"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// item is one pending video plus its per-round bookkeeping.
type item struct {
	Pending
	roundFailed bool
}

func (it *item) fail(err error) {
	it.LastErr = err
	it.roundFailed = true
}

// Run drives videos until all are complete, the retry ceiling is reached or
// ctx is canceled. Exhaustion and cancellation are reported in the Result;
// the error is non-nil only when a remaining video failed in every round.
func (l *Loop) Run(ctx context.Context, videos []Video) (*Result, error) {
	logger := xglog.WithContext(ctx, l.logger)
	res := &Result{}

	working := make([]*item, len(videos))
	for i, v := range videos {
		working[i] = &item{Pending: Pending{Video: v}}
	}

	for round := 0; ; round++ {
		roundCtx, span := telemetry.Tracer("rcwatch.watcher").Start(ctx, "rcwatch.watcher.round")
		span.SetAttributes(telemetry.RoundAttributes(classroomOf(working), round, len(working))...)
		// In-flight batches drain even when ctx is canceled.
		batchCtx := context.WithoutCancel(roundCtx)

		roundLogger := logger.With().Int(xglog.FieldRound, round).Logger()
		roundLogger.Info().
			Str(xglog.FieldEvent, "round.start").
			Int(xglog.FieldPending, len(working)).
			Msg("round started")

		for _, it := range working {
			it.roundFailed = false
		}

		stopped := ctx.Err() != nil
		if round >= 1 && !stopped {
			l.enrich(batchCtx, roundLogger, working)
			if stopped = ctx.Err() != nil; !stopped {
				if sub := l.submit(batchCtx, roundLogger, round, working); len(sub.VideoIDs) > 0 {
					res.Submissions = append(res.Submissions, sub)
				}
				wait := l.cfg.RoundDelayBase + time.Duration(len(working))*l.cfg.RoundDelayPerVideo
				roundLogger.Debug().Str(xglog.FieldEvent, "round.wait").Dur("wait", wait).Msg("waiting before progress poll")
				stopped = l.sleep(ctx, wait) != nil
			}
		}
		if stopped || ctx.Err() != nil {
			span.SetStatus(codes.Error, "canceled")
			span.End()
			return l.finish(ctx, logger, res, OutcomeCanceled, working), nil
		}

		l.poll(batchCtx, roundLogger, working)
		res.Rounds++

		var next []*item
		failed := 0
		for _, it := range working {
			if it.roundFailed {
				it.FailedRounds++
				failed++
			}
			if it.Progress != nil && it.Progress.Completed {
				res.Completed = append(res.Completed, it.Video)
				continue
			}
			next = append(next, it)
		}
		working = next

		metrics.RecordRound(len(working))
		span.SetAttributes(attribute.Int(telemetry.FailedKey, failed), attribute.Int(telemetry.PendingKey, len(working)))
		span.End()
		roundLogger.Info().
			Str(xglog.FieldEvent, "round.done").
			Int(xglog.FieldPending, len(working)).
			Int(xglog.FieldDone, len(res.Completed)).
			Int(xglog.FieldFailed, failed).
			Msg("round finished")

		if len(working) == 0 {
			return l.finish(ctx, logger, res, OutcomeConverged, working), nil
		}
		if round >= l.cfg.MaxRetries {
			l.finish(ctx, logger, res, OutcomeExhausted, working)
			return res, persistentFailure(res)
		}
	}
}

func classroomOf(items []*item) int64 {
	if len(items) == 0 {
		return 0
	}
	return items[0].Video.ClassroomID
}

func (l *Loop) finish(ctx context.Context, logger zerolog.Logger, res *Result, outcome Outcome, working []*item) *Result {
	res.Outcome = outcome
	res.Remaining = make([]Pending, 0, len(working))
	for _, it := range working {
		res.Remaining = append(res.Remaining, it.Pending)
	}
	if outcome == OutcomeCanceled {
		res.cause = context.Cause(ctx)
	}
	metrics.RecordRun(string(outcome))

	ev := logger.Info()
	if outcome != OutcomeConverged {
		ev = logger.Warn()
	}
	ev.Str(xglog.FieldEvent, "watch."+string(outcome)).
		Str(xglog.FieldOutcome, string(outcome)).
		Int("rounds", res.Rounds).
		Int("submissions", len(res.Submissions)).
		Int(xglog.FieldPending, len(res.Remaining)).
		Msg("watch finished")
	return res
}

func persistentFailure(res *Result) error {
	var errs []error
	for _, p := range res.Remaining {
		if p.FailedRounds >= res.Rounds && p.LastErr != nil {
			errs = append(errs, fmt.Errorf("video %d: %w", p.Video.VideoID, p.LastErr))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPersistentFailure, errors.Join(errs...))
}

// enrich fetches leaf metadata for pending videos not enriched yet.
func (l *Loop) enrich(ctx context.Context, logger zerolog.Logger, working []*item) {
	var todo []*item
	for _, it := range working {
		if !it.Video.Enriched {
			todo = append(todo, it)
		}
	}
	if len(todo) == 0 {
		return
	}

	results := make([]Video, len(todo))
	errs := l.batch(ctx, len(todo), func(ctx context.Context, i int) error {
		v, err := l.gw.FetchLeaf(ctx, todo[i].Video)
		results[i] = v
		return err
	})
	for i, it := range todo {
		metrics.RecordVideoOp("enrich", errs[i])
		if errs[i] != nil {
			it.fail(errs[i])
			logger.Warn().Err(errs[i]).
				Str(xglog.FieldEvent, "leaf.failed").
				Int64(xglog.FieldVideoID, it.Video.VideoID).
				Msg("leaf metadata fetch failed")
			continue
		}
		v := results[i]
		v.Enriched = true
		it.Video = v
	}
	logger.Info().Str(xglog.FieldEvent, "leaf.fetched").Int("videos", len(todo)).Msg("leaf metadata fetched")
}

// submit sends one telemetry batch per enriched pending video.
func (l *Loop) submit(ctx context.Context, logger zerolog.Logger, round int, working []*item) Submission {
	var todo []*item
	for _, it := range working {
		if it.Video.Enriched {
			todo = append(todo, it)
		}
	}
	sub := Submission{Round: round}
	if len(todo) == 0 {
		return sub
	}

	base := l.now().Add(-l.cfg.Backdate).UnixMilli()
	errs := l.batch(ctx, len(todo), func(ctx context.Context, i int) error {
		it := todo[i]
		duration := 0.0
		if it.Progress != nil {
			duration = it.Progress.VideoLength
		}
		events := l.builder.Build(it.Video.Identity, videolog.Target{
			Duration:      duration,
			LOB:           l.cfg.LOB,
			CDNHost:       l.cfg.CDNHost,
			BaseTimestamp: base,
		})
		if err := l.gw.SubmitTelemetry(ctx, events); err != nil {
			return err
		}
		metrics.RecordTelemetryEvents(len(events))
		return nil
	})

	for i, it := range todo {
		sub.VideoIDs = append(sub.VideoIDs, it.Video.VideoID)
		metrics.RecordVideoOp("submit", errs[i])
		if errs[i] != nil {
			it.fail(errs[i])
			logger.Warn().Err(errs[i]).
				Str(xglog.FieldEvent, "telemetry.failed").
				Int64(xglog.FieldVideoID, it.Video.VideoID).
				Msg("telemetry submission failed")
		}
	}
	logger.Info().
		Str(xglog.FieldEvent, "telemetry.submitted").
		Int("videos", len(todo)).
		Msg("telemetry submitted")
	return sub
}

// poll refreshes progress for every pending video.
func (l *Loop) poll(ctx context.Context, logger zerolog.Logger, working []*item) {
	results := make([]*Progress, len(working))
	errs := l.batch(ctx, len(working), func(ctx context.Context, i int) error {
		p, err := l.gw.FetchProgress(ctx, working[i].Video)
		results[i] = p
		return err
	})
	for i, it := range working {
		metrics.RecordVideoOp("poll", errs[i])
		if errs[i] != nil {
			it.fail(errs[i])
			logger.Warn().Err(errs[i]).
				Str(xglog.FieldEvent, "progress.failed").
				Int64(xglog.FieldVideoID, it.Video.VideoID).
				Msg("progress poll failed")
			continue
		}
		it.Progress = results[i]
	}
	logger.Debug().Str(xglog.FieldEvent, "progress.polled").Int("videos", len(working)).Msg("progress polled")
}

// batch runs fn for 0..n-1 with bounded concurrency and returns one error
// slot per item. A failing item never cancels its siblings.
func (l *Loop) batch(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(l.cfg.Concurrency)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			errs[i] = fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
