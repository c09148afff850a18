// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package app composes the remote client, the chapter tree and the
// convergence loop into the watch job run by the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ManuGH/rcwatch/internal/chapter"
	"github.com/ManuGH/rcwatch/internal/config"
	xglog "github.com/ManuGH/rcwatch/internal/log"
	"github.com/ManuGH/rcwatch/internal/rainclassroom"
	"github.com/ManuGH/rcwatch/internal/videolog"
	"github.com/ManuGH/rcwatch/internal/watcher"
)

// Client is the remote surface the watch job uses.
type Client interface {
	Platform
	UserAndCourseInfo(ctx context.Context, classroomID int64) (*rainclassroom.Info, error)
	Chapters(ctx context.Context, classroomID int64, courseSign string, universityID int64) ([]chapter.Node, error)
}

// NewClient builds a platform client from the merged configuration.
func NewClient(cfg config.AppConfig) (*rainclassroom.Client, error) {
	logger := xglog.WithComponent("rainclassroom")
	return rainclassroom.NewClient(cfg.Host, rainclassroom.Session{
		SessionID: cfg.SessionID,
		CSRFToken: cfg.CSRFToken,
		XTBZ:      cfg.XTBZ,
	}, rainclassroom.Options{
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.HTTPRetries,
		RateLimit:      rate.Limit(cfg.RateLimit),
		RateLimitBurst: cfg.RateBurst,
		MaxConns:       cfg.Concurrency,
		Logger:         &logger,
	})
}

// LoopConfig maps the configuration onto loop settings.
func LoopConfig(cfg config.AppConfig) watcher.Config {
	return watcher.Config{
		MaxRetries:         cfg.MaxRetries,
		Concurrency:        cfg.Concurrency,
		RoundDelayBase:     cfg.RoundDelayBase,
		RoundDelayPerVideo: cfg.RoundDelayPerVideo,
		Backdate:           cfg.Backdate,
		LOB:                cfg.LOB,
		CDNHost:            cfg.CDNHost,
	}
}

// Watcher runs the watch job for one classroom.
type Watcher struct {
	cfg      config.AppConfig
	client   Client
	logger   zerolog.Logger
	now      func() time.Time
	newRunID func() string
	loopOpts []watcher.Option
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLoopOptions passes options through to the convergence loop.
func WithLoopOptions(opts ...watcher.Option) Option {
	return func(w *Watcher) { w.loopOpts = append(w.loopOpts, opts...) }
}

// WithLogger replaces the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) { w.logger = logger }
}

// WithClock replaces the clock used for report timestamps.
func WithClock(fn func() time.Time) Option {
	return func(w *Watcher) { w.now = fn }
}

// New creates a Watcher.
func New(client Client, cfg config.AppConfig, opts ...Option) *Watcher {
	w := &Watcher{
		cfg:      cfg,
		client:   client,
		logger:   xglog.WithComponent("app"),
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Resolve looks up the account and the configured classroom.
func (w *Watcher) Resolve(ctx context.Context) (*rainclassroom.Info, error) {
	if w.cfg.ClassroomID <= 0 {
		return nil, fmt.Errorf("%w: classroom_id is required", config.ErrInvalidConfig)
	}
	info, err := w.client.UserAndCourseInfo(ctx, w.cfg.ClassroomID)
	if err != nil {
		return nil, fmt.Errorf("resolve classroom %d: %w", w.cfg.ClassroomID, err)
	}
	return info, nil
}

// Videos enumerates the video leaves of the classroom in chapter order.
// A leaf listed twice is tracked once.
func (w *Watcher) Videos(ctx context.Context, info *rainclassroom.Info) ([]watcher.Video, error) {
	nodes, err := w.client.Chapters(ctx, info.ClassroomID, info.CourseSign, info.UniversityID)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	leaves := chapter.Videos(nodes)
	seen := make(map[int64]struct{}, len(leaves))
	videos := make([]watcher.Video, 0, len(leaves))
	for _, leaf := range leaves {
		if _, dup := seen[leaf.ID]; dup {
			continue
		}
		seen[leaf.ID] = struct{}{}
		videos = append(videos, watcher.Video{
			Identity: videolog.Identity{
				UserID:      info.UserID,
				CourseID:    info.CourseID,
				ClassroomID: info.ClassroomID,
				VideoID:     leaf.ID,
			},
			Name: leaf.Name,
		})
	}
	w.logger.Debug().
		Str(xglog.FieldEvent, "chapters.listed").
		Int64(xglog.FieldClassroomID, info.ClassroomID).
		Int("videos", len(videos)).
		Msg("video leaves enumerated")
	return videos, nil
}

// VideoStatus is one video with its current platform progress.
type VideoStatus struct {
	Video    watcher.Video
	Progress *watcher.Progress
	Err      error
}

// Status polls the progress of every video of the classroom without
// submitting anything. Per-video failures are reported in the entries.
func (w *Watcher) Status(ctx context.Context) ([]VideoStatus, error) {
	info, err := w.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	videos, err := w.Videos(ctx, info)
	if err != nil {
		return nil, err
	}

	gw := Gateway{Platform: w.client}
	out := make([]VideoStatus, len(videos))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, w.cfg.Concurrency))
	for i, v := range videos {
		i, v := i, v
		out[i].Video = v
		g.Go(func() error {
			p, err := gw.FetchProgress(gctx, v)
			out[i].Progress = p
			out[i].Err = err
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return out, err
	}
	return out, nil
}

// Run executes the full watch job: resolve, enumerate, converge, report.
// The report is returned whenever the loop ran, even on error.
func (w *Watcher) Run(ctx context.Context) (*Report, error) {
	runID := w.newRunID()
	ctx = xglog.ContextWithRunID(ctx, runID)
	ctx = xglog.ContextWithClassroomID(ctx, w.cfg.ClassroomID)
	logger := xglog.WithContext(ctx, w.logger)
	started := w.now()

	logger.Info().
		Str(xglog.FieldEvent, "watch.start").
		Int("max_retries", w.cfg.MaxRetries).
		Int("concurrency", w.cfg.Concurrency).
		Msg("watch job started")

	info, err := w.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	videos, err := w.Videos(ctx, info)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Str(xglog.FieldEvent, "watch.videos").
		Int64(xglog.FieldUserID, info.UserID).
		Int64(xglog.FieldCourseID, info.CourseID).
		Int("videos", len(videos)).
		Msg("videos to watch")

	opts := append([]watcher.Option{watcher.WithLogger(w.logger)}, w.loopOpts...)
	loop := watcher.New(Gateway{Platform: w.client}, LoopConfig(w.cfg), opts...)
	res, runErr := loop.Run(ctx, videos)
	if res == nil {
		return nil, runErr
	}

	report := newReport(runID, info.UserID, info.ClassroomID, info.CourseName, len(videos), res, runErr)
	report.StartedAt = started.UTC()
	report.FinishedAt = w.now().UTC()

	if w.cfg.ReportPath != "" {
		if err := WriteReport(ctx, w.cfg.ReportPath, report); err != nil {
			return report, errors.Join(runErr, err)
		}
	}
	return report, runErr
}
