// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package watcher

import (
	"context"
	"errors"

	"github.com/ManuGH/rcwatch/internal/videolog"
)

var (
	// ErrConvergenceExhausted reports videos still incomplete after the last
	// round. It is an expected outcome, not a fault.
	ErrConvergenceExhausted = errors.New("watcher: videos still incomplete after retry ceiling")
	// ErrPersistentFailure reports a video whose remote calls failed in every round.
	ErrPersistentFailure = errors.New("watcher: video failed in every round")
)

// Video is one video leaf tracked by the loop.
type Video struct {
	videolog.Identity
	Name string
	// Enriched is set once SKUID and CCID came from the leaf metadata.
	Enriched bool
}

// Progress is the server-reported watch state of one video.
type Progress struct {
	Rate        float64
	Completed   bool
	VideoLength float64
}

// Gateway is the remote platform as the loop sees it.
type Gateway interface {
	// FetchLeaf returns v with its submission fields filled in.
	FetchLeaf(ctx context.Context, v Video) (Video, error)
	// FetchProgress returns nil when the platform has no record yet.
	FetchProgress(ctx context.Context, v Video) (*Progress, error)
	SubmitTelemetry(ctx context.Context, events []videolog.Event) error
}

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeConverged Outcome = "converged"
	OutcomeExhausted Outcome = "exhausted"
	OutcomeCanceled  Outcome = "canceled"
)

// Pending is a video that has not been observed complete.
type Pending struct {
	Video Video
	// Progress is the last successfully polled state, nil if never seen.
	Progress *Progress
	// FailedRounds counts rounds in which any call for this video failed.
	FailedRounds int
	LastErr      error
}

// Submission is the telemetry batch sent in one round.
type Submission struct {
	Round    int
	VideoIDs []int64
}

// Result summarizes a run.
type Result struct {
	Outcome Outcome
	// Rounds is the number of progress polls performed.
	Rounds      int
	Submissions []Submission
	Completed   []Video
	Remaining   []Pending

	cause error
}

// Converged reports whether every video was observed complete.
func (r *Result) Converged() bool {
	return r.Outcome == OutcomeConverged
}

// RemainingVideos returns the videos still incomplete.
func (r *Result) RemainingVideos() []Video {
	out := make([]Video, 0, len(r.Remaining))
	for _, p := range r.Remaining {
		out = append(out, p.Video)
	}
	return out
}

// Err maps the outcome to an error for callers that need an exit status.
func (r *Result) Err() error {
	switch r.Outcome {
	case OutcomeExhausted:
		return ErrConvergenceExhausted
	case OutcomeCanceled:
		if r.cause != nil {
			return r.cause
		}
		return context.Canceled
	}
	return nil
}
