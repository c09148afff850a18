// SPDX-License-Identifier: MIT

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/renameio/v2"

	xglog "github.com/ManuGH/rcwatch/internal/log"
	"github.com/ManuGH/rcwatch/internal/watcher"
)

// Report is the JSON summary written after a watch run.
type Report struct {
	RunID       string             `json:"run_id"`
	UserID      int64              `json:"user_id"`
	ClassroomID int64              `json:"classroom_id"`
	CourseName  string             `json:"course_name,omitempty"`
	Outcome     watcher.Outcome    `json:"outcome"`
	Rounds      int                `json:"rounds"`
	Videos      int                `json:"videos"`
	Submissions []ReportSubmission `json:"submissions"`
	Completed   []ReportVideo      `json:"completed"`
	Remaining   []ReportPending    `json:"remaining"`
	Error       string             `json:"error,omitempty"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}

// ReportSubmission lists the videos included in one round's batch.
type ReportSubmission struct {
	Round    int     `json:"round"`
	VideoIDs []int64 `json:"video_ids"`
}

// ReportVideo identifies one video.
type ReportVideo struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ReportPending is a video left incomplete.
type ReportPending struct {
	ReportVideo
	// Rate is the last polled progress, nil if the platform never reported one.
	Rate         *float64 `json:"rate"`
	FailedRounds int      `json:"failed_rounds"`
	LastError    string   `json:"last_error,omitempty"`
}

func newReport(runID string, userID, classroomID int64, courseName string, videos int, res *watcher.Result, runErr error) *Report {
	r := &Report{
		RunID:       runID,
		UserID:      userID,
		ClassroomID: classroomID,
		CourseName:  courseName,
		Outcome:     res.Outcome,
		Rounds:      res.Rounds,
		Videos:      videos,
		Submissions: make([]ReportSubmission, 0, len(res.Submissions)),
		Completed:   make([]ReportVideo, 0, len(res.Completed)),
		Remaining:   make([]ReportPending, 0, len(res.Remaining)),
	}
	for _, s := range res.Submissions {
		r.Submissions = append(r.Submissions, ReportSubmission{Round: s.Round, VideoIDs: s.VideoIDs})
	}
	for _, v := range res.Completed {
		r.Completed = append(r.Completed, ReportVideo{ID: v.VideoID, Name: v.Name})
	}
	for _, p := range res.Remaining {
		rp := ReportPending{
			ReportVideo:  ReportVideo{ID: p.Video.VideoID, Name: p.Video.Name},
			FailedRounds: p.FailedRounds,
		}
		if p.Progress != nil {
			rate := p.Progress.Rate
			rp.Rate = &rate
		}
		if p.LastErr != nil {
			rp.LastError = p.LastErr.Error()
		}
		r.Remaining = append(r.Remaining, rp)
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

// WriteReport atomically replaces path with the JSON encoding of r.
func WriteReport(ctx context.Context, path string, r *Report) error {
	if path == "" {
		return errors.New("report path is empty")
	}
	logger := xglog.WithComponentFromContext(ctx, "report")

	pendingFile, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending report file: %w", err)
	}
	defer func() {
		if cerr := pendingFile.Cleanup(); cerr != nil {
			logger.Debug().Err(cerr).Msg("cleanup pending report file")
		}
	}()

	enc := json.NewEncoder(pendingFile)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("write report data: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace report file: %w", err)
	}

	logger.Info().
		Str(xglog.FieldEvent, "report.written").
		Str("path", path).
		Str(xglog.FieldOutcome, string(r.Outcome)).
		Msg("run report written")
	return nil
}
