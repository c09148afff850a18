package app

import (
	"context"
	"fmt"

	"github.com/ManuGH/rcwatch/internal/rainclassroom"
	"github.com/ManuGH/rcwatch/internal/videolog"
	"github.com/ManuGH/rcwatch/internal/watcher"
)

// Platform is the part of the remote client the loop depends on.
type Platform interface {
	Leaf(ctx context.Context, classroomID, leafID int64) (*rainclassroom.LeafInfo, error)
	VideoProgress(ctx context.Context, pq rainclassroom.ProgressQuery) (*rainclassroom.Progress, error)
	SendHeartbeat(ctx context.Context, events []videolog.Event) error
}

// Gateway adapts a Platform to watcher.Gateway.
type Gateway struct {
	Platform Platform
}

var _ watcher.Gateway = Gateway{}

// FetchLeaf fills the SKU and media id of v from its leaf metadata.
func (g Gateway) FetchLeaf(ctx context.Context, v watcher.Video) (watcher.Video, error) {
	leaf, err := g.Platform.Leaf(ctx, v.ClassroomID, v.VideoID)
	if err != nil {
		return v, err
	}
	if leaf.ID != 0 && leaf.ID != v.VideoID {
		return v, fmt.Errorf("leaf %d: platform answered for leaf %d", v.VideoID, leaf.ID)
	}
	v.SKUID = leaf.SKUID
	v.CCID = leaf.CCID()
	if v.Name == "" {
		v.Name = leaf.Name
	}
	v.Enriched = true
	return v, nil
}

// FetchProgress returns the watch record of v, nil when none exists yet.
func (g Gateway) FetchProgress(ctx context.Context, v watcher.Video) (*watcher.Progress, error) {
	p, err := g.Platform.VideoProgress(ctx, rainclassroom.ProgressQuery{
		UserID:      v.UserID,
		CourseID:    v.CourseID,
		ClassroomID: v.ClassroomID,
		VideoID:     v.VideoID,
	})
	if err != nil || p == nil {
		return nil, err
	}
	return &watcher.Progress{
		Rate:        p.Rate,
		Completed:   bool(p.Completed),
		VideoLength: p.VideoLength,
	}, nil
}

// SubmitTelemetry sends one heartbeat batch.
func (g Gateway) SubmitTelemetry(ctx context.Context, events []videolog.Event) error {
	return g.Platform.SendHeartbeat(ctx, events)
}
