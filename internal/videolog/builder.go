// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package videolog

import (
	"math"
	"math/rand"
	"strconv"
	"sync"
	"time"
)

const (
	heartbeatIntervalMS = 5000
	heartbeatJitterMS   = 50

	guidMin = 1 << 20
	guidMax = 1 << 21
)

// delayRange is an inclusive range of milliseconds.
type delayRange struct{ lo, hi int64 }

var delays = map[EventType]delayRange{
	EventSeeking:    {500, 1000},
	EventLoadedData: {50, 100},
	EventPlay:       {3000, 10000},
	EventPlaying:    {50, 100},
	EventPause:      {1, 50},
	EventVideoEnd:   {10, 50},
}

// Builder produces telemetry sequences. It is safe for concurrent use.
type Builder struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	issued map[string]struct{}
}

// Option configures a Builder.
type Option func(*Builder)

// WithRand replaces the randomness source, mainly for reproducible tests.
func WithRand(r *rand.Rand) Option {
	return func(b *Builder) {
		if r != nil {
			b.rnd = r
		}
	}
}

// NewBuilder creates a Builder seeded from the clock.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- jitter only
		issued: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the ordered events of one simulated playback of the video.
func (b *Builder) Build(id Identity, target Target) []Event {
	duration := target.Duration
	if duration < 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		duration = 0
	}

	s := &session{b: b, ts: target.BaseTimestamp}
	s.template = Event{
		Interval:    5,
		Platform:    "web",
		CDNHost:     orDefault(target.CDNHost, DefaultCDNHost),
		LOB:         target.LOB,
		SP:          1,
		UserID:      id.UserID,
		CourseID:    id.CourseID,
		VideoID:     id.VideoID,
		SKUID:       id.SKUID,
		ClassroomID: id.ClassroomID,
		CCID:        id.CCID,
		Duration:    duration,
		PlayGUID:    b.playGUID(id.VideoID),
		Kind:        "video",
	}
	if s.template.LOB == "" {
		s.template.LOB = DefaultLOB
	}

	start := s.emit(EventLoadStart, 0)
	start.Duration = 0
	if duration == 0 {
		return []Event{start}
	}

	buckets := int64(math.Floor(duration)) / (heartbeatIntervalMS / 1000)
	remainder := int64(math.Round(math.Mod(duration, heartbeatIntervalMS/1000) * 1000))

	events := make([]Event, 0, 8+buckets)
	events = append(events,
		start,
		s.emit(EventSeeking, b.between(delays[EventSeeking])),
		s.emit(EventLoadedData, b.between(delays[EventLoadedData])),
		s.emit(EventPlay, b.between(delays[EventPlay])),
		s.emit(EventPlaying, b.between(delays[EventPlaying])),
	)

	// Heartbeats sit on a 5s grid anchored at "playing". Each grid point is
	// jittered, so individual gaps vary while the total stays exact.
	var prev int64
	for k := int64(1); k <= buckets; k++ {
		hi := int64(heartbeatJitterMS)
		if k == buckets && remainder < hi {
			hi = remainder
		}
		offset := k*heartbeatIntervalMS + b.between(delayRange{-heartbeatJitterMS, hi})
		events = append(events, s.heartbeat(offset-prev))
		prev = offset
	}
	end := buckets*heartbeatIntervalMS + remainder
	events = append(events,
		s.heartbeat(max(end-prev, 0)),
		s.emit(EventPause, b.between(delays[EventPause])),
		s.emit(EventVideoEnd, b.between(delays[EventVideoEnd])),
	)
	return events
}

// session owns the running counters of one Build call.
type session struct {
	b        *Builder
	template Event
	ts       int64
	seq      int
	playedMS int64
}

func (s *session) emit(et EventType, delayMS int64) Event {
	s.ts += delayMS
	s.seq++
	ev := s.template
	ev.Type = et
	ev.Timestamp = s.ts
	ev.Sequence = s.seq
	ev.Played = roundTenth(s.playedMS)
	return ev
}

func (s *session) heartbeat(deltaMS int64) Event {
	s.playedMS += deltaMS
	return s.emit(EventHeartbeat, deltaMS)
}

func roundTenth(ms int64) float64 {
	return math.Round(float64(ms)/100) / 10
}

func (b *Builder) between(r delayRange) int64 {
	if r.hi <= r.lo {
		return r.lo
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return r.lo + b.rnd.Int63n(r.hi-r.lo+1)
}

// playGUID returns "<video id>_<base36 token>", unique per builder.
func (b *Builder) playGUID(videoID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	prefix := strconv.FormatInt(videoID, 10) + "_"
	for {
		n := guidMin + b.rnd.Int63n(guidMax-guidMin)
		guid := prefix + strconv.FormatInt(n, 36)
		if _, dup := b.issued[guid]; dup {
			continue
		}
		b.issued[guid] = struct{}{}
		return guid
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
