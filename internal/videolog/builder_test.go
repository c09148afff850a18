// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package videolog

import (
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIdentity = Identity{
	UserID:      1001,
	CourseID:    2002,
	ClassroomID: 3003,
	VideoID:     4004,
	SKUID:       5005,
	CCID:        "CC0123456789ABCDEF",
}

func newTestBuilder(seed int64) *Builder {
	return NewBuilder(WithRand(rand.New(rand.NewSource(seed)))) // #nosec G404 -- test
}

func TestBuild_ZeroDurationEmitsSingleLoadStart(t *testing.T) {
	b := newTestBuilder(1)
	events := b.Build(testIdentity, Target{Duration: 0, BaseTimestamp: 1_700_000_000_000})

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, EventLoadStart, ev.Type)
	assert.Equal(t, 1, ev.Sequence)
	assert.Zero(t, ev.Played)
	assert.Zero(t, ev.Duration)
	assert.Equal(t, int64(1_700_000_000_000), ev.Timestamp)
}

func TestBuild_NegativeDurationTreatedAsUnknown(t *testing.T) {
	b := newTestBuilder(2)
	events := b.Build(testIdentity, Target{Duration: -3})
	require.Len(t, events, 1)
	assert.Equal(t, EventLoadStart, events[0].Type)
}

func TestBuild_Invariants(t *testing.T) {
	durations := []float64{0.4, 3, 4.999, 5, 7.25, 10, 12.3456, 59.9, 300, 1234.5, 3600}
	for _, d := range durations {
		for seed := int64(0); seed < 20; seed++ {
			b := newTestBuilder(seed)
			events := b.Build(testIdentity, Target{Duration: d, BaseTimestamp: 1_000})

			require.GreaterOrEqual(t, len(events), 8, "duration %v", d)

			var played float64
			for i, ev := range events {
				assert.Equal(t, i+1, ev.Sequence, "duration %v: sequence gap at %d", d, i)
				if i > 0 {
					assert.GreaterOrEqual(t, ev.Timestamp, events[i-1].Timestamp, "duration %v: timestamp went back at %d", d, i)
					if ev.Type != EventHeartbeat {
						assert.Equal(t, events[i-1].Played, ev.Played, "duration %v: played changed on %s", d, ev.Type)
					}
				}
				played = ev.Played
			}
			assert.InDelta(t, d, played, 1, "duration %v: final played", d)
			assert.InDelta(t, d, played, 0.1+1e-9, "duration %v: played drifted past one rounding unit", d)
		}
	}
}

func TestBuild_EventOrder(t *testing.T) {
	b := newTestBuilder(42)
	events := b.Build(testIdentity, Target{Duration: 17.5})

	types := make([]EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []EventType{
		EventLoadStart, EventSeeking, EventLoadedData, EventPlay, EventPlaying,
		EventHeartbeat, EventHeartbeat, EventHeartbeat, // 5, 10, 15
		EventHeartbeat, // remainder 2.5
		EventPause, EventVideoEnd,
	}
	assert.Equal(t, want, types)

	n := len(events)
	assert.Equal(t, EventHeartbeat, events[n-3].Type)
	assert.Equal(t, EventHeartbeat, events[n-4].Type)
}

func TestBuild_HeartbeatCountMatchesFiveSecondBuckets(t *testing.T) {
	tests := []struct {
		duration   float64
		heartbeats int
	}{
		{duration: 1, heartbeats: 1},
		{duration: 5, heartbeats: 2},
		{duration: 9.99, heartbeats: 2},
		{duration: 10, heartbeats: 3},
		{duration: 61, heartbeats: 13},
	}
	for _, tt := range tests {
		events := newTestBuilder(7).Build(testIdentity, Target{Duration: tt.duration})
		got := 0
		for _, ev := range events {
			if ev.Type == EventHeartbeat {
				got++
			}
		}
		assert.Equal(t, tt.heartbeats, got, "duration %v", tt.duration)
	}
}

func TestBuild_DelaysWithinRanges(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		events := newTestBuilder(seed).Build(testIdentity, Target{Duration: 42.7})
		for i := 1; i < len(events); i++ {
			delta := events[i].Timestamp - events[i-1].Timestamp
			ev := events[i]
			if ev.Type == EventHeartbeat {
				// The closing heartbeat carries the sub-bucket remainder.
				if i+1 < len(events) && events[i+1].Type == EventHeartbeat {
					assert.InDelta(t, 5000, delta, 100, "heartbeat %d", ev.Sequence)
				}
				continue
			}
			r := delays[ev.Type]
			assert.GreaterOrEqual(t, delta, r.lo, "%s", ev.Type)
			assert.LessOrEqual(t, delta, r.hi, "%s", ev.Type)
			assert.Positive(t, delta, "%s", ev.Type)
		}
	}
}

func TestBuild_HeartbeatDeltasReconstructDuration(t *testing.T) {
	for _, d := range []float64{5, 12.3, 100, 1799.9} {
		events := newTestBuilder(99).Build(testIdentity, Target{Duration: d})
		var prev, sum float64
		for _, ev := range events {
			if ev.Type == EventHeartbeat {
				sum += ev.Played - prev
			}
			prev = ev.Played
		}
		assert.InDelta(t, d, sum, 0.1+1e-9, "duration %v", d)
	}
}

func TestBuild_CarriesIdentityAndDescriptor(t *testing.T) {
	events := newTestBuilder(3).Build(testIdentity, Target{Duration: 8, LOB: LOBCloud, CDNHost: "cdn.example"})
	guid := events[0].PlayGUID
	require.True(t, strings.HasPrefix(guid, "4004_"), "guid %q", guid)

	for _, ev := range events {
		assert.Equal(t, int64(1001), ev.UserID)
		assert.Equal(t, int64(2002), ev.CourseID)
		assert.Equal(t, int64(3003), ev.ClassroomID)
		assert.Equal(t, int64(4004), ev.VideoID)
		assert.Equal(t, int64(5005), ev.SKUID)
		assert.Equal(t, "CC0123456789ABCDEF", ev.CCID)
		assert.Equal(t, LOBCloud, ev.LOB)
		assert.Equal(t, "cdn.example", ev.CDNHost)
		assert.Equal(t, guid, ev.PlayGUID, "play guid must be stable within one session")
		assert.Equal(t, "web", ev.Platform)
		assert.Equal(t, "video", ev.Kind)
		assert.Equal(t, 5, ev.Interval)
		assert.Equal(t, 1, ev.SP)
	}
	assert.Zero(t, events[0].Duration, "loadstart reports no duration")
	assert.Equal(t, 8.0, events[1].Duration)
}

func TestBuild_Defaults(t *testing.T) {
	events := newTestBuilder(4).Build(testIdentity, Target{Duration: 3})
	assert.Equal(t, DefaultLOB, events[0].LOB)
	assert.Equal(t, DefaultCDNHost, events[0].CDNHost)
}

func TestBuild_PlayGUIDUniqueAcrossCalls(t *testing.T) {
	b := newTestBuilder(5)
	seen := make(map[string]struct{})
	for i := 0; i < 5000; i++ {
		guid := b.Build(testIdentity, Target{})[0].PlayGUID
		_, dup := seen[guid]
		require.False(t, dup, "duplicate play guid %q after %d builds", guid, i)
		seen[guid] = struct{}{}
	}
}

func TestBuild_ConcurrentUse(t *testing.T) {
	b := NewBuilder()
	var wg sync.WaitGroup
	guids := make([]string, 64)
	for i := range guids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := testIdentity
			id.VideoID = int64(i)
			events := b.Build(id, Target{Duration: 12})
			guids[i] = events[0].PlayGUID
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, len(guids))
	for _, g := range guids {
		_, dup := seen[g]
		assert.False(t, dup, "duplicate guid %q", g)
		seen[g] = struct{}{}
	}
}

func TestBuild_EventsDoNotAlias(t *testing.T) {
	events := newTestBuilder(6).Build(testIdentity, Target{Duration: 11})
	first := events[0]
	events[1].Played = math.Pi
	assert.NotEqual(t, math.Pi, first.Played)
	assert.Zero(t, events[0].Played)
}
