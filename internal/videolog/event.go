// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package videolog synthesizes the playback telemetry a web video player
// reports while a video is watched from start to end.
package videolog

import "fmt"

// EventType is the player lifecycle event carried in the "et" field.
type EventType string

const (
	EventLoadStart  EventType = "loadstart"
	EventSeeking    EventType = "seeking"
	EventLoadedData EventType = "loadeddata"
	EventPlay       EventType = "play"
	EventPlaying    EventType = "playing"
	EventHeartbeat  EventType = "heartbeat"
	EventPause      EventType = "pause"
	EventVideoEnd   EventType = "videoend"
)

// LOB is the platform line-of-business code reported by the player.
type LOB string

const (
	LOBPlat2 LOB = "plat2"
	LOBPlat  LOB = "plat"
	LOBXT    LOB = "xt"
	LOBYKT   LOB = "ykt"
	LOBCloud LOB = "cloud"
	LOBZYK   LOB = "zyk"
	LOBMTC   LOB = "mtc"
)

// DefaultLOB and DefaultCDNHost match what the stock web player reports.
const (
	DefaultLOB     = LOBYKT
	DefaultCDNHost = "ali-cdn.xuetangx.com"
)

var knownLOBs = []LOB{LOBPlat2, LOBPlat, LOBXT, LOBYKT, LOBCloud, LOBZYK, LOBMTC}

// Valid reports whether l is one of the known platform codes.
func (l LOB) Valid() bool {
	for _, k := range knownLOBs {
		if l == k {
			return true
		}
	}
	return false
}

// ParseLOB validates a platform code.
func ParseLOB(s string) (LOB, error) {
	l := LOB(s)
	if !l.Valid() {
		return "", fmt.Errorf("unknown lob %q (want one of %v)", s, knownLOBs)
	}
	return l, nil
}

// Identity addresses one video within one classroom.
type Identity struct {
	UserID      int64  `json:"user_id"`
	CourseID    int64  `json:"course_id"`
	ClassroomID int64  `json:"classroom_id"`
	VideoID     int64  `json:"video_id"`
	SKUID       int64  `json:"sku_id"`
	CCID        string `json:"cc_id"`
}

// Target describes the playback session to synthesize.
type Target struct {
	// Duration is the authoritative video length in seconds. Zero means the
	// length is unknown and only a loadstart event is produced.
	Duration float64
	LOB      LOB
	CDNHost  string
	// BaseTimestamp is the wall clock of the first event in milliseconds
	// since the epoch.
	BaseTimestamp int64
}

// Event is one telemetry record in the wire shape of the heartbeat API.
// Events are plain values; the builder never hands out shared state.
type Event struct {
	Interval    int       `json:"i"`
	Type        EventType `json:"et"`
	Platform    string    `json:"p"`
	CDNHost     string    `json:"n"`
	LOB         LOB       `json:"lob"`
	Played      float64   `json:"cp"`
	FP          int       `json:"fp"`
	TP          int       `json:"tp"`
	SP          int       `json:"sp"`
	Timestamp   int64     `json:"ts"`
	UserID      int64     `json:"u"`
	UserIP      string    `json:"uip"`
	CourseID    int64     `json:"c"`
	VideoID     int64     `json:"v"`
	SKUID       int64     `json:"skuid"`
	ClassroomID int64     `json:"classroomid"`
	CCID        string    `json:"cc"`
	Duration    float64   `json:"d"`
	PlayGUID    string    `json:"pg"`
	Sequence    int       `json:"sq"`
	Kind        string    `json:"t"`
	CardsID     int       `json:"cards_id"`
	Slide       int       `json:"slide"`
	VideoURL    string    `json:"v_url"`
}
