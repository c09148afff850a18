// SPDX-License-Identifier: MIT
package rainclassroom

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/ManuGH/rcwatch/internal/videolog"
)

// MockVideo is one video leaf served by MockServer.
type MockVideo struct {
	ID     int64
	Name   string
	SKUID  int64
	CCID   string
	Length float64
	// Completed marks the video as already finished.
	Completed bool
	// Stubborn videos never complete, whatever is submitted.
	Stubborn bool
	// Tracked videos have a progress record before any heartbeat arrives.
	Tracked bool

	rate    float64
	watched float64
}

// MockServer simulates the platform endpoints used by the watcher.
//
// Progress follows what the real service does: an untracked video has no
// record until a heartbeat batch arrives, the first batch creates a record
// carrying the video length, and a batch that plays the full length with a
// closing videoend marks the video complete.
type MockServer struct {
	*httptest.Server
	mu sync.Mutex

	UserID       int64
	ClassroomID  int64
	CourseID     int64
	CourseSign   string
	UniversityID int64
	SessionID    string
	CSRFToken    string

	videos   []*MockVideo
	failures map[string]int      // 5xx answers to give per path before succeeding
	rejects  map[string][2]string // business rejection (code, message) per path
	requests []MockRequest
	batches  [][]videolog.Event
}

// MockRequest is a request seen by MockServer.
type MockRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Cookie map[string]string
}

// NewMockServer starts a mock platform with default identity data.
func NewMockServer() *MockServer {
	m := &MockServer{
		UserID:       1001,
		ClassroomID:  4242,
		CourseID:     77,
		CourseSign:   "sign-abc",
		UniversityID: 3131,
		SessionID:    "session-0123456789",
		CSRFToken:    "csrf-0123456789",
		failures:     make(map[string]int),
		rejects:      make(map[string][2]string),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(pathUserInfo, m.handleUserInfo)
	mux.HandleFunc(pathUserInfoV2, m.handleUserInfoV2)
	mux.HandleFunc(pathCourses, m.handleCourses)
	mux.HandleFunc("/v2/api/web/classrooms/", m.handleClassroom)
	mux.HandleFunc("/v2/api/web/logs/learn/", m.handleLearnLogs)
	mux.HandleFunc(pathChapters, m.handleChapters)
	mux.HandleFunc("/mooc-api/v1/lms/learn/leaf_info/", m.handleLeaf)
	mux.HandleFunc(pathProgress, m.handleProgress)
	mux.HandleFunc(pathHeartbeat, m.handleHeartbeat)

	m.Server = httptest.NewServer(m.record(mux))
	return m
}

// Session returns credentials the mock accepts.
func (m *MockServer) Session() Session {
	return Session{SessionID: m.SessionID, CSRFToken: m.CSRFToken, XTBZ: "ykt"}
}

// AddVideo appends a video leaf to the chapter tree.
func (m *MockServer) AddVideo(v MockVideo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.Completed {
		v.rate = 1
		v.Tracked = true
	}
	m.videos = append(m.videos, &v)
}

// SetFailures makes the next count requests to path answer 503.
func (m *MockServer) SetFailures(path string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = count
}

// SetReject makes every request to path fail its business status.
func (m *MockServer) SetReject(path, code, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejects[path] = [2]string{code, message}
}

// Requests returns the requests seen so far.
func (m *MockServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// Batches returns the heartbeat batches received so far.
func (m *MockServer) Batches() [][]videolog.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]videolog.Event(nil), m.batches...)
}

// CountRequests returns how many requests hit path.
func (m *MockServer) CountRequests(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

func (m *MockServer) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookies := make(map[string]string)
		for _, c := range r.Cookies() {
			cookies[c.Name] = c.Value
		}

		m.mu.Lock()
		m.requests = append(m.requests, MockRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Query:  r.URL.RawQuery,
			Header: r.Header.Clone(),
			Cookie: cookies,
		})
		failing := m.failures[r.URL.Path] > 0
		if failing {
			m.failures[r.URL.Path]--
		}
		reject, rejected := m.rejects[r.URL.Path]
		m.mu.Unlock()

		if failing {
			http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
			return
		}
		if cookies["sessionid"] != m.SessionID || r.Header.Get("X-Csrftoken") != m.CSRFToken {
			writeJSON(w, http.StatusForbidden, map[string]any{"code": 403, "msg": "not logged in"})
			return
		}
		if rejected {
			conv := conventionFor(r.URL.Path)
			body := map[string]any{conv.codeKey: reject[0], conv.messageKey: reject[1]}
			if conv.successKey == "success" {
				body["success"] = false
			}
			writeJSON(w, http.StatusOK, body)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (m *MockServer) handleUserInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"code": 0, "msg": "",
		"data": map[string]any{"id": m.UserID, "name": "Test Student", "school": "Mock University"},
	})
}

func (m *MockServer) handleUserInfoV2(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"errcode": 0, "errmsg": "",
		"data": []map[string]any{{"user_id": m.UserID, "name": "Test Student", "school": "Mock University"}},
	})
}

func (m *MockServer) handleCourses(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"errcode": 0, "errmsg": "",
		"data": map[string]any{"list": []map[string]any{{
			"classroom_id": m.ClassroomID,
			"name":         "Class 1",
			"course":       map[string]any{"id": m.CourseID, "name": "Mock Course"},
			"teacher":      map[string]any{"name": "Teacher"},
		}}},
	})
}

func (m *MockServer) handleClassroom(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/v2/api/web/classrooms/"), 10, 64)
	if id != m.ClassroomID {
		writeJSON(w, http.StatusOK, map[string]any{"errcode": 50004, "errmsg": "classroom not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"errcode": 0, "errmsg": "",
		"data": map[string]any{
			"course_id": m.CourseID, "course_sign": m.CourseSign, "uv_id": m.UniversityID,
			"name": "Class 1", "course_name": "Mock Course",
		},
	})
}

func (m *MockServer) handleLearnLogs(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"errcode": 0, "errmsg": "",
		"data": map[string]any{"activities": []map[string]any{
			{"id": 1, "title": "Lecture 1", "type": 14, "create_time": 1700000000000},
		}},
	})
}

func (m *MockServer) handleChapters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("sign") != m.CourseSign || q.Get("uv_id") != strconv.FormatInt(m.UniversityID, 10) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error_code": 40001, "msg": "bad sign"})
		return
	}

	m.mu.Lock()
	leaves := make([]map[string]any, 0, len(m.videos)+1)
	for _, v := range m.videos {
		leaves = append(leaves, map[string]any{"id": v.ID, "name": v.Name, "leaf_type": 0})
	}
	m.mu.Unlock()
	leaves = append(leaves, map[string]any{"id": 999999, "name": "Slides", "leaf_type": 3})

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "error_code": 0, "msg": "",
		"data": map[string]any{"course_chapter": []map[string]any{{
			"id": 1, "name": "Chapter 1",
			"section_leaf_list": []map[string]any{{"id": 10, "name": "Section 1", "leaf_list": leaves}},
		}}},
	})
}

func (m *MockServer) handleLeaf(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/mooc-api/v1/lms/learn/leaf_info/"), "/"), "/")
	if len(parts) != 2 || r.Header.Get("Classroom-Id") != parts[0] {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error_code": 40002, "msg": "bad leaf request"})
		return
	}
	id, _ := strconv.ParseInt(parts[1], 10, 64)
	v := m.video(id)
	if v == nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error_code": 40404, "msg": "leaf not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true, "error_code": 0, "msg": "",
		"data": map[string]any{
			"id": v.ID, "name": v.Name, "sku_id": v.SKUID, "leaf_type": 0,
			"content_info": map[string]any{"media": map[string]any{"ccid": v.CCID, "duration": v.Length}},
		},
	})
}

func (m *MockServer) handleProgress(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("user_id") != strconv.FormatInt(m.UserID, 10) || q.Get("cid") != strconv.FormatInt(m.CourseID, 10) {
		writeJSON(w, http.StatusOK, map[string]any{"code": 40003, "message": "bad identity"})
		return
	}
	id, _ := strconv.ParseInt(q.Get("video_id"), 10, 64)

	data := map[string]any{}
	m.mu.Lock()
	for _, v := range m.videos {
		if v.ID == id && v.Tracked {
			completed := 0
			if v.Completed {
				completed = 1
			}
			data[strconv.FormatInt(id, 10)] = map[string]any{
				"rate": v.rate, "completed": completed,
				"video_length": v.Length, "watch_length": v.watched,
			}
		}
	}
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"code": 0, "message": "", "data": data})
}

func (m *MockServer) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		HeartData []videolog.Event `json:"heart_data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("bad body: %v", err), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	m.batches = append(m.batches, body.HeartData)
	byVideo := make(map[int64][]videolog.Event)
	for _, e := range body.HeartData {
		byVideo[e.VideoID] = append(byVideo[e.VideoID], e)
	}
	for _, v := range m.videos {
		events, ok := byVideo[v.ID]
		if !ok {
			continue
		}
		v.Tracked = true
		if v.Completed || v.Stubborn {
			continue
		}
		last := events[len(events)-1]
		v.watched = math.Max(v.watched, last.Played)
		if v.Length > 0 {
			v.rate = math.Min(1, v.watched/v.Length)
		}
		if last.Type == videolog.EventVideoEnd && v.Length > 0 && math.Abs(last.Played-v.Length) <= 1 {
			v.Completed = true
			v.rate = 1
		}
	}
	m.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{"msg": "ok"})
}

func (m *MockServer) video(id int64) *MockVideo {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.videos {
		if v.ID == id {
			cp := *v
			return &cp
		}
	}
	return nil
}
