package rainclassroom

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rcwatch/internal/chapter"
	"github.com/ManuGH/rcwatch/internal/videolog"
)

func newTestClient(t *testing.T, m *MockServer, opts Options) *Client {
	t.Helper()
	if opts.Backoff == 0 {
		opts.Backoff = time.Millisecond
	}
	if opts.MaxBackoff == 0 {
		opts.MaxBackoff = 5 * time.Millisecond
	}
	if opts.RateLimit == 0 {
		opts.RateLimit = 1000
		opts.RateLimitBurst = 1000
	}
	c, err := NewClient(m.URL, m.Session(), opts)
	require.NoError(t, err)
	return c
}

func TestNewClient_Host(t *testing.T) {
	c, err := NewClient("changjiang.yuketang.cn", Session{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "https://changjiang.yuketang.cn", c.baseURL.String())

	c, err = NewClient("http://127.0.0.1:8080/", Session{}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:8080", c.baseURL.String())

	_, err = NewClient("  ", Session{}, Options{})
	assert.Error(t, err)
}

func TestClient_SendsBrowserHeadersAndCookies(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{})

	_, err := c.UserInfo(context.Background())
	require.NoError(t, err)

	reqs := m.Requests()
	require.Len(t, reqs, 1)
	h := reqs[0].Header
	assert.Equal(t, DefaultUserAgent, h.Get("User-Agent"))
	assert.Equal(t, "same-origin", h.Get("Sec-Fetch-Site"))
	assert.Equal(t, "cors", h.Get("Sec-Fetch-Mode"))
	assert.Equal(t, "empty", h.Get("Sec-Fetch-Dest"))
	assert.Equal(t, m.CSRFToken, h.Get("X-Csrftoken"))
	assert.Equal(t, "ykt", h.Get("xtbz"))
	assert.Empty(t, h.Get("University-Id"))
	assert.Equal(t, m.SessionID, reqs[0].Cookie["sessionid"])
	assert.Equal(t, m.CSRFToken, reqs[0].Cookie["csrftoken"])
}

func TestClient_UserAndCourseInfoBindsUniversity(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{})
	ctx := context.Background()

	info, err := c.UserAndCourseInfo(ctx, m.ClassroomID)
	require.NoError(t, err)
	assert.Equal(t, m.UserID, info.UserID)
	assert.Equal(t, m.CourseID, info.CourseID)
	assert.Equal(t, m.CourseSign, info.CourseSign)
	assert.Equal(t, m.UniversityID, info.UniversityID)
	assert.Equal(t, m.UniversityID, c.UniversityID())

	_, err = c.Courses(ctx)
	require.NoError(t, err)
	reqs := m.Requests()
	last := reqs[len(reqs)-1]
	uv := strconv.FormatInt(m.UniversityID, 10)
	assert.Equal(t, uv, last.Header.Get("University-Id"))
	assert.Equal(t, uv, last.Cookie["university_id"])
	assert.Equal(t, uv, last.Cookie["uv_id"])
}

func TestClient_ReadEndpoints(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.AddVideo(MockVideo{ID: 11, Name: "Intro", SKUID: 501, CCID: "cc-11", Length: 42.5})
	m.AddVideo(MockVideo{ID: 12, Name: "Done", Length: 10, Completed: true})
	c := newTestClient(t, m, Options{})
	ctx := context.Background()

	u2, err := c.UserInfoV2(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.UserID, u2.UserID)

	courses, err := c.Courses(ctx)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, m.ClassroomID, courses[0].ClassroomID)
	assert.Equal(t, "Mock Course", courses[0].Course.Name)

	acts, err := c.LearnLogs(ctx, m.ClassroomID, 0, 100)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "Lecture 1", acts[0].Title)

	nodes, err := c.Chapters(ctx, m.ClassroomID, m.CourseSign, m.UniversityID)
	require.NoError(t, err)
	videos := chapter.Videos(nodes)
	require.Len(t, videos, 2)
	assert.Equal(t, int64(11), videos[0].ID)

	leaf, err := c.Leaf(ctx, m.ClassroomID, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(501), leaf.SKUID)
	assert.Equal(t, "cc-11", leaf.CCID())

	pq := ProgressQuery{UserID: m.UserID, CourseID: m.CourseID, ClassroomID: m.ClassroomID}
	pq.VideoID = 11
	p, err := c.VideoProgress(ctx, pq)
	require.NoError(t, err)
	assert.Nil(t, p, "untracked video has no progress record")

	pq.VideoID = 12
	p, err = c.VideoProgress(ctx, pq)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, bool(p.Completed))
	assert.Equal(t, 10.0, p.VideoLength)
}

func TestClient_SendHeartbeatUpdatesProgress(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.AddVideo(MockVideo{ID: 11, SKUID: 501, CCID: "cc-11", Length: 12})
	c := newTestClient(t, m, Options{})
	ctx := context.Background()

	id := videolog.Identity{UserID: m.UserID, CourseID: m.CourseID, ClassroomID: m.ClassroomID, VideoID: 11, SKUID: 501, CCID: "cc-11"}
	events := videolog.NewBuilder().Build(id, videolog.Target{Duration: 12, LOB: videolog.DefaultLOB, BaseTimestamp: 1})
	require.NoError(t, c.SendHeartbeat(ctx, events))

	batches := m.Batches()
	require.Len(t, batches, 1)
	assert.Len(t, batches[0], len(events))

	p, err := c.VideoProgress(ctx, ProgressQuery{UserID: m.UserID, CourseID: m.CourseID, ClassroomID: m.ClassroomID, VideoID: 11})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.True(t, bool(p.Completed))
}

func TestClient_BusinessRejection(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetReject(pathUserInfo, "40100", "token expired")
	c := newTestClient(t, m, Options{MaxRetries: 3})

	_, err := c.UserInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusiness)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "user_info", re.Operation)
	assert.Equal(t, "40100", re.Code)
	assert.Equal(t, "token expired", re.Message)
	assert.Equal(t, 1, m.CountRequests(pathUserInfo), "business errors are not retried")
}

func TestClient_MoocRejection(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{})

	_, err := c.Leaf(context.Background(), m.ClassroomID, 123456)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBusiness)
}

func TestClient_HTTPErrorStatus(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c, err := NewClient(m.URL, Session{SessionID: "wrong", CSRFToken: "wrong"}, Options{RateLimit: 1000, RateLimitBurst: 1000})
	require.NoError(t, err)

	_, err = c.UserInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHTTPStatus)
	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusForbidden, re.Status)
	assert.Equal(t, "not logged in", re.Message)
}

func TestClient_RetriesTransient5xxOnGet(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetFailures(pathUserInfo, 2)
	c := newTestClient(t, m, Options{MaxRetries: 2})

	_, err := c.UserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, m.CountRequests(pathUserInfo))
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetFailures(pathUserInfo, 5)
	c := newTestClient(t, m, Options{MaxRetries: 1})

	_, err := c.UserInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHTTPStatus)
	assert.Equal(t, 2, m.CountRequests(pathUserInfo))
}

func TestClient_HeartbeatIsNotRetried(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetFailures(pathHeartbeat, 1)
	c := newTestClient(t, m, Options{MaxRetries: 3})

	err := c.SendHeartbeat(context.Background(), []videolog.Event{{Type: videolog.EventLoadStart}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHTTPStatus)
	assert.Equal(t, 1, m.CountRequests(pathHeartbeat))
}

func TestClient_HeartbeatIgnoresBusinessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"code": 1, "msg": "ignored"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Session{}, Options{})
	require.NoError(t, err)
	assert.NoError(t, c.SendHeartbeat(context.Background(), nil))
}

func TestClient_TransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, err := NewClient(url, Session{}, Options{Backoff: time.Millisecond, MaxBackoff: time.Millisecond})
	require.NoError(t, err)
	_, err = c.UserInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_TimeoutSentinel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Session{}, Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.UserInfo(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestClient_CircuitOpensAfterOutages(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetFailures(pathUserInfo, 100)
	c := newTestClient(t, m, Options{BreakerThreshold: 2, BreakerReset: time.Hour})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := c.UserInfo(ctx)
		require.ErrorIs(t, err, ErrHTTPStatus)
	}
	assert.Equal(t, StateOpen, c.BreakerState())

	before := m.CountRequests(pathUserInfo)
	_, err := c.UserInfo(ctx)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, before, m.CountRequests(pathUserInfo), "open circuit must not reach the server")
}

func TestClient_BusinessErrorsDoNotTripBreaker(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	m.SetReject(pathUserInfo, "1", "nope")
	c := newTestClient(t, m, Options{BreakerThreshold: 1})

	for i := 0; i < 3; i++ {
		_, err := c.UserInfo(context.Background())
		require.ErrorIs(t, err, ErrBusiness)
	}
	assert.Equal(t, StateClosed, c.BreakerState())
}

func TestClient_CanceledContext(t *testing.T) {
	m := NewMockServer()
	defer m.Close()
	c := newTestClient(t, m, Options{BreakerThreshold: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.UserInfo(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateClosed, c.BreakerState())
}

func TestClient_BadResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Session{}, Options{})
	require.NoError(t, err)
	_, err = c.UserInfo(context.Background())
	assert.ErrorIs(t, err, ErrBadResponse)
}

func TestClient_MissingDataKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"errcode": 0, "data": {"other": []}}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, Session{}, Options{})
	require.NoError(t, err)
	_, err = c.Courses(context.Background())
	assert.ErrorIs(t, err, ErrBadResponse)
}
