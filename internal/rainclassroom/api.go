package rainclassroom

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ManuGH/rcwatch/internal/chapter"
	xglog "github.com/ManuGH/rcwatch/internal/log"
	"github.com/ManuGH/rcwatch/internal/videolog"
)

const (
	pathUserInfo   = "/api/v3/user/basic-info"
	pathUserInfoV2 = "/v2/api/web/userinfo"
	pathCourses    = "/v2/api/web/courses/list"
	pathClassroom  = "/v2/api/web/classrooms/%d"
	pathLearnLogs  = "/v2/api/web/logs/learn/%d"
	pathChapters   = "/mooc-api/v1/lms/learn/course/chapter"
	pathLeaf       = "/mooc-api/v1/lms/learn/leaf_info/%d/%d/"
	pathProgress   = "/video-log/get_video_watch_progress/"
	pathHeartbeat  = "/video-log/heartbeat/"
)

// UserInfo returns the logged-in account.
func (c *Client) UserInfo(ctx context.Context) (*User, error) {
	var u User
	if err := c.getData(ctx, "user_info", pathUserInfo, nil, nil, &u, "data"); err != nil {
		return nil, err
	}
	return &u, nil
}

// UserInfoV2 returns the logged-in account from the legacy endpoint.
func (c *Client) UserInfoV2(ctx context.Context) (*UserV2, error) {
	var u UserV2
	if err := c.getData(ctx, "user_info_v2", pathUserInfoV2, nil, nil, &u, "data", 0); err != nil {
		return nil, err
	}
	return &u, nil
}

// Courses lists the classrooms the account studies in.
func (c *Client) Courses(ctx context.Context) ([]Course, error) {
	q := url.Values{}
	q.Set("identity", "2")
	var courses []Course
	if err := c.getData(ctx, "courses", pathCourses, q, nil, &courses, "data", "list"); err != nil {
		return nil, err
	}
	return courses, nil
}

// Classroom returns the course binding of one classroom.
func (c *Client) Classroom(ctx context.Context, classroomID int64) (*ClassroomInfo, error) {
	q := url.Values{}
	q.Set("role", "5")
	var info ClassroomInfo
	if err := c.getData(ctx, "classroom", fmt.Sprintf(pathClassroom, classroomID), q, nil, &info, "data"); err != nil {
		return nil, err
	}
	return &info, nil
}

// UserAndCourseInfo resolves the user and classroom and binds the session to
// the classroom's university.
func (c *Client) UserAndCourseInfo(ctx context.Context, classroomID int64) (*Info, error) {
	user, err := c.UserInfo(ctx)
	if err != nil {
		return nil, err
	}
	room, err := c.Classroom(ctx, classroomID)
	if err != nil {
		return nil, err
	}
	c.SetUniversityID(room.UniversityID)

	c.logger.Info().
		Str(xglog.FieldEvent, "session.resolved").
		Int64(xglog.FieldUserID, user.ID).
		Int64(xglog.FieldClassroomID, classroomID).
		Int64(xglog.FieldCourseID, room.CourseID).
		Int64("university_id", room.UniversityID).
		Msg("resolved user and classroom")

	return &Info{
		UserID:       user.ID,
		UserName:     user.Name,
		ClassroomID:  classroomID,
		CourseID:     room.CourseID,
		CourseSign:   room.CourseSign,
		UniversityID: room.UniversityID,
		CourseName:   room.CourseName,
	}, nil
}

// LearnLogs returns one page of the classroom's learning activities.
func (c *Client) LearnLogs(ctx context.Context, classroomID int64, page, offset int) ([]Activity, error) {
	q := url.Values{}
	q.Set("actype", "-1")
	q.Set("page", strconv.Itoa(page))
	q.Set("offset", strconv.Itoa(offset))
	q.Set("sort", "0")
	var acts []Activity
	if err := c.getData(ctx, "learn_logs", fmt.Sprintf(pathLearnLogs, classroomID), q, nil, &acts, "data", "activities"); err != nil {
		return nil, err
	}
	return acts, nil
}

// Chapters fetches and decodes the classroom's chapter tree.
func (c *Client) Chapters(ctx context.Context, classroomID int64, courseSign string, universityID int64) ([]chapter.Node, error) {
	id := strconv.FormatInt(classroomID, 10)
	q := url.Values{}
	q.Set("cid", id)
	q.Set("classroom_id", id)
	q.Set("sign", courseSign)
	q.Set("uv_id", strconv.FormatInt(universityID, 10))

	var raw json.RawMessage
	if err := c.getData(ctx, "chapters", pathChapters, q, nil, &raw, "data", "course_chapter"); err != nil {
		return nil, err
	}
	nodes, err := chapter.Decode(raw)
	if err != nil {
		return nil, &RemoteError{Sentinel: ErrBadResponse, Operation: "chapters", Err: err}
	}
	return nodes, nil
}

// Leaf returns the detail of one chapter leaf.
func (c *Client) Leaf(ctx context.Context, classroomID, leafID int64) (*LeafInfo, error) {
	h := http.Header{}
	h.Set("Classroom-Id", strconv.FormatInt(classroomID, 10))
	var leaf LeafInfo
	if err := c.getData(ctx, "leaf", fmt.Sprintf(pathLeaf, classroomID, leafID), nil, h, &leaf, "data"); err != nil {
		return nil, err
	}
	return &leaf, nil
}

// VideoProgress returns the watch record of one video, or nil when the
// platform has none yet.
func (c *Client) VideoProgress(ctx context.Context, pq ProgressQuery) (*Progress, error) {
	videoID := strconv.FormatInt(pq.VideoID, 10)
	q := url.Values{}
	q.Set("user_id", strconv.FormatInt(pq.UserID, 10))
	q.Set("cid", strconv.FormatInt(pq.CourseID, 10))
	q.Set("classroom_id", strconv.FormatInt(pq.ClassroomID, 10))
	q.Set("video_id", videoID)
	q.Set("video_type", "video")
	q.Set("vtype", "rate")
	q.Set("snapshot", "1")

	var records map[string]json.RawMessage
	if err := c.getData(ctx, "video_progress", pathProgress, q, nil, &records, "data"); err != nil {
		return nil, err
	}
	raw, ok := records[videoID]
	if !ok || scalar(raw) == "" {
		return nil, nil
	}
	var p Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, &RemoteError{Sentinel: ErrBadResponse, Operation: "video_progress", Err: err}
	}
	return &p, nil
}

// SendHeartbeat submits a batch of playback events. The platform answers
// best effort, so only transport and HTTP failures are reported.
func (c *Client) SendHeartbeat(ctx context.Context, events []videolog.Event) error {
	if events == nil {
		events = []videolog.Event{}
	}
	body, err := json.Marshal(struct {
		HeartData []videolog.Event `json:"heart_data"`
	}{HeartData: events})
	if err != nil {
		return fmt.Errorf("encode heartbeat: %w", err)
	}
	_, err = c.call(ctx, request{
		operation: "heartbeat",
		method:    http.MethodPost,
		path:      pathHeartbeat,
		body:      body,
	})
	return err
}

// getData performs a GET with envelope checking and decodes the value found
// by following keys (object keys as strings, array indexes as ints).
func (c *Client) getData(ctx context.Context, operation, path string, q url.Values, h http.Header, out any, keys ...any) error {
	env, err := c.call(ctx, request{
		operation: operation,
		method:    http.MethodGet,
		path:      path,
		query:     q,
		header:    h,
		envelope:  true,
	})
	if err != nil {
		return err
	}
	raw, err := dig(env, keys...)
	if err != nil {
		return &RemoteError{Sentinel: ErrBadResponse, Operation: operation, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &RemoteError{Sentinel: ErrBadResponse, Operation: operation, Err: err}
	}
	return nil
}

func dig(env envelope, keys ...any) (json.RawMessage, error) {
	if len(keys) == 0 {
		return json.Marshal(env)
	}
	first, ok := keys[0].(string)
	if !ok {
		return nil, fmt.Errorf("top-level key must be a string, got %T", keys[0])
	}
	cur, ok := env[first]
	if !ok {
		return nil, fmt.Errorf("missing key %q", first)
	}
	for _, k := range keys[1:] {
		switch key := k.(type) {
		case string:
			var m map[string]json.RawMessage
			if err := json.Unmarshal(cur, &m); err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			if cur, ok = m[key]; !ok {
				return nil, fmt.Errorf("missing key %q", key)
			}
		case int:
			var list []json.RawMessage
			if err := json.Unmarshal(cur, &list); err != nil {
				return nil, fmt.Errorf("index %d: %w", key, err)
			}
			if key < 0 || key >= len(list) {
				return nil, fmt.Errorf("index %d out of range (len %d)", key, len(list))
			}
			cur = list[key]
		default:
			return nil, fmt.Errorf("unsupported key type %T", k)
		}
	}
	return cur, nil
}
