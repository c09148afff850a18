package rainclassroom

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// User is the account from /api/v3/user/basic-info.
type User struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	School string `json:"school"`
}

// UserV2 is the account from /v2/api/web/userinfo.
type UserV2 struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	School string `json:"school"`
}

// Course is one entry of the enrolled course list.
type Course struct {
	ClassroomID int64  `json:"classroom_id"`
	Name        string `json:"name"`
	Course      struct {
		ID   int64  `json:"id"`
		Name string `json:"name"`
	} `json:"course"`
	Teacher struct {
		Name string `json:"name"`
	} `json:"teacher"`
}

// ClassroomInfo describes one classroom.
type ClassroomInfo struct {
	CourseID     int64  `json:"course_id"`
	CourseSign   string `json:"course_sign"`
	UniversityID int64  `json:"uv_id"`
	Name         string `json:"name"`
	CourseName   string `json:"course_name"`
}

// Info is the identity needed to enumerate and submit for a classroom.
type Info struct {
	UserID       int64
	UserName     string
	ClassroomID  int64
	CourseID     int64
	CourseSign   string
	UniversityID int64
	CourseName   string
}

// Activity is one learning log entry.
type Activity struct {
	ID         int64  `json:"id"`
	Title      string `json:"title"`
	Type       int    `json:"type"`
	CreateTime int64  `json:"create_time"`
}

// LeafInfo is the detail of one chapter leaf.
type LeafInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	SKUID       int64  `json:"sku_id"`
	LeafType    int    `json:"leaf_type"`
	ContentInfo struct {
		Media struct {
			CCID     FlexString `json:"ccid"`
			Duration float64    `json:"duration"`
		} `json:"media"`
	} `json:"content_info"`
}

// CCID returns the media content id.
func (l LeafInfo) CCID() string {
	return string(l.ContentInfo.Media.CCID)
}

// Progress is the platform's watch record for one video.
type Progress struct {
	Rate        float64  `json:"rate"`
	Completed   FlexBool `json:"completed"`
	VideoLength float64  `json:"video_length"`
	WatchLength float64  `json:"watch_length"`
}

// ProgressQuery addresses one video's progress record.
type ProgressQuery struct {
	UserID      int64
	CourseID    int64
	ClassroomID int64
	VideoID     int64
}

// FlexString accepts a JSON string or number.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// FlexBool accepts a JSON bool, a number (non-zero is true) or a numeric string.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(b []byte) error {
	switch s := scalar(b); s {
	case "", "false", "0":
		*f = false
	case "true":
		*f = true
	default:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("cannot decode %s as bool", b)
		}
		*f = v != 0
	}
	return nil
}
