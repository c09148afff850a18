package rainclassroom

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConventionFor(t *testing.T) {
	tests := []struct {
		path string
		want convention
	}{
		{"/api/v3/user/basic-info", conventionV3},
		{"/v2/api/web/courses/list", conventionV2},
		{"/mooc-api/v1/lms/learn/course/chapter", conventionMooc},
		{"/video-log/get_video_watch_progress/", conventionProgress},
		{"/somewhere/else", conventionMooc},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, conventionFor(tt.path))
		})
	}
}

func TestEnvelope_Accepted(t *testing.T) {
	tests := []struct {
		name string
		body string
		conv convention
		want bool
	}{
		{"v3 zero", `{"code": 0}`, conventionV3, true},
		{"v3 string zero", `{"code": "0"}`, conventionV3, true},
		{"v3 float zero", `{"code": 0.0}`, conventionV3, true},
		{"v3 nonzero", `{"code": 50000, "msg": "x"}`, conventionV3, false},
		{"v3 missing", `{"msg": "x"}`, conventionV3, false},
		{"v2 zero", `{"errcode": 0}`, conventionV2, true},
		{"v2 wrong key", `{"code": 0}`, conventionV2, false},
		{"mooc true", `{"success": true, "error_code": 0}`, conventionMooc, true},
		{"mooc false", `{"success": false, "error_code": 0}`, conventionMooc, false},
		{"mooc null", `{"success": null}`, conventionMooc, false},
		{"progress", `{"code": 0, "message": ""}`, conventionProgress, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var env envelope
			require.NoError(t, json.Unmarshal([]byte(tt.body), &env))
			assert.Equal(t, tt.want, env.accepted(tt.conv))
		})
	}
}

func TestEnvelope_Status(t *testing.T) {
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(`{"error_code": 40001, "msg": "bad sign"}`), &env))
	code, msg := env.status(conventionMooc)
	assert.Equal(t, "40001", code)
	assert.Equal(t, "bad sign", msg)
}

func TestFlexTypes(t *testing.T) {
	var p Progress
	require.NoError(t, json.Unmarshal([]byte(`{"rate": 0.5, "completed": 1, "video_length": 61.2}`), &p))
	assert.True(t, bool(p.Completed))

	require.NoError(t, json.Unmarshal([]byte(`{"completed": false}`), &p))
	assert.False(t, bool(p.Completed))

	require.NoError(t, json.Unmarshal([]byte(`{"completed": "0"}`), &p))
	assert.False(t, bool(p.Completed))

	assert.Error(t, json.Unmarshal([]byte(`{"completed": "yes"}`), &p))

	var l LeafInfo
	require.NoError(t, json.Unmarshal([]byte(`{"content_info": {"media": {"ccid": 12345}}}`), &l))
	assert.Equal(t, "12345", l.CCID())
	require.NoError(t, json.Unmarshal([]byte(`{"content_info": {"media": {"ccid": "AB-CD"}}}`), &l))
	assert.Equal(t, "AB-CD", l.CCID())
}

func TestDig(t *testing.T) {
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(`{"data": [{"a": {"b": 7}}]}`), &env))

	raw, err := dig(env, "data", 0, "a", "b")
	require.NoError(t, err)
	assert.JSONEq(t, `7`, string(raw))

	_, err = dig(env, "data", 1)
	assert.Error(t, err)
	_, err = dig(env, "missing")
	assert.Error(t, err)
	_, err = dig(env, "data", "a")
	assert.Error(t, err)
}
