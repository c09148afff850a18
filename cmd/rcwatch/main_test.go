package main

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/rcwatch/internal/rainclassroom"
)

const fastConfig = `round_delay_base: 0s
round_delay_per_video: 0s
rate_limit: 1000
rate_burst: 1000
http_retries: 0
log_level: warn
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func sessionArgs(t *testing.T, m *rainclassroom.MockServer, extra ...string) []string {
	t.Helper()
	args := []string{
		"--config", writeFile(t, "config.yaml", fastConfig),
		"--host", m.URL,
		"--session-id", m.SessionID,
		"--csrf-token", m.CSRFToken,
	}
	return append(args, extra...)
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "rcwatch dev")
}

func TestWatch_Converged(t *testing.T) {
	m := rainclassroom.NewMockServer()
	defer m.Close()
	m.AddVideo(rainclassroom.MockVideo{ID: 501, Name: "Intro", SKUID: 3, CCID: "cc-501", Length: 23.4})

	reportPath := filepath.Join(t.TempDir(), "report.json")
	args := append([]string{"watch"}, sessionArgs(t, m,
		"--classroom", strconv.FormatInt(m.ClassroomID, 10),
		"--report", reportPath,
		"--metrics-listen", freeAddr(t),
	)...)

	code, out, stderr := run(t, args...)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "outcome: converged")
	assert.Contains(t, out, "completed: 1/1")
	assert.FileExists(t, reportPath)
}

func TestWatch_ExhaustedExitCode(t *testing.T) {
	m := rainclassroom.NewMockServer()
	defer m.Close()
	m.AddVideo(rainclassroom.MockVideo{ID: 501, Name: "Stuck", CCID: "cc-501", Length: 30, Stubborn: true})

	args := append([]string{"watch"}, sessionArgs(t, m,
		"--classroom", strconv.FormatInt(m.ClassroomID, 10),
		"--max-retries", "1",
	)...)

	code, out, stderr := run(t, args...)
	assert.Equal(t, exitExhausted, code)
	assert.Contains(t, out, "outcome: exhausted")
	assert.Contains(t, out, `remaining 501 "Stuck"`)
	assert.Contains(t, stderr, "1 of 1 videos remain")
}

func TestWatch_RequiresClassroom(t *testing.T) {
	m := rainclassroom.NewMockServer()
	defer m.Close()

	code, _, stderr := run(t, append([]string{"watch"}, sessionArgs(t, m)...)...)
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "classroom_id is required")
	assert.Empty(t, m.Requests())
}

func TestWatch_RejectsBadConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", "session_id: s\ncsrf_token: c\nbogus: 1\n")
	code, _, stderr := run(t, "watch", "--config", path, "--classroom", "1")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "unknown config field")
}

func TestVideos(t *testing.T) {
	m := rainclassroom.NewMockServer()
	defer m.Close()
	m.AddVideo(rainclassroom.MockVideo{ID: 501, Name: "Done", Length: 60, Completed: true})
	m.AddVideo(rainclassroom.MockVideo{ID: 502, Name: "Fresh", Length: 30})

	args := append([]string{"videos"}, sessionArgs(t, m, "--classroom", strconv.FormatInt(m.ClassroomID, 10))...)
	code, out, stderr := run(t, args...)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "ID")
	assert.Regexp(t, `501\s+Done\s+100%\s+1m0s\s+completed`, out)
	assert.Regexp(t, `502\s+Fresh\s+-\s+-\s+unwatched`, out)
	assert.Empty(t, m.Batches())
}

func TestCourses(t *testing.T) {
	m := rainclassroom.NewMockServer()
	defer m.Close()

	code, out, stderr := run(t, append([]string{"courses"}, sessionArgs(t, m)...)...)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, fmt.Sprintf("%d", m.ClassroomID))
	assert.Contains(t, out, "Mock Course")
}

func TestLogs(t *testing.T) {
	m := rainclassroom.NewMockServer()
	defer m.Close()

	args := append([]string{"logs"}, sessionArgs(t, m, "--classroom", strconv.FormatInt(m.ClassroomID, 10))...)
	code, out, stderr := run(t, args...)
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, out, "Lecture 1")
	assert.Contains(t, out, "2023-11-14")
}

func TestCourses_RejectedSession(t *testing.T) {
	m := rainclassroom.NewMockServer()
	defer m.Close()

	code, _, stderr := run(t, "courses",
		"--config", writeFile(t, "config.yaml", fastConfig),
		"--host", m.URL, "--session-id", "wrong", "--csrf-token", "wrong")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "list courses")
}
