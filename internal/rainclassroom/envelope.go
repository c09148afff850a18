package rainclassroom

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// convention describes how one API family reports business status.
type convention struct {
	codeKey    string
	messageKey string
	// successKey must equal successValue for the call to count as accepted.
	successKey   string
	successValue string
}

var (
	conventionV3 = convention{codeKey: "code", messageKey: "msg", successKey: "code", successValue: "0"}
	conventionV2 = convention{codeKey: "errcode", messageKey: "errmsg", successKey: "errcode", successValue: "0"}
	// conventionMooc covers /mooc-api/ and any other path.
	conventionMooc     = convention{codeKey: "error_code", messageKey: "msg", successKey: "success", successValue: "true"}
	conventionProgress = convention{codeKey: "code", messageKey: "message", successKey: "code", successValue: "0"}
)

func conventionFor(path string) convention {
	switch {
	case strings.HasPrefix(path, "/api/v3/"):
		return conventionV3
	case strings.HasPrefix(path, "/v2/api/"):
		return conventionV2
	case strings.HasPrefix(path, pathProgress):
		return conventionProgress
	default:
		return conventionMooc
	}
}

type envelope map[string]json.RawMessage

// status extracts code and message for error reporting.
func (e envelope) status(c convention) (code, message string) {
	return scalar(e[c.codeKey]), scalar(e[c.messageKey])
}

// accepted reports whether the envelope signals business success.
// A missing status key counts as a rejection.
func (e envelope) accepted(c convention) bool {
	raw, ok := e[c.successKey]
	if !ok {
		return false
	}
	return scalar(raw) == c.successValue
}

// scalar renders a JSON scalar as plain text; numbers are canonicalized so
// that 0, 0.0 and "0" compare equal.
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return string(raw)
}
