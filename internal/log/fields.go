// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRunID       = "run_id"
	FieldService     = "service"
	FieldVersion     = "version"
	FieldComponent   = "component"
	FieldEvent       = "event"
	FieldUserID      = "user_id"
	FieldCourseID    = "course_id"
	FieldClassroomID = "classroom_id"
	FieldVideoID     = "video_id"
	FieldLeafID      = "leaf_id"

	// Loop fields
	FieldRound   = "round"
	FieldPending = "pending"
	FieldDone    = "done"
	FieldFailed  = "failed"
	FieldOutcome = "outcome"

	// Transport fields
	FieldOperation = "operation"
	FieldHost      = "host"
	FieldStatus    = "status"
	FieldAttempt   = "attempt"
)
