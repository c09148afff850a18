// SPDX-License-Identifier: MIT

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Remote operation attributes
	OperationKey = "rainclassroom.operation"

	// Loop attributes
	ClassroomIDKey = "watch.classroom_id"
	RoundKey       = "watch.round"
	PendingKey     = "watch.pending"
	FailedKey      = "watch.failed"
	VideoIDKey     = "watch.video_id"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// RoundAttributes creates convergence round span attributes.
func RoundAttributes(classroomID int64, round, pending int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(ClassroomIDKey, classroomID),
		attribute.Int(RoundKey, round),
		attribute.Int(PendingKey, pending),
	}
}
