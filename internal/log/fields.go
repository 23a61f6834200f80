// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldJobID     = "job_id"
	FieldTaskID    = "task_id"
	FieldVideoID   = "video_id"
	FieldPrincipal = "principal"

	// Pipeline fields
	FieldComponent = "component"
	FieldMethod    = "method"
	FieldStrategy  = "strategy"
	FieldProvider  = "provider"
	FieldModel     = "model"
	FieldChunk     = "chunk"
	FieldAttempt   = "attempt"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path / URL fields
	FieldPath = "path"
	FieldURL  = "url"
)
