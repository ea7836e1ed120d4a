// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldMachineID = "machine_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// Backup fields
	FieldBackupType = "backup_type"
	FieldHost       = "host"
	FieldPath       = "path"
)
