// SPDX-License-Identifier: MIT

package machines

// Record is one backup-target configuration entry from machines.yaml.
// The store only interprets the "id" field; everything else is opaque
// caller data (host, ssh_user, backup_type, retention_count, ...).
type Record map[string]any

// ID returns the identity key of the record, or "" if absent.
func (r Record) ID() string {
	v, _ := r["id"].(string)
	return v
}
