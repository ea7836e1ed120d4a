// SPDX-License-Identifier: MIT

package backup

import "github.com/backhaul/backhaul/internal/machines"

// stringField reads a string field from a machine record.
func stringField(rec machines.Record, key, def string) string {
	if v, ok := rec[key].(string); ok && v != "" {
		return v
	}
	return def
}

// intField reads an integer field from a machine record. YAML scalars decode
// to int, but hand-edited files may carry other numeric kinds.
func intField(rec machines.Record, key string, def int) int {
	switch v := rec[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}
