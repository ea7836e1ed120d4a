// SPDX-License-Identifier: MIT

package machines

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no machine has the requested id.
	ErrNotFound = errors.New("machine not found")

	// ErrConflict is returned when a create collides with an existing id.
	ErrConflict = errors.New("machine already exists")

	// ErrValidation is returned for malformed records, e.g. a missing id.
	ErrValidation = errors.New("invalid machine record")
)

// ParseError indicates the machines file is not well-formed YAML. The store
// is unusable until the file is fixed or reset.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
