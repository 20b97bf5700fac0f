// Copyright (c) 2026 TMS Team
// TMS - Trust Manager System
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"errors"
	"strings"
)

// Sentinel errors the rest of the application matches on with errors.Is.
var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when an insert violates a unique constraint.
	ErrDuplicate = errors.New("duplicate record")
	// ErrForeignKey is returned when a write violates a foreign key, for
	// example deleting a tenant that still owns rows.
	ErrForeignKey = errors.New("foreign key violation")
	// ErrCheck is returned when a write violates a CHECK constraint, for
	// example driving remaining_uses below zero.
	ErrCheck = errors.New("check constraint violation")
)

// MapDBError inspects low-level driver errors and maps constraint violations
// to the package sentinel errors. The mapping is string-based so this package
// does not depend on driver-specific error types.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	le := strings.ToLower(err.Error())
	switch {
	case strings.Contains(le, "unique") || strings.Contains(le, "duplicate"):
		return ErrDuplicate
	case strings.Contains(le, "foreign key"):
		return ErrForeignKey
	case strings.Contains(le, "check constraint"):
		return ErrCheck
	}
	return err
}
