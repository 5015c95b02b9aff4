// Package id provides UUIDv7 generation for vouchers and their rows.
// UUIDv7 is time-ordered, allowing natural sorting by creation time.
package id

import (
	"strings"

	"github.com/google/uuid"
)

// ID is a type alias for UUID, used for voucher and row identifiers.
type ID = uuid.UUID

// New generates a new UUIDv7 (time-ordered UUID).
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to V4 if V7 fails (should never happen)
		return uuid.New()
	}
	return id
}

// Parse converts string to ID with validation.
func Parse(s string) (ID, error) {
	return uuid.Parse(s)
}

// MustParse converts string to ID, panics on error.
// Use only for constants and tests.
func MustParse(s string) ID {
	return uuid.MustParse(s)
}

// Nil returns zero-value UUID.
func Nil() ID {
	return uuid.Nil
}

// IsNil checks if ID is zero-value.
func IsNil(id ID) bool {
	return id == uuid.Nil
}

// Normalize renders an identifier in the canonical string form used for
// row matching. Row ids may arrive from clients in any case or wrapped in
// whitespace; both sides of a comparison must go through this.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	parsed, err := uuid.Parse(s)
	if err != nil {
		return s
	}
	return parsed.String()
}
