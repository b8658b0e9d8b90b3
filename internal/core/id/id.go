// Package id generates attempt identifiers.
// UUIDv7 is time-ordered, so attempt ids sort by creation time.
package id

import (
	"github.com/google/uuid"
)

// ID is a type alias for UUID.
type ID = uuid.UUID

// New generates a new UUIDv7, falling back to V4 if the clock read fails.
func New() ID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
