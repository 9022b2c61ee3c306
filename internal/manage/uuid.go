// Package manage holds the domain rules shared by the migration steps and
// the database bootstrap: selector caches, predefined resources, NVT tag
// parsing and identifier generation.
package manage

import (
	"fmt"

	"github.com/google/uuid"
)

// UUIDFunc produces a fresh, globally unique identifier.
type UUIDFunc func() (string, error)

// NewUUID returns a random (version 4) UUID in canonical text form.
func NewUUID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generating uuid: %w", err)
	}
	return id.String(), nil
}
