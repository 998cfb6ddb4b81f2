package core

import "github.com/google/uuid"

// NewID generates a globally unique identifier. IDs are random UUIDs, so
// uniqueness does not depend on wall-clock ordering and collisions are
// negligible across concurrent allocators.
func NewID() string { return uuid.NewString() }
