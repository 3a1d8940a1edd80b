package util

import "github.com/google/uuid"

// NewID generates a new unique identifier for sessions, contributions and
// other engine records.
func NewID() string { return uuid.NewString() }
