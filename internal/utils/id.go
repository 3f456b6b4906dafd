package utils

import "github.com/google/uuid"

// NewID returns a random identifier for backend resources.
func NewID() string {
	return uuid.NewString()
}
