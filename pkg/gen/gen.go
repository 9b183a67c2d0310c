// Package gen provides utility functions for generating identifiers.
package gen

import (
	"github.com/google/uuid"
)

// ID returns a new random identifier for queue items and prompts.
func ID() string {
	return uuid.NewString()
}
