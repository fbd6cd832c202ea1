package ids

import "github.com/google/uuid"

// New returns a random identifier for commands and lifecycle events.
func New() string {
	return uuid.NewString()
}
