package go_lanpresence

import "github.com/google/uuid"

// NewClientKey generates a fresh opaque client key.
func NewClientKey() string {
	return uuid.NewString()
}

// ShortId truncates an identifier for log output.
func ShortId(id string) string {
	if len(id) <= 8 {
		return id
	}

	return id[:8]
}

