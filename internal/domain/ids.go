package domain

import "github.com/google/uuid"

// NewID mints a short prefixed identifier, e.g. "conv_1a2b3c4d".
func NewID(prefix string) string {
	return prefix + "_" + uuid.New().String()[:8]
}
