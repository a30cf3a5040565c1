package utils

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// opaqueIDBytes gives identifiers 128 bits of entropy.
const opaqueIDBytes = 16

// NewOpaqueID returns a random url-safe identifier (22 characters, no padding).
func NewOpaqueID() (string, error) {
	b := make([]byte, opaqueIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
