package util

import (
	"crypto/rand"
	"encoding/hex"
)

// idBytes sets the entropy of generated ids; 12 bytes render as 24 hex
// characters, short enough to read back in a chat message.
const idBytes = 12

// NewID returns a random hex id for drafts, listings and sessions.
func NewID() string {
	b := make([]byte, idBytes)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
