package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a 24-char hex entity ID. 96 random bits keeps user, book,
// and review IDs collision-free without coordination between instances.
func NewID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
