package racer

import (
	"crypto/rand"
	"fmt"
)

// NewID returns a freshly generated 128-bit v4-style identifier as a
// lowercase hex string with standard hyphenation, per Handle.ID and
// Handle.Add's id-assignment rule.
func NewID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Errorf("racer: failed to read random bytes for id: %w", err))
	}
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // variant 10
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16])
}
