// internal/utils/numbers.go
package utils

import (
	"crypto/rand"
	"fmt"
	"io"
	"time"
)

// Alphabet for human-facing numbers; ambiguous glyphs (0/O, 1/I) removed.
const numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomToken(n int) string {
	buf := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		// crypto/rand failing means the platform entropy source is gone;
		// nothing sensible to return.
		panic(fmt.Sprintf("utils: reading random bytes: %v", err))
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = numberAlphabet[int(b)%len(numberAlphabet)]
	}
	return string(out)
}

// NewApplicationNo mints an application number. Global uniqueness is
// enforced by the store's unique index; the random token makes collisions
// astronomically unlikely in the first place.
func NewApplicationNo(t time.Time) string {
	return fmt.Sprintf("APP-%s-%s", t.Format("0601"), randomToken(8))
}

// NewLicenseNo mints a license number. License numbers are never reused,
// even after expiry or replacement.
func NewLicenseNo(t time.Time) string {
	return fmt.Sprintf("DL-%s-%s", t.Format("06"), randomToken(10))
}
