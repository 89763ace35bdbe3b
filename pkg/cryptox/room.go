package cryptox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// RoomIDSize is the number of random bytes in a room ID (160 bits).
const RoomIDSize = 20

// GenerateHex creates a cryptographically secure random value of the given
// byte length and returns it as lowercase hexadecimal (2*size chars).
func GenerateHex(size int) (string, error) {
	if size <= 0 {
		return "", fmt.Errorf("hex size must be positive, got %d", size)
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return hex.EncodeToString(buf), nil
}

// NewRoomID returns a fresh 160-bit room ID rendered as 40 lowercase hex
// characters. Room IDs correlate an out-of-band popup with the hosting
// application, so every flow should use its own.
func NewRoomID() (string, error) {
	return GenerateHex(RoomIDSize)
}

// IsRoomID reports whether s has the shape of a room ID.
func IsRoomID(s string) bool {
	if len(s) != 2*RoomIDSize {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
