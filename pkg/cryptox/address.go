package cryptox

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidAddress reports a value that is not a 20-byte hex account address.
var ErrInvalidAddress = errors.New("cryptox: invalid address")

// ChecksumAddress returns the EIP-55 mixed-case form of an Ethereum address.
// The input may be any case, with or without the 0x prefix.
func ChecksumAddress(addr string) (string, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if len(raw) != 40 {
		return "", ErrInvalidAddress
	}

	lower := strings.ToLower(raw)
	if _, err := hex.DecodeString(lower); err != nil {
		return "", ErrInvalidAddress
	}

	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(lower))
	digest := hex.EncodeToString(h.Sum(nil))

	out := make([]byte, 0, 42)
	out = append(out, '0', 'x')
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		// Uppercase a letter when the matching nibble of the hash is >= 8.
		if c >= 'a' && c <= 'f' && digest[i] >= '8' {
			c -= 'a' - 'A'
		}
		out = append(out, c)
	}

	return string(out), nil
}

// IsChecksumValid reports whether addr matches its own EIP-55 checksum.
// All-lowercase and all-uppercase inputs carry no checksum and are accepted.
func IsChecksumValid(addr string) bool {
	sum, err := ChecksumAddress(addr)
	if err != nil {
		return false
	}

	raw := strings.TrimPrefix(addr, "0x")
	if raw == strings.ToLower(raw) || raw == strings.ToUpper(raw) {
		return true
	}
	return "0x"+raw == sum
}
