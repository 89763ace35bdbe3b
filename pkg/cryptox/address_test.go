package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// Vectors from EIP-55.
var checksumVectors = []string{
	"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
	"0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	"0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB",
	"0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb",
}

func TestChecksumAddress(t *testing.T) {
	t.Parallel()

	for _, want := range checksumVectors {
		t.Run(want, func(t *testing.T) {
			got, err := ChecksumAddress(strings.ToLower(want))
			require.NoError(t, err)
			require.Equal(t, want, got)

			// Prefix is optional on input
			got, err = ChecksumAddress(strings.TrimPrefix(strings.ToUpper(want), "0X"))
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestChecksumAddress_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"short", "0x1234"},
		{"non hex", "0xzzAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ChecksumAddress(tt.in)
			require.ErrorIs(t, err, ErrInvalidAddress)
		})
	}
}

func TestIsChecksumValid(t *testing.T) {
	t.Parallel()

	require.True(t, IsChecksumValid(checksumVectors[0]))
	require.True(t, IsChecksumValid(strings.ToLower(checksumVectors[0])))
	require.False(t, IsChecksumValid("0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	require.False(t, IsChecksumValid("not-an-address"))
}
