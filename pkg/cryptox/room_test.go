package cryptox

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRoomID(t *testing.T) {
	t.Parallel()

	id, err := NewRoomID()
	require.NoError(t, err)
	require.Len(t, id, 40)
	require.Regexp(t, `^[0-9a-f]{40}$`, id)
	require.True(t, IsRoomID(id))
}

func TestNewRoomID_Distinct(t *testing.T) {
	t.Parallel()

	// 160 bits of entropy, a collision here means the source is broken
	const count = 10000
	seen := make(map[string]struct{}, count)

	for range count {
		id, err := NewRoomID()
		require.NoError(t, err)
		require.NotContains(t, seen, id, "duplicate room id generated")
		seen[id] = struct{}{}
	}
}

func TestGenerateHex_InvalidSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		size int
	}{
		{"zero size", 0},
		{"negative size", -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := GenerateHex(tt.size)
			require.Error(t, err)
			require.Empty(t, out)
		})
	}
}

func TestIsRoomID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"valid", "0123456789abcdef0123456789abcdef01234567", true},
		{"uppercase", "0123456789ABCDEF0123456789ABCDEF01234567", false},
		{"too short", "abc", false},
		{"non hex", "z123456789abcdef0123456789abcdef01234567", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, IsRoomID(tt.in))
		})
	}
}
