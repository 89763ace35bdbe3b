package idx

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestNewAndParse(t *testing.T) {
	id := New()
	require.NotEmpty(t, id.String())
	require.False(t, id.IsZero())

	parsed, err := Parse(" " + id.String() + "\n")
	require.NoError(t, err)
	require.Equal(t, id, parsed)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("")
	require.ErrorIs(t, err, ErrInvalid)

	_, err = Parse("not-a-ulid")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestMonotonic(t *testing.T) {
	// Same millisecond must still sort strictly increasing
	tm := time.Unix(1700000000, 0).UTC()
	a := at(tm)
	b := at(tm)
	require.Less(t, a.String(), b.String())

	u, err := ulid.ParseStrict(a.String())
	require.NoError(t, err)
	require.WithinDuration(t, tm, ulid.Time(u.Time()), time.Millisecond)
}
