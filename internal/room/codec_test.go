package room

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoomIDRoundTrip verifies the analysis-id to room-id mapping is
// invertible for every id shape, including the empty string.
func TestRoomIDRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"analysis-1",
		"7f3c2a9e-1f7d-4e64-9f3a-0c8b1d2e3f40",
		"with spaces and tabs\t",
		"unicode-ид-分析",
		"analysis:nested:colons",
		"slash/and?query=chars&more=%41",
		"\x00binary\x7f",
	}

	for _, id := range cases {
		encoded := EncodeRoomID(id)
		decoded, err := DecodeRoomID(encoded)
		require.NoError(t, err, "id %q", id)
		assert.Equal(t, id, decoded, "round trip of %q", id)
	}
}

func TestDecodeRoomIDRejectsForeignIdentifiers(t *testing.T) {
	_, err := DecodeRoomID("not-a-room-id")
	assert.Error(t, err)

	_, err = DecodeRoomID("analysis:%zz")
	assert.Error(t, err)
}
