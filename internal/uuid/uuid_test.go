package uuid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGeneratesValidV4(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := New()
		assert.True(t, IsValid(id), "generated id %q", id)
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("7f3c2a9e-1f7d-4e64-9f3a-0c8b1d2e3f40"))

	for _, bad := range []string{
		"",
		"not-a-uuid",
		"7f3c2a9e-1f7d-1e64-9f3a-0c8b1d2e3f40", // v1
		"7f3c2a9e-1f7d-4e64-0f3a-0c8b1d2e3f40", // bad variant
		"7f3c2a9e1f7d4e649f3a0c8b1d2e3f40",     // missing dashes
	} {
		assert.False(t, IsValid(bad), "id %q", bad)
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(New()))
	assert.Error(t, Validate("nope"))
}
