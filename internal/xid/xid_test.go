package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsPrefixedAndUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := New("inv")
		require.True(t, strings.HasPrefix(id, "inv_"), id)
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, New(""), 26)
}

func TestOpIDIsUUID(t *testing.T) {
	_, err := uuid.Parse(OpID())
	assert.NoError(t, err)
}
