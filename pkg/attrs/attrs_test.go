package attrs

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestExtractString(t *testing.T) {
	sessionID := uuid.New()
	list := []any{"reason", "timeout_silence", "session_id", sessionID, "amount", int64(5), "dangling"}

	assert.Equal(t, "timeout_silence", ExtractString(list, "reason"))
	assert.Equal(t, sessionID.String(), ExtractString(list, "session_id"), "Stringers are rendered")
	assert.Empty(t, ExtractString(list, "amount"))
	assert.Empty(t, ExtractString(list, "dangling"))
	assert.Empty(t, ExtractString(list, "missing"))
}

func TestExtractInt64(t *testing.T) {
	list := []any{"amount", int64(550), "count", 3, "label", "x"}

	n, ok := ExtractInt64(list, "amount")
	assert.True(t, ok)
	assert.Equal(t, int64(550), n)

	n, ok = ExtractInt64(list, "count")
	assert.True(t, ok)
	assert.Equal(t, int64(3), n)

	_, ok = ExtractInt64(list, "label")
	assert.False(t, ok)
}
