package requestid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("empty falls back to uuid", func(t *testing.T) {
		id := New("")
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	})

	t.Run("client id preserved with prefix", func(t *testing.T) {
		id := New("my-trace-42")
		assert.True(t, strings.HasSuffix(id, "-my-trace-42"))
		assert.Len(t, id, 5+1+len("my-trace-42"))
	})

	t.Run("invalid characters stripped", func(t *testing.T) {
		id := New("trace/../../etc")
		assert.True(t, strings.HasSuffix(id, "-traceetc"))
	})

	t.Run("spaces become hyphens", func(t *testing.T) {
		id := New("a b  c")
		assert.True(t, strings.HasSuffix(id, "-a-b-c"))
	})

	t.Run("fully invalid falls back to uuid", func(t *testing.T) {
		id := New("!!!###")
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
	})

	t.Run("long ids truncated to max length", func(t *testing.T) {
		id := New(strings.Repeat("x", 200))
		assert.Len(t, id, MaxLength)
	})

	t.Run("repeated client ids stay distinct", func(t *testing.T) {
		a := New("same")
		b := New("same")
		require.NotEqual(t, a, b)
	})
}
