package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCache_Expiry(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	c := NewInMemoryCache[string, int](time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", 1, 0)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	// Set 时清理过期项
	c.Set("b", 2, 0)
	assert.Len(t, c.items, 1)
}

func TestInMemoryCache_GetOrLoad(t *testing.T) {
	c := NewInMemoryCache[int, string](time.Minute)
	loads := 0
	load := func(k int) (string, error) {
		loads++
		if k < 0 {
			return "", errors.New("bad key")
		}
		return "v", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(1, load)
		require.NoError(t, err)
		assert.Equal(t, "v", v)
	}
	assert.Equal(t, 1, loads)

	_, err := c.GetOrLoad(-1, load)
	assert.Error(t, err)
	_, ok := c.Get(-1)
	assert.False(t, ok, "failed loads are not cached")
}
