package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache[[]string](time.Minute, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("conv-1", []string{"a", "b"})
	entry, ok := c.Get("conv-1")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, entry.Value)
	assert.Equal(t, now, entry.StoredAt)

	now = now.Add(61 * time.Second)
	_, ok = c.Get("conv-1")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_EvictsOldest(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache[int](0, 2)
	c.SetClock(func() time.Time { return now })

	c.Set("a", 1)
	now = now.Add(time.Second)
	c.Set("b", 2)
	now = now.Add(time.Second)
	c.Set("a", 10)
	c.Set("c", 3)

	_, ok := c.Get("b")
	assert.False(t, ok)
	entry, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 10, entry.Value)
	assert.Equal(t, 2, c.Len())
}

func TestMemoryCache_Purge(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache[string](time.Minute, 0)
	c.SetClock(func() time.Time { return now })

	c.Set("old", "x")
	now = now.Add(45 * time.Second)
	c.Set("new", "y")
	now = now.Add(30 * time.Second)

	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
	c.Delete("new")
	assert.Equal(t, 0, c.Len())
}
