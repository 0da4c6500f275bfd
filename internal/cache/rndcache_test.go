package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func byteKey(b byte) byte { return b }

func TestRndCacheGetSetRoundTrip(t *testing.T) {
	c := New[byte, string](1024, 4, byteKey)
	c.Set(1, "a", 4)
	v, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, "a", v)

	_, ok = c.Get(2)
	require.False(t, ok)

	st := c.Stats()
	require.EqualValues(t, 1, st.Hits)
	require.EqualValues(t, 1, st.Misses)
}

func TestRndCacheEvictsUnderBytePressure(t *testing.T) {
	// One shard, tiny budget: every insert past the budget must evict
	// something, so the shard's tracked bytes never exceeds max.
	c := New[byte, []byte](100, 1, byteKey)
	for i := byte(0); i < 50; i++ {
		c.Set(i, make([]byte, 10), 10)
	}
	st := c.Stats()
	require.LessOrEqual(t, st.Bytes, int64(100))
	require.Greater(t, st.Evictions, int64(0))
	// The budget admits at most 10 entries of size 10 at once.
	require.LessOrEqual(t, st.Len, 10)
}

func TestRndCacheDeleteRemovesEntry(t *testing.T) {
	c := New[byte, string](1024, 1, byteKey)
	c.Set(5, "x", 8)
	c.Delete(5)
	_, ok := c.Get(5)
	require.False(t, ok)
	require.EqualValues(t, 0, c.Stats().Bytes)
}

func TestRndCacheUpdateAdjustsBytesWithoutDuplicateOrderEntry(t *testing.T) {
	c := New[byte, string](1024, 1, byteKey)
	c.Set(1, "small", 4)
	c.Set(1, "bigger", 40)
	st := c.Stats()
	require.EqualValues(t, 40, st.Bytes)
	require.Equal(t, 1, st.Len)
}
