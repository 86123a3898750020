package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_Key(t *testing.T) {
	assert.Equal(t, "example.com|1", Key("example.com", 1))
}

func Test_Cache_PutGet(t *testing.T) {
	c := New(1<<20, 120)

	c.Put(Key("example.com", 1), []byte("response-bytes"))

	got, ok := c.Get(Key("example.com", 1))
	assert.True(t, ok)
	assert.Equal(t, []byte("response-bytes"), got)
}

func Test_Cache_Miss(t *testing.T) {
	c := New(1<<20, 120)
	_, ok := c.Get(Key("nope.com", 1))
	assert.False(t, ok)
}

func Test_Cache_GetReturnsCopy(t *testing.T) {
	c := New(1<<20, 120)
	c.Put(Key("example.com", 1), []byte("abc"))

	got, _ := c.Get(Key("example.com", 1))
	got[0] = 'z'

	again, _ := c.Get(Key("example.com", 1))
	assert.Equal(t, byte('a'), again[0])
}

func Test_Cache_TTLExpiry(t *testing.T) {
	c := New(1<<20, 1) // 1 second TTL
	c.Put(Key("example.com", 1), []byte("abc"))

	_, ok := c.Get(Key("example.com", 1))
	assert.True(t, ok)

	time.Sleep(1100 * time.Millisecond)

	_, ok = c.Get(Key("example.com", 1))
	assert.False(t, ok)
}

func Test_Cache_EvictsLeastRecentWhenOverBudget(t *testing.T) {
	// Each entry is 4 bytes; budget fits exactly two.
	c := New(8, 120)

	c.Put(Key("a.com", 1), []byte("aaaa"))
	c.Put(Key("b.com", 1), []byte("bbbb"))
	c.Put(Key("c.com", 1), []byte("cccc"))

	_, ok := c.Get(Key("a.com", 1))
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.Get(Key("b.com", 1))
	assert.True(t, ok)

	_, ok = c.Get(Key("c.com", 1))
	assert.True(t, ok)
}

func Test_Cache_GetPromotesToMostRecent(t *testing.T) {
	c := New(8, 120)

	c.Put(Key("a.com", 1), []byte("aaaa"))
	c.Put(Key("b.com", 1), []byte("bbbb"))

	// Touch a.com so it becomes most-recent; b.com should be evicted next.
	c.Get(Key("a.com", 1))
	c.Put(Key("c.com", 1), []byte("cccc"))

	_, ok := c.Get(Key("b.com", 1))
	assert.False(t, ok)

	_, ok = c.Get(Key("a.com", 1))
	assert.True(t, ok)
}

func Test_Cache_PutReplacesExisting(t *testing.T) {
	c := New(1<<20, 120)
	c.Put(Key("a.com", 1), []byte("first"))
	c.Put(Key("a.com", 1), []byte("second-value"))

	got, ok := c.Get(Key("a.com", 1))
	assert.True(t, ok)
	assert.Equal(t, []byte("second-value"), got)
	assert.Equal(t, len("second-value"), c.SizeBytes())
}

func Test_Cache_SetLimitsTriggersEviction(t *testing.T) {
	c := New(1<<20, 120)
	c.Put(Key("a.com", 1), []byte("aaaa"))
	c.Put(Key("b.com", 1), []byte("bbbb"))

	c.SetLimits(4, 120)

	_, ok := c.Get(Key("a.com", 1))
	assert.False(t, ok)
	_, ok = c.Get(Key("b.com", 1))
	assert.True(t, ok)
}
