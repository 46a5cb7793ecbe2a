// ABOUTME: Tests for the idempotency key cache
// ABOUTME: Covers lookup/record semantics, TTL expiry, and size-based eviction

package dedupe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/parley-gateway/internal/store"
)

func msg(id string) *store.Message {
	return &store.Message{ID: id, Content: "body of " + id}
}

func TestLookupUnknownKey(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	assert.Nil(t, c.Lookup("never-seen"))
}

func TestRecordThenLookup(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	c.Record("key-1", msg("m1"))

	got := c.Lookup("key-1")
	require.NotNil(t, got)
	assert.Equal(t, "m1", got.ID)
}

func TestRecordReplacesExistingKey(t *testing.T) {
	c := New(time.Minute, 10)
	defer c.Close()

	c.Record("key-1", msg("m1"))
	c.Record("key-1", msg("m2"))

	got := c.Lookup("key-1")
	require.NotNil(t, got)
	assert.Equal(t, "m2", got.ID)
}

func TestExpiredEntryIsInvisible(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Close()

	c.Record("key-1", msg("m1"))
	time.Sleep(20 * time.Millisecond)

	assert.Nil(t, c.Lookup("key-1"))
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	for i := 1; i <= 3; i++ {
		c.Record(fmt.Sprintf("key-%d", i), msg(fmt.Sprintf("m%d", i)))
	}
	c.Record("key-4", msg("m4"))

	assert.Nil(t, c.Lookup("key-1"), "oldest key should be evicted")
	assert.NotNil(t, c.Lookup("key-2"))
	assert.NotNil(t, c.Lookup("key-3"))
	assert.NotNil(t, c.Lookup("key-4"))
}

func TestReRecordingRefreshesEvictionOrder(t *testing.T) {
	c := New(time.Minute, 3)
	defer c.Close()

	c.Record("key-1", msg("m1"))
	c.Record("key-2", msg("m2"))
	c.Record("key-3", msg("m3"))

	// Touch key-1 so key-2 becomes the oldest
	c.Record("key-1", msg("m1"))
	c.Record("key-4", msg("m4"))

	assert.NotNil(t, c.Lookup("key-1"))
	assert.Nil(t, c.Lookup("key-2"))
}

func TestRunCleanupRemovesExpired(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	defer c.Close()

	c.Record("key-1", msg("m1"))
	time.Sleep(20 * time.Millisecond)
	c.runCleanup()

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Empty(t, c.entries)
	assert.Zero(t, c.order.Len())
}

func TestCloseIsIdempotent(t *testing.T) {
	c := New(time.Minute, 10)
	c.Close()
	c.Close()
}
