// ABOUTME: Tests for the live-handle registry
// ABOUTME: Covers multi-device sets, no-op unregister, eviction cap, and races

package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/parley-gateway/internal/store"
)

// fakeHandle is a test double recording pushes and closes.
type fakeHandle struct {
	id     string
	mu     sync.Mutex
	pushed []*store.Message
	closed bool
}

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Push(msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushed = append(f.pushed, msg)
	return nil
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func TestRegisterMultipleDevices(t *testing.T) {
	r := New(nil)

	r.Register("user-1", &fakeHandle{id: "dev-a"})
	r.Register("user-1", &fakeHandle{id: "dev-b"})

	handles := r.LiveHandles("user-1")
	assert.Len(t, handles, 2)
	assert.True(t, r.IsOnline("user-1"))
	assert.False(t, r.IsOnline("user-2"))
}

func TestUnregister(t *testing.T) {
	r := New(nil)

	r.Register("user-1", &fakeHandle{id: "dev-a"})
	r.Register("user-1", &fakeHandle{id: "dev-b"})

	r.Unregister("user-1", "dev-a")
	handles := r.LiveHandles("user-1")
	assert.Len(t, handles, 1)
	assert.Equal(t, "dev-b", handles[0].ID())

	// Removing the last handle drops the key entirely
	r.Unregister("user-1", "dev-b")
	assert.Empty(t, r.LiveHandles("user-1"))
	assert.False(t, r.IsOnline("user-1"))
}

func TestUnregister_AbsentHandleIsNoOp(t *testing.T) {
	r := New(nil)

	r.Unregister("user-1", "dev-a")

	r.Register("user-1", &fakeHandle{id: "dev-a"})
	r.Unregister("user-1", "dev-z")
	assert.Len(t, r.LiveHandles("user-1"), 1)
}

func TestRegister_EvictsOldestOverCap(t *testing.T) {
	r := New(nil)

	first := &fakeHandle{id: "dev-0"}
	r.Register("user-1", first)
	for i := 1; i <= maxHandlesPerIdentity; i++ {
		r.Register("user-1", &fakeHandle{id: fmt.Sprintf("dev-%d", i)})
	}

	handles := r.LiveHandles("user-1")
	assert.Len(t, handles, maxHandlesPerIdentity)
	assert.True(t, first.closed, "oldest handle should be closed on eviction")
	for _, h := range handles {
		assert.NotEqual(t, "dev-0", h.ID())
	}
}

func TestLiveHandles_SnapshotIsolation(t *testing.T) {
	r := New(nil)
	r.Register("user-1", &fakeHandle{id: "dev-a"})

	snapshot := r.LiveHandles("user-1")
	r.Unregister("user-1", "dev-a")

	// The snapshot is unaffected by later mutation
	assert.Len(t, snapshot, 1)
	assert.Empty(t, r.LiveHandles("user-1"))
}

func TestConcurrentRegisterUnregister(t *testing.T) {
	r := New(nil)

	// Stay under the device cap so eviction never kicks in here
	const devices = 30
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("dev-%d", i)
			r.Register("user-1", &fakeHandle{id: id})
			if i%2 == 0 {
				r.Unregister("user-1", id)
			}
		}(i)
	}
	wg.Wait()

	assert.Len(t, r.LiveHandles("user-1"), devices/2)
}
