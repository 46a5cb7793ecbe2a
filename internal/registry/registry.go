// ABOUTME: Tracks live push handles per identity, supporting multiple devices
// ABOUTME: Lock-striped keyed multi-set; connect/disconnect races on one identity are safe

package registry

import (
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/2389/parley-gateway/internal/store"
)

const (
	// shardCount spreads identity keys over independent locks so connection
	// churn on one identity never contends with fan-out lookups on another.
	shardCount = 16

	// maxHandlesPerIdentity caps how many live devices one identity may hold.
	// Register evicts and closes the oldest handle beyond the cap.
	maxHandlesPerIdentity = 32
)

// Handle is an open, authenticated push channel for one device of an identity.
type Handle interface {
	// ID uniquely identifies this handle among all live connections.
	ID() string
	// Push delivers a message to the device. Errors indicate a dead handle.
	Push(msg *store.Message) error
	// Close tears down the underlying connection.
	Close() error
}

// Registry maps identity IDs to their currently-live push handles.
type Registry struct {
	shards [shardCount]shard
	logger *slog.Logger
}

type shard struct {
	mu      sync.RWMutex
	handles map[string][]Handle
}

// New creates an empty registry. Pass nil logger for the default.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{logger: logger.With("component", "registry")}
	for i := range r.shards {
		r.shards[i].handles = make(map[string][]Handle)
	}
	return r
}

func (r *Registry) shardFor(identityID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(identityID))
	return &r.shards[h.Sum32()%shardCount]
}

// Register adds a handle to the identity's live set, creating the set if
// absent. If the identity is over the device cap the oldest handle is closed
// and dropped.
func (r *Registry) Register(identityID string, handle Handle) {
	sh := r.shardFor(identityID)

	var evicted Handle
	sh.mu.Lock()
	handles := append(sh.handles[identityID], handle)
	if len(handles) > maxHandlesPerIdentity {
		evicted = handles[0]
		handles = handles[1:]
	}
	sh.handles[identityID] = handles
	total := len(handles)
	sh.mu.Unlock()

	if evicted != nil {
		evicted.Close()
		r.logger.Warn("evicted oldest handle over device cap",
			"identity_id", identityID,
			"handle_id", evicted.ID())
	}

	r.logger.Debug("handle registered",
		"identity_id", identityID,
		"handle_id", handle.ID(),
		"live_handles", total)
}

// Unregister removes a handle from the identity's live set. Removing a handle
// that is not present is a no-op. The identity key is dropped entirely when
// its last handle goes away.
func (r *Registry) Unregister(identityID, handleID string) {
	sh := r.shardFor(identityID)

	sh.mu.Lock()
	handles, ok := sh.handles[identityID]
	if !ok {
		sh.mu.Unlock()
		return
	}
	kept := handles[:0]
	removed := false
	for _, h := range handles {
		if !removed && h.ID() == handleID {
			removed = true
			continue
		}
		kept = append(kept, h)
	}
	if len(kept) == 0 {
		delete(sh.handles, identityID)
	} else {
		sh.handles[identityID] = kept
	}
	total := len(kept)
	sh.mu.Unlock()

	if removed {
		r.logger.Debug("handle unregistered",
			"identity_id", identityID,
			"handle_id", handleID,
			"live_handles", total)
	}
}

// LiveHandles returns a point-in-time snapshot of the identity's live
// handles. Callers must re-query at send time; this is not a subscription.
func (r *Registry) LiveHandles(identityID string) []Handle {
	sh := r.shardFor(identityID)

	sh.mu.RLock()
	defer sh.mu.RUnlock()

	handles := sh.handles[identityID]
	if len(handles) == 0 {
		return nil
	}
	out := make([]Handle, len(handles))
	copy(out, handles)
	return out
}

// IsOnline reports whether the identity has at least one live handle.
func (r *Registry) IsOnline(identityID string) bool {
	sh := r.shardFor(identityID)

	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return len(sh.handles[identityID]) > 0
}
