package nimbus

import (
	"hash/fnv"
	"sync"
)

type messageIdentity struct {
	channel       string
	publishTime   int64
	payloadDigest uint64
}

// duplicationFilter is a bounded FIFO of recently seen message identities.
// Once capacity is reached the oldest identity is evicted to make room for
// the newest, matching a bounded LRU's shape without the extra bookkeeping
// an access-order LRU would need (entries are never re-touched after
// insertion here).
type duplicationFilter struct {
	mu       sync.Mutex
	capacity int
	order    []messageIdentity
	seen     map[messageIdentity]struct{}
}

func newDuplicationFilter(capacity int) *duplicationFilter {
	if capacity <= 0 {
		capacity = 100
	}
	return &duplicationFilter{
		capacity: capacity,
		seen:     make(map[messageIdentity]struct{}, capacity),
	}
}

func identityOf(msg RawMessage) messageIdentity {
	h := fnv.New64a()
	h.Write(msg.Payload)
	return messageIdentity{
		channel:       msg.Channel,
		publishTime:   msg.PublishMetadata.Timetoken,
		payloadDigest: h.Sum64(),
	}
}

// IsDuplicate reports whether msg's identity has been seen before, and
// records it regardless of the outcome.
func (f *duplicationFilter) IsDuplicate(msg RawMessage) bool {
	id := identityOf(msg)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.seen[id]; ok {
		return true
	}

	if len(f.order) >= f.capacity {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.seen, oldest)
	}
	f.order = append(f.order, id)
	f.seen[id] = struct{}{}
	return false
}

// Clear discards all recorded identities. Called on every channel-mix
// change, since timetokens restart and stale identities would otherwise
// collide with fresh ones from an unrelated episode.
func (f *duplicationFilter) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = nil
	f.seen = make(map[messageIdentity]struct{}, f.capacity)
}
