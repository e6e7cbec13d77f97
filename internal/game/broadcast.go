package game

import "sync"

// Broadcaster receives every snapshot the clock emits. Implementations must not block.
type Broadcaster interface {
	BroadcastSnapshot(gameID string, s Snapshot)
}

type Broadcasters []Broadcaster

func (bs Broadcasters) BroadcastSnapshot(gameID string, s Snapshot) {
	for _, b := range bs {
		b.BroadcastSnapshot(gameID, s)
	}
}

// SnapshotBuffer keeps the last snapshot it was given. Replicas without a
// clock serve status from it.
type SnapshotBuffer struct {
	mu   sync.RWMutex
	last Snapshot
}

func NewSnapshotBuffer() *SnapshotBuffer {
	return &SnapshotBuffer{last: EmptySnapshot()}
}

func (b *SnapshotBuffer) BroadcastSnapshot(_ string, s Snapshot) {
	b.mu.Lock()
	b.last = s
	b.mu.Unlock()
}

func (b *SnapshotBuffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last
}
