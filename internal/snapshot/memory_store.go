package snapshot

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// MemoryStore keeps snapshots in process memory. Stored and returned
// snapshots are copies, so callers never share a state map.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[types.JobID]types.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[types.JobID]types.Snapshot)}
}

func (s *MemoryStore) Put(_ context.Context, snap *types.Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	cp := *snap
	cp.State = maps.Clone(snap.State)

	s.mu.Lock()
	s.snaps[snap.JobID] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.JobID) (*types.Snapshot, error) {
	s.mu.RLock()
	snap, ok := s.snaps[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: job %d", ErrSnapshotNotFound, id)
	}
	snap.State = maps.Clone(snap.State)
	if snap.State == nil {
		snap.State = types.StateMap{}
	}
	return &snap, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
func (s *MemoryStore) Close() error               { return nil }
