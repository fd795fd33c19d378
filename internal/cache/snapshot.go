package cache

import (
	"context"
	"fmt"
	"sync"

	"machine_monitor/internal/models"
)

// SnapshotKey is the cache key of a machine's last observation.
func SnapshotKey(machineID string) string {
	return fmt.Sprintf("machine:%s:current_state", machineID)
}

// SnapshotStore keeps the last observation per machine. It is comparison
// input for the next poll, never a system of record.
type SnapshotStore interface {
	Get(ctx context.Context, machineID string) (*models.Snapshot, error)
	Set(ctx context.Context, snap models.Snapshot) error
	Delete(ctx context.Context, machineID string) error
	List(ctx context.Context) ([]models.Snapshot, error)
}

// CacheSnapshots stores snapshots in a Cache without expiry and remembers
// which machines it has seen so List does not need key scans.
type CacheSnapshots struct {
	cache Cache

	mu    sync.Mutex
	known []string
	seen  map[string]struct{}
}

var _ SnapshotStore = (*CacheSnapshots)(nil)

func NewSnapshotStore(c Cache) *CacheSnapshots {
	return &CacheSnapshots{cache: c, seen: make(map[string]struct{})}
}

// Get returns (nil, nil) when no snapshot is cached.
func (s *CacheSnapshots) Get(ctx context.Context, machineID string) (*models.Snapshot, error) {
	var snap models.Snapshot
	ok, err := s.cache.Get(ctx, SnapshotKey(machineID), &snap)
	if err != nil || !ok {
		return nil, err
	}
	return &snap, nil
}

func (s *CacheSnapshots) Set(ctx context.Context, snap models.Snapshot) error {
	if err := s.cache.Set(ctx, SnapshotKey(snap.MachineID), snap, 0); err != nil {
		return err
	}
	s.mu.Lock()
	if _, ok := s.seen[snap.MachineID]; !ok {
		s.seen[snap.MachineID] = struct{}{}
		s.known = append(s.known, snap.MachineID)
	}
	s.mu.Unlock()
	return nil
}

func (s *CacheSnapshots) Delete(ctx context.Context, machineID string) error {
	return s.cache.Delete(ctx, SnapshotKey(machineID))
}

// List returns cached snapshots in first-seen order.
func (s *CacheSnapshots) List(ctx context.Context) ([]models.Snapshot, error) {
	s.mu.Lock()
	ids := append([]string(nil), s.known...)
	s.mu.Unlock()

	out := make([]models.Snapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if snap != nil {
			out = append(out, *snap)
		}
	}
	return out, nil
}
