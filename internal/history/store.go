package history

import (
	"context"
	"sync"
	"time"

	"k8s.io/apimachinery/pkg/types"
	"k8s.io/klog/v2"
)

// Key identifies one dedup slot. Cluster is part of the key so that two
// clusters reporting the same UID are tracked independently.
type Key struct {
	Cluster string
	UID     types.UID
}

// Record holds the last phase forwarded (or silently seeded) for a key.
type Record struct {
	Phase      string
	ObservedAt time.Time
}

type Store interface {
	Get(key Key) (Record, bool)
	Put(key Key, phase string, observedAt time.Time)
	Delete(key Key)
	Len() int
}

// In-memory implementation. Each key has a single writer (the watch loop
// owning that cluster+kind partition), but the map itself is shared by all
// loops and by the sweeper, so access is guarded.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Key]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Key]Record),
	}
}

func (s *MemoryStore) Get(key Key) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, exists := s.records[key]
	return rec, exists
}

func (s *MemoryStore) Put(key Key, phase string, observedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = Record{Phase: phase, ObservedAt: observedAt}
}

func (s *MemoryStore) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Sweep removes records not observed within ttl and returns how many were
// dropped. Resources deleted while a watch was disconnected never produce a
// Deleted event, so without the sweep the map grows with every UID ever seen.
func (s *MemoryStore) Sweep(ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)
	s.mu.Lock()
	defer s.mu.Unlock()

	swept := 0
	for key, rec := range s.records {
		if rec.ObservedAt.Before(cutoff) {
			delete(s.records, key)
			swept++
		}
	}
	return swept
}

// StartSweeper runs Sweep every interval until ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if swept := s.Sweep(ttl); swept > 0 {
					klog.V(2).Infof("Phase history sweep dropped %d stale records, %d remain", swept, s.Len())
				}
			}
		}
	}()
}
