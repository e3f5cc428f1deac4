package history

import (
	"fmt"
	"testing"
	"time"
)

func TestMemoryStore_PutGet(t *testing.T) {
	store := NewMemoryStore()

	key := Key{Cluster: "c1", UID: "pod-uid-1"}
	observed := time.Now()

	if _, exists := store.Get(key); exists {
		t.Fatal("Expected no record before Put()")
	}

	store.Put(key, "Pending", observed)

	rec, exists := store.Get(key)
	if !exists {
		t.Fatal("Record not found after Put()")
	}
	if rec.Phase != "Pending" {
		t.Errorf("Expected phase Pending, got %s", rec.Phase)
	}
	if !rec.ObservedAt.Equal(observed) {
		t.Errorf("Expected ObservedAt %v, got %v", observed, rec.ObservedAt)
	}

	// Overwrite with a newer phase
	store.Put(key, "Running", observed.Add(time.Second))
	rec, _ = store.Get(key)
	if rec.Phase != "Running" {
		t.Errorf("Expected phase Running after update, got %s", rec.Phase)
	}
}

func TestMemoryStore_ClusterIsolation(t *testing.T) {
	store := NewMemoryStore()

	// Same UID reported by two clusters must occupy two slots
	store.Put(Key{Cluster: "c1", UID: "u1"}, "Running", time.Now())
	store.Put(Key{Cluster: "c2", UID: "u1"}, "Failed", time.Now())

	rec1, _ := store.Get(Key{Cluster: "c1", UID: "u1"})
	rec2, _ := store.Get(Key{Cluster: "c2", UID: "u1"})

	if rec1.Phase != "Running" {
		t.Errorf("Expected c1 phase Running, got %s", rec1.Phase)
	}
	if rec2.Phase != "Failed" {
		t.Errorf("Expected c2 phase Failed, got %s", rec2.Phase)
	}
	if store.Len() != 2 {
		t.Errorf("Expected 2 records, got %d", store.Len())
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()

	key := Key{Cluster: "c1", UID: "u1"}
	store.Put(key, "Running", time.Now())
	store.Delete(key)

	if _, exists := store.Get(key); exists {
		t.Error("Record still present after Delete()")
	}

	// Deleting an absent key is a no-op
	store.Delete(Key{Cluster: "c1", UID: "missing"})
}

func TestMemoryStore_Sweep(t *testing.T) {
	store := NewMemoryStore()

	now := time.Now()
	store.Put(Key{Cluster: "c1", UID: "stale"}, "Running", now.Add(-2*time.Hour))
	store.Put(Key{Cluster: "c1", UID: "fresh"}, "Running", now)

	swept := store.Sweep(time.Hour)
	if swept != 1 {
		t.Errorf("Expected 1 swept record, got %d", swept)
	}

	if _, exists := store.Get(Key{Cluster: "c1", UID: "stale"}); exists {
		t.Error("Stale record survived sweep")
	}
	if _, exists := store.Get(Key{Cluster: "c1", UID: "fresh"}); !exists {
		t.Error("Fresh record removed by sweep")
	}
}

func TestMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewMemoryStore()

	// Writers on distinct partitions plus a sweeper must not corrupt the map
	done := make(chan bool, 20)
	for i := 0; i < 10; i++ {
		go func(id int) {
			key := Key{Cluster: fmt.Sprintf("cluster-%d", id), UID: "u1"}
			store.Put(key, "Running", time.Now())
			store.Get(key)
			done <- true
		}(i)
	}
	for i := 0; i < 10; i++ {
		go func() {
			store.Sweep(time.Hour)
			done <- true
		}()
	}

	for i := 0; i < 20; i++ {
		<-done
	}

	if store.Len() != 10 {
		t.Errorf("Expected 10 records, got %d", store.Len())
	}
}
