package remote_test

import (
	"errors"
	"testing"

	"github.com/kitaindia/slim3/datastore/record"
	"github.com/kitaindia/slim3/storage/remote"
)

func TestMemoryStoreFaultInjection(t *testing.T) {
	store := remote.NewMemoryStore()
	key := record.NewIDKey("Employee", 1)

	if _, err := store.Put(nil, []*record.Record{record.New(key)}); err != nil {
		t.Fatalf("expected put to succeed: %s", err)
	}

	store.FailNext("Get", remote.ErrTimeout, remote.ErrTimeout)

	for i := 0; i < 2; i++ {
		if _, err := store.Get(nil, key); !errors.Is(err, remote.ErrTimeout) {
			t.Fatalf("expected fault %d to fire, got %v", i, err)
		}
	}

	// The queue is drained, the store works again
	if _, err := store.Get(nil, key); err != nil {
		t.Fatalf("expected get to succeed after the faults: %s", err)
	}
}

func TestMemoryStoreFaultsScopePerOperation(t *testing.T) {
	store := remote.NewMemoryStore()
	key := record.NewIDKey("Employee", 1)

	store.FailNext("Delete", remote.ErrTimeout)

	if _, err := store.Put(nil, []*record.Record{record.New(key)}); err != nil {
		t.Fatalf("expected put to be unaffected by the delete fault: %s", err)
	}

	if err := store.Delete(nil, []*record.Key{key}); !errors.Is(err, remote.ErrTimeout) {
		t.Fatalf("expected the delete fault to fire, got %v", err)
	}
}

func TestMemoryStoreCommitFaultKeepsTransactionAlive(t *testing.T) {
	store := remote.NewMemoryStore()
	key := record.NewIDKey("Employee", 1)

	tx, err := store.BeginTransaction()

	if err != nil {
		t.Fatalf("expected begin to succeed: %s", err)
	}

	if _, err := store.Put(tx, []*record.Record{record.New(key)}); err != nil {
		t.Fatalf("expected put to succeed: %s", err)
	}

	store.FailNext("Commit", remote.ErrTimeout)

	if err := tx.Commit(); !errors.Is(err, remote.ErrTimeout) {
		t.Fatalf("expected the commit fault to fire, got %v", err)
	}

	// A timed-out commit stays retryable
	if !tx.Active() {
		t.Fatalf("expected the transaction to stay active after a timeout")
	}

	if err := tx.Commit(); err != nil {
		t.Fatalf("expected the retried commit to succeed: %s", err)
	}

	if _, err := store.Get(nil, key); err != nil {
		t.Fatalf("expected the committed write to be visible: %s", err)
	}
}

func TestMemoryStoreClose(t *testing.T) {
	store := remote.NewMemoryStore()

	if err := store.Close(); err != nil {
		t.Fatalf("expected close to succeed: %s", err)
	}

	if _, err := store.Get(nil, record.NewIDKey("Employee", 1)); !errors.Is(err, remote.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestMemoryStoreIsolatesStoredRecords(t *testing.T) {
	store := remote.NewMemoryStore()
	key := record.NewIDKey("Employee", 1)
	rec := record.New(key)
	rec.Set("name", "bob")

	if _, err := store.Put(nil, []*record.Record{rec}); err != nil {
		t.Fatalf("expected put to succeed: %s", err)
	}

	// Mutating the caller's record after the put must not reach the store
	rec.Set("name", "mutated")

	restored, err := store.Get(nil, key)

	if err != nil {
		t.Fatalf("expected get to succeed: %s", err)
	}

	if restored.Get("name") != "bob" {
		t.Fatalf("expected the stored record to be isolated, got %v", restored.Get("name"))
	}

	// And mutating a fetched record must not either
	restored.Set("name", "mutated")

	again, err := store.Get(nil, key)

	if err != nil {
		t.Fatalf("expected get to succeed: %s", err)
	}

	if again.Get("name") != "bob" {
		t.Fatalf("expected fetched records to be isolated, got %v", again.Get("name"))
	}
}
