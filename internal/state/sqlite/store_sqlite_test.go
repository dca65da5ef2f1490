package sqlite

import (
	"context"
	"path/filepath"
	"testing"
)

func TestStoreRoundTrip(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	key := "market:default:record"
	if err := store.Set(ctx, key, "{}"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Set(ctx, key, `{"id":"default"}`); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	val, ok, err := store.Get(ctx, key)
	if err != nil || !ok || val != `{"id":"default"}` {
		t.Fatalf("unexpected value %q ok=%v err=%v", val, ok, err)
	}
	if err := store.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("expected key deleted, ok=%v err=%v", ok, err)
	}
}

func TestStoreCountsByKind(t *testing.T) {
	store, err := New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	for _, key := range []string{"market:a:record", "receipt:a:1", "receipt:a:2", "receipt:b:1"} {
		if err := store.Set(ctx, key, "x"); err != nil {
			t.Fatalf("set %s: %v", key, err)
		}
	}
	if err := store.Set(ctx, "receipt:a:1", "y"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if n, err := store.Count(ctx, "receipt"); err != nil || n != 3 {
		t.Fatalf("expected 3 receipts, got %d (%v)", n, err)
	}
	if n, err := store.Count(ctx, "market"); err != nil || n != 1 {
		t.Fatalf("expected 1 market record, got %d (%v)", n, err)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	store, err := New(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	ctx := context.Background()
	if err := store.Set(ctx, "receipt:m:k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	store, err = New(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	if val, ok, err := store.Get(ctx, "receipt:m:k"); err != nil || !ok || val != "v" {
		t.Fatalf("expected persisted value, got %q ok=%v err=%v", val, ok, err)
	}
}
