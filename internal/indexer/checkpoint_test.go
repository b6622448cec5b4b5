package indexer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestCheckpointStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	store := NewCheckpointStore(path, true)

	if _, ok, err := store.Load(1); err != nil || ok {
		t.Fatalf("expected empty checkpoint, ok=%v err=%v", ok, err)
	}
	if err := store.Save(1, 1234); err != nil {
		t.Fatalf("save: %v", err)
	}

	cp, ok, err := store.Load(1)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if cp.ChainID != 1 || cp.LastProcessedBlock != 1234 || cp.UpdatedAt == "" {
		t.Fatalf("unexpected checkpoint: %+v", cp)
	}
}

func TestCheckpointStoreChainMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, true)
	if err := store.Save(1, 50); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, _, err := store.Load(56); err == nil {
		t.Fatalf("expected chain mismatch error")
	}
}

func TestCheckpointStoreLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	if err := os.WriteFile(path, []byte(`{"last_processed_block":77}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cp, ok, err := NewCheckpointStore(path, true).Load(1)
	if err != nil || !ok || cp.LastProcessedBlock != 77 {
		t.Fatalf("unexpected load: %+v ok=%v err=%v", cp, ok, err)
	}
}

func TestCheckpointStoreDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewCheckpointStore(path, false)

	if err := store.Save(1, 10); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok, err := store.Load(1); err != nil || ok {
		t.Fatalf("disabled store should load nothing, ok=%v err=%v", ok, err)
	}
}
