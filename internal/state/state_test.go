package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLatestRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	rec := NewRecord("liquidator")
	rec.Scanned = 12
	rec.Candidates = 2
	rec.Actions = []Action{{Kind: "batch", State: "DONE", TxHash: "0xabc", Processed: 2}}
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Latest("liquidator")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got == nil || got.RunID != rec.RunID || got.Scanned != 12 {
		t.Fatalf("round trip lost data: %+v", got)
	}
	if got.Version != Version {
		t.Fatalf("version = %d", got.Version)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "history"))
	if err != nil {
		t.Fatalf("history dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("history entries = %d, want 1", len(entries))
	}
}

func TestLatestMissingIsNil(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec, err := store.Latest("redeemer")
	if err != nil || rec != nil {
		t.Fatalf("missing latest should be (nil, nil), got (%v, %v)", rec, err)
	}
}

func TestLatestVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	raw, _ := json.Marshal(map[string]any{"version": Version + 1, "run_id": "x", "agent": "liquidator"})
	if err := os.WriteFile(filepath.Join(dir, "liquidator_latest.json"), raw, 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}
	_, err = store.Latest("liquidator")
	if !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("err = %v, want ErrVersionMismatch", err)
	}
}

func TestSaveDistinctAgents(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.Save(NewRecord("liquidator")); err != nil {
		t.Fatalf("Save liquidator: %v", err)
	}
	if err := store.Save(NewRecord("redeemer")); err != nil {
		t.Fatalf("Save redeemer: %v", err)
	}
	liq, err := store.Latest("liquidator")
	if err != nil || liq == nil || liq.Agent != "liquidator" {
		t.Fatalf("liquidator latest: %v %v", liq, err)
	}
	red, err := store.Latest("redeemer")
	if err != nil || red == nil || red.Agent != "redeemer" {
		t.Fatalf("redeemer latest: %v %v", red, err)
	}
}
