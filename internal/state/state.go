// Package state persists keeper run records. Each agent keeps a
// <agent>_latest.json snapshot plus timestamped copies under history/,
// written atomically so a crash never leaves a torn file.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Version is bumped whenever the record layout changes incompatibly.
const Version = 1

var ErrVersionMismatch = errors.New("state record version mismatch")

// Action is one attempted operation inside a run.
type Action struct {
	Kind       string   `json:"kind"`
	Targets    []string `json:"targets,omitempty"`
	State      string   `json:"state"`
	SkipReason string   `json:"skip_reason,omitempty"`
	FailClass  string   `json:"fail_class,omitempty"`
	Error      string   `json:"error,omitempty"`
	TxHash     string   `json:"tx_hash,omitempty"`
	GasUsed    uint64   `json:"gas_used,omitempty"`
	CostWei    string   `json:"cost_wei,omitempty"`
	Attempts   int      `json:"attempts,omitempty"`
	Processed  int      `json:"processed,omitempty"`
	Leftover   int      `json:"leftover,omitempty"`

	RawGas        uint64 `json:"raw_gas,omitempty"`
	BufferedGas   uint64 `json:"buffered_gas,omitempty"`
	FeeMode       string `json:"fee_mode,omitempty"`
	ReceiptStatus uint64 `json:"receipt_status,omitempty"`
	EffGasPrice   string `json:"effective_gas_price,omitempty"`
}

// Record is the durable outcome of one keeper cycle.
type Record struct {
	Version    int       `json:"version"`
	RunID      string    `json:"run_id"`
	Agent      string    `json:"agent"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	PriceWad   string    `json:"price_wad,omitempty"`
	Scanned    int       `json:"scanned"`
	Candidates int       `json:"candidates"`
	Actions    []Action  `json:"actions"`
	SpentWei   string    `json:"spent_wei,omitempty"`
	Err        string    `json:"error,omitempty"`
}

// NewRecord starts a record for the named agent with a fresh run id.
func NewRecord(agent string) *Record {
	return &Record{
		Version:   Version,
		RunID:     uuid.NewString(),
		Agent:     agent,
		StartedAt: time.Now().UTC(),
	}
}

// Store reads and writes run records under a base directory.
type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("state: empty directory")
	}
	if err := os.MkdirAll(filepath.Join(dir, "history"), 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) latestPath(agent string) string {
	return filepath.Join(s.dir, agent+"_latest.json")
}

// Save writes the record as the agent's latest snapshot and appends a
// timestamped copy to history/.
func (s *Store) Save(rec *Record) error {
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state record: %w", err)
	}
	if err := writeAtomic(s.latestPath(rec.Agent), data); err != nil {
		return err
	}
	name := fmt.Sprintf("%s-%s-%s.json", rec.Agent, rec.StartedAt.Format("20060102T150405Z"), rec.RunID[:8])
	return writeAtomic(filepath.Join(s.dir, "history", name), data)
}

// Latest loads the agent's most recent record. A missing file returns
// (nil, nil); a record written by an incompatible version returns
// ErrVersionMismatch so the operator decides what to do with it.
func (s *Store) Latest(agent string) (*Record, error) {
	data, err := os.ReadFile(s.latestPath(agent))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading state record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding state record: %w", err)
	}
	if rec.Version != Version {
		return nil, fmt.Errorf("%w: file has %d, supported %d", ErrVersionMismatch, rec.Version, Version)
	}
	return &rec, nil
}

// writeAtomic writes via a temp file in the same directory and renames it
// into place.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", tmp, err)
	}
	return nil
}
