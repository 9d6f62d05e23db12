// Package recorder persists keeper outcomes to SQLite for later audit. The
// keepers treat it as best effort: a recording failure is logged, never
// fatal to a cycle.
package recorder

import (
	"context"
	"time"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/state"
)

// Recorder ingests finished runs and their actions.
type Recorder interface {
	RecordRun(ctx context.Context, rec *state.Record) error
	Close() error
}

// Noop discards everything. Used when no database is configured.
type Noop struct{}

func (Noop) RecordRun(ctx context.Context, rec *state.Record) error { return nil }
func (Noop) Close() error                                           { return nil }

// RunRow is one persisted run, as read back for inspection.
type RunRow struct {
	RunID      string
	Agent      string
	StartedAt  time.Time
	FinishedAt time.Time
	Scanned    int
	Candidates int
	SpentWei   string
	Err        string
}

// ActionRow is one persisted action.
type ActionRow struct {
	RunID      string
	Seq        int
	Kind       string
	State      string
	SkipReason string
	FailClass  string
	TxHash     string
	GasUsed    uint64
	CostWei    string
	Attempts   int
	Processed  int
	Leftover   int
}
