package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/state"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	agent       TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL,
	price_wad   TEXT,
	scanned     INTEGER NOT NULL DEFAULT 0,
	candidates  INTEGER NOT NULL DEFAULT 0,
	spent_wei   TEXT,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_agent_started ON runs(agent, started_at);

CREATE TABLE IF NOT EXISTS actions (
	run_id      TEXT NOT NULL REFERENCES runs(run_id),
	seq         INTEGER NOT NULL,
	kind        TEXT NOT NULL,
	targets     TEXT,
	state       TEXT NOT NULL,
	skip_reason TEXT,
	fail_class  TEXT,
	error       TEXT,
	tx_hash     TEXT,
	gas_used    INTEGER NOT NULL DEFAULT 0,
	cost_wei    TEXT,
	attempts    INTEGER NOT NULL DEFAULT 0,
	processed   INTEGER NOT NULL DEFAULT 0,
	leftover    INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, seq)
);
`

// SQLite stores runs in a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. WAL mode keeps concurrent readers from blocking the writer.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configuring sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// RecordRun writes the run and its actions in one transaction. Re-recording
// the same run id is a no-op, which makes retries after a crash idempotent.
func (s *SQLite) RecordRun(ctx context.Context, rec *state.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO runs
			(run_id, agent, started_at, finished_at, price_wad, scanned, candidates, spent_wei, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Agent, rec.StartedAt.Unix(), rec.FinishedAt.Unix(),
		rec.PriceWad, rec.Scanned, rec.Candidates, rec.SpentWei, rec.Err,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already recorded.
		return nil
	}

	for i, a := range rec.Actions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO actions
				(run_id, seq, kind, targets, state, skip_reason, fail_class, error,
				 tx_hash, gas_used, cost_wei, attempts, processed, leftover)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.RunID, i, a.Kind, joinTargets(a.Targets), a.State, a.SkipReason,
			a.FailClass, a.Error, a.TxHash, a.GasUsed, a.CostWei, a.Attempts,
			a.Processed, a.Leftover,
		)
		if err != nil {
			return fmt.Errorf("insert action %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// RecentRuns returns up to limit runs for the agent, newest first.
func (s *SQLite) RecentRuns(ctx context.Context, agent string, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, agent, started_at, finished_at, scanned, candidates,
		       COALESCE(spent_wei, ''), COALESCE(error, '')
		FROM runs WHERE agent = ? ORDER BY started_at DESC LIMIT ?`, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var started, finished int64
		if err := rows.Scan(&r.RunID, &r.Agent, &started, &finished, &r.Scanned, &r.Candidates, &r.SpentWei, &r.Err); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		r.FinishedAt = time.Unix(finished, 0).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Actions returns the actions of one run in sequence order.
func (s *SQLite) Actions(ctx context.Context, runID string) ([]ActionRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, kind, state, COALESCE(skip_reason, ''), COALESCE(fail_class, ''),
		       COALESCE(tx_hash, ''), gas_used, COALESCE(cost_wei, ''), attempts, processed, leftover
		FROM actions WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var out []ActionRow
	for rows.Next() {
		var a ActionRow
		if err := rows.Scan(&a.RunID, &a.Seq, &a.Kind, &a.State, &a.SkipReason, &a.FailClass,
			&a.TxHash, &a.GasUsed, &a.CostWei, &a.Attempts, &a.Processed, &a.Leftover); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func joinTargets(targets []string) string {
	return strings.Join(targets, ",")
}
