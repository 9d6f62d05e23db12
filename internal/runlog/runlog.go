// Package runlog appends keeper cycle events as newline-delimited JSON so a
// run can be replayed or tailed while the daemon is live.
package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event kinds written by the keepers.
const (
	KindCycleStart  = "cycle_start"
	KindPrice       = "price"
	KindScan        = "scan"
	KindSubmit      = "submit"
	KindSkip        = "skip"
	KindFail        = "fail"
	KindDone        = "done"
	KindCycleFinish = "cycle_finish"
)

// Event is one line of the run log.
type Event struct {
	At       time.Time `json:"at"`
	RunID    string    `json:"run_id"`
	Agent    string    `json:"agent"`
	Kind     string    `json:"kind"`
	Targets  []string  `json:"targets,omitempty"`
	TxHash   string    `json:"tx_hash,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	PriceWad string    `json:"price_wad,omitempty"`
	Scanned  int       `json:"scanned,omitempty"`
	Below    int       `json:"below,omitempty"`
	GasUsed  uint64    `json:"gas_used,omitempty"`
	CostWei  string    `json:"cost_wei,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Log appends events to a file. Safe for concurrent use. A nil *Log is a
// valid no-op sink.
type Log struct {
	mu   sync.Mutex
	path string
	file *os.File
	w    *bufio.Writer
}

// Open returns a log appending to path, or nil when path is blank.
func Open(path string) *Log {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}
	return &Log{path: path}
}

func (l *Log) ensureOpenLocked() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	l.file = f
	l.w = bufio.NewWriterSize(f, 64*1024)
	return nil
}

// Append writes one event, stamping At when unset. Flushes per event so
// tailers see lines promptly.
func (l *Log) Append(ev Event) error {
	if l == nil {
		return nil
	}
	if ev.Kind == "" {
		return fmt.Errorf("runlog: event without kind")
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.ensureOpenLocked(); err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

// Close flushes and closes the underlying file.
func (l *Log) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	if l.w != nil {
		if err := l.w.Flush(); err != nil {
			firstErr = err
		}
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.w = nil
	l.file = nil

	if firstErr != nil && errors.Is(firstErr, os.ErrClosed) {
		return nil
	}
	return firstErr
}
