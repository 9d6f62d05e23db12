// Package scanner walks the protocol's sorted trove list from the riskiest
// end toward the safest, collecting troves whose collateral ratio is below a
// threshold.
//
// The list is protocol-guaranteed sorted by risk, which is what makes the
// stop-after-first-safe option correct: once a safe trove follows a risky
// run, everything further toward the head is safe too.
package scanner

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Reader is the slice of the sorted-troves surface the scanner needs.
// Ratios are re-read per candidate at scan time; nothing is cached locally.
type Reader interface {
	Size(ctx context.Context) (uint64, error)
	Last(ctx context.Context) (common.Address, error)
	Prev(ctx context.Context, id common.Address) (common.Address, error)
	CurrentICR(ctx context.Context, borrower common.Address, price *big.Int) (*big.Int, error)
}

// Candidate pairs a trove with the ratio observed during the scan, in
// tail-to-head order.
type Candidate struct {
	ID    common.Address
	Ratio *big.Int
}

// Stats reports what the scan did, independent of what it found.
type Stats struct {
	Scanned   int
	Below     int
	EarlyExit bool
}

type Options struct {
	// Threshold is the wad ratio below which a trove is a candidate.
	Threshold *big.Int
	// MaxScan is a hard ceiling on entries visited.
	MaxScan int
	// StopAtFirstSafe ends the scan at the first at-or-above-threshold entry
	// once at least one candidate has been found.
	StopAtFirstSafe bool
	// EarlyExitAfter stops a fruitless scan after this many entries with no
	// candidate found, reporting EarlyExit. Zero disables.
	EarlyExitAfter int
	// Deny lists troves the keeper refuses to touch. They count as scanned
	// but are never returned.
	Deny map[common.Address]struct{}
}

// Scan walks the list tail-to-head at the given wad price. An empty
// collection yields empty results, not an error.
func Scan(ctx context.Context, r Reader, price *big.Int, opts Options) ([]Candidate, Stats, error) {
	var stats Stats
	if opts.Threshold == nil || opts.Threshold.Sign() <= 0 {
		return nil, stats, fmt.Errorf("scan threshold must be positive")
	}
	if opts.MaxScan <= 0 {
		return nil, stats, fmt.Errorf("max scan must be positive")
	}
	if price == nil || price.Sign() <= 0 {
		return nil, stats, fmt.Errorf("scan price must be positive")
	}

	size, err := r.Size(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("collection size: %w", err)
	}
	if size == 0 {
		return nil, stats, nil
	}

	cur, err := r.Last(ctx)
	if err != nil {
		return nil, stats, fmt.Errorf("collection tail: %w", err)
	}

	var out []Candidate
	for stats.Scanned < opts.MaxScan && cur != (common.Address{}) {
		if _, denied := opts.Deny[cur]; denied {
			stats.Scanned++
			next, err := r.Prev(ctx, cur)
			if err != nil {
				return out, stats, fmt.Errorf("prev of %s: %w", cur.Hex(), err)
			}
			cur = next
			continue
		}

		ratio, err := r.CurrentICR(ctx, cur, price)
		if err != nil {
			return out, stats, fmt.Errorf("ratio of %s: %w", cur.Hex(), err)
		}
		stats.Scanned++

		if ratio.Cmp(opts.Threshold) < 0 {
			out = append(out, Candidate{ID: cur, Ratio: ratio})
			stats.Below++
		} else if opts.StopAtFirstSafe && stats.Below > 0 {
			break
		}

		if opts.EarlyExitAfter > 0 && stats.Below == 0 && stats.Scanned >= opts.EarlyExitAfter {
			stats.EarlyExit = true
			break
		}

		next, err := r.Prev(ctx, cur)
		if err != nil {
			return out, stats, fmt.Errorf("prev of %s: %w", cur.Hex(), err)
		}
		cur = next
	}
	return out, stats, nil
}

// Discover is the operational scan: threshold fixed at the protocol minimum
// collateralization ratio, with the early-exit heuristic enabled.
func Discover(ctx context.Context, r Reader, price, mcr *big.Int, maxScan, earlyExitAfter int, deny map[common.Address]struct{}) ([]Candidate, Stats, error) {
	return Scan(ctx, r, price, Options{
		Threshold:      mcr,
		MaxScan:        maxScan,
		EarlyExitAfter: earlyExitAfter,
		Deny:           deny,
	})
}

// IDs projects candidates onto their addresses, preserving order.
func IDs(cands []Candidate) []common.Address {
	if len(cands) == 0 {
		return nil
	}
	out := make([]common.Address, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.ID)
	}
	return out
}
