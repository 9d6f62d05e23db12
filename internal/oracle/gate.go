// Package oracle validates a price reading before a keeper cycle proceeds.
// A quote that fails any check is reported as a classified error; callers
// skip the cycle instead of crashing.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/weiutil"
)

var (
	ErrUnavailable = errors.New("price unavailable")
	ErrNonPositive = errors.New("price not positive")
	ErrOutOfBounds = errors.New("price outside configured bounds")
	ErrStale       = errors.New("price stale")
	ErrDeviation   = errors.New("price deviates from external feed")
)

// Source is the on-chain aggregator. LatestRound is preferred; LatestAnswer
// is the point read used only when round data cannot be fetched and no
// staleness window is enforced.
type Source interface {
	LatestRound(ctx context.Context) (*big.Int, time.Time, error)
	LatestAnswer(ctx context.Context) (*big.Int, error)
}

// ExternalFeed supplies an off-chain reference price for the deviation guard.
// ok is false when no fresh reading is available, which disables the guard
// for that cycle.
type ExternalFeed interface {
	Last() (decimal.Decimal, bool)
}

type Config struct {
	// MinPrice/MaxPrice bound the wad-normalized price. Both must be set for
	// the bounds check to apply.
	MinPrice *big.Int
	MaxPrice *big.Int
	// MaxAge is the staleness window. Zero disables the check and permits
	// the point-read fallback.
	MaxAge time.Duration
	// AnswerDecimals is the aggregator's answer scale (Chainlink-style feeds
	// report 8). Answers are normalized to wad.
	AnswerDecimals int32
	// MaxDeviationBps bounds the spread against the external feed. Zero
	// disables the guard.
	MaxDeviationBps int64
}

// Quote is a validated price, wad-scaled.
type Quote struct {
	Value     *big.Int
	UpdatedAt time.Time
	FromRound bool
}

type Gate struct {
	src  Source
	feed ExternalFeed
	cfg  Config
	now  func() time.Time
}

func NewGate(src Source, feed ExternalFeed, cfg Config) *Gate {
	if cfg.AnswerDecimals == 0 {
		cfg.AnswerDecimals = 8
	}
	return &Gate{src: src, feed: feed, cfg: cfg, now: time.Now}
}

// Current reads and validates the price. The round read is preferred; if it
// fails and no staleness window is configured, the point read is used. With a
// staleness window configured a failed round read fails closed, because a
// point read carries no timestamp to verify freshness against.
func (g *Gate) Current(ctx context.Context) (Quote, error) {
	var q Quote

	answer, updatedAt, err := g.src.LatestRound(ctx)
	if err == nil {
		q = Quote{Value: answer, UpdatedAt: updatedAt, FromRound: true}
	} else {
		if g.cfg.MaxAge > 0 {
			return Quote{}, fmt.Errorf("%w: round read failed with staleness window set: %v", ErrUnavailable, err)
		}
		point, perr := g.src.LatestAnswer(ctx)
		if perr != nil {
			return Quote{}, fmt.Errorf("%w: round: %v; point: %v", ErrUnavailable, err, perr)
		}
		q = Quote{Value: point}
	}

	if q.Value == nil || q.Value.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: answer=%v", ErrNonPositive, q.Value)
	}
	q.Value = weiutil.Rescale(q.Value, g.cfg.AnswerDecimals, weiutil.WadDecimals)

	if g.cfg.MinPrice != nil && g.cfg.MaxPrice != nil {
		if q.Value.Cmp(g.cfg.MinPrice) < 0 || q.Value.Cmp(g.cfg.MaxPrice) > 0 {
			return Quote{}, fmt.Errorf("%w: price=%s min=%s max=%s",
				ErrOutOfBounds, weiutil.FormatWad(q.Value), weiutil.FormatWad(g.cfg.MinPrice), weiutil.FormatWad(g.cfg.MaxPrice))
		}
	}

	if g.cfg.MaxAge > 0 {
		if q.UpdatedAt.IsZero() {
			return Quote{}, fmt.Errorf("%w: update time unknown", ErrStale)
		}
		if age := g.now().Sub(q.UpdatedAt); age > g.cfg.MaxAge {
			return Quote{}, fmt.Errorf("%w: age=%s window=%s", ErrStale, age.Truncate(time.Second), g.cfg.MaxAge)
		}
	}

	if err := g.checkDeviation(q.Value); err != nil {
		return Quote{}, err
	}
	return q, nil
}

func (g *Gate) checkDeviation(price *big.Int) error {
	if g.feed == nil || g.cfg.MaxDeviationBps <= 0 {
		return nil
	}
	ext, ok := g.feed.Last()
	if !ok || ext.Sign() <= 0 {
		// No fresh external reading; the guard stands down rather than
		// blocking cycles on feed outages.
		return nil
	}
	onchain := weiutil.ToDecimal(price, weiutil.WadDecimals)
	diff := onchain.Sub(ext).Abs()
	bps := diff.Div(ext).Mul(decimal.NewFromInt(10_000))
	if bps.GreaterThan(decimal.NewFromInt(g.cfg.MaxDeviationBps)) {
		return fmt.Errorf("%w: oracle=%s feed=%s spread=%sbps cap=%dbps",
			ErrDeviation, onchain, ext, bps.Round(1), g.cfg.MaxDeviationBps)
	}
	return nil
}
