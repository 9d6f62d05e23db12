package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/VitalR/mezo-trovepilot-sub000/internal/weiutil"
)

type fakeSource struct {
	roundAnswer *big.Int
	roundAt     time.Time
	roundErr    error

	pointAnswer *big.Int
	pointErr    error

	pointCalls int
}

func (f *fakeSource) LatestRound(context.Context) (*big.Int, time.Time, error) {
	return f.roundAnswer, f.roundAt, f.roundErr
}

func (f *fakeSource) LatestAnswer(context.Context) (*big.Int, error) {
	f.pointCalls++
	return f.pointAnswer, f.pointErr
}

type fakeFeed struct {
	last decimal.Decimal
	ok   bool
}

func (f *fakeFeed) Last() (decimal.Decimal, bool) { return f.last, f.ok }

func wad(s string) *big.Int {
	v, err := weiutil.ParseWad(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestCurrentPrefersRoundRead(t *testing.T) {
	src := &fakeSource{roundAnswer: big.NewInt(65_000_00000000), roundAt: time.Now()}
	gate := NewGate(src, nil, Config{})

	q, err := gate.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if !q.FromRound {
		t.Fatalf("expected round-based quote")
	}
	if q.Value.Cmp(wad("65000")) != 0 {
		t.Fatalf("value = %s", weiutil.FormatWad(q.Value))
	}
	if src.pointCalls != 0 {
		t.Fatalf("point read should not run when round read succeeds")
	}
}

func TestCurrentFallsBackToPointReadWithoutWindow(t *testing.T) {
	src := &fakeSource{roundErr: errors.New("boom"), pointAnswer: big.NewInt(60_000_00000000)}
	gate := NewGate(src, nil, Config{})

	q, err := gate.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if q.FromRound {
		t.Fatalf("expected point-read quote")
	}
	if src.pointCalls != 1 {
		t.Fatalf("point calls = %d", src.pointCalls)
	}
}

func TestCurrentFailsClosedWithWindowConfigured(t *testing.T) {
	src := &fakeSource{roundErr: errors.New("boom"), pointAnswer: big.NewInt(60_000_00000000)}
	gate := NewGate(src, nil, Config{MaxAge: time.Minute})

	_, err := gate.Current(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if src.pointCalls != 0 {
		t.Fatalf("point read must not run when staleness cannot be verified")
	}
}

func TestCurrentRejectsNonPositive(t *testing.T) {
	src := &fakeSource{roundAnswer: big.NewInt(0), roundAt: time.Now()}
	if _, err := NewGate(src, nil, Config{}).Current(context.Background()); !errors.Is(err, ErrNonPositive) {
		t.Fatalf("expected ErrNonPositive, got %v", err)
	}

	src = &fakeSource{roundAnswer: big.NewInt(-5), roundAt: time.Now()}
	if _, err := NewGate(src, nil, Config{}).Current(context.Background()); !errors.Is(err, ErrNonPositive) {
		t.Fatalf("expected ErrNonPositive for negative, got %v", err)
	}
}

func TestCurrentEnforcesBounds(t *testing.T) {
	src := &fakeSource{roundAnswer: big.NewInt(65_000_00000000), roundAt: time.Now()}
	cfg := Config{MinPrice: wad("70000"), MaxPrice: wad("90000")}
	if _, err := NewGate(src, nil, cfg).Current(context.Background()); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}

	// Only one bound configured: check does not apply.
	cfg = Config{MinPrice: wad("70000")}
	if _, err := NewGate(src, nil, cfg).Current(context.Background()); err != nil {
		t.Fatalf("single bound should not reject: %v", err)
	}
}

func TestCurrentEnforcesStaleness(t *testing.T) {
	old := time.Now().Add(-time.Hour)
	src := &fakeSource{roundAnswer: big.NewInt(65_000_00000000), roundAt: old}
	if _, err := NewGate(src, nil, Config{MaxAge: time.Minute}).Current(context.Background()); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale, got %v", err)
	}

	src = &fakeSource{roundAnswer: big.NewInt(65_000_00000000)} // zero updatedAt
	if _, err := NewGate(src, nil, Config{MaxAge: time.Minute}).Current(context.Background()); !errors.Is(err, ErrStale) {
		t.Fatalf("expected ErrStale for unknown update time, got %v", err)
	}
}

func TestDeviationGuard(t *testing.T) {
	src := &fakeSource{roundAnswer: big.NewInt(66_000_00000000), roundAt: time.Now()}

	// 66000 vs 60000 external = 1000 bps.
	feed := &fakeFeed{last: decimal.NewFromInt(60_000), ok: true}
	gate := NewGate(src, feed, Config{MaxDeviationBps: 500})
	if _, err := gate.Current(context.Background()); !errors.Is(err, ErrDeviation) {
		t.Fatalf("expected ErrDeviation, got %v", err)
	}

	// Within cap.
	feed.last = decimal.NewFromInt(65_900)
	if _, err := gate.Current(context.Background()); err != nil {
		t.Fatalf("within cap should pass: %v", err)
	}

	// Feed down: guard stands down.
	feed.ok = false
	if _, err := gate.Current(context.Background()); err != nil {
		t.Fatalf("guard should stand down without feed: %v", err)
	}
}
