// Package pricefeed streams a reference spot price from an exchange
// websocket (Coinbase-style ticker protocol). The latest reading backs the
// oracle deviation guard; the keeper never trades on it.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const DefaultURL = "wss://ws-feed.exchange.coinbase.com"

type Options struct {
	PingInterval time.Duration
	BackoffMin   time.Duration
	BackoffMax   time.Duration

	// MaxAge bounds how old a reading may be before Last reports no data.
	MaxAge time.Duration
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 15 * time.Second
	}
	if o.BackoffMin <= 0 {
		o.BackoffMin = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 15 * time.Second
	}
	if o.MaxAge <= 0 {
		o.MaxAge = 30 * time.Second
	}
	return o
}

// Feed holds the most recent ticker price. Safe for concurrent use.
type Feed struct {
	mu     sync.RWMutex
	last   decimal.Decimal
	at     time.Time
	maxAge time.Duration
}

// Last returns the latest price and whether it is fresh enough to use.
func (f *Feed) Last() (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.at.IsZero() || time.Since(f.at) > f.maxAge {
		return decimal.Zero, false
	}
	return f.last, true
}

func (f *Feed) store(p decimal.Decimal) {
	f.mu.Lock()
	f.last = p
	f.at = time.Now()
	f.mu.Unlock()
}

type subscribeRequest struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
}

type tickerMessage struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Price     string `json:"price"`
	Message   string `json:"message"`
}

// Start connects in the background and keeps the feed updated, reconnecting
// with jittered exponential backoff until ctx is cancelled.
func Start(ctx context.Context, url, productID string, opts Options) *Feed {
	opts = opts.withDefaults()
	if url == "" {
		url = DefaultURL
	}

	f := &Feed{maxAge: opts.MaxAge}

	go func() {
		backoff := opts.BackoffMin
		for {
			if ctx.Err() != nil {
				return
			}

			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				log.Printf("[warn] price feed dial: %v", err)
				sleepWithJitter(ctx, backoff)
				backoff = nextBackoff(backoff, opts.BackoffMax)
				continue
			}
			backoff = opts.BackoffMin

			if err := runSession(ctx, conn, productID, opts.PingInterval, f); err != nil && ctx.Err() == nil {
				log.Printf("[warn] price feed session: %v", err)
			}
			_ = conn.Close()

			if ctx.Err() != nil {
				return
			}
			sleepWithJitter(ctx, backoff)
			backoff = nextBackoff(backoff, opts.BackoffMax)
		}
	}()

	return f
}

func runSession(ctx context.Context, conn *websocket.Conn, productID string, pingInterval time.Duration, f *Feed) error {
	req := subscribeRequest{Type: "subscribe", ProductIDs: []string{productID}, Channels: []string{"ticker"}}
	reqBytes, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("subscribe marshal: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, reqBytes); err != nil {
		return fmt.Errorf("subscribe write: %w", err)
	}

	var writeMu sync.Mutex
	stop := make(chan struct{})
	var stopOnce sync.Once
	stopAll := func() { stopOnce.Do(func() { close(stop) }) }

	go func() {
		defer stopAll()
		t := time.NewTicker(pingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-t.C:
				writeMu.Lock()
				_ = conn.SetWriteDeadline(time.Now().Add(3 * time.Second))
				werr := conn.WriteMessage(websocket.PingMessage, nil)
				writeMu.Unlock()
				if werr != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		typ, msg, err := conn.ReadMessage()
		if err != nil {
			stopAll()
			if errors.Is(err, websocket.ErrCloseSent) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if typ != websocket.TextMessage || len(msg) == 0 {
			continue
		}

		var m tickerMessage
		if err := json.Unmarshal(msg, &m); err != nil {
			log.Printf("[warn] price feed decode: %v", err)
			continue
		}
		switch m.Type {
		case "ticker":
			if m.ProductID != "" && m.ProductID != productID {
				continue
			}
			p, err := decimal.NewFromString(m.Price)
			if err != nil || p.Sign() <= 0 {
				continue
			}
			f.store(p)
		case "error":
			stopAll()
			return fmt.Errorf("feed error: %s", m.Message)
		}
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	next := cur * 2
	if next > max {
		return max
	}
	return next
}

func sleepWithJitter(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	j := int64(d) / 7
	if j > 0 {
		d = time.Duration(int64(d) + rand.Int64N(2*j+1) - j)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
