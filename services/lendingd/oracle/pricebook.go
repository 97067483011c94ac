package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"defiledger/native/lending"
)

// ErrPriceUnavailable is returned when no fresh price exists for an asset.
var ErrPriceUnavailable = errors.New("oracle: price unavailable")

// Quote is a USD price observed at a point in time.
type Quote struct {
	Symbol     string          `json:"symbol"`
	PriceUSD   decimal.Decimal `json:"priceUsd"`
	ObservedAt time.Time       `json:"observedAt"`
}

// Recorder persists accepted quotes.
type Recorder interface {
	RecordPrice(ctx context.Context, quote Quote) error
}

// PriceBook holds the latest injected USD price per asset. Prices older than
// maxAge are treated as unavailable.
type PriceBook struct {
	mu       sync.RWMutex
	quotes   map[string]Quote
	maxAge   time.Duration
	now      func() time.Time
	recorder Recorder
}

// Option configures a PriceBook.
type Option func(*PriceBook)

// WithClock overrides the time source used for staleness checks.
func WithClock(now func() time.Time) Option {
	return func(b *PriceBook) {
		if now != nil {
			b.now = now
		}
	}
}

// WithRecorder persists every accepted quote.
func WithRecorder(r Recorder) Option {
	return func(b *PriceBook) {
		b.recorder = r
	}
}

// NewPriceBook constructs an empty price book. A non-positive maxAge disables
// the staleness check.
func NewPriceBook(maxAge time.Duration, opts ...Option) *PriceBook {
	book := &PriceBook{
		quotes: make(map[string]Quote),
		maxAge: maxAge,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(book)
		}
	}
	return book
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Set stores a price. Older observations than the current quote are ignored.
// The quote is only served once the recorder has accepted it.
func (b *PriceBook) Set(ctx context.Context, symbol string, price decimal.Decimal, observedAt time.Time) (Quote, error) {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return Quote{}, fmt.Errorf("oracle: symbol required")
	}
	if price.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: %s", lending.ErrInvalidPrice, symbol)
	}
	if observedAt.IsZero() {
		observedAt = b.now()
	}
	quote := Quote{Symbol: symbol, PriceUSD: price, ObservedAt: observedAt.UTC()}

	if current, ok := b.newer(quote); ok {
		return current, nil
	}
	if b.recorder != nil {
		if err := b.recorder.RecordPrice(ctx, quote); err != nil {
			return Quote{}, fmt.Errorf("record price: %w", err)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if current, ok := b.quotes[symbol]; ok && current.ObservedAt.After(quote.ObservedAt) {
		return current, nil
	}
	b.quotes[symbol] = quote
	return quote, nil
}

// newer returns the held quote when it was observed after q.
func (b *PriceBook) newer(q Quote) (Quote, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	current, ok := b.quotes[q.Symbol]
	if ok && current.ObservedAt.After(q.ObservedAt) {
		return current, true
	}
	return Quote{}, false
}

// Restore loads quotes without recording them again.
func (b *PriceBook) Restore(quotes []Quote) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, quote := range quotes {
		symbol := normalizeSymbol(quote.Symbol)
		if symbol == "" || quote.PriceUSD.Sign() <= 0 {
			continue
		}
		if current, ok := b.quotes[symbol]; ok && current.ObservedAt.After(quote.ObservedAt) {
			continue
		}
		quote.Symbol = symbol
		b.quotes[symbol] = quote
	}
}

// Quote returns the latest fresh quote for symbol.
func (b *PriceBook) Quote(symbol string) (Quote, error) {
	symbol = normalizeSymbol(symbol)
	b.mu.RLock()
	quote, ok := b.quotes[symbol]
	b.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrPriceUnavailable, symbol)
	}
	if b.maxAge > 0 && b.now().Sub(quote.ObservedAt) > b.maxAge {
		return Quote{}, fmt.Errorf("%w: %s stale since %s", ErrPriceUnavailable, symbol, quote.ObservedAt.Format(time.RFC3339))
	}
	return quote, nil
}

// Price returns the latest fresh USD price for symbol.
func (b *PriceBook) Price(symbol string) (decimal.Decimal, error) {
	quote, err := b.Quote(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.PriceUSD, nil
}

// Prices resolves the collateral and debt prices a risk computation needs.
func (b *PriceBook) Prices(collateralAsset, debtAsset string) (lending.Prices, error) {
	collateral, err := b.Price(collateralAsset)
	if err != nil {
		return lending.Prices{}, err
	}
	debt, err := b.Price(debtAsset)
	if err != nil {
		return lending.Prices{}, err
	}
	return lending.Prices{Collateral: collateral, Debt: debt}, nil
}

// Snapshot returns every stored quote, fresh or not, ordered by symbol.
func (b *PriceBook) Snapshot() []Quote {
	b.mu.RLock()
	out := make([]Quote, 0, len(b.quotes))
	for _, quote := range b.quotes {
		out = append(out, quote)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
