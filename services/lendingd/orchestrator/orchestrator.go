package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"defiledger/native/amm"
	nativecommon "defiledger/native/common"
	"defiledger/native/lending"
	"defiledger/observability"
	"defiledger/services/lendingd/storage"
)

// Store is the persistence the orchestrator reads snapshots from and commits
// mutations to.
type Store interface {
	Market(ctx context.Context, symbol string) (lending.Market, error)
	Markets(ctx context.Context) ([]lending.Market, error)
	Pool(ctx context.Context, id string) (amm.Pool, error)
	Pools(ctx context.Context) ([]amm.Pool, error)
	Position(ctx context.Context, id string) (lending.BorrowPosition, error)
	Positions(ctx context.Context, filter storage.PositionFilter) ([]lending.BorrowPosition, error)
	LiquidityPosition(ctx context.Context, owner, poolID string) (amm.Position, error)
	SupplyBalance(ctx context.Context, owner, market string) (decimal.Decimal, error)
	Journal(ctx context.Context, filter storage.JournalFilter) ([]storage.JournalEntry, error)
	Commit(ctx context.Context, m storage.Mutation) error
}

// PriceSource resolves the USD prices a risk evaluation needs.
type PriceSource interface {
	Prices(collateralAsset, debtAsset string) (lending.Prices, error)
}

// Orchestrator runs ledger operations: it resolves prices, serialises work
// per market or pool, applies the pure ledger functions to the stored
// snapshot and commits every resulting write in one transaction.
type Orchestrator struct {
	store   Store
	prices  PriceSource
	pauses  nativecommon.PauseView
	locks   *keyedMutex
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string

	reserveFactor decimal.Decimal
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger installs a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPauses installs the pause view consulted before every mutation.
func WithPauses(p nativecommon.PauseView) Option {
	return func(o *Orchestrator) { o.pauses = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator overrides position id generation.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithMetrics overrides the metrics registry. Passing nil disables metrics.
func WithMetrics(m *observability.LedgerMetrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithDefaultReserveFactor sets the reserve factor applied to markets listed
// without one.
func WithDefaultReserveFactor(rf decimal.Decimal) Option {
	return func(o *Orchestrator) { o.reserveFactor = rf }
}

// WithTracer overrides the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// New constructs an orchestrator over store and prices.
func New(store Store, prices PriceSource, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:   store,
		prices:  prices,
		locks:   newKeyedMutex(),
		logger:  slog.Default(),
		metrics: observability.Ledger(),
		tracer:  otel.Tracer("defiledger/services/lendingd/orchestrator"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,

		reserveFactor: decimal.Zero,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// begin opens a span for operation and returns the function that closes it,
// records metrics and logs the outcome. The error is read through errp when
// the operation returns.
func (o *Orchestrator) begin(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, func(errp *error)) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "ledger."+operation, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		reason := Reason(err)
		o.metrics.Observe(operation, time.Since(start), reason)

		logAttrs := make([]any, 0, len(attrs)+2)
		logAttrs = append(logAttrs, slog.String("operation", operation))
		for _, kv := range attrs {
			logAttrs = append(logAttrs, slog.String(string(kv.Key), kv.Value.Emit()))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, reason)
			logAttrs = append(logAttrs, slog.String("reason", reason), slog.Any("error", err))
			if reason == "internal" {
				o.logger.ErrorContext(ctx, "ledger operation failed", logAttrs...)
			} else {
				o.logger.InfoContext(ctx, "ledger operation rejected", logAttrs...)
			}
		} else {
			o.logger.DebugContext(ctx, "ledger operation committed", logAttrs...)
		}
		span.End()
	}
}

func (o *Orchestrator) guard(scopes []string) error {
	return nativecommon.GuardAny(o.pauses, scopes...)
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func (o *Orchestrator) journal(operation, entity, owner string, details map[string]any) storage.JournalEntry {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = []byte("{}")
	}
	entry := storage.NewJournalEntry(operation, entity, owner, string(raw))
	entry.CreatedAt = o.now()
	return entry
}

func (o *Orchestrator) recordMarket(m lending.Market) {
	if o.metrics == nil {
		return
	}
	rates := lending.MarketRates(m)
	o.metrics.RecordMarket(m.Symbol, map[string]float64{
		"supplied":    m.TotalSupplied.InexactFloat64(),
		"borrowed":    m.TotalBorrowed.InexactFloat64(),
		"utilisation": rates.Utilisation.InexactFloat64(),
		"supply_apy":  rates.SupplyAPY.InexactFloat64(),
		"borrow_apy":  rates.BorrowAPY.InexactFloat64(),
	})
}

func (o *Orchestrator) recordPool(p amm.Pool) {
	if o.metrics == nil {
		return
	}
	o.metrics.RecordPool(p.ID, map[string]float64{
		"reserve_a": p.ReserveA.InexactFloat64(),
		"reserve_b": p.ReserveB.InexactFloat64(),
		"shares":    p.TotalShares.InexactFloat64(),
	})
}

// Journal returns committed operations, newest first.
func (o *Orchestrator) Journal(ctx context.Context, filter storage.JournalFilter) ([]storage.JournalEntry, error) {
	return o.store.Journal(ctx, filter)
}
