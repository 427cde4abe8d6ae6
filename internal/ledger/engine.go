// Package ledger books FX trades, applies settlements against them and keeps
// customer balances in step, one store transaction per operation.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fx-ledger/internal/balance"
	"fx-ledger/internal/events"
	"fx-ledger/internal/monitor"
	"fx-ledger/pkg/db"
)

// MatchPolicy picks which open trade a settlement is applied to.
type MatchPolicy string

const (
	// MatchMostRecent applies to the newest open trade; order id breaks ties.
	MatchMostRecent MatchPolicy = "most_recent"
	// MatchOldestFirst applies FIFO.
	MatchOldestFirst MatchPolicy = "oldest_first"
)

// CancelPolicy decides what a cancellation reverses.
type CancelPolicy string

const (
	// CancelCreationOnly reverses only the deltas booked at creation.
	CancelCreationOnly CancelPolicy = "creation_only"
	// CancelNetSettlements also reverses receipts and payments already applied to the trade.
	CancelNetSettlements CancelPolicy = "net_settlements"
)

// CompletionPolicy decides when a settlement event marks a trade settled.
type CompletionPolicy string

const (
	// CompleteMatchedLeg settles once the leg touched by the event reaches its target.
	CompleteMatchedLeg CompletionPolicy = "matched_leg"
	// CompleteBothLegs settles only when base and quote legs both reach their targets.
	CompleteBothLegs CompletionPolicy = "both_legs"
)

// DefaultOwner is the reserved customer holding the ledger owner's own balances.
const DefaultOwner = "COMPANY"

// Config wires an Engine. Store is required; everything else has a default.
type Config struct {
	Store      *db.Database
	Bus        *events.Bus
	Metrics    *monitor.SystemMetrics
	Collectors *monitor.Collectors
	Logger     *zap.Logger

	Owner            string
	OrderPrefix      string
	OrderDigits      int
	MatchPolicy      MatchPolicy
	CancelPolicy     CancelPolicy
	CompletionPolicy CompletionPolicy

	// Now stamps new rows; tests pin it.
	Now func() time.Time
}

// Engine is the trade lifecycle and customer lifecycle entry point.
type Engine struct {
	store      *db.Database
	acc        *balance.Accumulator
	ids        OrderIDs
	bus        *events.Bus
	metrics    *monitor.SystemMetrics
	collectors *monitor.Collectors
	logger     *zap.Logger

	owner      string
	match      MatchPolicy
	cancel     CancelPolicy
	completion CompletionPolicy
	now        func() time.Time
}

// New builds an engine from cfg.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("ledger: store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:      cfg.Store,
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		collectors: cfg.Collectors,
		logger:     logger.Named("ledger"),
		owner:      strings.TrimSpace(cfg.Owner),
		ids:        OrderIDs{Prefix: cfg.OrderPrefix, Digits: cfg.OrderDigits},
		match:      cfg.MatchPolicy,
		cancel:     cfg.CancelPolicy,
		completion: cfg.CompletionPolicy,
		now:        cfg.Now,
	}
	if e.owner == "" {
		e.owner = DefaultOwner
	}
	if e.ids.Prefix == "" {
		e.ids.Prefix = "YS"
	}
	if e.ids.Digits <= 0 {
		e.ids.Digits = 9
	}
	if e.match == "" {
		e.match = MatchMostRecent
	}
	if e.cancel == "" {
		e.cancel = CancelCreationOnly
	}
	if e.completion == "" {
		e.completion = CompleteMatchedLeg
	}
	if e.now == nil {
		e.now = time.Now
	}
	switch e.match {
	case MatchMostRecent, MatchOldestFirst:
	default:
		return nil, fmt.Errorf("ledger: unknown match policy %q", e.match)
	}
	switch e.cancel {
	case CancelCreationOnly, CancelNetSettlements:
	default:
		return nil, fmt.Errorf("ledger: unknown cancel policy %q", e.cancel)
	}
	switch e.completion {
	case CompleteMatchedLeg, CompleteBothLegs:
	default:
		return nil, fmt.Errorf("ledger: unknown completion policy %q", e.completion)
	}
	e.acc = balance.NewAccumulator(e.logger).WithClock(e.now)
	return e, nil
}

// Owner is the reserved customer name of the ledger owner.
func (e *Engine) Owner() string { return e.owner }

// run executes fn as one unit of work and records the outcome.
func (e *Engine) run(ctx context.Context, op string, hist *monitor.LatencyHistogram, fn func(q *db.Queries) error) error {
	start := time.Now()
	err := classifyStoreError(e.store.WithTx(ctx, fn))
	elapsed := time.Since(start)

	if hist != nil {
		hist.RecordDuration(elapsed)
	}
	e.collectors.ObserveOperation(op, resultLabel(err), elapsed)
	if err != nil && e.metrics != nil {
		if resultLabel(err) == "conflict" {
			e.metrics.IncrementConflicts()
		} else {
			e.metrics.IncrementErrors()
		}
	}
	if err != nil {
		e.logger.Warn("operation failed", zap.String("operation", op), zap.Error(err))
	}
	return err
}

// publish emits after commit; the bus never blocks.
func (e *Engine) publish(ev events.LedgerEvent) {
	if e.bus == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.bus.Publish(ev.Topic, ev)
}

func (e *Engine) histogram(pick func(m *monitor.SystemMetrics) *monitor.LatencyHistogram) *monitor.LatencyHistogram {
	if e.metrics == nil {
		return nil
	}
	return pick(e.metrics)
}

func tradeHist(m *monitor.SystemMetrics) *monitor.LatencyHistogram      { return m.TradeLatency }
func settlementHist(m *monitor.SystemMetrics) *monitor.LatencyHistogram { return m.SettlementLatency }

func normalizeCustomer(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("customer", "name is empty")
	}
	return name, nil
}
