// Package balance keeps the per (customer, currency) running balances.
package balance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fx-ledger/pkg/db"
)

// Places is the number of decimals kept on every balance write.
const Places = 2

// ErrInvalidKey is returned when customer or currency is empty.
var ErrInvalidKey = errors.New("balance key requires customer and currency")

// Round rounds an amount to the stored precision.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(Places)
}

// Accumulator applies signed deltas to balances inside a caller's unit of work.
type Accumulator struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewAccumulator creates an accumulator. A nil logger disables logging.
func NewAccumulator(logger *zap.Logger) *Accumulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accumulator{logger: logger, now: time.Now}
}

// WithClock overrides the timestamp source (tests).
func (a *Accumulator) WithClock(now func() time.Time) *Accumulator {
	a.now = now
	return a
}

// ApplyDelta adds delta to the balance of (customer, currency) and returns the new amount.
// The delta is rounded to Places before it is added, so applying -delta after delta
// always restores the previous amount.
// q must belong to the caller's transaction; the balance row stays locked until it ends.
// Missing customer and balance rows are created at zero first.
func (a *Accumulator) ApplyDelta(ctx context.Context, q *db.Queries, customer, currency string, delta decimal.Decimal) (decimal.Decimal, error) {
	if customer == "" || currency == "" {
		return decimal.Zero, ErrInvalidKey
	}
	delta = Round(delta)
	now := a.now()

	if err := q.EnsureCustomer(ctx, customer, now); err != nil {
		return decimal.Zero, err
	}
	if err := q.EnsureBalance(ctx, customer, currency, now); err != nil {
		return decimal.Zero, err
	}
	current, err := q.LockBalance(ctx, customer, currency)
	if err != nil {
		return decimal.Zero, fmt.Errorf("read balance: %w", err)
	}

	next := Round(current.Add(delta))
	if err := q.SetBalanceAmount(ctx, customer, currency, next, now); err != nil {
		return decimal.Zero, fmt.Errorf("write balance: %w", err)
	}

	a.logger.Debug("balance updated",
		zap.String("customer", customer),
		zap.String("currency", currency),
		zap.String("delta", delta.String()),
		zap.String("amount", next.String()),
	)
	return next, nil
}
