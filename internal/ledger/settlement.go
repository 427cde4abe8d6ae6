package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fx-ledger/internal/balance"
	"fx-ledger/internal/events"
	"fx-ledger/pkg/db"
)

// SettlementKind tells receipts (money in from a customer) from payments (money out).
type SettlementKind string

const (
	KindReceipt SettlementKind = "receipt"
	KindPayment SettlementKind = "payment"
)

// SettlementResult describes what a receipt or payment did.
type SettlementResult struct {
	Kind            SettlementKind  `json:"kind"`
	Customer        string          `json:"customer"`
	Currency        string          `json:"currency"`
	Amount          decimal.Decimal `json:"amount"`
	CustomerBalance decimal.Decimal `json:"customer_balance"`
	OwnerBalance    decimal.Decimal `json:"owner_balance"`
	// Matched is false when no open trade took the amount; the balance move still committed.
	Matched        bool   `json:"matched"`
	Trade          *Trade `json:"trade,omitempty"`
	PreviousStatus Status `json:"previous_status,omitempty"`
}

// ApplyReceipt books money received from a customer against their newest open
// trade whose paying leg is in currency.
func (e *Engine) ApplyReceipt(ctx context.Context, customer, currency string, amount decimal.Decimal) (*SettlementResult, error) {
	return e.settle(ctx, KindReceipt, customer, currency, amount)
}

// ApplyPayment books money paid to a customer against their newest open trade
// whose receiving leg is in currency.
func (e *Engine) ApplyPayment(ctx context.Context, customer, currency string, amount decimal.Decimal) (*SettlementResult, error) {
	return e.settle(ctx, KindPayment, customer, currency, amount)
}

// moveSettlement applies the same signed delta to the customer and the owner:
// a receipt reduces what the customer owes and adds to the owner's cash.
func (e *Engine) moveSettlement(ctx context.Context, q *db.Queries, customer, currency string, delta decimal.Decimal) error {
	if _, err := e.acc.ApplyDelta(ctx, q, customer, currency, delta); err != nil {
		return err
	}
	_, err := e.acc.ApplyDelta(ctx, q, e.owner, currency, delta)
	return err
}

func (e *Engine) settle(ctx context.Context, kind SettlementKind, customer, currency string, amount decimal.Decimal) (*SettlementResult, error) {
	customer, err := normalizeCustomer(customer)
	if err != nil {
		return nil, err
	}
	if customer == e.owner {
		return nil, invalid("customer", "%s is the ledger owner", customer)
	}
	if currency, err = NormalizeCurrency(currency); err != nil {
		return nil, err
	}
	if amount = balance.Round(amount); !amount.IsPositive() {
		return nil, invalid("amount", "must be positive at %d decimals, got %s", balance.Places, amount)
	}

	match := db.TradeMatch{
		Customer:    customer,
		Currency:    currency,
		NewestFirst: e.match == MatchMostRecent,
	}
	delta := amount
	if kind == KindReceipt {
		match.BuyLeg, match.SellLeg = db.LegQuote, db.LegBase
	} else {
		match.BuyLeg, match.SellLeg = db.LegBase, db.LegQuote
		delta = amount.Neg()
	}

	res := &SettlementResult{Kind: kind, Customer: customer, Currency: currency, Amount: amount}
	err = e.run(ctx, "apply_"+string(kind), e.histogram(settlementHist), func(q *db.Queries) error {
		*res = SettlementResult{Kind: kind, Customer: customer, Currency: currency, Amount: amount}

		// Trade row first, then balances: the same lock order as cancellation.
		open, err := q.FindOpenTrade(ctx, match)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return err
		}

		if res.CustomerBalance, err = e.acc.ApplyDelta(ctx, q, customer, currency, delta); err != nil {
			return err
		}
		if res.OwnerBalance, err = e.acc.ApplyDelta(ctx, q, e.owner, currency, delta); err != nil {
			return err
		}
		if open == nil {
			return nil
		}

		t := *open
		res.PreviousStatus = Status(t.Status)
		if kind == KindReceipt {
			t.SettledIn = t.SettledIn.Add(amount)
		} else {
			t.SettledOut = t.SettledOut.Add(amount)
		}
		t.Status = string(res.PreviousStatus.Advance(e.deriveStatus(kind, t)))
		if err := q.UpdateTradeSettlement(ctx, t.OrderID, t.SettledIn, t.SettledOut, t.Status); err != nil {
			return err
		}
		res.Matched = true
		res.Trade = newTrade(t)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.IncrementSettlements(res.Matched)
	}
	fields := []zap.Field{
		zap.String("kind", string(kind)),
		zap.String("customer", customer),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
	}
	if res.Matched {
		e.logger.Info("settlement applied", append(fields,
			zap.String("order_id", res.Trade.OrderID),
			zap.String("status", res.Trade.Status))...)
	} else {
		e.logger.Warn("settlement matched no open trade", fields...)
	}

	topic := events.EventReceiptApplied
	if kind == KindPayment {
		topic = events.EventPaymentApplied
	}
	matched := res.Matched
	ev := events.LedgerEvent{
		Topic:    topic,
		Customer: customer,
		Currency: currency,
		Amount:   amount.String(),
		Matched:  &matched,
		Data:     res,
	}
	if res.Trade != nil {
		ev.OrderID = res.Trade.OrderID
		ev.Status = res.Trade.Status
	}
	e.publish(ev)
	return res, nil
}

// deriveStatus computes the status implied by t's settled amounts after a
// settlement of the given kind, before the monotonic guard.
func (e *Engine) deriveStatus(kind SettlementKind, t db.Trade) Status {
	legs := LegsOf(t)
	var done bool
	if e.completion == CompleteBothLegs {
		done = legs.Complete()
	} else {
		// The leg touched: receipts hit the leg the customer pays, payments the one they receive.
		paysQuote := Direction(t.Direction) == DirectionBuy
		if kind == KindPayment {
			paysQuote = !paysQuote
		}
		if paysQuote {
			done = legs.QuoteDone()
		} else {
			done = legs.BaseDone()
		}
	}
	switch {
	case done:
		return StatusSettled
	case t.SettledIn.IsPositive() || t.SettledOut.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}
