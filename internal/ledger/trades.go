package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fx-ledger/internal/balance"
	"fx-ledger/internal/events"
	"fx-ledger/pkg/db"
)

// TradeRequest is a validated-on-entry instruction to book a trade.
type TradeRequest struct {
	Customer      string          `json:"customer"`
	Direction     Direction       `json:"direction"`
	BaseCurrency  string          `json:"base_currency"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	Operator      Operator        `json:"operator"`
	Rate          decimal.Decimal `json:"rate"`
	QuoteCurrency string          `json:"quote_currency"`
}

// Trade is a stored trade with its derived quote amount.
type Trade struct {
	db.Trade
	QuoteAmount decimal.Decimal `json:"quote_amount"`
}

func newTrade(t db.Trade) *Trade {
	return &Trade{Trade: t, QuoteAmount: QuoteAmount(t.BaseAmount, t.Rate, Operator(t.Operator))}
}

func (e *Engine) validateTrade(req TradeRequest) (TradeRequest, error) {
	var err error
	if req.Customer, err = normalizeCustomer(req.Customer); err != nil {
		return req, err
	}
	if req.Customer == e.owner {
		return req, invalid("customer", "%s is the ledger owner", req.Customer)
	}
	if req.Direction, err = ParseDirection(string(req.Direction)); err != nil {
		return req, err
	}
	if req.Operator, err = ParseOperator(string(req.Operator)); err != nil {
		return req, err
	}
	if req.BaseCurrency, err = NormalizeCurrency(req.BaseCurrency); err != nil {
		return req, err
	}
	if req.QuoteCurrency, err = NormalizeCurrency(req.QuoteCurrency); err != nil {
		return req, err
	}
	if req.BaseCurrency == req.QuoteCurrency {
		return req, invalid("quote_currency", "must differ from base currency %s", req.BaseCurrency)
	}
	if !req.BaseAmount.IsPositive() {
		return req, invalid("base_amount", "must be positive, got %s", req.BaseAmount)
	}
	if !req.Rate.IsPositive() {
		return req, invalid("rate", "must be positive, got %s", req.Rate)
	}
	return req, nil
}

// creationDeltas are the customer's balance effects of booking t: a buy credits
// base and debits quote, a sell the mirror. The quote side is rounded once here
// so cancellation can reverse the exact same amount.
func creationDeltas(t db.Trade) (base, quote decimal.Decimal) {
	quoteAmount := balance.Round(QuoteAmount(t.BaseAmount, t.Rate, Operator(t.Operator)))
	if Direction(t.Direction) == DirectionBuy {
		return t.BaseAmount, quoteAmount.Neg()
	}
	return t.BaseAmount.Neg(), quoteAmount
}

// CreateTrade books a trade at pending and applies its creation deltas.
func (e *Engine) CreateTrade(ctx context.Context, req TradeRequest) (*Trade, error) {
	req, err := e.validateTrade(req)
	if err != nil {
		return nil, err
	}

	var trade db.Trade
	err = e.run(ctx, "create_trade", e.histogram(tradeHist), func(q *db.Queries) error {
		id, err := e.ids.Next(ctx, q)
		if err != nil {
			return fmt.Errorf("allocate order id: %w", err)
		}
		trade = db.Trade{
			OrderID:       id,
			Customer:      req.Customer,
			Direction:     string(req.Direction),
			BaseCurrency:  req.BaseCurrency,
			QuoteCurrency: req.QuoteCurrency,
			BaseAmount:    req.BaseAmount,
			Rate:          req.Rate,
			Operator:      string(req.Operator),
			Status:        string(StatusPending),
			SettledIn:     decimal.Zero,
			SettledOut:    decimal.Zero,
			CreatedAt:     e.now(),
		}
		if err := q.InsertTrade(ctx, trade); err != nil {
			return err
		}
		baseDelta, quoteDelta := creationDeltas(trade)
		if _, err := e.acc.ApplyDelta(ctx, q, trade.Customer, trade.BaseCurrency, baseDelta); err != nil {
			return err
		}
		_, err = e.acc.ApplyDelta(ctx, q, trade.Customer, trade.QuoteCurrency, quoteDelta)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := newTrade(trade)
	if e.metrics != nil {
		e.metrics.IncrementTradesCreated()
	}
	e.logger.Info("trade created",
		zap.String("order_id", out.OrderID),
		zap.String("customer", out.Customer),
		zap.String("direction", out.Direction),
		zap.String("base", out.BaseAmount.String()+" "+out.BaseCurrency),
		zap.String("quote", out.QuoteAmount.StringFixed(2)+" "+out.QuoteCurrency),
	)
	e.publish(events.LedgerEvent{
		Topic:    events.EventTradeCreated,
		Customer: out.Customer,
		OrderID:  out.OrderID,
		Status:   out.Status,
		Data:     out,
	})
	return out, nil
}

// CancelTrade reverses a trade's creation deltas and deletes it. Under
// CancelNetSettlements the receipts and payments applied to it are reversed too.
// Settled trades cannot be cancelled.
func (e *Engine) CancelTrade(ctx context.Context, orderID string) (*Trade, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, invalid("order_id", "is empty")
	}

	var trade db.Trade
	err := e.run(ctx, "cancel_trade", e.histogram(tradeHist), func(q *db.Queries) error {
		t, err := q.GetTrade(ctx, orderID, true)
		if errors.Is(err, db.ErrNotFound) {
			return fmt.Errorf("trade %s: %w", orderID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if Status(t.Status) == StatusSettled {
			return invalid("order_id", "trade %s is already settled", orderID)
		}
		trade = *t

		baseDelta, quoteDelta := creationDeltas(trade)
		if _, err := e.acc.ApplyDelta(ctx, q, trade.Customer, trade.BaseCurrency, baseDelta.Neg()); err != nil {
			return err
		}
		if _, err := e.acc.ApplyDelta(ctx, q, trade.Customer, trade.QuoteCurrency, quoteDelta.Neg()); err != nil {
			return err
		}
		if e.cancel == CancelNetSettlements {
			if err := e.reverseSettlements(ctx, q, trade); err != nil {
				return err
			}
		}
		return q.DeleteTrade(ctx, orderID)
	})
	if err != nil {
		return nil, err
	}

	out := newTrade(trade)
	if e.metrics != nil {
		e.metrics.IncrementTradesCancelled()
	}
	e.logger.Info("trade cancelled",
		zap.String("order_id", out.OrderID),
		zap.String("customer", out.Customer),
		zap.String("policy", string(e.cancel)),
	)
	e.publish(events.LedgerEvent{
		Topic:    events.EventTradeCancelled,
		Customer: out.Customer,
		OrderID:  out.OrderID,
		Status:   out.Status,
		Data:     out,
	})
	return out, nil
}

// reverseSettlements undoes the balance moves of every receipt and payment booked on t.
func (e *Engine) reverseSettlements(ctx context.Context, q *db.Queries, t db.Trade) error {
	if t.SettledIn.IsPositive() {
		currency, _, settled := IncomeLeg(t)
		if err := e.moveSettlement(ctx, q, t.Customer, currency, settled.Neg()); err != nil {
			return err
		}
	}
	if t.SettledOut.IsPositive() {
		currency, _, settled := ExpenseLeg(t)
		if err := e.moveSettlement(ctx, q, t.Customer, currency, settled); err != nil {
			return err
		}
	}
	return nil
}
