package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fx-ledger/internal/balance"
	"fx-ledger/internal/events"
	"fx-ledger/pkg/db"
)

// DeleteCustomer removes a customer and everything keyed by their name except expenses.
func (e *Engine) DeleteCustomer(ctx context.Context, name string) (db.DeleteCounts, error) {
	name, err := normalizeCustomer(name)
	if err != nil {
		return db.DeleteCounts{}, err
	}
	if name == e.owner {
		return db.DeleteCounts{}, invalid("customer", "the ledger owner cannot be deleted")
	}

	var counts db.DeleteCounts
	err = e.run(ctx, "delete_customer", nil, func(q *db.Queries) error {
		c, err := q.DeleteCustomerData(ctx, name)
		counts = c
		return err
	})
	if err != nil {
		return db.DeleteCounts{}, err
	}

	e.logger.Info("customer deleted",
		zap.String("customer", name),
		zap.Int64("balances", counts.Balances),
		zap.Int64("trades", counts.Trades),
		zap.Int64("adjustments", counts.Adjustments),
	)
	e.publish(events.LedgerEvent{Topic: events.EventCustomerDeleted, Customer: name, Data: counts})
	return counts, nil
}

// AdjustmentResult is the stored adjustment and the balance it produced.
type AdjustmentResult struct {
	Adjustment db.Adjustment   `json:"adjustment"`
	Balance    decimal.Decimal `json:"balance"`
}

// AdjustBalance appends a manual correction and applies it. Zero is rejected.
func (e *Engine) AdjustBalance(ctx context.Context, customer, currency string, amount decimal.Decimal, note string) (*AdjustmentResult, error) {
	customer, err := normalizeCustomer(customer)
	if err != nil {
		return nil, err
	}
	if currency, err = NormalizeCurrency(currency); err != nil {
		return nil, err
	}
	if amount = balance.Round(amount); amount.IsZero() {
		return nil, invalid("amount", "must not be zero at %d decimals", balance.Places)
	}

	res := &AdjustmentResult{}
	err = e.run(ctx, "adjust_balance", nil, func(q *db.Queries) error {
		adj := db.Adjustment{
			Customer:  customer,
			Currency:  currency,
			Amount:    amount,
			Note:      strings.TrimSpace(note),
			CreatedAt: e.now(),
		}
		id, err := q.InsertAdjustment(ctx, adj)
		if err != nil {
			return err
		}
		adj.ID = id
		res.Adjustment = adj
		res.Balance, err = e.acc.ApplyDelta(ctx, q, customer, currency, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("balance adjusted",
		zap.String("customer", customer),
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
		zap.String("note", res.Adjustment.Note),
	)
	e.publish(events.LedgerEvent{
		Topic:    events.EventBalanceAdjusted,
		Customer: customer,
		Currency: currency,
		Amount:   amount.String(),
		Data:     res,
	})
	return res, nil
}

// ExpenseResult is the stored expense and the owner balance after it.
type ExpenseResult struct {
	Expense      db.Expense      `json:"expense"`
	OwnerBalance decimal.Decimal `json:"owner_balance"`
}

// RecordExpense appends an expense and debits the owner's balance in currency.
func (e *Engine) RecordExpense(ctx context.Context, amount decimal.Decimal, currency, purpose string) (*ExpenseResult, error) {
	currency, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	if amount = balance.Round(amount); !amount.IsPositive() {
		return nil, invalid("amount", "must be positive at %d decimals, got %s", balance.Places, amount)
	}

	res := &ExpenseResult{}
	err = e.run(ctx, "record_expense", nil, func(q *db.Queries) error {
		exp := db.Expense{
			Amount:    amount,
			Currency:  currency,
			Purpose:   strings.TrimSpace(purpose),
			CreatedAt: e.now(),
		}
		id, err := q.InsertExpense(ctx, exp)
		if err != nil {
			return err
		}
		exp.ID = id
		res.Expense = exp
		res.OwnerBalance, err = e.acc.ApplyDelta(ctx, q, e.owner, currency, amount.Neg())
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("expense recorded",
		zap.String("currency", currency),
		zap.String("amount", amount.String()),
		zap.String("purpose", res.Expense.Purpose),
	)
	e.publish(events.LedgerEvent{
		Topic:    events.EventExpenseRecorded,
		Customer: e.owner,
		Currency: currency,
		Amount:   amount.String(),
		Data:     res,
	})
	return res, nil
}

// SetSettlementAddress stores where a customer is paid, creating the customer if needed.
func (e *Engine) SetSettlementAddress(ctx context.Context, name, address string) (*db.Customer, error) {
	name, err := normalizeCustomer(name)
	if err != nil {
		return nil, err
	}
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, invalid("address", "is empty")
	}

	var customer *db.Customer
	err = e.run(ctx, "set_address", nil, func(q *db.Queries) error {
		if err := q.SetCustomerWallet(ctx, name, address, e.now()); err != nil {
			return err
		}
		c, err := q.GetCustomer(ctx, name)
		customer = c
		return err
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("settlement address updated", zap.String("customer", name))
	e.publish(events.LedgerEvent{Topic: events.EventCustomerAddressed, Customer: name, Data: customer})
	return customer, nil
}
