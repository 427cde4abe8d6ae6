package db

import (
	"time"

	"github.com/shopspring/decimal"
)

// Customer is a counterparty known to the ledger.
type Customer struct {
	Name      string    `json:"name"`
	Wallet    string    `json:"wallet,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Balance is the signed amount held per (customer, currency).
// Positive means the owner owes the customer.
type Balance struct {
	Customer  string          `json:"customer"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Trade is a booked currency exchange. The quote amount is derived, never stored.
type Trade struct {
	OrderID       string          `json:"order_id"`
	Customer      string          `json:"customer"`
	Direction     string          `json:"direction"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	Rate          decimal.Decimal `json:"rate"`
	Operator      string          `json:"operator"`
	Status        string          `json:"status"`
	SettledIn     decimal.Decimal `json:"settled_in"`
	SettledOut    decimal.Decimal `json:"settled_out"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Adjustment is a manual balance correction.
type Adjustment struct {
	ID        int64           `json:"id"`
	Customer  string          `json:"customer"`
	Currency  string          `json:"currency"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note"`
	CreatedAt time.Time       `json:"created_at"`
}

// Expense is an operating cost paid out of the owner's balance.
type Expense struct {
	ID        int64           `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Purpose   string          `json:"purpose"`
	CreatedAt time.Time       `json:"created_at"`
}

// DeleteCounts reports how many rows a customer purge removed per table.
type DeleteCounts struct {
	Customers   int64 `json:"customers"`
	Balances    int64 `json:"balances"`
	Trades      int64 `json:"trades"`
	Adjustments int64 `json:"adjustments"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
