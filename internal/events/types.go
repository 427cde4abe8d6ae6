package events

import "time"

// Event enumerates ledger topics published after a unit of work commits.
type Event string

const (
	EventTradeCreated      Event = "trade.created"
	EventTradeCancelled    Event = "trade.cancelled"
	EventReceiptApplied    Event = "settlement.receipt"
	EventPaymentApplied    Event = "settlement.payment"
	EventBalanceAdjusted   Event = "balance.adjusted"
	EventExpenseRecorded   Event = "expense.recorded"
	EventCustomerDeleted   Event = "customer.deleted"
	EventCustomerAddressed Event = "customer.address"
)

// LedgerTopics lists every topic the ledger publishes.
var LedgerTopics = []Event{
	EventTradeCreated,
	EventTradeCancelled,
	EventReceiptApplied,
	EventPaymentApplied,
	EventBalanceAdjusted,
	EventExpenseRecorded,
	EventCustomerDeleted,
	EventCustomerAddressed,
}

// LedgerEvent is the payload carried on every ledger topic.
type LedgerEvent struct {
	Topic    Event     `json:"topic"`
	Customer string    `json:"customer,omitempty"`
	OrderID  string    `json:"order_id,omitempty"`
	Currency string    `json:"currency,omitempty"`
	Amount   string    `json:"amount,omitempty"`
	Status   string    `json:"status,omitempty"`
	Matched  *bool     `json:"matched,omitempty"`
	Data     any       `json:"data,omitempty"`
	At       time.Time `json:"at"`
}
