package ledger

import (
	"strings"

	"github.com/shopspring/decimal"

	"fx-ledger/pkg/db"
)

// Direction is the side of a trade from the customer's point of view.
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
)

// ParseDirection accepts buy/sell in English or Chinese.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "b", "买", "買":
		return DirectionBuy, nil
	case "sell", "s", "卖", "賣":
		return DirectionSell, nil
	}
	return "", invalid("direction", "%q is neither buy nor sell", s)
}

// Operator decides how the rate turns the base amount into the quote amount.
type Operator string

const (
	OperatorMultiply Operator = "multiply"
	OperatorDivide   Operator = "divide"
)

// ParseOperator accepts the names or the symbols * x × / ÷.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "multiply", "mul", "*", "x", "×":
		return OperatorMultiply, nil
	case "divide", "div", "/", "÷":
		return OperatorDivide, nil
	}
	return "", invalid("operator", "%q is not one of * or /", s)
}

// Symbol returns the operator as written in trade instructions.
func (o Operator) Symbol() string {
	if o == OperatorDivide {
		return "/"
	}
	return "*"
}

// Status is a trade's settlement state. It only moves forward.
type Status string

const (
	StatusPending Status = "pending"
	StatusPartial Status = "partial"
	StatusSettled Status = "settled"
)

func (s Status) rank() int {
	switch s {
	case StatusPartial:
		return 1
	case StatusSettled:
		return 2
	default:
		return 0
	}
}

// Advance returns the later of s and next.
func (s Status) Advance(next Status) Status {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// NormalizeCurrency upper-cases a code and checks it is 3 or 4 ASCII letters.
func NormalizeCurrency(s string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if len(code) < 3 || len(code) > 4 {
		return "", invalid("currency", "%q must be 3 or 4 letters", s)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", invalid("currency", "%q must be 3 or 4 letters", s)
		}
	}
	return code, nil
}

// QuoteAmount derives the quote-leg amount; it is never stored.
func QuoteAmount(base, rate decimal.Decimal, op Operator) decimal.Decimal {
	if op == OperatorDivide {
		if rate.IsZero() {
			return decimal.Zero
		}
		return base.Div(rate)
	}
	return base.Mul(rate)
}

// Legs is the required and settled amount of both sides of a trade.
type Legs struct {
	BaseRequired  decimal.Decimal `json:"base_required"`
	QuoteRequired decimal.Decimal `json:"quote_required"`
	BaseSettled   decimal.Decimal `json:"base_settled"`
	QuoteSettled  decimal.Decimal `json:"quote_settled"`
}

// LegsOf maps settled_in/settled_out onto the base and quote legs.
// On a buy the owner pays base and receives quote; a sell is the mirror.
func LegsOf(t db.Trade) Legs {
	l := Legs{
		BaseRequired:  t.BaseAmount,
		QuoteRequired: QuoteAmount(t.BaseAmount, t.Rate, Operator(t.Operator)),
	}
	if Direction(t.Direction) == DirectionBuy {
		l.BaseSettled, l.QuoteSettled = t.SettledOut, t.SettledIn
	} else {
		l.BaseSettled, l.QuoteSettled = t.SettledIn, t.SettledOut
	}
	return l
}

// reached compares the integer parts only: 99.999 has not reached 100, 100.9 has.
func reached(settled, required decimal.Decimal) bool {
	return settled.Truncate(0).GreaterThanOrEqual(required.Truncate(0))
}

func (l Legs) BaseDone() bool  { return reached(l.BaseSettled, l.BaseRequired) }
func (l Legs) QuoteDone() bool { return reached(l.QuoteSettled, l.QuoteRequired) }

// Complete reports whether both legs reached their truncated targets.
func (l Legs) Complete() bool { return l.BaseDone() && l.QuoteDone() }

// Progress is the lesser of the two legs' settled/required ratios.
func (l Legs) Progress() decimal.Decimal {
	base := ratio(l.BaseSettled, l.BaseRequired)
	quote := ratio(l.QuoteSettled, l.QuoteRequired)
	return decimal.Min(base, quote)
}

func ratio(settled, required decimal.Decimal) decimal.Decimal {
	if required.IsZero() {
		return decimal.Zero
	}
	return settled.Div(required)
}

// IncomeLeg is the leg the customer pays and the owner receives: quote on a buy, base on a sell.
func IncomeLeg(t db.Trade) (currency string, required, settled decimal.Decimal) {
	l := LegsOf(t)
	if Direction(t.Direction) == DirectionBuy {
		return t.QuoteCurrency, l.QuoteRequired, t.SettledIn
	}
	return t.BaseCurrency, l.BaseRequired, t.SettledIn
}

// ExpenseLeg is the leg the owner pays out: base on a buy, quote on a sell.
func ExpenseLeg(t db.Trade) (currency string, required, settled decimal.Decimal) {
	l := LegsOf(t)
	if Direction(t.Direction) == DirectionBuy {
		return t.BaseCurrency, l.BaseRequired, t.SettledOut
	}
	return t.QuoteCurrency, l.QuoteRequired, t.SettledOut
}
