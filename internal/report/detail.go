package report

import (
	"context"

	"github.com/shopspring/decimal"

	"fx-ledger/internal/ledger"
	"fx-ledger/pkg/db"
)

// DetailLine is one trade with customer credit applied to what they still owe.
type DetailLine struct {
	TradeLine
	PayCurrency string          `json:"pay_currency"`
	Required    decimal.Decimal `json:"required"`
	Settled     decimal.Decimal `json:"settled"`
	CreditUsed  decimal.Decimal `json:"credit_used"`
	Remaining   decimal.Decimal `json:"remaining"`
	// PaidProgress counts credit as paid.
	PaidProgress decimal.Decimal `json:"paid_progress"`
}

// Detail is the settlement detail of every trade in a window.
type Detail struct {
	Window  Window       `json:"window"`
	Lines   []DetailLine `json:"lines"`
	Credits []db.Balance `json:"credits"`
}

type creditKey struct{ customer, currency string }

// DetailReport walks the window's trades oldest first. A customer's positive balance
// in the currency they pay on a trade is drawn down against that trade's shortfall,
// so the same credit is never counted twice.
func (a *Aggregator) DetailReport(ctx context.Context, w Window) (*Detail, error) {
	defer a.timer().Stop()

	q := a.store.Queries()
	trades, err := q.ListTrades(ctx, "", w.span())
	if err != nil {
		return nil, err
	}
	all, err := q.ListBalances(ctx, "")
	if err != nil {
		return nil, err
	}

	report := &Detail{Window: w, Lines: []DetailLine{}, Credits: []db.Balance{}}
	credit := map[creditKey]decimal.Decimal{}
	for _, b := range all {
		if b.Customer == a.owner || !b.Amount.IsPositive() {
			continue
		}
		report.Credits = append(report.Credits, b)
		credit[creditKey{b.Customer, b.Currency}] = b.Amount
	}

	for _, t := range trades {
		currency, required, settled := ledger.IncomeLeg(t)
		key := creditKey{t.Customer, currency}

		shortfall := decimal.Max(decimal.Zero, required.Sub(settled))
		used := decimal.Min(credit[key], shortfall)
		if used.IsPositive() {
			credit[key] = credit[key].Sub(used)
		}

		paid := settled.Add(used)
		progress := decimal.Zero
		if !required.IsZero() {
			progress = paid.Div(required)
		}
		report.Lines = append(report.Lines, DetailLine{
			TradeLine:    newTradeLine(t),
			PayCurrency:  currency,
			Required:     required,
			Settled:      settled,
			CreditUsed:   used,
			Remaining:    required.Sub(paid),
			PaidProgress: progress,
		})
	}
	return report, nil
}
