// Package report derives P&L, debts and statements from the ledger store. It never writes.
package report

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fx-ledger/internal/balance"
	"fx-ledger/internal/ledger"
	"fx-ledger/internal/monitor"
	"fx-ledger/pkg/db"
)

// DebtTolerance hides balances this close to zero.
var DebtTolerance = decimal.New(1, -2)

// Config wires an Aggregator.
type Config struct {
	Store    *db.Database
	Owner    string
	Location *time.Location
	Metrics  *monitor.SystemMetrics
	Now      func() time.Time
}

// Aggregator answers report queries.
type Aggregator struct {
	store   *db.Database
	owner   string
	loc     *time.Location
	metrics *monitor.SystemMetrics
	now     func() time.Time
}

// NewAggregator builds an Aggregator from cfg.
func NewAggregator(cfg Config) *Aggregator {
	a := &Aggregator{
		store:   cfg.Store,
		owner:   cfg.Owner,
		loc:     cfg.Location,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if a.owner == "" {
		a.owner = ledger.DefaultOwner
	}
	if a.loc == nil {
		a.loc = time.Local
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// Window parses a range string in the aggregator's time zone.
func (a *Aggregator) Window(s string) (Window, error) {
	return ParseWindow(s, a.now(), a.loc)
}

func (a *Aggregator) timer() *monitor.Timer {
	if a.metrics == nil {
		return monitor.NewTimer(nil)
	}
	return monitor.NewTimer(a.metrics.ReportLatency)
}

// Bucket is the P&L of one currency.
type Bucket struct {
	Currency       string          `json:"currency"`
	TotalIncome    decimal.Decimal `json:"total_income"`
	ActualIncome   decimal.Decimal `json:"actual_income"`
	PendingIncome  decimal.Decimal `json:"pending_income"`
	TotalExpense   decimal.Decimal `json:"total_expense"`
	ActualExpense  decimal.Decimal `json:"actual_expense"`
	PendingExpense decimal.Decimal `json:"pending_expense"`
	Expense        decimal.Decimal `json:"expense"`
	CreditBalance  decimal.Decimal `json:"credit_balance"`
	Net            decimal.Decimal `json:"net"`
}

func (b *Bucket) round() {
	for _, d := range []*decimal.Decimal{
		&b.TotalIncome, &b.ActualIncome, &b.PendingIncome,
		&b.TotalExpense, &b.ActualExpense, &b.PendingExpense,
		&b.Expense, &b.CreditBalance, &b.Net,
	} {
		*d = balance.Round(*d)
	}
}

// PnL is the per-currency profit and loss of a window.
type PnL struct {
	Window  Window   `json:"window"`
	Buckets []Bucket `json:"buckets"`
}

// Bucket returns the bucket for currency; a currency with no activity is all zero.
func (p *PnL) Bucket(currency string) Bucket {
	currency = strings.ToUpper(currency)
	for _, b := range p.Buckets {
		if b.Currency == currency {
			return b
		}
	}
	return Bucket{Currency: currency}
}

// PnL aggregates trades and expenses created inside w. The leg the owner receives
// counts as income, the leg it pays as expense.
func (a *Aggregator) PnL(ctx context.Context, w Window) (*PnL, error) {
	defer a.timer().Stop()

	q := a.store.Queries()
	trades, err := q.ListTrades(ctx, "", w.span())
	if err != nil {
		return nil, err
	}
	expenses, err := q.ListExpenses(ctx, w.span())
	if err != nil {
		return nil, err
	}

	buckets := map[string]*Bucket{}
	get := func(currency string) *Bucket {
		b, ok := buckets[currency]
		if !ok {
			b = &Bucket{Currency: currency}
			buckets[currency] = b
		}
		return b
	}

	for _, t := range trades {
		cur, required, settled := ledger.IncomeLeg(t)
		in := get(cur)
		in.TotalIncome = in.TotalIncome.Add(required)
		in.ActualIncome = in.ActualIncome.Add(settled)
		in.PendingIncome = in.PendingIncome.Add(required.Sub(settled))

		cur, required, settled = ledger.ExpenseLeg(t)
		out := get(cur)
		out.TotalExpense = out.TotalExpense.Add(required)
		out.ActualExpense = out.ActualExpense.Add(settled)
		out.PendingExpense = out.PendingExpense.Add(required.Sub(settled))
	}
	for _, e := range expenses {
		b := get(e.Currency)
		b.Expense = b.Expense.Add(e.Amount)
		b.ActualExpense = b.ActualExpense.Add(e.Amount)
	}

	report := &PnL{Window: w, Buckets: make([]Bucket, 0, len(buckets))}
	for _, b := range buckets {
		b.CreditBalance = decimal.Max(decimal.Zero, b.ActualIncome.Sub(b.TotalIncome))
		b.Net = b.ActualIncome.Sub(b.ActualExpense)
		b.round()
		report.Buckets = append(report.Buckets, *b)
	}
	sort.Slice(report.Buckets, func(i, j int) bool {
		return report.Buckets[i].Currency < report.Buckets[j].Currency
	})
	return report, nil
}

// Debt is a non-owner balance outside the tolerance.
type Debt struct {
	Customer string          `json:"customer"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"amount"`
	// OwnerOwes is true when the balance is positive.
	OwnerOwes bool `json:"owner_owes"`
}

// Debts lists who owes whom. An empty customer lists everyone except the owner.
func (a *Aggregator) Debts(ctx context.Context, customer string) ([]Debt, error) {
	defer a.timer().Stop()

	rows, err := a.store.Queries().ListBalances(ctx, strings.TrimSpace(customer))
	if err != nil {
		return nil, err
	}
	debts := []Debt{}
	for _, r := range rows {
		if r.Customer == a.owner || r.Amount.Abs().LessThanOrEqual(DebtTolerance) {
			continue
		}
		debts = append(debts, Debt{
			Customer:  r.Customer,
			Currency:  r.Currency,
			Amount:    r.Amount,
			OwnerOwes: r.Amount.IsPositive(),
		})
	}
	return debts, nil
}

// Balances lists a customer's balances; empty means the owner.
func (a *Aggregator) Balances(ctx context.Context, customer string) ([]db.Balance, error) {
	defer a.timer().Stop()

	customer = strings.TrimSpace(customer)
	if customer == "" {
		customer = a.owner
	}
	rows, err := a.store.Queries().ListBalances(ctx, customer)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []db.Balance{}
	}
	return rows, nil
}

// TradeLine is a trade with its settlement progress.
type TradeLine struct {
	*ledger.Trade
	Legs     ledger.Legs     `json:"legs"`
	Progress decimal.Decimal `json:"progress"`
	Complete bool            `json:"complete"`
}

func newTradeLine(t db.Trade) TradeLine {
	view := &ledger.Trade{Trade: t, QuoteAmount: ledger.QuoteAmount(t.BaseAmount, t.Rate, ledger.Operator(t.Operator))}
	legs := ledger.LegsOf(t)
	return TradeLine{Trade: view, Legs: legs, Progress: legs.Progress(), Complete: legs.Complete()}
}

// Statement is one customer's position over a window.
type Statement struct {
	Customer    string          `json:"customer"`
	Wallet      string          `json:"wallet,omitempty"`
	Window      Window          `json:"window"`
	Balances    []db.Balance    `json:"balances"`
	Trades      []TradeLine     `json:"trades"`
	Adjustments []db.Adjustment `json:"adjustments"`
}

// Statement returns current balances plus the trades and adjustments created in w.
func (a *Aggregator) Statement(ctx context.Context, customer string, w Window) (*Statement, error) {
	defer a.timer().Stop()

	customer = strings.TrimSpace(customer)
	if customer == "" {
		return nil, &ledger.ValidationError{Field: "customer", Reason: "name is empty"}
	}
	q := a.store.Queries()

	st := &Statement{Customer: customer, Window: w, Trades: []TradeLine{}}
	if c, err := q.GetCustomer(ctx, customer); err == nil {
		st.Wallet = c.Wallet
	} else if err != db.ErrNotFound {
		return nil, err
	}

	var err error
	if st.Balances, err = q.ListBalances(ctx, customer); err != nil {
		return nil, err
	}
	trades, err := q.ListTrades(ctx, customer, w.span())
	if err != nil {
		return nil, err
	}
	for _, t := range trades {
		st.Trades = append(st.Trades, newTradeLine(t))
	}
	if st.Adjustments, err = q.ListAdjustments(ctx, customer, w.span()); err != nil {
		return nil, err
	}
	if st.Balances == nil {
		st.Balances = []db.Balance{}
	}
	if st.Adjustments == nil {
		st.Adjustments = []db.Adjustment{}
	}
	return st, nil
}

// Expenses lists every expense, newest first.
func (a *Aggregator) Expenses(ctx context.Context) ([]db.Expense, error) {
	defer a.timer().Stop()

	rows, err := a.store.Queries().ListExpenses(ctx, db.Window{})
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []db.Expense{}
	}
	return rows, nil
}
