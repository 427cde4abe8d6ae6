package report

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"fx-ledger/internal/ledger"
	"fx-ledger/pkg/db"
)

var march = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine *ledger.Engine
	agg    *Aggregator
	store  *db.Database
	mu     sync.Mutex
	clock  time.Time
}

func (f *fixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = f.clock.Add(time.Minute)
	return f.clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(store))
	t.Cleanup(func() { store.Close() })

	f := &fixture{store: store, clock: march}
	f.engine, err = ledger.New(ledger.Config{Store: store, Now: f.now})
	require.NoError(t, err)
	f.agg = NewAggregator(Config{Store: store, Location: time.UTC, Now: f.now})
	return f
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func requireDec(t *testing.T, want string, got decimal.Decimal, msg string) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "%s: want %s, got %s", msg, want, got)
}

func TestParseWindow(t *testing.T) {
	now := time.Date(2024, 2, 14, 8, 30, 0, 0, time.UTC)

	w, err := ParseWindow("", now, time.UTC)
	require.NoError(t, err)
	require.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), w.Start)
	require.Equal(t, 29, w.End.Day(), "leap february")
	require.Equal(t, 23, w.End.Hour())

	w, err = ParseWindow("01/03/2024 - 15/03/2024", now, time.UTC)
	require.NoError(t, err)
	require.True(t, w.Contains(time.Date(2024, 3, 15, 23, 59, 59, 0, time.UTC)))
	require.False(t, w.Contains(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)))

	w, err = ParseWindow("05/04/2024", now, time.UTC)
	require.NoError(t, err)
	require.Equal(t, 5, w.Start.Day())
	require.Equal(t, 5, w.End.Day())

	for _, bad := range []string{"2024-03-01", "32/01/2024", "15/03/2024-01/03/2024", "01/03/2024-"} {
		_, err := ParseWindow(bad, now, time.UTC)
		require.ErrorIs(t, err, ledger.ErrValidation, bad)
	}
}

func TestPnLBuckets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// buy 1000 USD at /4: owner receives 250 MYR, pays 1000 USD
	_, err := f.engine.CreateTrade(ctx, ledger.TradeRequest{
		Customer: "A", Direction: "buy", BaseCurrency: "USD", BaseAmount: dec("1000"),
		Operator: "/", Rate: dec("4"), QuoteCurrency: "MYR",
	})
	require.NoError(t, err)
	// sell 200 USD at *4: owner receives 200 USD, pays 800 MYR
	_, err = f.engine.CreateTrade(ctx, ledger.TradeRequest{
		Customer: "B", Direction: "sell", BaseCurrency: "USD", BaseAmount: dec("200"),
		Operator: "*", Rate: dec("4"), QuoteCurrency: "MYR",
	})
	require.NoError(t, err)
	// pay first: the receipt settles the trade and takes it out of matching
	_, err = f.engine.ApplyPayment(ctx, "A", "USD", dec("400"))
	require.NoError(t, err)
	_, err = f.engine.ApplyReceipt(ctx, "A", "MYR", dec("300"))
	require.NoError(t, err)
	_, err = f.engine.RecordExpense(ctx, dec("50"), "USD", "rent")
	require.NoError(t, err)

	w, err := ParseWindow("01/03/2024-31/03/2024", march, time.UTC)
	require.NoError(t, err)
	pnl, err := f.agg.PnL(ctx, w)
	require.NoError(t, err)
	require.Len(t, pnl.Buckets, 2)
	require.Equal(t, "MYR", pnl.Buckets[0].Currency)

	myr := pnl.Bucket("myr")
	requireDec(t, "250", myr.TotalIncome, "MYR total income")
	requireDec(t, "300", myr.ActualIncome, "MYR actual income")
	requireDec(t, "-50", myr.PendingIncome, "MYR pending income")
	requireDec(t, "50", myr.CreditBalance, "MYR credit")
	requireDec(t, "800", myr.TotalExpense, "MYR total expense")
	requireDec(t, "800", myr.PendingExpense, "MYR pending expense")

	usd := pnl.Bucket("USD")
	requireDec(t, "200", usd.TotalIncome, "USD total income")
	requireDec(t, "1000", usd.TotalExpense, "USD total expense")
	requireDec(t, "450", usd.ActualExpense, "USD actual expense")
	requireDec(t, "50", usd.Expense, "USD expense")
	requireDec(t, "600", usd.PendingExpense, "USD pending expense")
	requireDec(t, "-450", usd.Net, "USD net")
	requireDec(t, "0", usd.CreditBalance, "USD credit")

	empty := pnl.Bucket("EUR")
	require.Equal(t, Bucket{Currency: "EUR"}, empty)

	outside, err := f.agg.PnL(ctx, Window{Start: march.AddDate(0, 1, 0), End: march.AddDate(0, 2, 0)})
	require.NoError(t, err)
	require.Empty(t, outside.Buckets)
}

func TestCreditBalanceNeverNegative(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := 0

	rapid.Check(t, func(rt *rapid.T) {
		n++
		customer := fmt.Sprintf("C%d", n)
		_, err := f.engine.CreateTrade(ctx, ledger.TradeRequest{
			Customer:      customer,
			Direction:     rapid.SampledFrom([]ledger.Direction{ledger.DirectionBuy, ledger.DirectionSell}).Draw(rt, "dir"),
			BaseCurrency:  "USD",
			BaseAmount:    decimal.New(rapid.Int64Range(1, 1_000_000).Draw(rt, "base"), -2),
			Operator:      ledger.OperatorMultiply,
			Rate:          decimal.New(rapid.Int64Range(1, 100_000).Draw(rt, "rate"), -3),
			QuoteCurrency: "EUR",
		})
		if err != nil {
			rt.Fatalf("create: %v", err)
		}
		if _, err := f.engine.ApplyReceipt(ctx, customer, rapid.SampledFrom([]string{"USD", "EUR"}).Draw(rt, "cur"),
			decimal.New(rapid.Int64Range(1, 2_000_000).Draw(rt, "paid"), -2)); err != nil {
			rt.Fatalf("receipt: %v", err)
		}

		pnl, err := f.agg.PnL(ctx, Window{Start: march, End: march.AddDate(1, 0, 0)})
		if err != nil {
			rt.Fatalf("pnl: %v", err)
		}
		for _, b := range pnl.Buckets {
			if b.CreditBalance.IsNegative() {
				rt.Fatalf("%s credit balance %s", b.Currency, b.CreditBalance)
			}
		}
	})
}

func TestDebtsAndBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.AdjustBalance(ctx, "A", "USD", dec("100"), "")
	require.NoError(t, err)
	_, err = f.engine.AdjustBalance(ctx, "A", "MYR", dec("-0.01"), "")
	require.NoError(t, err)
	_, err = f.engine.AdjustBalance(ctx, "B", "EUR", dec("-20"), "")
	require.NoError(t, err)
	_, err = f.engine.RecordExpense(ctx, dec("5"), "USD", "coffee")
	require.NoError(t, err)

	debts, err := f.agg.Debts(ctx, "")
	require.NoError(t, err)
	require.Len(t, debts, 2)
	require.Equal(t, "A", debts[0].Customer)
	require.True(t, debts[0].OwnerOwes)
	require.Equal(t, "B", debts[1].Customer)
	require.False(t, debts[1].OwnerOwes)

	onlyB, err := f.agg.Debts(ctx, "B")
	require.NoError(t, err)
	require.Len(t, onlyB, 1)

	owner, err := f.agg.Balances(ctx, "")
	require.NoError(t, err)
	require.Len(t, owner, 1)
	require.Equal(t, ledger.DefaultOwner, owner[0].Customer)
	requireDec(t, "-5", owner[0].Amount, "owner USD")

	expenses, err := f.agg.Expenses(ctx)
	require.NoError(t, err)
	require.Len(t, expenses, 1)
	require.Equal(t, "coffee", expenses[0].Purpose)
}

func TestStatementProgress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateTrade(ctx, ledger.TradeRequest{
		Customer: "A", Direction: "buy", BaseCurrency: "USD", BaseAmount: dec("100"),
		Operator: "/", Rate: dec("4"), QuoteCurrency: "MYR",
	})
	require.NoError(t, err)
	_, err = f.engine.ApplyPayment(ctx, "A", "USD", dec("40"))
	require.NoError(t, err)
	_, err = f.engine.ApplyReceipt(ctx, "A", "MYR", dec("25"))
	require.NoError(t, err)
	_, err = f.engine.AdjustBalance(ctx, "A", "USD", dec("1"), "rounding")
	require.NoError(t, err)
	_, err = f.engine.SetSettlementAddress(ctx, "A", "wallet-1")
	require.NoError(t, err)

	w, err := f.agg.Window("01/03/2024-31/03/2024")
	require.NoError(t, err)
	st, err := f.agg.Statement(ctx, "A", w)
	require.NoError(t, err)
	require.Equal(t, "wallet-1", st.Wallet)
	require.Len(t, st.Balances, 2)
	require.Len(t, st.Adjustments, 1)
	require.Len(t, st.Trades, 1)

	line := st.Trades[0]
	require.Equal(t, "settled", line.Status, "the receipt completed the quote leg")
	require.False(t, line.Complete, "base leg is only 40/100")
	requireDec(t, "0.4", line.Progress, "progress")

	_, err = f.agg.Statement(ctx, " ", w)
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestDetailReportAppliesCredit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A prepaid 30 MYR before trading.
	_, err := f.engine.AdjustBalance(ctx, "A", "MYR", dec("30"), "prepaid")
	require.NoError(t, err)
	for _, amount := range []string{"40", "80"} {
		_, err = f.engine.CreateTrade(ctx, ledger.TradeRequest{
			Customer: "A", Direction: "buy", BaseCurrency: "USD", BaseAmount: dec(amount),
			Operator: "/", Rate: dec("4"), QuoteCurrency: "MYR",
		})
		require.NoError(t, err)
	}
	// MYR: 30 - 10 - 20 = 0, so give A a fresh credit.
	_, err = f.engine.AdjustBalance(ctx, "A", "MYR", dec("15"), "overpaid")
	require.NoError(t, err)

	w, err := f.agg.Window("")
	require.NoError(t, err)
	detail, err := f.agg.DetailReport(ctx, w)
	require.NoError(t, err)
	require.Len(t, detail.Lines, 2)
	require.Len(t, detail.Credits, 2, "USD and MYR are both positive")

	first, second := detail.Lines[0], detail.Lines[1]
	requireDec(t, "10", first.Required, "first required")
	requireDec(t, "10", first.CreditUsed, "first credit")
	requireDec(t, "0", first.Remaining, "first remaining")
	requireDec(t, "5", second.CreditUsed, "credit left for second")
	requireDec(t, "15", second.Remaining, "second remaining")
	require.Equal(t, "MYR", second.PayCurrency)
}
