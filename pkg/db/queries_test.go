package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	database, err := New(":memory:")
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("Failed to apply migrations: %v", err)
	}
	return database
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	database := newTestDB(t)
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("second ApplyMigrations failed: %v", err)
	}
	missing, err := VerifySchema(database)
	if err != nil {
		t.Fatalf("VerifySchema: %v", err)
	}
	if len(missing) != 0 {
		t.Fatalf("missing tables: %v", missing)
	}
}

func TestRebindPostgres(t *testing.T) {
	q := &Queries{dialect: DialectPostgres}
	got := q.rebind("SELECT a FROM t WHERE b = ? AND c = ?")
	if got != "SELECT a FROM t WHERE b = $1 AND c = $2" {
		t.Fatalf("unexpected rebind: %s", got)
	}
	if q.forUpdate() != " FOR UPDATE" {
		t.Fatalf("postgres should lock rows")
	}

	sq := &Queries{dialect: DialectSQLite}
	if sq.rebind("a = ?") != "a = ?" || sq.forUpdate() != "" {
		t.Fatalf("sqlite query should be unchanged")
	}
}

func TestBalanceRoundTrip(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	now := time.Now()

	err := database.WithTx(ctx, func(q *Queries) error {
		if err := q.EnsureCustomer(ctx, "alice", now); err != nil {
			return err
		}
		if err := q.EnsureBalance(ctx, "alice", "USD", now); err != nil {
			return err
		}
		amount, err := q.LockBalance(ctx, "alice", "USD")
		if err != nil {
			return err
		}
		if !amount.IsZero() {
			t.Errorf("fresh balance = %s, want 0", amount)
		}
		return q.SetBalanceAmount(ctx, "alice", "USD", decimal.RequireFromString("-2262.44"), now)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	balances, err := database.Queries().ListBalances(ctx, "alice")
	if err != nil {
		t.Fatalf("ListBalances: %v", err)
	}
	if len(balances) != 1 || !balances[0].Amount.Equal(decimal.RequireFromString("-2262.44")) {
		t.Fatalf("unexpected balances: %+v", balances)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := database.WithTx(ctx, func(q *Queries) error {
		if err := q.EnsureCustomer(ctx, "bob", time.Now()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := database.Queries().GetCustomer(ctx, "bob"); err != ErrNotFound {
		t.Fatalf("customer should have been rolled back, got %v", err)
	}
}

func TestFindOpenTradeOrdering(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	q := database.Queries()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	trades := []Trade{
		{OrderID: "YS000000001", Customer: "A", Direction: "buy", BaseCurrency: "USD", QuoteCurrency: "MYR", CreatedAt: base},
		{OrderID: "YS000000002", Customer: "A", Direction: "buy", BaseCurrency: "USD", QuoteCurrency: "MYR", CreatedAt: base.Add(time.Hour)},
		{OrderID: "YS000000003", Customer: "A", Direction: "sell", BaseCurrency: "MYR", QuoteCurrency: "USD", CreatedAt: base.Add(2 * time.Hour), Status: "settled"},
		{OrderID: "YS000000004", Customer: "B", Direction: "buy", BaseCurrency: "USD", QuoteCurrency: "MYR", CreatedAt: base.Add(3 * time.Hour)},
	}
	for _, tr := range trades {
		tr.BaseAmount = decimal.NewFromInt(100)
		tr.Rate = decimal.NewFromInt(4)
		tr.Operator = "multiply"
		if tr.Status == "" {
			tr.Status = "pending"
		}
		if err := q.InsertTrade(ctx, tr); err != nil {
			t.Fatalf("InsertTrade: %v", err)
		}
	}

	receipt := TradeMatch{Customer: "A", Currency: "MYR", BuyLeg: LegQuote, SellLeg: LegBase}

	t.Run("newest first", func(t *testing.T) {
		m := receipt
		m.NewestFirst = true
		got, err := q.FindOpenTrade(ctx, m)
		if err != nil {
			t.Fatalf("FindOpenTrade: %v", err)
		}
		if got.OrderID != "YS000000002" {
			t.Fatalf("got %s, want YS000000002", got.OrderID)
		}
	})

	t.Run("oldest first", func(t *testing.T) {
		got, err := q.FindOpenTrade(ctx, receipt)
		if err != nil {
			t.Fatalf("FindOpenTrade: %v", err)
		}
		if got.OrderID != "YS000000001" {
			t.Fatalf("got %s, want YS000000001", got.OrderID)
		}
	})

	t.Run("settled trades are skipped", func(t *testing.T) {
		_, err := q.FindOpenTrade(ctx, TradeMatch{Customer: "A", Currency: "USD", BuyLeg: LegQuote, SellLeg: LegQuote})
		if err != ErrNotFound {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("max order id", func(t *testing.T) {
		got, err := q.MaxOrderID(ctx, "YS")
		if err != nil {
			t.Fatalf("MaxOrderID: %v", err)
		}
		if got != "YS000000004" {
			t.Fatalf("got %q", got)
		}
		none, err := q.MaxOrderID(ctx, "ZZ")
		if err != nil || none != "" {
			t.Fatalf("expected empty id, got %q (%v)", none, err)
		}
	})

	t.Run("window", func(t *testing.T) {
		got, err := q.ListTrades(ctx, "", Window{From: base.Add(30 * time.Minute), To: base.Add(2 * time.Hour)})
		if err != nil {
			t.Fatalf("ListTrades: %v", err)
		}
		if len(got) != 2 || got[0].OrderID != "YS000000002" || got[1].OrderID != "YS000000003" {
			t.Fatalf("unexpected trades: %+v", got)
		}
	})
}

func TestDeleteCustomerData(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()
	q := database.Queries()
	now := time.Now()

	_ = q.EnsureCustomer(ctx, "A", now)
	_ = q.EnsureBalance(ctx, "A", "USD", now)
	_ = q.EnsureBalance(ctx, "A", "MYR", now)
	_ = q.EnsureBalance(ctx, "COMPANY", "USD", now)
	if _, err := q.InsertAdjustment(ctx, Adjustment{Customer: "A", Currency: "USD", Amount: decimal.NewFromInt(5), CreatedAt: now}); err != nil {
		t.Fatalf("InsertAdjustment: %v", err)
	}
	if _, err := q.InsertExpense(ctx, Expense{Amount: decimal.NewFromInt(7), Currency: "USD", Purpose: "rent", CreatedAt: now}); err != nil {
		t.Fatalf("InsertExpense: %v", err)
	}

	counts, err := q.DeleteCustomerData(ctx, "A")
	if err != nil {
		t.Fatalf("DeleteCustomerData: %v", err)
	}
	want := DeleteCounts{Customers: 1, Balances: 2, Trades: 0, Adjustments: 1}
	if counts != want {
		t.Fatalf("counts = %+v, want %+v", counts, want)
	}

	rest, _ := q.ListBalances(ctx, "")
	if len(rest) != 1 || rest[0].Customer != "COMPANY" {
		t.Fatalf("other balances must survive: %+v", rest)
	}
	expenses, _ := q.ListExpenses(ctx, Window{})
	if len(expenses) != 1 {
		t.Fatalf("expenses must survive: %+v", expenses)
	}
}

func TestSequenceLock(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	err := database.WithTx(ctx, func(q *Queries) error {
		last, err := q.LockSequence(ctx, "YS")
		if err != nil {
			return err
		}
		if last != 0 {
			t.Errorf("new sequence starts at %d", last)
		}
		return q.SetSequence(ctx, "YS", 41)
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}
	last, err := database.Queries().LockSequence(ctx, "YS")
	if err != nil || last != 41 {
		t.Fatalf("LockSequence = %d, %v", last, err)
	}
}

// lockFile opens a second handle on path and holds its write lock until cleanup.
func lockFile(t *testing.T, path string) {
	t.Helper()
	other, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open second handle: %v", err)
	}
	conn, err := other.Conn(context.Background())
	if err != nil {
		t.Fatalf("conn: %v", err)
	}
	if _, err := conn.ExecContext(context.Background(), "BEGIN IMMEDIATE"); err != nil {
		t.Fatalf("begin immediate: %v", err)
	}
	t.Cleanup(func() {
		conn.ExecContext(context.Background(), "ROLLBACK")
		conn.Close()
		other.Close()
	})
}

func TestWithTxLockTimeoutIsConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	database, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	lockFile(t, path)
	database.SetLockTimeout(50 * time.Millisecond)

	ran := false
	err = database.WithTx(context.Background(), func(q *Queries) error {
		ran = true
		return nil
	})
	if err == nil {
		t.Fatalf("WithTx succeeded while another writer held the lock")
	}
	if !IsConflict(err) {
		t.Fatalf("WithTx error %v should be a conflict", err)
	}
	if ran {
		t.Fatalf("unit ran without the write lock")
	}
}

func TestIsConflict(t *testing.T) {
	cases := map[string]bool{
		"database is locked (5) (SQLITE_BUSY)":                            true,
		"ERROR: deadlock detected (SQLSTATE 40P01)":                       true,
		"ERROR: canceling statement due to lock timeout (SQLSTATE 55P03)": true,
		"UNIQUE constraint failed: trades.order_id":                       false,
	}
	for msg, want := range cases {
		if got := IsConflict(errors.New(msg)); got != want {
			t.Errorf("IsConflict(%q) = %v, want %v", msg, got, want)
		}
	}
	if !IsConflict(context.DeadlineExceeded) {
		t.Errorf("deadline should be a conflict")
	}
	if IsConflict(nil) {
		t.Errorf("nil is not a conflict")
	}
}
