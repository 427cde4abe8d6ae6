// Package db is the ledger store: customers, balances, trades, adjustments,
// expenses and the order sequence, on SQLite or PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("record not found")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds the ledger statements. Inside WithTx every call shares the unit's transaction.
type Queries struct {
	db      DBTX
	dialect Dialect
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (q *Queries) rebind(query string) string {
	if q.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate is the row lock suffix. SQLite already holds the write lock for the whole unit.
func (q *Queries) forUpdate() string {
	if q.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return q.db.ExecContext(ctx, q.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(ctx, q.rebind(query), args...)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(ctx, q.rebind(query), args...)
}

// Window bounds a listing by creation time. Zero ends are open; both ends are inclusive.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) clause(column string, args []any) (string, []any) {
	var sb strings.Builder
	if !w.From.IsZero() {
		sb.WriteString(" AND " + column + " >= ?")
		args = append(args, w.From.UnixMilli())
	}
	if !w.To.IsZero() {
		sb.WriteString(" AND " + column + " <= ?")
		args = append(args, w.To.UnixMilli())
	}
	return sb.String(), args
}

// ----------------------------------------
// Customers
// ----------------------------------------

// EnsureCustomer creates the customer row if it is missing.
func (q *Queries) EnsureCustomer(ctx context.Context, name string, now time.Time) error {
	_, err := q.exec(ctx, `
		INSERT INTO customers (name, created_at) VALUES (?, ?)
		ON CONFLICT(name) DO NOTHING
	`, name, toMillis(now))
	if err != nil {
		return fmt.Errorf("ensure customer %s: %w", name, err)
	}
	return nil
}

// GetCustomer loads one customer.
func (q *Queries) GetCustomer(ctx context.Context, name string) (*Customer, error) {
	var (
		c       Customer
		wallet  sql.NullString
		created int64
	)
	err := q.queryRow(ctx, `SELECT name, wallet, created_at FROM customers WHERE name = ?`, name).
		Scan(&c.Name, &wallet, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", name, err)
	}
	c.Wallet = wallet.String
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

// SetCustomerWallet stores the settlement address, creating the customer if needed.
func (q *Queries) SetCustomerWallet(ctx context.Context, name, wallet string, now time.Time) error {
	_, err := q.exec(ctx, `
		INSERT INTO customers (name, wallet, created_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET wallet = excluded.wallet
	`, name, wallet, toMillis(now))
	if err != nil {
		return fmt.Errorf("set wallet for %s: %w", name, err)
	}
	return nil
}

// DeleteCustomerData removes the customer with its balances, trades and adjustments.
func (q *Queries) DeleteCustomerData(ctx context.Context, name string) (DeleteCounts, error) {
	var counts DeleteCounts
	steps := []struct {
		table string
		dst   *int64
	}{
		{"adjustments", &counts.Adjustments},
		{"trades", &counts.Trades},
		{"balances", &counts.Balances},
		{"customers", &counts.Customers},
	}
	for _, s := range steps {
		column := "customer_name"
		if s.table == "customers" {
			column = "name"
		}
		res, err := q.exec(ctx, "DELETE FROM "+s.table+" WHERE "+column+" = ?", name)
		if err != nil {
			return DeleteCounts{}, fmt.Errorf("delete %s of %s: %w", s.table, name, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return DeleteCounts{}, fmt.Errorf("rows affected: %w", err)
		}
		*s.dst = n
	}
	return counts, nil
}

// ----------------------------------------
// Balances
// ----------------------------------------

// EnsureBalance creates a zero balance row if it is missing.
func (q *Queries) EnsureBalance(ctx context.Context, customer, currency string, now time.Time) error {
	_, err := q.exec(ctx, `
		INSERT INTO balances (customer_name, currency, amount, updated_at) VALUES (?, ?, '0', ?)
		ON CONFLICT(customer_name, currency) DO NOTHING
	`, customer, currency, toMillis(now))
	if err != nil {
		return fmt.Errorf("ensure balance %s/%s: %w", customer, currency, err)
	}
	return nil
}

// LockBalance reads a balance and holds its row lock until the unit ends.
func (q *Queries) LockBalance(ctx context.Context, customer, currency string) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := q.queryRow(ctx, `
		SELECT amount FROM balances WHERE customer_name = ? AND currency = ?`+q.forUpdate(),
		customer, currency).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, ErrNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("lock balance %s/%s: %w", customer, currency, err)
	}
	return amount, nil
}

// SetBalanceAmount overwrites a locked balance.
func (q *Queries) SetBalanceAmount(ctx context.Context, customer, currency string, amount decimal.Decimal, now time.Time) error {
	res, err := q.exec(ctx, `
		UPDATE balances SET amount = ?, updated_at = ? WHERE customer_name = ? AND currency = ?
	`, amount.String(), toMillis(now), customer, currency)
	if err != nil {
		return fmt.Errorf("update balance %s/%s: %w", customer, currency, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBalances returns balances ordered by customer and currency. Empty customer lists all.
func (q *Queries) ListBalances(ctx context.Context, customer string) ([]Balance, error) {
	query := `SELECT customer_name, currency, amount, updated_at FROM balances`
	var args []any
	if customer != "" {
		query += ` WHERE customer_name = ?`
		args = append(args, customer)
	}
	query += ` ORDER BY customer_name, currency`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query balances: %w", err)
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var (
			b       Balance
			updated int64
		)
		if err := rows.Scan(&b.Customer, &b.Currency, &b.Amount, &updated); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		b.UpdatedAt = fromMillis(updated)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ----------------------------------------
// Trades
// ----------------------------------------

const tradeColumns = `order_id, customer_name, direction, base_currency, quote_currency,
	base_amount, rate, operator, status, settled_in, settled_out, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(s rowScanner) (Trade, error) {
	var (
		t       Trade
		created int64
	)
	err := s.Scan(&t.OrderID, &t.Customer, &t.Direction, &t.BaseCurrency, &t.QuoteCurrency,
		&t.BaseAmount, &t.Rate, &t.Operator, &t.Status, &t.SettledIn, &t.SettledOut, &created)
	if err != nil {
		return Trade{}, err
	}
	t.CreatedAt = fromMillis(created)
	return t, nil
}

// InsertTrade stores a new trade.
func (q *Queries) InsertTrade(ctx context.Context, t Trade) error {
	_, err := q.exec(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.OrderID, t.Customer, t.Direction, t.BaseCurrency, t.QuoteCurrency,
		t.BaseAmount.String(), t.Rate.String(), t.Operator, t.Status,
		t.SettledIn.String(), t.SettledOut.String(), toMillis(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.OrderID, err)
	}
	return nil
}

// GetTrade loads a trade; lock holds its row until the unit ends.
func (q *Queries) GetTrade(ctx context.Context, orderID string, lock bool) (*Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE order_id = ?`
	if lock {
		query += q.forUpdate()
	}
	t, err := scanTrade(q.queryRow(ctx, query, orderID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade %s: %w", orderID, err)
	}
	return &t, nil
}

// Leg names the currency column of a trade leg.
type Leg string

const (
	LegBase  Leg = "base_currency"
	LegQuote Leg = "quote_currency"
)

// TradeMatch selects the open trade a settlement applies to.
type TradeMatch struct {
	Customer string
	Currency string
	// BuyLeg and SellLeg name which leg must be in Currency for buy and sell trades.
	BuyLeg      Leg
	SellLeg     Leg
	NewestFirst bool
}

// FindOpenTrade returns the pending or partial trade picked by m and locks it.
func (q *Queries) FindOpenTrade(ctx context.Context, m TradeMatch) (*Trade, error) {
	if !validLeg(m.BuyLeg) || !validLeg(m.SellLeg) {
		return nil, fmt.Errorf("invalid trade leg %q/%q", m.BuyLeg, m.SellLeg)
	}
	order := "created_at ASC, order_id ASC"
	if m.NewestFirst {
		order = "created_at DESC, order_id DESC"
	}
	query := `SELECT ` + tradeColumns + ` FROM trades
		WHERE customer_name = ? AND status IN ('pending', 'partial')
		  AND ((direction = 'buy' AND ` + string(m.BuyLeg) + ` = ?)
		    OR (direction = 'sell' AND ` + string(m.SellLeg) + ` = ?))
		ORDER BY ` + order + ` LIMIT 1` + q.forUpdate()

	t, err := scanTrade(q.queryRow(ctx, query, m.Customer, m.Currency, m.Currency))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find open trade for %s/%s: %w", m.Customer, m.Currency, err)
	}
	return &t, nil
}

func validLeg(l Leg) bool {
	return l == LegBase || l == LegQuote
}

// UpdateTradeSettlement writes the settled amounts and status of a locked trade.
func (q *Queries) UpdateTradeSettlement(ctx context.Context, orderID string, settledIn, settledOut decimal.Decimal, status string) error {
	res, err := q.exec(ctx, `
		UPDATE trades SET settled_in = ?, settled_out = ?, status = ? WHERE order_id = ?
	`, settledIn.String(), settledOut.String(), status, orderID)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTrade removes a trade row.
func (q *Queries) DeleteTrade(ctx context.Context, orderID string) error {
	res, err := q.exec(ctx, `DELETE FROM trades WHERE order_id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("delete trade %s: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTrades returns trades in the window, oldest first. Empty customer lists all.
func (q *Queries) ListTrades(ctx context.Context, customer string, w Window) ([]Trade, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE 1 = 1`
	var args []any
	if customer != "" {
		query += ` AND customer_name = ?`
		args = append(args, customer)
	}
	clause, args := w.clause("created_at", args)
	query += clause + ` ORDER BY created_at ASC, order_id ASC`

	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// MaxOrderID returns the lexicographically greatest order id with prefix, or "" if none.
func (q *Queries) MaxOrderID(ctx context.Context, prefix string) (string, error) {
	var maxID sql.NullString
	err := q.queryRow(ctx, `
		SELECT MAX(order_id) FROM trades WHERE substr(order_id, 1, ?) = ?
	`, len(prefix), prefix).Scan(&maxID)
	if err != nil {
		return "", fmt.Errorf("max order id: %w", err)
	}
	return maxID.String, nil
}

// ----------------------------------------
// Order sequence
// ----------------------------------------

// LockSequence returns the last issued value of a named sequence and locks it.
func (q *Queries) LockSequence(ctx context.Context, name string) (int64, error) {
	if _, err := q.exec(ctx, `
		INSERT INTO order_sequence (name, last_value) VALUES (?, 0)
		ON CONFLICT(name) DO NOTHING
	`, name); err != nil {
		return 0, fmt.Errorf("ensure sequence %s: %w", name, err)
	}
	var last int64
	err := q.queryRow(ctx, `SELECT last_value FROM order_sequence WHERE name = ?`+q.forUpdate(), name).Scan(&last)
	if err != nil {
		return 0, fmt.Errorf("lock sequence %s: %w", name, err)
	}
	return last, nil
}

// SetSequence records the last issued value.
func (q *Queries) SetSequence(ctx context.Context, name string, value int64) error {
	if _, err := q.exec(ctx, `UPDATE order_sequence SET last_value = ? WHERE name = ?`, value, name); err != nil {
		return fmt.Errorf("set sequence %s: %w", name, err)
	}
	return nil
}

// ----------------------------------------
// Adjustments & expenses
// ----------------------------------------

// InsertAdjustment appends an adjustment and returns its id.
func (q *Queries) InsertAdjustment(ctx context.Context, a Adjustment) (int64, error) {
	var id int64
	err := q.queryRow(ctx, `
		INSERT INTO adjustments (customer_name, currency, amount, note, created_at)
		VALUES (?, ?, ?, ?, ?) RETURNING id
	`, a.Customer, a.Currency, a.Amount.String(), a.Note, toMillis(a.CreatedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert adjustment: %w", err)
	}
	return id, nil
}

// ListAdjustments returns a customer's adjustments in the window, oldest first.
func (q *Queries) ListAdjustments(ctx context.Context, customer string, w Window) ([]Adjustment, error) {
	args := []any{customer}
	clause, args := w.clause("created_at", args)
	rows, err := q.query(ctx, `
		SELECT id, customer_name, currency, amount, note, created_at
		FROM adjustments WHERE customer_name = ?`+clause+` ORDER BY created_at ASC, id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query adjustments: %w", err)
	}
	defer rows.Close()

	var out []Adjustment
	for rows.Next() {
		var (
			a       Adjustment
			created int64
		)
		if err := rows.Scan(&a.ID, &a.Customer, &a.Currency, &a.Amount, &a.Note, &created); err != nil {
			return nil, fmt.Errorf("scan adjustment: %w", err)
		}
		a.CreatedAt = fromMillis(created)
		out = append(out, a)
	}
	return out, rows.Err()
}

// InsertExpense appends an expense and returns its id.
func (q *Queries) InsertExpense(ctx context.Context, e Expense) (int64, error) {
	var id int64
	err := q.queryRow(ctx, `
		INSERT INTO expenses (amount, currency, purpose, created_at)
		VALUES (?, ?, ?, ?) RETURNING id
	`, e.Amount.String(), e.Currency, e.Purpose, toMillis(e.CreatedAt)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert expense: %w", err)
	}
	return id, nil
}

// ListExpenses returns expenses in the window, newest first.
func (q *Queries) ListExpenses(ctx context.Context, w Window) ([]Expense, error) {
	clause, args := w.clause("created_at", nil)
	rows, err := q.query(ctx, `
		SELECT id, amount, currency, purpose, created_at
		FROM expenses WHERE 1 = 1`+clause+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	defer rows.Close()

	var out []Expense
	for rows.Next() {
		var (
			e       Expense
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Amount, &e.Currency, &e.Purpose, &created); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
