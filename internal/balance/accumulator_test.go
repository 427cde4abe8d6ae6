package balance

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"fx-ledger/pkg/db"
)

func newStore(t *testing.T) *db.Database {
	database, err := db.New(":memory:")
	require.NoError(t, err)
	require.NoError(t, db.ApplyMigrations(database))
	t.Cleanup(func() { database.Close() })
	return database
}

func apply(t require.TestingT, store *db.Database, acc *Accumulator, customer, currency string, delta decimal.Decimal) decimal.Decimal {
	var out decimal.Decimal
	err := store.WithTx(context.Background(), func(q *db.Queries) error {
		var err error
		out, err = acc.ApplyDelta(context.Background(), q, customer, currency, delta)
		return err
	})
	require.NoError(t, err)
	return out
}

func TestApplyDeltaCreatesAndRounds(t *testing.T) {
	store := newStore(t)
	acc := NewAccumulator(nil)

	got := apply(t, store, acc, "A", "MYR", decimal.RequireFromString("-2262.443"))
	require.True(t, got.Equal(decimal.RequireFromString("-2262.44")), "got %s", got)

	got = apply(t, store, acc, "A", "MYR", decimal.RequireFromString("2262.44"))
	require.True(t, got.IsZero(), "got %s", got)

	customer, err := store.Queries().GetCustomer(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, "A", customer.Name)
}

func TestApplyDeltaReversesSubCentDelta(t *testing.T) {
	store := newStore(t)
	acc := NewAccumulator(nil)

	for _, raw := range []string{"10.005", "-0.125", "2262.445", "0.004"} {
		d := decimal.RequireFromString(raw)
		apply(t, store, acc, "A", "USD", decimal.RequireFromString("0.01"))
		before := apply(t, store, acc, "A", "USD", decimal.Zero)

		after := apply(t, store, acc, "A", "USD", d)
		require.True(t, after.Equal(before.Add(Round(d))), "%s: got %s", raw, after)

		back := apply(t, store, acc, "A", "USD", d.Neg())
		require.True(t, back.Equal(before), "%s: reversal left %s, want %s", raw, back, before)
	}
}

func TestApplyDeltaRejectsEmptyKey(t *testing.T) {
	store := newStore(t)
	acc := NewAccumulator(nil)
	err := store.WithTx(context.Background(), func(q *db.Queries) error {
		_, err := acc.ApplyDelta(context.Background(), q, "", "USD", decimal.NewFromInt(1))
		return err
	})
	require.ErrorIs(t, err, ErrInvalidKey)
}

func TestApplyDeltaConcurrent(t *testing.T) {
	store := newStore(t)
	acc := NewAccumulator(nil)

	const workers = 16
	const perWorker = 10
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				err := store.WithTx(context.Background(), func(q *db.Queries) error {
					_, err := acc.ApplyDelta(context.Background(), q, "A", "USD", decimal.RequireFromString("1.01"))
					return err
				})
				if err != nil {
					t.Errorf("apply: %v", err)
				}
			}
		}()
	}
	wg.Wait()

	rows, err := store.Queries().ListBalances(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	want := decimal.RequireFromString("1.01").Mul(decimal.NewFromInt(workers * perWorker))
	require.True(t, rows[0].Amount.Equal(want), "got %s want %s", rows[0].Amount, want)
}

func TestApplyDeltaSumProperty(t *testing.T) {
	store := newStore(t)
	acc := NewAccumulator(nil)
	seq := 0

	rapid.Check(t, func(rt *rapid.T) {
		seq++
		customer := fmt.Sprintf("P%d", seq)
		cents := rapid.SliceOfN(rapid.Int64Range(-1_000_000, 1_000_000), 1, 20).Draw(rt, "cents")

		want := decimal.Zero
		var got decimal.Decimal
		for _, c := range cents {
			d := decimal.New(c, -2)
			want = want.Add(d)
			got = apply(rt, store, acc, customer, "EUR", d)
		}
		if !got.Equal(want) {
			rt.Fatalf("balance %s, want %s", got, want)
		}
	})
}
