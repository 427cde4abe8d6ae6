package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fx-ledger/internal/ledger"
	"fx-ledger/pkg/db"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledger.db")
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", path)
	t.Setenv("TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LEDGER_CONFIG", "")
	t.Setenv("LANGUAGE", "en")
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func seed(t *testing.T, path string) {
	t.Helper()
	store, err := db.New(path)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, db.ApplyMigrations(store))

	engine, err := ledger.New(ledger.Config{Store: store})
	require.NoError(t, err)
	_, err = engine.CreateTrade(context.Background(), ledger.TradeRequest{
		Customer:      "alice",
		Direction:     ledger.DirectionBuy,
		BaseCurrency:  "USD",
		BaseAmount:    decimal.NewFromInt(100),
		Operator:      ledger.OperatorMultiply,
		Rate:          decimal.RequireFromString("4.2"),
		QuoteCurrency: "MYR",
	})
	require.NoError(t, err)
}

func TestMigrateCommand(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	require.Contains(t, out, "Schema is up to date.")
}

func TestBalanceAndDebtsCommands(t *testing.T) {
	path := setupEnv(t)
	seed(t, path)

	out, err := run(t, "balance", "--customer", "alice")
	require.NoError(t, err)
	var balances []struct {
		Currency string `json:"currency"`
		Amount   string `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &balances))
	require.Len(t, balances, 2)
	require.Equal(t, "MYR", balances[0].Currency)
	require.Equal(t, "-420", balances[0].Amount)
	require.Equal(t, "100", balances[1].Amount)

	out, err = run(t, "balance")
	require.NoError(t, err)
	require.JSONEq(t, `[]`, out)

	out, err = run(t, "debts")
	require.NoError(t, err)
	var debts []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &debts))
	require.Len(t, debts, 2)
}

func TestStatementAndReportCommands(t *testing.T) {
	path := setupEnv(t)
	seed(t, path)

	out, err := run(t, "statement", "alice")
	require.NoError(t, err)
	var st struct {
		Customer string `json:"customer"`
		Trades   []struct {
			OrderID string `json:"order_id"`
		} `json:"trades"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	require.Equal(t, "alice", st.Customer)
	require.Len(t, st.Trades, 1)
	require.Equal(t, "YS000000001", st.Trades[0].OrderID)

	out, err = run(t, "report")
	require.NoError(t, err)
	require.Contains(t, out, `"lines"`)

	_, err = run(t, "statement")
	require.Error(t, err)
}

func TestPnLRejectsBadRange(t *testing.T) {
	setupEnv(t)

	_, err := run(t, "pnl", "--range", "31/13/2024")
	require.ErrorIs(t, err, ledger.ErrValidation)

	out, err := run(t, "pnl", "--range", "01/01/2024")
	require.NoError(t, err)
	require.Contains(t, out, `"buckets"`)
}

func TestConfigErrorsSurface(t *testing.T) {
	setupEnv(t)
	t.Setenv("MATCH_POLICY", "random")

	_, err := run(t, "balance")
	require.Error(t, err)
	require.Contains(t, err.Error(), "MATCH_POLICY")
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger("debug", "console")
	require.NoError(t, err)
	require.NotNil(t, logger)

	_, err = newLogger("loud", "json")
	require.Error(t, err)
}
