package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"fx-ledger/internal/monitor"
	"fx-ledger/internal/report"
	"fx-ledger/pkg/db"
	"fx-ledger/pkg/i18n"
)

// openStore connects to the configured database and brings the schema up to date.
func (a *app) openStore() (*db.Database, error) {
	where := a.cfg.DBPath
	if a.cfg.DBDriver == "postgres" {
		where = "DATABASE_URL"
	}
	a.logger.Debug(fmt.Sprintf(i18n.Get("UsingDB"), a.cfg.DBDriver, where))

	store, err := db.Open(a.cfg.DBDriver, a.cfg.DBTarget(), db.Options{LockTimeout: a.cfg.LockTimeout})
	if err != nil {
		return nil, fmt.Errorf(i18n.Get("DBInitFailed"), err)
	}
	if err := db.ApplyMigrations(store); err != nil {
		store.Close()
		return nil, fmt.Errorf(i18n.Get("DBMigrationsFailed"), err)
	}
	return store, nil
}

func (a *app) newAggregator(store *db.Database, metrics *monitor.SystemMetrics) (*report.Aggregator, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	return report.NewAggregator(report.Config{
		Store:    store,
		Owner:    a.cfg.Owner,
		Location: loc,
		Metrics:  metrics,
	}), nil
}

// withReports opens the store for one read-only command.
func (a *app) withReports(fn func(agg *report.Aggregator) error) error {
	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("close store", zap.Error(err))
		}
	}()

	agg, err := a.newAggregator(store, nil)
	if err != nil {
		return err
	}
	return fn(agg)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
