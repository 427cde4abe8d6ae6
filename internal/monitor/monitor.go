package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fx-ledger/internal/events"
)

// Monitor watches settlement events and raises an alert for each one that found no open trade.
type Monitor struct {
	Bus    *events.Bus
	Sink   AlertSink
	Logger *zap.Logger
}

func (m *Monitor) Start(ctx context.Context) {
	if m.Logger == nil {
		m.Logger = zap.NewNop()
	}
	if m.Bus == nil || m.Sink == nil {
		m.Logger.Info("monitor not fully configured; skipping")
		return
	}
	stream, unsub := m.Bus.SubscribeAll([]events.Event{events.EventReceiptApplied, events.EventPaymentApplied}, 50)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-stream:
				if !ok {
					return
				}
				alert, raise := unmatchedAlert(msg)
				if !raise {
					continue
				}
				if err := m.Sink.Send(alert); err != nil {
					m.Logger.Warn("alert delivery failed", zap.Error(err))
				}
			}
		}
	}()
}

func unmatchedAlert(msg any) (string, bool) {
	ev, ok := msg.(events.LedgerEvent)
	if !ok || ev.Matched == nil || *ev.Matched {
		return "", false
	}
	return fmt.Sprintf("[%s] %s of %s %s for %s matched no open trade",
		ev.At.Format(time.RFC3339), ev.Topic, ev.Amount, ev.Currency, ev.Customer), true
}
