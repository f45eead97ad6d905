package monitor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"crosstrader/internal/config"
	"crosstrader/internal/store"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	st, err := store.NewSQLite(config.DatabaseConfig{
		InMemory:     true,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("NewSQLite returned error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}
	return svc
}

func TestService_RecordAndListRoundTrip(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordDecision(ctx, DecisionPayload{
		Symbol:       "BTC-USDT-SWAP",
		CandleTime:   time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
		Direction:    "long",
		SizeFraction: 0.5,
		Equity:       1.02,
		Drawdown:     0.01,
		ActiveSignal: "ma_cross_5_17",
	})
	svc.RecordOrder(ctx, OrderPayload{
		Symbol: "BTC-USDT-SWAP",
		Side:   "buy",
		Amount: 0.4,
		Delta:  0.5,
		Status: "filled",
	})
	svc.RecordGap(ctx, GapPayload{Symbol: "BTC-USDT-SWAP", MissingBars: 2})

	events, err := svc.ListEvents(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// newest first
	if events[0].Type != EventGap || events[2].Type != EventDecision {
		t.Errorf("unexpected event order: %v, %v, %v", events[0].Type, events[1].Type, events[2].Type)
	}

	raw, ok := events[2].Payload.(json.RawMessage)
	if !ok {
		t.Fatalf("payload type = %T, want json.RawMessage", events[2].Payload)
	}
	var decision DecisionPayload
	if err := json.Unmarshal(raw, &decision); err != nil {
		t.Fatalf("unmarshal decision payload: %v", err)
	}
	if decision.Direction != "long" || decision.SizeFraction != 0.5 {
		t.Errorf("unexpected decision payload: %+v", decision)
	}
}

func TestService_ListEventsFiltersByType(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	svc.RecordOrder(ctx, OrderPayload{Symbol: "ETH-USDT-SWAP", Side: "sell", Status: "rejected"})
	svc.RecordReconciliation(ctx, ReconciliationPayload{
		Symbol:           "ETH-USDT-SWAP",
		Reason:           "retry_exhausted",
		BelievedFraction: 0.5,
		ExchangeFraction: 0.2,
	})

	events, err := svc.ListEvents(ctx, EventReconciliation, 10)
	if err != nil {
		t.Fatalf("ListEvents returned error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 reconciliation event, got %d", len(events))
	}
	if events[0].Type != EventReconciliation {
		t.Errorf("unexpected type %v", events[0].Type)
	}
}
