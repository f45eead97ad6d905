package risk

import (
	"context"
	"testing"
	"time"

	"crosstrader/internal/config"
	"crosstrader/internal/store"
)

func memoryStore(t *testing.T) *store.Store {
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
	return st
}

func TestGuard_HaltResumeHysteresis(t *testing.T) {
	g, err := NewGuard(config.RiskConfig{
		EnableGuard:    true,
		HaltDrawdown:   0.20,
		ResumeDrawdown: 0.10,
	}, "BTC/USDT:USDT", nil, nil)
	if err != nil {
		t.Fatalf("NewGuard returned error: %v", err)
	}

	ts := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	steps := []struct {
		drawdown     float64
		wantTradable bool
	}{
		{0.05, true},
		{0.19, true},
		{0.21, false}, // crosses halt threshold
		{0.15, false}, // inside hysteresis band: still halted
		{0.11, false},
		{0.09, true}, // recovered below resume threshold
		{0.15, true}, // band is re-armed, not halted again
		{0.25, false},
	}
	for i, step := range steps {
		verdict, err := g.Check(ctx, ts.Add(time.Duration(i)*time.Hour), 10000, step.drawdown)
		if err != nil {
			t.Fatalf("Check returned error at step %d: %v", i, err)
		}
		if verdict.Tradable != step.wantTradable {
			t.Errorf("step %d drawdown=%v: Tradable = %v, want %v",
				i, step.drawdown, verdict.Tradable, step.wantTradable)
		}
	}
}

func TestGuard_DisabledAlwaysTradable(t *testing.T) {
	g, err := NewGuard(config.RiskConfig{}, "BTC/USDT:USDT", nil, nil)
	if err != nil {
		t.Fatalf("NewGuard returned error: %v", err)
	}

	verdict, err := g.Check(context.Background(), time.Now().UTC(), 10000, 0.95)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !verdict.Tradable {
		t.Error("disabled guard must always be tradable")
	}
}

func TestGuard_DailyStopLossRequiresStore(t *testing.T) {
	_, err := NewGuard(config.RiskConfig{EnableDailyStopLoss: true, MaxDailyLoss: 0.05}, "BTC/USDT:USDT", nil, nil)
	if err == nil {
		t.Fatal("expected error when daily stop loss enabled without store")
	}
}

func TestDailyTracker_HaltsOnDailyLossAndResetsNextDay(t *testing.T) {
	st := memoryStore(t)
	tracker, err := NewDailyTracker(st.DB(), "BTC/USDT:USDT", config.RiskConfig{
		EnableDailyStopLoss: true,
		MaxDailyLoss:        0.05,
		DailyLossResetHour:  0,
	}, nil)
	if err != nil {
		t.Fatalf("NewDailyTracker returned error: %v", err)
	}

	ctx := context.Background()
	day1 := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)

	status, err := tracker.Update(ctx, day1, 10000)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if status.Halted || status.StartEquity != 10000 {
		t.Fatalf("unexpected first status: %+v", status)
	}

	// small loss: still trading
	status, err = tracker.Update(ctx, day1.Add(time.Hour), 9800)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if status.Halted {
		t.Fatal("-2% must not halt with 5% limit")
	}

	// loss beyond limit: halted for the rest of the day
	status, err = tracker.Update(ctx, day1.Add(2*time.Hour), 9400)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !status.Halted {
		t.Fatal("-6% must halt with 5% limit")
	}

	status, err = tracker.Update(ctx, day1.Add(3*time.Hour), 9900)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if !status.Halted {
		t.Fatal("recovery within the same day must not clear the halt")
	}

	// next trading day re-anchors and clears the halt
	day2 := day1.Add(24 * time.Hour)
	status, err = tracker.Update(ctx, day2, 9900)
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if status.Halted {
		t.Fatal("new trading day must start unhalted")
	}
	if status.StartEquity != 9900 {
		t.Errorf("new day start equity = %v, want 9900", status.StartEquity)
	}
}

func TestTradingDay_ResetHourShiftsBoundary(t *testing.T) {
	ts := time.Date(2024, 7, 2, 3, 0, 0, 0, time.UTC)

	if got := tradingDay(ts, 0); got != "2024-07-02" {
		t.Errorf("tradingDay(reset=0) = %q, want 2024-07-02", got)
	}
	// with an 8:00 reset, 03:00 still belongs to the previous trading day
	if got := tradingDay(ts, 8); got != "2024-07-01" {
		t.Errorf("tradingDay(reset=8) = %q, want 2024-07-01", got)
	}
}
