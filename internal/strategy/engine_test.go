package strategy

import (
	"math"
	"testing"
	"time"

	"crosstrader/internal/config"
	"crosstrader/internal/exchange"
	"crosstrader/internal/signal"
)

func testSignals(t *testing.T, n int) []signal.Generator {
	t.Helper()
	cfgs := make([]config.SignalConfig, n)
	for i := range cfgs {
		cfgs[i] = config.SignalConfig{Type: "ma_cross", Fast: 3 + i, Slow: 9 + 2*i}
	}
	gens, err := signal.FromConfig(cfgs)
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	return gens
}

func testConfig() Config {
	return Config{
		SizeTable: []Level{
			{Drawdown: 0, Size: 0.5},
			{Drawdown: 0.04, Size: 0.04},
			{Drawdown: 0.06, Size: 0.02},
		},
		ReevalThreshold: 0.04,
		ReevalMode:      config.ReevalModeOnCross,
		PeakWindow:      48,
		SharpeWindow:    48,
	}
}

func TestSizeFor_TableLookup(t *testing.T) {
	e, err := NewEngine(testSignals(t, 1), testConfig(), nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	cases := []struct {
		drawdown float64
		want     float64
	}{
		{0, 0.5},
		{0.01, 0.5},
		{0.04, 0.04},
		{0.05, 0.04},
		{0.06, 0.02},
		{0.10, 0.02},
		{0.90, 0.02},
	}
	for _, tc := range cases {
		if got := e.sizeFor(tc.drawdown); got != tc.want {
			t.Errorf("sizeFor(%v) = %v, want %v", tc.drawdown, got, tc.want)
		}
	}
}

func TestNewEngine_ConfigValidation(t *testing.T) {
	gens := testSignals(t, 1)

	if _, err := NewEngine(nil, testConfig(), nil); err == nil {
		t.Error("expected error for empty signal set")
	}

	cfg := testConfig()
	cfg.SizeTable = nil
	if _, err := NewEngine(gens, cfg, nil); err == nil {
		t.Error("expected error for empty size table")
	}

	cfg = testConfig()
	cfg.SizeTable = []Level{{Drawdown: 0.04, Size: 0.5}, {Drawdown: 0.04, Size: 0.1}}
	if _, err := NewEngine(gens, cfg, nil); err == nil {
		t.Error("expected error for duplicate size table keys")
	}

	cfg = testConfig()
	cfg.SizeTable = []Level{{Drawdown: 0.06, Size: 0.5}, {Drawdown: 0.04, Size: 0.1}}
	if _, err := NewEngine(gens, cfg, nil); err == nil {
		t.Error("expected error for unsorted size table")
	}

	cfg = testConfig()
	cfg.SizeTable = []Level{{Drawdown: 0, Size: 1.5}}
	if _, err := NewEngine(gens, cfg, nil); err == nil {
		t.Error("expected error for size fraction above 1")
	}

	cfg = testConfig()
	cfg.PeakWindow = 1
	if _, err := NewEngine(gens, cfg, nil); err == nil {
		t.Error("expected error for non-positive peak window")
	}

	cfg = testConfig()
	cfg.SharpeWindow = 0
	if _, err := NewEngine(gens, cfg, nil); err == nil {
		t.Error("expected error for non-positive sharpe window")
	}

	cfg = testConfig()
	cfg.ReevalMode = "sometimes"
	if _, err := NewEngine(gens, cfg, nil); err == nil {
		t.Error("expected error for unknown reeval mode")
	}
}

func TestPushEquity_DrawdownBoundsAndZeroAtPeak(t *testing.T) {
	e, err := NewEngine(testSignals(t, 1), testConfig(), nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	equities := []float64{1.0, 1.1, 1.05, 0.9, 0.95, 1.2, 1.15, 1.3}
	for _, eq := range equities {
		e.pushEquity(eq)
		if e.drawdown < 0 || e.drawdown > 1 {
			t.Fatalf("drawdown out of [0,1]: %v", e.drawdown)
		}
		if eq >= e.peak && e.drawdown != 0 {
			t.Fatalf("expected zero drawdown at new peak %v, got %v", eq, e.drawdown)
		}
	}
}

func TestPushEquity_PeakIsRollingNotGlobal(t *testing.T) {
	cfg := testConfig()
	cfg.PeakWindow = 3
	e, err := NewEngine(testSignals(t, 1), cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	for _, eq := range []float64{2.0, 1.0, 1.0, 1.0} {
		e.pushEquity(eq)
	}
	// the 2.0 peak has left the 3-bar window
	if e.peak != 1.0 {
		t.Errorf("rolling peak = %v, want 1.0", e.peak)
	}
	if e.drawdown != 0 {
		t.Errorf("drawdown = %v, want 0", e.drawdown)
	}
}

func TestMaybeReevaluate_OnCrossFiresOnceUntilRecovery(t *testing.T) {
	e, err := NewEngine(testSignals(t, 2), testConfig(), nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	// below threshold: no trigger
	e.drawdown = 0.02
	e.maybeReevaluate(ts)
	if !e.lastReeval.IsZero() {
		t.Fatal("should not re-evaluate below threshold")
	}

	// crossing up: trigger once
	e.drawdown = 0.05
	e.maybeReevaluate(ts.Add(time.Hour))
	firstEval := e.lastReeval
	if firstEval.IsZero() {
		t.Fatal("expected re-evaluation on upward cross")
	}

	// still above: must not fire again
	e.drawdown = 0.07
	e.maybeReevaluate(ts.Add(2 * time.Hour))
	if !e.lastReeval.Equal(firstEval) {
		t.Fatal("on_cross mode must not re-fire while drawdown stays above threshold")
	}

	// recover below, then cross again: re-armed
	e.drawdown = 0.01
	e.maybeReevaluate(ts.Add(3 * time.Hour))
	e.drawdown = 0.05
	e.maybeReevaluate(ts.Add(4 * time.Hour))
	if !e.lastReeval.Equal(ts.Add(4 * time.Hour)) {
		t.Fatal("expected re-evaluation after recovery and second cross")
	}
}

func TestMaybeReevaluate_WhileAboveFiresEveryCandle(t *testing.T) {
	cfg := testConfig()
	cfg.ReevalMode = config.ReevalModeWhileAbove
	e, err := NewEngine(testSignals(t, 2), cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	e.drawdown = 0.05
	e.maybeReevaluate(ts)
	e.drawdown = 0.06
	e.maybeReevaluate(ts.Add(time.Hour))
	if !e.lastReeval.Equal(ts.Add(time.Hour)) {
		t.Fatal("while_above mode should re-evaluate on every candle above threshold")
	}
}

func TestMaybeReevaluate_SelectsBestSharpeAndKeepsActiveOnTie(t *testing.T) {
	e, err := NewEngine(testSignals(t, 3), testConfig(), nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	ts := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	// distinct histories: signal 2 clearly best
	e.sigReturns[0] = []float64{0.01, -0.02, 0.01, -0.02}
	e.sigReturns[1] = []float64{0.001, 0.002, 0.001, 0.002}
	e.sigReturns[2] = []float64{0.01, 0.011, 0.01, 0.011}

	e.drawdown = 0.05
	e.maybeReevaluate(ts)
	if e.active != 2 {
		t.Fatalf("active = %d, want 2 (highest sharpe)", e.active)
	}

	// exact tie between 1 and 2: keep the currently active one
	e.sigReturns[0] = []float64{-0.01, -0.01, -0.01, -0.01}
	e.sigReturns[1] = append([]float64(nil), e.sigReturns[2]...)

	e.armed = true
	e.drawdown = 0.05
	e.maybeReevaluate(ts.Add(time.Hour))
	if e.active != 2 {
		t.Fatalf("tie should keep active signal 2, got %d", e.active)
	}
}

func TestUpdate_EquityFloorsAtZeroOnExtremeBar(t *testing.T) {
	e, err := NewEngine(testSignals(t, 1), testConfig(), nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	e.Update(exchange.Candle{
		Timestamp: start,
		Open:      100, High: 100, Low: 100, Close: 100,
		Volume: 1,
	})

	// a full short held into a +150% bar wipes the account
	e.prevSigned = -1
	e.Update(exchange.Candle{
		Timestamp: start.Add(time.Hour),
		Open:      250, High: 250, Low: 250, Close: 250,
		Volume: 1,
	})

	st := e.State()
	if st.Equity != 0 {
		t.Errorf("equity = %v, want 0 after wipeout", st.Equity)
	}
	if st.Drawdown != 1 {
		t.Errorf("drawdown = %v, want 1 after wipeout", st.Drawdown)
	}

	// further candles must keep the floor without going negative or NaN
	e.Update(exchange.Candle{
		Timestamp: start.Add(2 * time.Hour),
		Open:      300, High: 300, Low: 300, Close: 300,
		Volume: 1,
	})
	if st := e.State(); st.Equity != 0 || st.Drawdown < 0 || st.Drawdown > 1 {
		t.Errorf("state after wipeout: equity=%v drawdown=%v", st.Equity, st.Drawdown)
	}
}

func TestUpdate_MarkToMarketUsesPreviousTarget(t *testing.T) {
	e, err := NewEngine(testSignals(t, 1), testConfig(), nil)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}

	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < 40; i++ {
		price += 1.5
		e.Update(exchange.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price, High: price, Low: price, Close: price,
			Volume: 1,
		})
	}

	st := e.State()
	// a monotone rise with a long signal must never lose money
	if st.Equity < 1.0 {
		t.Errorf("equity = %v, expected >= 1 on monotone rise", st.Equity)
	}
	if st.Drawdown != 0 {
		t.Errorf("drawdown = %v, expected 0 on monotone rise", st.Drawdown)
	}
	if math.Abs(st.PeakEquity-st.Equity) > 1e-12 {
		t.Errorf("peak %v should equal equity %v at highs", st.PeakEquity, st.Equity)
	}
}
