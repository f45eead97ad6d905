package signal

import (
	"testing"
	"time"

	"crosstrader/internal/config"
	"crosstrader/internal/exchange"
)

func TestMACross_RiseThenFallYieldsOneLongOneShort(t *testing.T) {
	prices := make([]float64, 0, 80)
	for i := 0; i < 40; i++ {
		prices = append(prices, 100+2*float64(i))
	}
	for i := 1; i <= 40; i++ {
		prices = append(prices, 178-3*float64(i))
	}
	candles := makeCandles(prices)

	gen, err := NewMACross(5, 17)
	if err != nil {
		t.Fatalf("NewMACross returned error: %v", err)
	}

	var values []Value
	for _, c := range candles {
		values = append(values, gen.Step(c))
	}

	transitions := countTransitions(values)
	if len(transitions) != 2 {
		t.Fatalf("expected exactly 2 transitions, got %d: %v", len(transitions), transitions)
	}
	if transitions[0].to != Long {
		t.Errorf("first transition should be to Long, got %v", transitions[0].to)
	}
	if transitions[1].to != Short {
		t.Errorf("second transition should be to Short, got %v", transitions[1].to)
	}
	for i := 0; i < transitions[0].index; i++ {
		if values[i] != Flat {
			t.Fatalf("expected Flat before first crossover, got %v at %d", values[i], i)
		}
	}
}

func TestMACross_ConstantPricesStayFlat(t *testing.T) {
	prices := make([]float64, 60)
	for i := range prices {
		prices[i] = 100
	}
	gen, err := NewMACross(5, 17)
	if err != nil {
		t.Fatalf("NewMACross returned error: %v", err)
	}
	for i, c := range makeCandles(prices) {
		if v := gen.Step(c); v != Flat {
			t.Fatalf("expected Flat on constant prices, got %v at %d", v, i)
		}
	}
}

func TestMACross_EqualityThenRiseTriggersLong(t *testing.T) {
	prices := make([]float64, 0, 50)
	for i := 0; i < 30; i++ {
		prices = append(prices, 100)
	}
	for i := 0; i < 20; i++ {
		prices = append(prices, 110+float64(i))
	}
	gen, err := NewMACross(5, 17)
	if err != nil {
		t.Fatalf("NewMACross returned error: %v", err)
	}

	var values []Value
	for _, c := range makeCandles(prices) {
		values = append(values, gen.Step(c))
	}

	for i := 0; i < 30; i++ {
		if values[i] != Flat {
			t.Fatalf("expected Flat during equality segment, got %v at %d", values[i], i)
		}
	}
	if last := values[len(values)-1]; last != Long {
		t.Errorf("expected Long after rise from equality, got %v", last)
	}
}

func TestMACross_FallingOnlySeriesNeverCrosses(t *testing.T) {
	prices := make([]float64, 0, 60)
	for i := 0; i < 60; i++ {
		prices = append(prices, 200-2*float64(i))
	}
	gen, err := NewMACross(5, 17)
	if err != nil {
		t.Fatalf("NewMACross returned error: %v", err)
	}
	for i, c := range makeCandles(prices) {
		if v := gen.Step(c); v != Flat {
			t.Fatalf("expected Flat on strictly falling series (no crossover), got %v at %d", v, i)
		}
	}
}

func TestMACross_StepMatchesSeries(t *testing.T) {
	prices := []float64{
		100, 102, 101, 105, 103, 108, 110, 109, 112, 111,
		115, 113, 118, 116, 120, 119, 117, 114, 112, 113,
		109, 107, 104, 106, 102, 99, 101, 97, 95, 96,
		92, 94, 90, 93, 95, 98, 101, 104, 103, 107,
	}
	candles := makeCandles(prices)

	stepGen, err := NewMACross(3, 7)
	if err != nil {
		t.Fatalf("NewMACross returned error: %v", err)
	}
	batchGen, err := NewMACross(3, 7)
	if err != nil {
		t.Fatalf("NewMACross returned error: %v", err)
	}

	batch := batchGen.Series(candles)
	if len(batch) != len(candles) {
		t.Fatalf("Series length mismatch: got %d want %d", len(batch), len(candles))
	}
	for i, c := range candles {
		if got := stepGen.Step(c); got != batch[i] {
			t.Fatalf("step/series mismatch at %d: step=%v series=%v", i, got, batch[i])
		}
	}
}

func TestMACross_ResetReproducesOutput(t *testing.T) {
	prices := []float64{100, 104, 99, 108, 103, 111, 105, 114, 109, 117, 112, 108, 104, 100, 97, 95, 99, 103, 108, 113}
	candles := makeCandles(prices)

	gen, err := NewMACross(3, 7)
	if err != nil {
		t.Fatalf("NewMACross returned error: %v", err)
	}

	var first []Value
	for _, c := range candles {
		first = append(first, gen.Step(c))
	}

	gen.Reset()

	for i, c := range candles {
		if got := gen.Step(c); got != first[i] {
			t.Fatalf("replay mismatch at %d: got %v want %v", i, got, first[i])
		}
	}
}

func TestNewMACross_RejectsInvalidWindows(t *testing.T) {
	cases := []struct {
		fast, slow int
	}{
		{0, 10},
		{5, 0},
		{-1, 10},
		{10, 10},
		{17, 5},
	}
	for _, tc := range cases {
		if _, err := NewMACross(tc.fast, tc.slow); err == nil {
			t.Errorf("NewMACross(%d, %d) expected error", tc.fast, tc.slow)
		}
	}
}

func TestFromConfig_UnknownTypeFails(t *testing.T) {
	_, err := FromConfig([]config.SignalConfig{{Type: "rsi_meanrev", Fast: 5, Slow: 17}})
	if err == nil {
		t.Fatal("expected error for unknown signal type")
	}
}

func TestFromConfig_BuildsGenerators(t *testing.T) {
	gens, err := FromConfig([]config.SignalConfig{
		{Type: "ma_cross", Fast: 5, Slow: 17},
		{Type: "ma_cross", Fast: 10, Slow: 30},
	})
	if err != nil {
		t.Fatalf("FromConfig returned error: %v", err)
	}
	if len(gens) != 2 {
		t.Fatalf("expected 2 generators, got %d", len(gens))
	}
	if gens[0].Name() != "ma_cross_5_17" {
		t.Errorf("unexpected name %q", gens[0].Name())
	}
	if gens[1].Warmup() != 30 {
		t.Errorf("unexpected warmup %d", gens[1].Warmup())
	}
}

type transition struct {
	index int
	from  Value
	to    Value
}

func countTransitions(values []Value) []transition {
	var out []transition
	for i := 1; i < len(values); i++ {
		if values[i] != values[i-1] {
			out = append(out, transition{index: i, from: values[i-1], to: values[i]})
		}
	}
	return out
}

func makeCandles(prices []float64) []exchange.Candle {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]exchange.Candle, len(prices))
	for i, p := range prices {
		candles[i] = exchange.Candle{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      p,
			High:      p,
			Low:       p,
			Close:     p,
			Volume:    1,
		}
	}
	return candles
}
