package exchange

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeRanger struct {
	mu   sync.Mutex
	reqs []WindowRequest
	err  error
}

func (f *fakeRanger) FetchCandleRange(ctx context.Context, req WindowRequest) ([]Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	return []Candle{{Timestamp: req.Start, Close: 100}}, nil
}

func (f *fakeRanger) requests() []WindowRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]WindowRequest(nil), f.reqs...)
}

func TestFetchWindowsAggregatesBySymbol(t *testing.T) {
	ranger := &fakeRanger{}
	svc := NewMarketDataService(ranger, nil)

	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	reqs := []WindowRequest{
		{Symbol: "BTC/USDT:USDT", Timeframe: "1h", Start: start, End: start.Add(24 * time.Hour)},
		{Symbol: "ETH/USDT:USDT", Timeframe: "1h", Start: start, End: start.Add(24 * time.Hour)},
	}

	windows, err := svc.FetchWindows(context.Background(), reqs)
	if err != nil {
		t.Fatalf("FetchWindows: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("expected windows for 2 symbols, got %d", len(windows))
	}
	for _, req := range reqs {
		candles, ok := windows[req.Symbol]
		if !ok {
			t.Errorf("missing window for %s", req.Symbol)
			continue
		}
		if len(candles) != 1 || !candles[0].Timestamp.Equal(start) {
			t.Errorf("unexpected window for %s: %+v", req.Symbol, candles)
		}
	}
	if n := len(ranger.requests()); n != 2 {
		t.Errorf("fetch calls = %d, want 2", n)
	}
}

func TestFetchWindowsPropagatesError(t *testing.T) {
	fetchErr := errors.New("range unavailable")
	svc := NewMarketDataService(&fakeRanger{err: fetchErr}, nil)

	_, err := svc.FetchWindows(context.Background(), []WindowRequest{{Symbol: "BTC/USDT:USDT"}})
	if err == nil || !errors.Is(err, fetchErr) {
		t.Fatalf("expected fetch error, got %v", err)
	}
}

func TestPreloadWindowRequestsLookback(t *testing.T) {
	ranger := &fakeRanger{}
	svc := NewMarketDataService(ranger, nil)

	now := time.Date(2024, 5, 2, 10, 30, 45, 0, time.UTC)
	if _, err := svc.PreloadWindow(context.Background(), "BTC/USDT:USDT", "1h", 48*time.Hour, now); err != nil {
		t.Fatalf("PreloadWindow: %v", err)
	}

	reqs := ranger.requests()
	if len(reqs) != 1 {
		t.Fatalf("fetch calls = %d, want 1", len(reqs))
	}
	wantEnd := time.Date(2024, 5, 2, 10, 30, 0, 0, time.UTC)
	if !reqs[0].End.Equal(wantEnd) {
		t.Errorf("request end = %v, want %v", reqs[0].End, wantEnd)
	}
	if !reqs[0].Start.Equal(wantEnd.Add(-48 * time.Hour)) {
		t.Errorf("request start = %v, want %v", reqs[0].Start, wantEnd.Add(-48*time.Hour))
	}
	if reqs[0].Timeframe != "1h" {
		t.Errorf("request timeframe = %q, want 1h", reqs[0].Timeframe)
	}
}
