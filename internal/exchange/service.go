package exchange

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// CandleRanger 按时间区间拉取K线。
type CandleRanger interface {
	FetchCandleRange(ctx context.Context, req WindowRequest) ([]Candle, error)
}

// MarketDataService 聚合多标的历史K线拉取。
type MarketDataService struct {
	client CandleRanger
	logger *zap.Logger
}

// NewMarketDataService 创建市场数据服务。
func NewMarketDataService(client CandleRanger, logger *zap.Logger) *MarketDataService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarketDataService{
		client: client,
		logger: logger,
	}
}

// FetchWindows 并行拉取多个标的的历史K线区间，按 symbol 返回。
func (s *MarketDataService) FetchWindows(ctx context.Context, reqs []WindowRequest) (map[string][]Candle, error) {
	results := make(map[string][]Candle, len(reqs))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)

	for _, req := range reqs {
		group.Go(func() error {
			candles, err := s.client.FetchCandleRange(groupCtx, req)
			if err != nil {
				return err
			}
			mu.Lock()
			results[req.Symbol] = candles
			mu.Unlock()
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	s.logger.Debug("历史K线批量拉取完成", zap.Int("windows", len(reqs)))
	return results, nil
}

// PreloadWindow 拉取单个标的最近 preload 时长内的K线。
func (s *MarketDataService) PreloadWindow(ctx context.Context, symbol, timeframe string, preload time.Duration, now time.Time) ([]Candle, error) {
	end := now.UTC().Truncate(time.Minute)
	return s.client.FetchCandleRange(ctx, WindowRequest{
		Symbol:    symbol,
		Timeframe: timeframe,
		Start:     end.Add(-preload),
		End:       end,
	})
}
