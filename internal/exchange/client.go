package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"

	"crosstrader/internal/config"
	"crosstrader/internal/retry"
)

// fetchPageLimit 为交易所单页K线上限。
const fetchPageLimit = 100

// Client 负责与交易所交互。只读调用内置重试；
// 改变交易所状态的调用（下单、调杠杆）单次执行，由上层决定重试策略。
type Client struct {
	cfg      config.ExchangeConfig
	policy   retry.Policy
	logger   *zap.Logger
	exchange *ccxt.Okx

	marketsMu     sync.Mutex
	marketsLoaded bool
}

// NewClient 构造 OKX 永续合约客户端。
func NewClient(cfg config.ExchangeConfig, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if !strings.EqualFold(cfg.Name, "okx") {
		return nil, fmt.Errorf("exchange: 暂不支持交易所 %q", cfg.Name)
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
		"options": map[string]interface{}{
			"adjustForTimeDifference": true,
			"defaultType":             "swap",
		},
	}

	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	ex := ccxt.NewOkx(userConfig)
	if cfg.UseSandbox {
		ex.SetSandboxMode(true)
	}

	return &Client{
		cfg: cfg,
		policy: retry.Policy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			MinDelay:    cfg.Retry.MinDelay,
			MaxDelay:    cfg.Retry.MaxDelay,
		},
		logger:   logger,
		exchange: ex,
	}, nil
}

// Policy 返回客户端使用的重试策略。
func (c *Client) Policy() retry.Policy {
	return c.policy
}

// Raw 返回底层 ccxt 客户端。
func (c *Client) Raw() *ccxt.Okx {
	return c.exchange
}

// FetchCandleRange 按时间区间分页拉取K线，返回 [start, end) 内升序去重的序列。
func (c *Client) FetchCandleRange(ctx context.Context, req WindowRequest) ([]Candle, error) {
	step, err := ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, err
	}
	if !req.Start.Before(req.End) {
		return nil, fmt.Errorf("exchange: 区间非法 start=%s end=%s", req.Start, req.End)
	}

	var out []Candle
	cursor := req.Start

	for cursor.Before(req.End) {
		var page []ccxt.OHLCV
		since := cursor.UnixMilli()

		err := c.policy.Do(ctx, c.logger, fmt.Sprintf("fetch_ohlcv_range_%s", req.Timeframe), Classify, func() error {
			if err := c.ensureMarketsLoaded(ctx); err != nil {
				return err
			}

			result, err := c.exchange.FetchOHLCV(
				req.Symbol,
				ccxt.WithFetchOHLCVTimeframe(req.Timeframe),
				ccxt.WithFetchOHLCVSince(since),
				ccxt.WithFetchOHLCVLimit(fetchPageLimit),
			)
			if err != nil {
				return err
			}

			page = result
			return nil
		})
		if err != nil {
			return nil, err
		}

		if len(page) == 0 {
			break
		}

		progressed := false
		for _, item := range page {
			ts := time.UnixMilli(item.Timestamp).UTC()
			if ts.Before(cursor) || !ts.Before(req.End) {
				continue
			}
			if len(out) > 0 && !ts.After(out[len(out)-1].Timestamp) {
				continue
			}
			out = append(out, Candle{
				Timestamp: ts,
				Open:      item.Open,
				High:      item.High,
				Low:       item.Low,
				Close:     item.Close,
				Volume:    item.Volume,
			})
			progressed = true
		}

		if !progressed {
			break
		}
		cursor = out[len(out)-1].Timestamp.Add(step)
	}

	c.logger.Debug("历史K线区间拉取完成",
		zap.String("symbol", req.Symbol),
		zap.String("timeframe", req.Timeframe),
		zap.Time("start", req.Start),
		zap.Time("end", req.End),
		zap.Int("count", len(out)),
	)

	return out, nil
}

// CreateMarketOrder 以市价单提交委托。单次执行，不在客户端内重试。
func (c *Client) CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, reduceOnly bool) (OrderAck, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return OrderAck{}, err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return OrderAck{}, ctxErr
	}

	params := map[string]interface{}{
		"tdMode": "cross",
	}
	if reduceOnly {
		params["reduceOnly"] = true
	}

	order, err := c.exchange.CreateMarketOrder(symbol, side, amount, ccxt.WithCreateMarketOrderParams(params))
	if err != nil {
		return OrderAck{}, err
	}

	ack := OrderAck{
		OrderID:   derefString(order.Id),
		Status:    derefString(order.Status),
		Filled:    derefFloat(order.Filled),
		AvgPrice:  derefFloat(order.Average),
		Timestamp: time.Now().UTC(),
	}
	if order.Timestamp != nil {
		ack.Timestamp = time.UnixMilli(int64(*order.Timestamp)).UTC()
	}

	c.logger.Info("市价单已提交",
		zap.String("symbol", symbol),
		zap.String("side", side),
		zap.Float64("amount", amount),
		zap.Bool("reduce_only", reduceOnly),
		zap.String("order_id", ack.OrderID),
		zap.String("status", ack.Status),
	)

	return ack, nil
}

// SetLeverage 设置全仓杠杆。单次执行，不在客户端内重试。
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	_, err := c.exchange.SetLeverage(
		int64(leverage),
		ccxt.WithSetLeverageSymbol(symbol),
		ccxt.WithSetLeverageParams(map[string]interface{}{"marginMode": "cross"}),
	)
	if err != nil {
		return err
	}

	c.logger.Info("杠杆设置完成",
		zap.String("symbol", symbol),
		zap.Int("leverage", leverage),
	)
	return nil
}

// ensureMarketsLoaded 懒加载市场元数据。全程持锁：多个标的管线
// 共享同一客户端，免锁快路径读 marketsLoaded 会构成数据竞争。
func (c *Client) ensureMarketsLoaded(ctx context.Context) error {
	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.policy.Do(ctx, c.logger, "load_markets", Classify, func() error {
		_, err := c.exchange.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("exchange", c.cfg.Name))
	return nil
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
