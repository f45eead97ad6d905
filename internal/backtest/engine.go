package backtest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"crosstrader/internal/engine"
	"crosstrader/internal/exchange"
)

// Result 汇总回测结果。
type Result struct {
	Points       []EquityPoint
	ReturnSeries []float64
	Metrics      Metrics
	Trades       int
	Flips        int
	Gaps         int
	FinalEquity  float64
}

// EquityCurve 返回净值序列。
func (r Result) EquityCurve() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Equity
	}
	return out
}

// DrawdownSeries 返回回撤序列。
func (r Result) DrawdownSeries() []float64 {
	out := make([]float64, len(r.Points))
	for i, p := range r.Points {
		out[i] = p.Drawdown
	}
	return out
}

// Engine 逐根回放历史K线并驱动决策核心。
// 相同K线输入必然产生逐字节相同的输出，不依赖挂钟与随机数。
type Engine struct {
	cfg       Config
	core      *engine.Core
	provider  CandleProvider
	simulator *Simulator
	logger    *zap.Logger
}

// NewEngine 构建回测引擎。
func NewEngine(cfg Config, core *engine.Core, provider CandleProvider, logger *zap.Logger) (*Engine, error) {
	if core == nil {
		return nil, fmt.Errorf("backtest: 决策核心不能为空")
	}
	if provider == nil {
		return nil, fmt.Errorf("backtest: K线源不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg = cfg.normalize()

	return &Engine{
		cfg:       cfg,
		core:      core,
		provider:  provider,
		simulator: NewSimulator(cfg.InitialEquity),
		logger:    logger,
	}, nil
}

// Run 执行完整回测流程。
func (e *Engine) Run(ctx context.Context) (Result, error) {
	step, err := exchange.ParseTimeframe(e.cfg.Timeframe)
	if err != nil {
		return Result{}, err
	}

	bars := 0
	for {
		candle, ok, err := e.provider.Next(ctx)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			break
		}

		decision, err := e.core.Advance(candle)
		if err != nil {
			return Result{}, fmt.Errorf("backtest: 第%d根K线处理失败: %w", bars+1, err)
		}

		e.simulator.Advance(candle.Close, candle.Timestamp)
		e.simulator.AdjustExposure(decision.Signed())
		bars++
	}

	points := e.simulator.Points()
	returns := e.simulator.ReturnHistory()
	result := Result{
		Points:       points,
		ReturnSeries: returns,
		Metrics:      calculateMetrics(points, returns, step),
		Trades:       e.simulator.TradeCount(),
		Flips:        e.simulator.FlipCount(),
		Gaps:         e.core.Gaps(),
		FinalEquity:  e.simulator.Equity(),
	}

	e.logger.Info("回测完成",
		zap.String("symbol", e.cfg.Symbol),
		zap.Int("bars", bars),
		zap.Int("trades", result.Trades),
		zap.Int("gaps", result.Gaps),
		zap.Float64("final_equity", result.FinalEquity),
		zap.Float64("total_return", result.Metrics.TotalReturn),
		zap.Float64("max_drawdown", result.Metrics.MaxDrawdown),
		zap.Float64("sharpe", result.Metrics.SharpeRatio),
	)

	return result, nil
}
