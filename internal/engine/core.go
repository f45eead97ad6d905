package engine

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crosstrader/internal/exchange"
	"crosstrader/internal/signal"
	"crosstrader/internal/strategy"
)

// ErrOutOfOrder 表示K线时间戳未严格递增，该K线不会被处理。
var ErrOutOfOrder = errors.New("engine: K线时间戳乱序")

// Decision 是决策核心对单根K线的输出。
// GapBars 为该K线与前一根之间缺失的K线数，0表示连续；
// 缺口只上报，不插值，滚动统计跨缺口照常推进一步。
type Decision struct {
	Timestamp time.Time
	Direction signal.Value
	Size      float64
	GapBars   int
}

// Signed 返回带符号的目标仓位系数，正多负空。
func (d Decision) Signed() float64 {
	return d.Direction.Direction() * d.Size
}

// Core 是回测与实盘共用的流式决策核心。只决策，不做任何I/O；
// 调用方必须按时间严格递增逐根喂入K线，乱序与重复被拒绝。
type Core struct {
	strat  *strategy.Engine
	step   time.Duration
	logger *zap.Logger

	last time.Time
	gaps int
}

// NewCore 构造决策核心。step 为K线周期，用于缺口检测。
func NewCore(strat *strategy.Engine, step time.Duration, logger *zap.Logger) (*Core, error) {
	if strat == nil {
		return nil, errors.New("engine: 策略引擎不能为空")
	}
	if step <= 0 {
		return nil, fmt.Errorf("engine: K线周期 %v 必须为正", step)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Core{
		strat:  strat,
		step:   step,
		logger: logger,
	}, nil
}

// Advance 处理一根K线并返回决策。相同输入前缀总是产生相同输出。
func (c *Core) Advance(candle exchange.Candle) (Decision, error) {
	ts := candle.Timestamp
	if !c.last.IsZero() && !ts.After(c.last) {
		return Decision{}, fmt.Errorf("%w: last=%s current=%s",
			ErrOutOfOrder, c.last.Format(time.RFC3339), ts.Format(time.RFC3339))
	}

	gapBars := 0
	if !c.last.IsZero() {
		if missing := int(ts.Sub(c.last)/c.step) - 1; missing > 0 {
			gapBars = missing
			c.gaps += missing
			c.logger.Warn("检测到K线缺口",
				zap.Time("last", c.last),
				zap.Time("current", ts),
				zap.Int("missing", missing),
			)
		}
	}

	target := c.strat.Update(candle)
	c.last = ts

	return Decision{
		Timestamp: target.Timestamp,
		Direction: target.Direction,
		Size:      target.Size,
		GapBars:   gapBars,
	}, nil
}

// Replay 按序处理一段K线前缀，常用于预热与回放。
func (c *Core) Replay(candles []exchange.Candle) ([]Decision, error) {
	out := make([]Decision, 0, len(candles))
	for _, candle := range candles {
		decision, err := c.Advance(candle)
		if err != nil {
			return out, err
		}
		out = append(out, decision)
	}
	return out, nil
}

// State 返回策略内部状态快照。
func (c *Core) State() strategy.State {
	return c.strat.State()
}

// WarmupBars 返回所有信号就绪所需的最少K线数。
func (c *Core) WarmupBars() int {
	return c.strat.Warmup()
}

// Gaps 返回累计检测到的缺失K线数。
func (c *Core) Gaps() int {
	return c.gaps
}

// LastTimestamp 返回最近一根已处理K线的时间戳。
func (c *Core) LastTimestamp() time.Time {
	return c.last
}

// Reset 清空核心与策略的全部滚动状态。
func (c *Core) Reset() {
	c.strat.Reset()
	c.last = time.Time{}
	c.gaps = 0
}
