package strategy

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"crosstrader/internal/config"
	"crosstrader/internal/exchange"
	"crosstrader/internal/indicator"
	"crosstrader/internal/signal"
)

// Engine 是回撤感知的多信号选择器。每根K线依次完成：
// 按上一目标结转净值、推进全部信号、更新滚动峰值与回撤、
// 按触发策略重估各信号的滚动夏普并选择最优、查表得出仓位系数。
type Engine struct {
	gens   []signal.Generator
	cfg    Config
	logger *zap.Logger

	equity   float64
	window   []float64
	peak     float64
	drawdown float64

	active     int
	lastReeval time.Time
	armed      bool
	sharpes    []float64

	values     []signal.Value
	prevValues []signal.Value
	sigReturns [][]float64

	prevClose  float64
	prevSigned float64
	started    bool
}

// NewEngine 构造策略引擎，配置非法时返回错误。
func NewEngine(gens []signal.Generator, cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(gens) == 0 {
		return nil, fmt.Errorf("strategy: 信号集合不能为空")
	}
	if len(cfg.SizeTable) == 0 {
		return nil, fmt.Errorf("strategy: 仓位表不能为空")
	}
	for i, lv := range cfg.SizeTable {
		if lv.Drawdown < 0 || lv.Drawdown >= 1 {
			return nil, fmt.Errorf("strategy: 仓位表[%d]回撤阈值 %.4f 越界", i, lv.Drawdown)
		}
		if lv.Size < 0 || lv.Size > 1 {
			return nil, fmt.Errorf("strategy: 仓位表[%d]仓位系数 %.4f 越界", i, lv.Size)
		}
		if i > 0 && lv.Drawdown <= cfg.SizeTable[i-1].Drawdown {
			return nil, fmt.Errorf("strategy: 仓位表回撤阈值必须严格递增")
		}
	}
	if cfg.ReevalThreshold <= 0 || cfg.ReevalThreshold >= 1 {
		return nil, fmt.Errorf("strategy: 重估阈值 %.4f 必须位于(0,1)", cfg.ReevalThreshold)
	}
	if cfg.ReevalMode != config.ReevalModeOnCross && cfg.ReevalMode != config.ReevalModeWhileAbove {
		return nil, fmt.Errorf("strategy: 未知的重估模式 %q", cfg.ReevalMode)
	}
	if cfg.PeakWindow <= 1 {
		return nil, fmt.Errorf("strategy: 峰值窗口 %d 必须大于1", cfg.PeakWindow)
	}
	if cfg.SharpeWindow <= 1 {
		return nil, fmt.Errorf("strategy: 夏普窗口 %d 必须大于1", cfg.SharpeWindow)
	}

	e := &Engine{
		gens:       gens,
		cfg:        cfg,
		logger:     logger,
		equity:     1.0,
		peak:       1.0,
		armed:      true,
		sharpes:    make([]float64, len(gens)),
		values:     make([]signal.Value, len(gens)),
		prevValues: make([]signal.Value, len(gens)),
		sigReturns: make([][]float64, len(gens)),
	}
	return e, nil
}

// Update 处理一根K线并返回目标仓位。调用方必须保证K线时间严格递增。
func (e *Engine) Update(candle exchange.Candle) Target {
	price := candle.Close

	if e.started && e.prevClose > 0 && price > 0 {
		ret := price/e.prevClose - 1
		e.equity *= 1 + e.prevSigned*ret
		// 满仓反向遇到超过100%的单根行情会把净值打穿0，按爆仓封底，
		// 保证回撤不超过1
		if e.equity < 0 {
			e.equity = 0
		}
		for i := range e.gens {
			e.pushSignalReturn(i, e.prevValues[i].Direction()*ret)
		}
	}

	for i, gen := range e.gens {
		e.values[i] = gen.Step(candle)
	}

	e.pushEquity(e.equity)
	e.maybeReevaluate(candle.Timestamp)

	target := Target{
		Timestamp: candle.Timestamp,
		Direction: e.values[e.active],
		Size:      e.sizeFor(e.drawdown),
	}

	copy(e.prevValues, e.values)
	e.prevClose = price
	e.prevSigned = target.Signed()
	e.started = true

	return target
}

// State 返回内部状态快照。
func (e *Engine) State() State {
	return State{
		ActiveSignal:     e.active,
		ActiveSignalName: e.gens[e.active].Name(),
		LastReevaluation: e.lastReeval,
		SignalSharpes:    append([]float64(nil), e.sharpes...),
		PeakEquity:       e.peak,
		Equity:           e.equity,
		Drawdown:         e.drawdown,
	}
}

// Warmup 返回所有信号就绪所需的最大K线数。
func (e *Engine) Warmup() int {
	max := 0
	for _, gen := range e.gens {
		if w := gen.Warmup(); w > max {
			max = w
		}
	}
	return max
}

// Reset 清空全部滚动状态与信号状态。
func (e *Engine) Reset() {
	for _, gen := range e.gens {
		gen.Reset()
	}
	e.equity = 1.0
	e.window = e.window[:0]
	e.peak = 1.0
	e.drawdown = 0
	e.active = 0
	e.lastReeval = time.Time{}
	e.armed = true
	for i := range e.gens {
		e.sharpes[i] = 0
		e.values[i] = signal.Flat
		e.prevValues[i] = signal.Flat
		e.sigReturns[i] = e.sigReturns[i][:0]
	}
	e.prevClose = 0
	e.prevSigned = 0
	e.started = false
}

func (e *Engine) pushEquity(equity float64) {
	if len(e.window) == e.cfg.PeakWindow {
		copy(e.window, e.window[1:])
		e.window = e.window[:len(e.window)-1]
	}
	e.window = append(e.window, equity)

	peak := e.window[0]
	for _, v := range e.window[1:] {
		if v > peak {
			peak = v
		}
	}
	e.peak = peak
	if peak > 0 {
		e.drawdown = (peak - equity) / peak
	} else {
		e.drawdown = 0
	}
	if e.drawdown < 0 {
		e.drawdown = 0
	}
}

func (e *Engine) pushSignalReturn(idx int, ret float64) {
	win := e.sigReturns[idx]
	if len(win) == e.cfg.SharpeWindow {
		copy(win, win[1:])
		win = win[:len(win)-1]
	}
	e.sigReturns[idx] = append(win, ret)
}

func (e *Engine) maybeReevaluate(ts time.Time) {
	trigger := false
	switch e.cfg.ReevalMode {
	case config.ReevalModeWhileAbove:
		trigger = e.drawdown >= e.cfg.ReevalThreshold
	default:
		if e.armed && e.drawdown >= e.cfg.ReevalThreshold {
			trigger = true
			e.armed = false
		} else if !e.armed && e.drawdown < e.cfg.ReevalThreshold {
			e.armed = true
		}
	}
	if !trigger {
		return
	}

	for i := range e.gens {
		e.sharpes[i] = rollingSharpe(e.sigReturns[i])
	}

	best := 0
	bestSharpe := e.sharpes[0]
	for i := 1; i < len(e.sharpes); i++ {
		if e.sharpes[i] > bestSharpe {
			best = i
			bestSharpe = e.sharpes[i]
		}
	}
	// 当前信号与最优并列时保持不变
	if e.sharpes[e.active] == bestSharpe {
		best = e.active
	}

	if best != e.active {
		e.logger.Info("回撤触发信号切换",
			zap.String("from", e.gens[e.active].Name()),
			zap.String("to", e.gens[best].Name()),
			zap.Float64("drawdown", e.drawdown),
			zap.Float64s("sharpes", e.sharpes),
		)
	}
	e.active = best
	e.lastReeval = ts
}

func (e *Engine) sizeFor(drawdown float64) float64 {
	table := e.cfg.SizeTable
	for i := len(table) - 1; i >= 0; i-- {
		if table[i].Drawdown <= drawdown {
			return table[i].Size
		}
	}
	return table[0].Size
}

// rollingSharpe 返回窗口内收益的均值/标准差之比。
// 仅用于信号排序，不做年化；标准差为0时按0处理。
func rollingSharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		diff := r - mean
		variance += diff * diff
	}
	variance /= float64(len(returns) - 1)

	return indicator.SafeDivide(mean, math.Sqrt(variance))
}
