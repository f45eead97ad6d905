package backtest

import (
	"math"
	"time"
)

// EquityPoint 是净值曲线上的一个点。Peak 为截至当前的历史峰值，
// Drawdown = (Peak-Equity)/Peak，创新高时恰好为0。
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
	Peak      float64
	Drawdown  float64
}

// Simulator 按目标仓位模拟账户净值变化。成交价固定取决策K线的收盘价：
// 先以最新收盘价结转上一仓位的盈亏，再切换到新仓位。
type Simulator struct {
	initialEquity float64
	equity        float64
	exposure      float64
	lastPrice     float64
	peak          float64

	points        []EquityPoint
	returnHistory []float64
	tradeCount    int
	flipCount     int
}

// NewSimulator 创建模拟器。
func NewSimulator(initialEquity float64) *Simulator {
	if initialEquity <= 0 {
		initialEquity = 10000
	}
	return &Simulator{
		initialEquity: initialEquity,
		equity:        initialEquity,
		peak:          initialEquity,
	}
}

// Advance 以最新收盘价结转当前仓位的盈亏并记录净值点。
func (s *Simulator) Advance(price float64, ts time.Time) {
	if price <= 0 {
		return
	}
	if s.lastPrice > 0 {
		ret := price/s.lastPrice - 1
		prevEquity := s.equity
		pnl := prevEquity * s.exposure * ret
		s.equity = prevEquity + pnl
		// 单根行情亏穿本金时按爆仓封底，回撤不超过1
		if s.equity < 0 {
			s.equity = 0
		}
		if prevEquity != 0 {
			s.returnHistory = append(s.returnHistory, pnl/prevEquity)
		}
	}
	s.lastPrice = price

	if s.equity > s.peak {
		s.peak = s.equity
	}
	drawdown := 0.0
	if s.peak > 0 {
		drawdown = (s.peak - s.equity) / s.peak
	}
	if drawdown < 0 {
		drawdown = 0
	}

	s.points = append(s.points, EquityPoint{
		Timestamp: ts,
		Equity:    s.equity,
		Peak:      s.peak,
		Drawdown:  drawdown,
	})
}

// AdjustExposure 在当前收盘价下切换到目标仓位。
func (s *Simulator) AdjustExposure(target float64) {
	if math.Abs(target-s.exposure) < 1e-9 {
		return
	}
	s.tradeCount++
	if s.exposure != 0 && target != 0 && (s.exposure > 0) != (target > 0) {
		s.flipCount++
	}
	s.exposure = target
}

// Equity 返回当前净值。
func (s *Simulator) Equity() float64 {
	return s.equity
}

// Exposure 返回当前仓位系数。
func (s *Simulator) Exposure() float64 {
	return s.exposure
}

// TradeCount 返回仓位调整次数。
func (s *Simulator) TradeCount() int {
	return s.tradeCount
}

// FlipCount 返回多空反转次数。
func (s *Simulator) FlipCount() int {
	return s.flipCount
}

// Points 返回净值曲线的副本。
func (s *Simulator) Points() []EquityPoint {
	return append([]EquityPoint(nil), s.points...)
}

// ReturnHistory 返回逐根收益序列的副本。
func (s *Simulator) ReturnHistory() []float64 {
	return append([]float64(nil), s.returnHistory...)
}
