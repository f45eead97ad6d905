package signal

import (
	"fmt"

	"crosstrader/internal/exchange"
	"crosstrader/internal/indicator"
)

// MACross 是双指数均线交叉信号。快线自下而上穿越慢线转多，
// 自上而下穿越转空，两线相等不构成穿越；均线未就绪前输出 Flat。
// 两条均线均以前 N 根收盘价的简单均值作种子，种子根自身不判定穿越。
type MACross struct {
	fast int
	slow int

	count    int
	fastSum  float64
	slowSum  float64
	fastEMA  float64
	slowEMA  float64
	prevDiff float64
	hasPrev  bool
	value    Value
}

// NewMACross 构造均线交叉信号，窗口非法时返回错误。
func NewMACross(fast, slow int) (*MACross, error) {
	if fast <= 0 || slow <= 0 {
		return nil, fmt.Errorf("均线窗口必须为正: fast=%d slow=%d", fast, slow)
	}
	if fast >= slow {
		return nil, fmt.Errorf("快线窗口必须小于慢线窗口: fast=%d slow=%d", fast, slow)
	}
	return &MACross{fast: fast, slow: slow}, nil
}

// Name 返回信号名称。
func (m *MACross) Name() string {
	return fmt.Sprintf("ma_cross_%d_%d", m.fast, m.slow)
}

// Warmup 返回信号就绪所需的最少K线数。
func (m *MACross) Warmup() int {
	return m.slow
}

// Step 推进一根K线并返回当前信号。
func (m *MACross) Step(candle exchange.Candle) Value {
	price := candle.Close
	m.count++

	switch {
	case m.count < m.fast:
		m.fastSum += price
	case m.count == m.fast:
		m.fastSum += price
		m.fastEMA = m.fastSum / float64(m.fast)
	default:
		k := 2.0 / float64(m.fast+1)
		m.fastEMA += k * (price - m.fastEMA)
	}

	switch {
	case m.count < m.slow:
		m.slowSum += price
	case m.count == m.slow:
		m.slowSum += price
		m.slowEMA = m.slowSum / float64(m.slow)
	default:
		k := 2.0 / float64(m.slow+1)
		m.slowEMA += k * (price - m.slowEMA)
	}

	if m.count < m.slow {
		return m.value
	}

	diff := m.fastEMA - m.slowEMA
	if m.hasPrev {
		if m.prevDiff <= 0 && diff > 0 {
			m.value = Long
		} else if m.prevDiff >= 0 && diff < 0 {
			m.value = Short
		}
	}
	m.prevDiff = diff
	m.hasPrev = true

	return m.value
}

// Series 对完整K线前缀批量求值，输出与输入等长，预热期为 Flat。
func (m *MACross) Series(candles []exchange.Candle) []Value {
	series := indicator.NewSeries(candles)
	out := make([]Value, series.Len())
	if series.Len() < m.slow {
		return out
	}

	fastEMA := indicator.EMA(series.Close, m.fast)
	slowEMA := indicator.EMA(series.Close, m.slow)

	value := Flat
	for i := m.slow; i < series.Len(); i++ {
		prevDiff := fastEMA[i-1] - slowEMA[i-1]
		diff := fastEMA[i] - slowEMA[i]
		if prevDiff <= 0 && diff > 0 {
			value = Long
		} else if prevDiff >= 0 && diff < 0 {
			value = Short
		}
		out[i] = value
	}
	return out
}

// Reset 清空内部状态，重放相同前缀将复现相同输出。
func (m *MACross) Reset() {
	m.count = 0
	m.fastSum = 0
	m.slowSum = 0
	m.fastEMA = 0
	m.slowEMA = 0
	m.prevDiff = 0
	m.hasPrev = false
	m.value = Flat
}
