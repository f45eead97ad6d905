package signal

import (
	"fmt"

	"crosstrader/internal/config"
	"crosstrader/internal/exchange"
)

// Value 表示信号方向。
type Value int

const (
	// Short 做空。
	Short Value = -1
	// Flat 空仓。
	Flat Value = 0
	// Long 做多。
	Long Value = 1
)

// String 返回方向的可读形式。
func (v Value) String() string {
	switch v {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "flat"
	}
}

// Direction 返回带符号的方向系数。
func (v Value) Direction() float64 {
	return float64(v)
}

// Generator 将K线序列转换为方向信号序列。
// Step 为流式推进；Series 对完整前缀批量求值，两者对同一前缀必须一致。
// Reset 后重放相同前缀必须复现相同输出。
type Generator interface {
	Name() string
	Warmup() int
	Step(candle exchange.Candle) Value
	Series(candles []exchange.Candle) []Value
	Reset()
}

// FromConfig 根据配置构造信号集合。
func FromConfig(cfgs []config.SignalConfig) ([]Generator, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("signal: 信号集合不能为空")
	}

	gens := make([]Generator, 0, len(cfgs))
	for i, sc := range cfgs {
		switch sc.Type {
		case "ma_cross":
			gen, err := NewMACross(sc.Fast, sc.Slow)
			if err != nil {
				return nil, fmt.Errorf("signal: 信号[%d]配置无效: %w", i, err)
			}
			gens = append(gens, gen)
		default:
			return nil, fmt.Errorf("signal: 未知的信号类型 %q", sc.Type)
		}
	}
	return gens, nil
}
