package strategy

import (
	"time"

	"crosstrader/internal/signal"
)

// Level 是回撤阈值到仓位系数的一行映射。
type Level struct {
	Drawdown float64
	Size     float64
}

// Config 为策略引擎构造参数。
type Config struct {
	SizeTable       []Level
	ReevalThreshold float64
	ReevalMode      string
	PeakWindow      int
	SharpeWindow    int
}

// Target 是策略对单根K线给出的目标仓位。
type Target struct {
	Timestamp time.Time
	Direction signal.Value
	Size      float64
}

// Signed 返回带符号的仓位系数，正多负空。
func (t Target) Signed() float64 {
	return t.Direction.Direction() * t.Size
}

// State 为策略内部状态快照，仅用于观测。
type State struct {
	ActiveSignal     int
	ActiveSignalName string
	LastReevaluation time.Time
	SignalSharpes    []float64
	PeakEquity       float64
	Equity           float64
	Drawdown         float64
}
