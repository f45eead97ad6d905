package position

import (
	"math"
	"time"

	"crosstrader/internal/signal"
)

// Position 描述单个标的的仓位。Fraction 为带符号的仓位系数
// （占本金比例，正多负空），实盘中同时存在两份：
// 期望仓位来自策略决策，置信仓位跟踪交易所实际持仓。
type Position struct {
	Symbol     string
	Fraction   float64
	Leverage   int
	EntryPrice float64
	Timestamp  time.Time
}

// Direction 返回仓位方向。
func (p Position) Direction() signal.Value {
	switch {
	case p.Fraction > 0:
		return signal.Long
	case p.Fraction < 0:
		return signal.Short
	default:
		return signal.Flat
	}
}

// Size 返回仓位系数的绝对值。
func (p Position) Size() float64 {
	return math.Abs(p.Fraction)
}

// Flat 判断是否空仓。
func (p Position) Flat() bool {
	return p.Fraction == 0
}

// AccountBalance 描述账户权益概况，仅用于对账观测，不参与仓位计算。
type AccountBalance struct {
	TotalEquity float64
	FreeUSD     float64
	Unrealized  float64
	Timestamp   time.Time
}

// Snapshot 是一次对账读取的完整结果：交易所权威仓位与账户概况。
type Snapshot struct {
	Position Position
	Balance  AccountBalance
}
