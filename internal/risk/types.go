package risk

import "time"

// DailyStatus 表示当日风控状态。
type DailyStatus struct {
	TradingDate   string
	StartEquity   float64
	CurrentEquity float64
	LossPercent   float64
	Halted        bool
}

// Verdict 是一次风控评估的结论。Tradable 为 false 时
// 执行器必须把目标仓位压为空仓，直到风控恢复。
type Verdict struct {
	Tradable bool
	Reason   string
	Daily    DailyStatus
	Checked  time.Time
}
