package monitor

import "time"

// EventType 表示监控事件类型。
type EventType string

const (
	EventDecision       EventType = "decision"
	EventOrder          EventType = "order"
	EventReconciliation EventType = "reconciliation"
	EventGap            EventType = "gap"
	EventStateChange    EventType = "state_change"
	EventError          EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// DecisionPayload 记录一次策略决策。
type DecisionPayload struct {
	Symbol       string    `json:"symbol"`
	CandleTime   time.Time `json:"candle_time"`
	Direction    string    `json:"direction"`
	SizeFraction float64   `json:"size_fraction"`
	Equity       float64   `json:"equity"`
	Drawdown     float64   `json:"drawdown"`
	ActiveSignal string    `json:"active_signal"`
}

// OrderPayload 记录一笔委托及其终态。
type OrderPayload struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Amount   float64 `json:"amount"`
	Delta    float64 `json:"delta"`
	Status   string  `json:"status"`
	OrderID  string  `json:"order_id,omitempty"`
	Attempts int     `json:"attempts,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// ReconciliationPayload 记录一次对账：本地置信仓位被交易所权威仓位覆盖。
type ReconciliationPayload struct {
	Symbol           string  `json:"symbol"`
	Reason           string  `json:"reason"`
	BelievedFraction float64 `json:"believed_fraction"`
	ExchangeFraction float64 `json:"exchange_fraction"`
	ExchangeLeverage int     `json:"exchange_leverage"`
	Equity           float64 `json:"equity"`
}

// GapPayload 记录K线缺口。
type GapPayload struct {
	Symbol      string    `json:"symbol"`
	CandleTime  time.Time `json:"candle_time"`
	MissingBars int       `json:"missing_bars"`
}

// StateChangePayload 记录执行器状态迁移。
type StateChangePayload struct {
	Symbol string `json:"symbol"`
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Symbol  string `json:"symbol,omitempty"`
	Message string `json:"message"`
	Error   string `json:"error"`
}
