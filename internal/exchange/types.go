package exchange

import (
	"fmt"
	"time"
)

// Candle 代表单根K线。
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// timeframeDurations 列出支持的K线周期。
var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// ParseTimeframe 将周期字符串转换为时长。
func ParseTimeframe(timeframe string) (time.Duration, error) {
	d, ok := timeframeDurations[timeframe]
	if !ok {
		return 0, fmt.Errorf("exchange: 不支持的K线周期 %q", timeframe)
	}
	return d, nil
}

// OrderAck 为交易所对一笔委托的回执。
type OrderAck struct {
	OrderID   string
	Status    string
	Filled    float64
	AvgPrice  float64
	Timestamp time.Time
}

// WindowRequest 描述一段历史K线的拉取参数。
type WindowRequest struct {
	Symbol    string
	Timeframe string
	Start     time.Time
	End       time.Time
}
