package backtest

import (
	"math"
	"time"
)

// Metrics 记录回测绩效指标。
type Metrics struct {
	TotalReturn float64
	MaxDrawdown float64
	SharpeRatio float64
}

func calculateMetrics(points []EquityPoint, returns []float64, step time.Duration) Metrics {
	if len(points) == 0 {
		return Metrics{}
	}

	initial := points[0].Equity
	final := points[len(points)-1].Equity
	totalReturn := 0.0
	if initial > 0 {
		totalReturn = final/initial - 1
	}

	return Metrics{
		TotalReturn: totalReturn,
		MaxDrawdown: computeMaxDrawdown(points),
		SharpeRatio: computeSharpe(returns, step),
	}
}

func computeMaxDrawdown(points []EquityPoint) float64 {
	maxDD := 0.0
	for _, p := range points {
		if p.Drawdown > maxDD {
			maxDD = p.Drawdown
		}
	}
	return maxDD
}

// computeSharpe 计算年化夏普比率，年化系数由K线周期推得。
func computeSharpe(returns []float64, step time.Duration) float64 {
	if len(returns) == 0 || step <= 0 {
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
	if len(returns) > 1 {
		variance /= float64(len(returns) - 1)
	}

	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	periodsPerYear := float64(365*24*time.Hour) / float64(step)
	return (mean / std) * math.Sqrt(periodsPerYear)
}
