package indicator

import (
	talib "github.com/markcheno/go-talib"
)

// EMA 计算指数移动平均序列。结果与输入等长，
// 前 period-1 个位置处于预热期，值无意义；首个有效值位于
// 下标 period-1，为前 period 个输入的简单均值（SMA 种子），
// 其后按 k=2/(period+1) 递推。
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	return talib.Ema(values, period)
}
