package backtest

import "time"

// Config 定义回测参数。
type Config struct {
	Symbol        string
	Timeframe     string
	InitialEquity float64
	Start         time.Time
	End           time.Time
}

func (c *Config) normalize() Config {
	cfg := *c
	if cfg.InitialEquity <= 0 {
		cfg.InitialEquity = 10000
	}
	if cfg.Timeframe == "" {
		cfg.Timeframe = "1h"
	}
	return cfg
}
