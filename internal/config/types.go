package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Exchange    ExchangeConfig     `mapstructure:"exchange"`
	Feed        FeedConfig         `mapstructure:"feed"`
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Strategy    StrategyConfig     `mapstructure:"strategy"`
	Backtest    BacktestConfig     `mapstructure:"backtest"`
	Live        LiveConfig         `mapstructure:"live"`
	Risk        RiskConfig         `mapstructure:"risk"`
	Database    DatabaseConfig     `mapstructure:"database"`
	Logging     LoggingConfig      `mapstructure:"logging"`
	Monitor     MonitorConfig      `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// FeedConfig 描述实时K线推送通道。
type FeedConfig struct {
	URL            string        `mapstructure:"url"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	ReconnectMin   time.Duration `mapstructure:"reconnect_min_delay"`
	ReconnectMax   time.Duration `mapstructure:"reconnect_max_delay"`
	SubscribeAckMs int           `mapstructure:"subscribe_ack_timeout_ms"`
}

// InstrumentConfig 描述单个交易标的。
type InstrumentConfig struct {
	Symbol    string  `mapstructure:"symbol"`
	Timeframe string  `mapstructure:"timeframe"`
	Leverage  int     `mapstructure:"leverage"`
	Capital   float64 `mapstructure:"capital"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// SignalConfig 描述一个信号变体及其窗口参数。
type SignalConfig struct {
	Type string `mapstructure:"type"`
	Fast int    `mapstructure:"fast"`
	Slow int    `mapstructure:"slow"`
}

// SizeLevelConfig 是回撤阈值到仓位系数的一行映射。
type SizeLevelConfig struct {
	Drawdown float64 `mapstructure:"drawdown"`
	Size     float64 `mapstructure:"size"`
}

// StrategyConfig 管理信号集合与回撤缩放策略。
type StrategyConfig struct {
	Signals         []SignalConfig    `mapstructure:"signals"`
	SizeTable       []SizeLevelConfig `mapstructure:"size_table"`
	ReevalThreshold float64           `mapstructure:"reeval_threshold"`
	ReevalMode      string            `mapstructure:"reeval_mode"`
	PeakWindow      int               `mapstructure:"peak_window"`
	SharpeWindow    int               `mapstructure:"sharpe_window"`
}

// BacktestConfig 控制历史回放区间与数据来源。
type BacktestConfig struct {
	Source  string    `mapstructure:"source"`
	CSVPath string    `mapstructure:"csv_path"`
	Start   time.Time `mapstructure:"start"`
	End     time.Time `mapstructure:"end"`
}

// LiveConfig 控制实盘执行行为。
type LiveConfig struct {
	Preload           time.Duration `mapstructure:"preload"`
	MinOrderDelta     float64       `mapstructure:"min_order_delta"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
}

// RiskConfig 管理净值保护参数。
type RiskConfig struct {
	EnableGuard         bool    `mapstructure:"enable_guard"`
	HaltDrawdown        float64 `mapstructure:"halt_drawdown"`
	ResumeDrawdown      float64 `mapstructure:"resume_drawdown"`
	MaxDailyLoss        float64 `mapstructure:"max_daily_loss"`
	DailyLossResetHour  int     `mapstructure:"daily_loss_reset_hour"`
	EnableDailyStopLoss bool    `mapstructure:"enable_daily_stop_loss"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// MonitorConfig 控制事件日志对外查询端口。
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// ReevalMode 的合法取值。
const (
	ReevalModeOnCross    = "on_cross"
	ReevalModeWhileAbove = "while_above"
)

func validateRetry(prefix string, rc RetryConfig) error {
	var err error
	if rc.MaxAttempts <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.max_attempts 必须大于0", prefix))
	}
	if rc.MinDelay <= 0 || rc.MaxDelay <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.delay 必须为正", prefix))
	}
	if rc.MinDelay > rc.MaxDelay {
		err = multierr.Append(err, fmt.Errorf("%s.min_delay 不能大于 max_delay", prefix))
	}
	return err
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	err = multierr.Append(err, validateRetry("exchange.retry", c.Exchange.Retry))

	if c.Feed.URL == "" {
		err = multierr.Append(err, errors.New("feed.url 不能为空"))
	}
	if c.Feed.PingInterval <= 0 {
		err = multierr.Append(err, errors.New("feed.ping_interval 必须大于0"))
	}
	if c.Feed.ReadTimeout <= c.Feed.PingInterval {
		err = multierr.Append(err, errors.New("feed.read_timeout 必须大于 ping_interval"))
	}
	if c.Feed.ReconnectMin <= 0 || c.Feed.ReconnectMax <= 0 {
		err = multierr.Append(err, errors.New("feed.reconnect delay 必须为正"))
	}
	if c.Feed.ReconnectMin > c.Feed.ReconnectMax {
		err = multierr.Append(err, errors.New("feed.reconnect_min_delay 不能大于 reconnect_max_delay"))
	}

	if len(c.Instruments) == 0 {
		err = multierr.Append(err, errors.New("instruments 至少配置一个标的"))
	}
	seen := make(map[string]bool, len(c.Instruments))
	for i, inst := range c.Instruments {
		if inst.Symbol == "" {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].symbol 不能为空", i))
		}
		if seen[inst.Symbol] {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].symbol %q 重复", i, inst.Symbol))
		}
		seen[inst.Symbol] = true
		if inst.Timeframe == "" {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].timeframe 不能为空", i))
		}
		if inst.Leverage < 1 {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].leverage 必须不小于1", i))
		}
		if inst.Capital <= 0 {
			err = multierr.Append(err, fmt.Errorf("instruments[%d].capital 必须大于0", i))
		}
	}

	if len(c.Strategy.Signals) == 0 {
		err = multierr.Append(err, errors.New("strategy.signals 至少配置一个信号"))
	}
	for i, sig := range c.Strategy.Signals {
		if sig.Type == "" {
			err = multierr.Append(err, fmt.Errorf("strategy.signals[%d].type 不能为空", i))
		}
		if sig.Fast <= 0 || sig.Slow <= 0 {
			err = multierr.Append(err, fmt.Errorf("strategy.signals[%d] 窗口长度必须为正", i))
		}
		if sig.Fast >= sig.Slow {
			err = multierr.Append(err, fmt.Errorf("strategy.signals[%d].fast 必须小于 slow", i))
		}
	}
	if len(c.Strategy.SizeTable) == 0 {
		err = multierr.Append(err, errors.New("strategy.size_table 至少配置一行"))
	}
	for i, lv := range c.Strategy.SizeTable {
		if lv.Drawdown < 0 || lv.Drawdown >= 1 {
			err = multierr.Append(err, fmt.Errorf("strategy.size_table[%d].drawdown 必须位于[0,1)", i))
		}
		if lv.Size < 0 || lv.Size > 1 {
			err = multierr.Append(err, fmt.Errorf("strategy.size_table[%d].size 必须位于[0,1]", i))
		}
		if i > 0 && lv.Drawdown <= c.Strategy.SizeTable[i-1].Drawdown {
			err = multierr.Append(err, fmt.Errorf("strategy.size_table[%d].drawdown 必须严格递增", i))
		}
	}
	if c.Strategy.ReevalThreshold <= 0 || c.Strategy.ReevalThreshold >= 1 {
		err = multierr.Append(err, errors.New("strategy.reeval_threshold 必须位于(0,1)"))
	}
	if c.Strategy.ReevalMode != ReevalModeOnCross && c.Strategy.ReevalMode != ReevalModeWhileAbove {
		err = multierr.Append(err, fmt.Errorf("strategy.reeval_mode 必须为 %s 或 %s", ReevalModeOnCross, ReevalModeWhileAbove))
	}
	if c.Strategy.PeakWindow <= 1 {
		err = multierr.Append(err, errors.New("strategy.peak_window 必须大于1"))
	}
	if c.Strategy.SharpeWindow <= 1 {
		err = multierr.Append(err, errors.New("strategy.sharpe_window 必须大于1"))
	}

	if c.Backtest.Source != "exchange" && c.Backtest.Source != "csv" {
		err = multierr.Append(err, errors.New("backtest.source 必须为 exchange 或 csv"))
	}
	if c.Backtest.Source == "csv" && c.Backtest.CSVPath == "" {
		err = multierr.Append(err, errors.New("backtest.csv_path 不能为空"))
	}
	if !c.Backtest.Start.IsZero() || !c.Backtest.End.IsZero() {
		if c.Backtest.Start.IsZero() || c.Backtest.End.IsZero() {
			err = multierr.Append(err, errors.New("backtest.start 与 end 必须同时配置"))
		} else if !c.Backtest.Start.Before(c.Backtest.End) {
			err = multierr.Append(err, errors.New("backtest.start 必须早于 end"))
		}
	}

	if c.Live.Preload <= 0 {
		err = multierr.Append(err, errors.New("live.preload 必须大于0"))
	}
	if c.Live.MinOrderDelta < 0 || c.Live.MinOrderDelta >= 1 {
		err = multierr.Append(err, errors.New("live.min_order_delta 必须位于[0,1)"))
	}
	if c.Live.ReconcileInterval <= 0 {
		err = multierr.Append(err, errors.New("live.reconcile_interval 必须大于0"))
	}

	if c.Risk.EnableGuard {
		if c.Risk.HaltDrawdown <= 0 || c.Risk.HaltDrawdown > 1 {
			err = multierr.Append(err, errors.New("risk.halt_drawdown 必须位于(0,1]"))
		}
		if c.Risk.ResumeDrawdown < 0 || c.Risk.ResumeDrawdown >= c.Risk.HaltDrawdown {
			err = multierr.Append(err, errors.New("risk.resume_drawdown 必须小于 halt_drawdown 且不为负"))
		}
	}
	if c.Risk.EnableDailyStopLoss {
		if c.Risk.MaxDailyLoss <= 0 || c.Risk.MaxDailyLoss > 1 {
			err = multierr.Append(err, errors.New("risk.max_daily_loss 必须位于(0,1]"))
		}
		if c.Risk.DailyLossResetHour < 0 || c.Risk.DailyLossResetHour > 23 {
			err = multierr.Append(err, errors.New("risk.daily_loss_reset_hour 必须位于[0,23]"))
		}
	}

	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}

	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if c.Monitor.Enabled && c.Monitor.Listen == "" {
		err = multierr.Append(err, errors.New("monitor.listen 不能为空"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
