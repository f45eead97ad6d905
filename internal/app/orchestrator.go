package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"crosstrader/internal/backtest"
	"crosstrader/internal/config"
	"crosstrader/internal/engine"
	"crosstrader/internal/exchange"
	"crosstrader/internal/execution"
	"crosstrader/internal/feed"
	"crosstrader/internal/monitor"
	"crosstrader/internal/position"
	"crosstrader/internal/risk"
	"crosstrader/internal/signal"
	"crosstrader/internal/store"
	"crosstrader/internal/strategy"
)

// 回测区间未显式配置时使用的默认回看时长。
const defaultBacktestLookback = 30 * 24 * time.Hour

type instrumentPipeline struct {
	inst     config.InstrumentConfig
	executor *execution.Executor
}

// orchestrator 为每个标的装配独立的决策执行管线，并以 errgroup
// 并发驱动；任一管线失败则整体退出。
type orchestrator struct {
	cfg       *config.Config
	feed      *feed.Client
	monitor   *monitor.Service
	pipelines []instrumentPipeline
	logger    *zap.Logger
}

func newOrchestrator(cfg *config.Config, logger *zap.Logger, st *store.Store) (*orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	exClient, err := exchange.NewClient(cfg.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化交易所客户端失败: %w", err)
	}
	marketSvc := exchange.NewMarketDataService(exClient, logger)
	feedClient := feed.NewClient(cfg.Feed, logger)

	monitorSvc, err := monitor.NewService(st, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	policy := exClient.Policy()

	pipelines := make([]instrumentPipeline, 0, len(cfg.Instruments))
	for _, inst := range cfg.Instruments {
		core, err := buildCore(cfg.Strategy, inst.Timeframe, logger)
		if err != nil {
			return nil, fmt.Errorf("构建决策核心失败 (%s): %w", inst.Symbol, err)
		}

		posMgr, err := position.NewManager(exClient.Raw(), inst.Symbol, inst.Capital, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化仓位管理失败 (%s): %w", inst.Symbol, err)
		}

		var guard *risk.Guard
		if cfg.Risk.EnableGuard || cfg.Risk.EnableDailyStopLoss {
			guard, err = risk.NewGuard(cfg.Risk, inst.Symbol, st, logger)
			if err != nil {
				return nil, fmt.Errorf("初始化风控失败 (%s): %w", inst.Symbol, err)
			}
		}

		executor, err := execution.NewExecutor(inst, cfg.Live, core, exClient, posMgr, marketSvc, policy, guard, monitorSvc, logger)
		if err != nil {
			return nil, fmt.Errorf("初始化执行器失败 (%s): %w", inst.Symbol, err)
		}

		pipelines = append(pipelines, instrumentPipeline{inst: inst, executor: executor})
	}

	return &orchestrator{
		cfg:       cfg,
		feed:      feedClient,
		monitor:   monitorSvc,
		pipelines: pipelines,
		logger:    logger,
	}, nil
}

// Run 并发驱动全部标的管线直到 ctx 取消或任一管线出错。
func (o *orchestrator) Run(ctx context.Context) error {
	if o.cfg.Monitor.Enabled {
		if err := startMonitorServer(ctx, o.monitor, o.cfg.Monitor.Listen, o.logger); err != nil {
			return err
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, p := range o.pipelines {
		group.Go(func() error {
			o.logger.Info("启动标的管线",
				zap.String("symbol", p.inst.Symbol),
				zap.String("timeframe", p.inst.Timeframe),
			)
			events, err := o.feed.Stream(groupCtx, p.inst.Symbol, p.inst.Timeframe)
			if err != nil {
				return fmt.Errorf("订阅行情推送失败 (%s): %w", p.inst.Symbol, err)
			}
			return p.executor.Run(groupCtx, events)
		})
	}
	return group.Wait()
}

// runBacktest 对每个标的独立回放历史K线并输出绩效摘要。
func (a *App) runBacktest(ctx context.Context) error {
	start, end := a.cfg.Backtest.Start, a.cfg.Backtest.End
	if start.IsZero() {
		end = time.Now().UTC().Truncate(time.Hour)
		start = end.Add(-defaultBacktestLookback)
	}

	// 交易所数据源先并行预取全部标的的回测区间，再逐标的回放
	var windows map[string][]exchange.Candle
	if a.cfg.Backtest.Source == "exchange" {
		client, err := exchange.NewClient(a.cfg.Exchange, a.logger)
		if err != nil {
			return fmt.Errorf("初始化交易所客户端失败: %w", err)
		}

		reqs := make([]exchange.WindowRequest, 0, len(a.cfg.Instruments))
		for _, inst := range a.cfg.Instruments {
			reqs = append(reqs, exchange.WindowRequest{
				Symbol:    inst.Symbol,
				Timeframe: inst.Timeframe,
				Start:     start,
				End:       end,
			})
		}
		windows, err = exchange.NewMarketDataService(client, a.logger).FetchWindows(ctx, reqs)
		if err != nil {
			return fmt.Errorf("预取回测K线失败: %w", err)
		}
	}

	for _, inst := range a.cfg.Instruments {
		core, err := buildCore(a.cfg.Strategy, inst.Timeframe, a.logger)
		if err != nil {
			return fmt.Errorf("构建决策核心失败 (%s): %w", inst.Symbol, err)
		}

		var provider backtest.CandleProvider
		switch a.cfg.Backtest.Source {
		case "csv":
			provider = backtest.NewCSVProvider(a.cfg.Backtest.CSVPath, start, end)
		case "exchange":
			provider = backtest.NewSliceProvider(windows[inst.Symbol])
		default:
			return fmt.Errorf("app: 未知回测数据来源 %q", a.cfg.Backtest.Source)
		}

		bt, err := backtest.NewEngine(backtest.Config{
			Symbol:        inst.Symbol,
			Timeframe:     inst.Timeframe,
			InitialEquity: inst.Capital,
			Start:         start,
			End:           end,
		}, core, provider, a.logger)
		if err != nil {
			return fmt.Errorf("初始化回测引擎失败 (%s): %w", inst.Symbol, err)
		}

		result, err := bt.Run(ctx)
		if err != nil {
			return fmt.Errorf("回测失败 (%s): %w", inst.Symbol, err)
		}

		a.logger.Info("回测完成",
			zap.String("symbol", inst.Symbol),
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Int("bars", len(result.Points)),
			zap.Int("gaps", result.Gaps),
			zap.Int("trades", result.Trades),
			zap.Int("flips", result.Flips),
			zap.Float64("final_equity", result.FinalEquity),
			zap.Float64("total_return", result.Metrics.TotalReturn),
			zap.Float64("max_drawdown", result.Metrics.MaxDrawdown),
			zap.Float64("sharpe", result.Metrics.SharpeRatio),
		)
	}
	return nil
}

// buildCore 根据策略配置装配信号集合、策略引擎与决策核心。
func buildCore(cfg config.StrategyConfig, timeframe string, logger *zap.Logger) (*engine.Core, error) {
	step, err := exchange.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	gens, err := signal.FromConfig(cfg.Signals)
	if err != nil {
		return nil, err
	}

	levels := make([]strategy.Level, 0, len(cfg.SizeTable))
	for _, row := range cfg.SizeTable {
		levels = append(levels, strategy.Level{Drawdown: row.Drawdown, Size: row.Size})
	}

	strat, err := strategy.NewEngine(gens, strategy.Config{
		SizeTable:       levels,
		ReevalThreshold: cfg.ReevalThreshold,
		ReevalMode:      cfg.ReevalMode,
		PeakWindow:      cfg.PeakWindow,
		SharpeWindow:    cfg.SharpeWindow,
	}, logger)
	if err != nil {
		return nil, err
	}

	return engine.NewCore(strat, step, logger)
}
