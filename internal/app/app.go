package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"crosstrader/internal/config"
	"crosstrader/internal/store"
)

// 运行模式。
const (
	ModeBacktest = "backtest"
	ModeLive     = "live"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	mode   string
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, mode string, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		mode:   mode,
		logger: logger,
		store:  store,
	}
}

// Run 按运行模式驱动回测或实盘主流程。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("mode", a.mode),
		zap.String("exchange", a.cfg.Exchange.Name),
		zap.Int("instruments", len(a.cfg.Instruments)),
	)

	switch a.mode {
	case ModeBacktest:
		return a.runBacktest(ctx)
	case ModeLive:
		orch, err := newOrchestrator(a.cfg, a.logger, a.store)
		if err != nil {
			return err
		}
		return orch.Run(ctx)
	default:
		return fmt.Errorf("app: 未知运行模式 %q，支持 %s 或 %s", a.mode, ModeBacktest, ModeLive)
	}
}
