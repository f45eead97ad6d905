package risk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"crosstrader/internal/config"
	"crosstrader/internal/store"
)

// Guard 是净值保护器：回撤超过 halt 阈值后暂停交易，
// 回撤恢复到 resume 阈值以下才重新放行（滞回），避免在
// 阈值附近反复启停。可选叠加按日锚定的当日亏损限制。
type Guard struct {
	cfg     config.RiskConfig
	tracker *DailyTracker
	logger  *zap.Logger

	halted bool
}

// NewGuard 创建净值保护器。symbol 用于隔离各标的的日度锚点，
// 启用当日止损时 store 不能为空。
func NewGuard(cfg config.RiskConfig, symbol string, st *store.Store, logger *zap.Logger) (*Guard, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Guard{cfg: cfg, logger: logger}

	if cfg.EnableDailyStopLoss {
		if st == nil {
			return nil, errors.New("risk: 启用当日止损时 store 不能为空")
		}
		tracker, err := NewDailyTracker(st.DB(), symbol, cfg, logger)
		if err != nil {
			return nil, err
		}
		g.tracker = tracker
	}

	return g, nil
}

// Check 根据当前净值与回撤给出风控结论。
func (g *Guard) Check(ctx context.Context, ts time.Time, equity, drawdown float64) (Verdict, error) {
	verdict := Verdict{Tradable: true, Checked: ts}

	if g.tracker != nil {
		status, err := g.tracker.Update(ctx, ts, equity)
		if err != nil {
			return Verdict{}, err
		}
		verdict.Daily = status
		if status.Halted {
			verdict.Tradable = false
			verdict.Reason = fmt.Sprintf("当日亏损 %.2f%% 已触及上限", -status.LossPercent*100)
		}
	}

	if g.cfg.EnableGuard {
		switch {
		case !g.halted && drawdown >= g.cfg.HaltDrawdown:
			g.halted = true
			g.logger.Warn("回撤触发净值保护，暂停交易",
				zap.Float64("drawdown", drawdown),
				zap.Float64("halt_threshold", g.cfg.HaltDrawdown),
			)
		case g.halted && drawdown <= g.cfg.ResumeDrawdown:
			g.halted = false
			g.logger.Info("回撤恢复，净值保护解除",
				zap.Float64("drawdown", drawdown),
				zap.Float64("resume_threshold", g.cfg.ResumeDrawdown),
			)
		}
		if g.halted {
			verdict.Tradable = false
			if verdict.Reason == "" {
				verdict.Reason = fmt.Sprintf("回撤 %.2f%% 触发净值保护", drawdown*100)
			}
		}
	}

	return verdict, nil
}

// Halted 返回净值保护是否处于暂停状态。
func (g *Guard) Halted() bool {
	return g.halted
}
