package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"crosstrader/internal/config"
	"crosstrader/internal/engine"
	"crosstrader/internal/exchange"
	"crosstrader/internal/feed"
	"crosstrader/internal/monitor"
	"crosstrader/internal/position"
	"crosstrader/internal/retry"
	"crosstrader/internal/risk"
	"crosstrader/internal/signal"
)

var (
	_ Gateway    = (*exchange.Client)(nil)
	_ Preloader  = (*exchange.MarketDataService)(nil)
	_ Reconciler = (*position.Manager)(nil)
)

// Executor 驱动单个标的的实盘执行状态机：
// Warming（预热，不下单）→ Active（正常决策）→ Submitting（委托在途，
// 同标的单飞）→ Reconciling（以交易所权威仓位覆盖本地置信仓位）。
// 委托在途期间到达的K线照常推进滚动统计，但新决策被挂起，
// 只保留最新一个，待在途委托到达终态后再执行；断线重连后
// 必须先重新预热再对账，绝不信任中断前的本地仓位记录。
type Executor struct {
	inst   config.InstrumentConfig
	live   config.LiveConfig
	core   *engine.Core
	gate   Gateway
	recon  Reconciler
	loader Preloader
	policy retry.Policy
	guard  *risk.Guard
	events *monitor.Service
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	state      State
	believed   position.Position
	lastCandle time.Time

	lastClose float64
	pending   *OrderRequest
	deferred  *engine.Decision
	results   chan OrderResult
}

// NewExecutor 创建实盘执行器。guard 与 events 可为 nil。
func NewExecutor(
	inst config.InstrumentConfig,
	live config.LiveConfig,
	core *engine.Core,
	gate Gateway,
	recon Reconciler,
	loader Preloader,
	policy retry.Policy,
	guard *risk.Guard,
	events *monitor.Service,
	logger *zap.Logger,
) (*Executor, error) {
	if core == nil {
		return nil, errors.New("execution: 决策核心不能为空")
	}
	if gate == nil {
		return nil, errors.New("execution: 交易所网关不能为空")
	}
	if recon == nil {
		return nil, errors.New("execution: 对账读取器不能为空")
	}
	if loader == nil {
		return nil, errors.New("execution: 预热数据源不能为空")
	}
	if inst.Symbol == "" || inst.Capital <= 0 || inst.Leverage < 1 {
		return nil, fmt.Errorf("execution: 标的配置无效: %+v", inst)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Executor{
		inst:   inst,
		live:   live,
		core:   core,
		gate:   gate,
		recon:  recon,
		loader: loader,
		policy: policy,
		guard:  guard,
		events: events,
		logger: logger.With(zap.String("symbol", inst.Symbol)),
		now:    time.Now,
		state:  StateWarming,
		believed: position.Position{
			Symbol: inst.Symbol,
		},
		results: make(chan OrderResult, 1),
	}, nil
}

// State 返回当前状态。
func (e *Executor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Believed 返回当前置信仓位的副本。
func (e *Executor) Believed() position.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.believed
}

// LastCandleTime 返回最近一根被接受的K线时间戳。
func (e *Executor) LastCandleTime() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCandle
}

func (e *Executor) setState(to State, reason string) {
	e.mu.Lock()
	from := e.state
	e.state = to
	e.mu.Unlock()

	if from == to {
		return
	}
	e.logger.Info("执行器状态迁移",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason),
	)
	if e.events != nil {
		e.events.RecordStateChange(context.Background(), monitor.StateChangePayload{
			Symbol: e.inst.Symbol,
			From:   string(from),
			To:     string(to),
			Reason: reason,
		})
	}
}

func (e *Executor) setBelieved(pos position.Position) {
	e.mu.Lock()
	e.believed = pos
	e.mu.Unlock()
}

// Run 驱动执行器直到 ctx 取消或推送通道关闭。
func (e *Executor) Run(ctx context.Context, events <-chan feed.Event) error {
	if err := e.warmup(ctx); err != nil {
		return err
	}
	if err := e.resync(ctx, "startup"); err != nil {
		return err
	}
	e.setState(StateActive, "startup")

	reconTicker := time.NewTicker(e.live.ReconcileInterval)
	defer reconTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				e.logger.Info("推送通道关闭，执行器退出")
				return nil
			}
			switch ev.Kind {
			case feed.KindCandle:
				e.onCandle(ctx, ev.Candle)
			case feed.KindDisconnect:
				e.onDisconnect()
			case feed.KindResume:
				if err := e.onResume(ctx); err != nil {
					return err
				}
			}

		case result := <-e.results:
			e.onOrderResult(ctx, result)

		case <-reconTicker.C:
			if e.pending == nil {
				if err := e.resync(ctx, "periodic"); err != nil {
					e.logger.Error("周期对账失败，暂停下单直至对账成功", zap.Error(err))
				} else {
					e.setState(StateActive, "periodic_reconcile")
				}
			}
		}
	}
}

// warmup 拉取最近 preload 时长的历史K线并回放决策核心，不下单。
func (e *Executor) warmup(ctx context.Context) error {
	e.setState(StateWarming, "preload")

	candles, err := e.loader.PreloadWindow(ctx, e.inst.Symbol, e.inst.Timeframe, e.live.Preload, e.now())
	if err != nil {
		return fmt.Errorf("execution: 预热拉取历史K线失败: %w", err)
	}
	if _, err := e.core.Replay(candles); err != nil {
		return fmt.Errorf("execution: 预热回放失败: %w", err)
	}
	if len(candles) > 0 {
		e.lastClose = candles[len(candles)-1].Close
	}
	if len(candles) < e.core.WarmupBars() {
		e.logger.Warn("预热K线不足，信号尚未就绪",
			zap.Int("got", len(candles)),
			zap.Int("need", e.core.WarmupBars()),
		)
	}

	e.logger.Info("预热完成",
		zap.Int("bars", len(candles)),
		zap.Int("gaps", e.core.Gaps()),
	)
	return nil
}

// reconcile 读取交易所权威仓位与杠杆并覆盖本地置信仓位。
func (e *Executor) reconcile(ctx context.Context, reason string) error {
	e.setState(StateReconciling, reason)

	var snap position.Snapshot
	err := e.policy.Do(ctx, e.logger, "reconcile", exchange.Classify, func() error {
		var fetchErr error
		snap, fetchErr = e.recon.FetchAuthoritative(ctx)
		return fetchErr
	})
	if err != nil {
		if e.events != nil {
			e.events.RecordError(ctx, e.inst.Symbol, "对账失败", err)
		}
		return fmt.Errorf("execution: 对账失败: %w", err)
	}

	before := e.Believed()
	e.setBelieved(snap.Position)

	e.logger.Info("对账完成，置信仓位已覆盖",
		zap.String("reason", reason),
		zap.Float64("before", before.Fraction),
		zap.Float64("after", snap.Position.Fraction),
		zap.Int("leverage", snap.Position.Leverage),
	)
	if e.events != nil {
		e.events.RecordReconciliation(ctx, monitor.ReconciliationPayload{
			Symbol:           e.inst.Symbol,
			Reason:           reason,
			BelievedFraction: before.Fraction,
			ExchangeFraction: snap.Position.Fraction,
			ExchangeLeverage: snap.Position.Leverage,
			Equity:           snap.Balance.TotalEquity,
		})
	}
	return nil
}

// resync 对账后校正杠杆。对账会以交易所的杠杆覆盖本地记录，
// 若与配置不一致必须当场设回，否则后续委托会以漂移后的杠杆成交。
func (e *Executor) resync(ctx context.Context, reason string) error {
	if err := e.reconcile(ctx, reason); err != nil {
		return err
	}
	return e.ensureLeverage(ctx)
}

// ensureLeverage 确认交易所杠杆与配置一致，不一致时设置。
// 杠杆设置必须成功，否则禁止任何后续委托。
func (e *Executor) ensureLeverage(ctx context.Context) error {
	if e.Believed().Leverage == e.inst.Leverage {
		return nil
	}

	err := e.policy.Do(ctx, e.logger, "set_leverage", exchange.Classify, func() error {
		return e.gate.SetLeverage(ctx, e.inst.Symbol, e.inst.Leverage)
	})
	if err != nil {
		return fmt.Errorf("execution: 设置杠杆失败: %w", err)
	}

	believed := e.Believed()
	believed.Leverage = e.inst.Leverage
	e.setBelieved(believed)
	return nil
}

func (e *Executor) onCandle(ctx context.Context, candle exchange.Candle) {
	decision, err := e.core.Advance(candle)
	if err != nil {
		e.logger.Warn("K线被拒绝", zap.Error(err))
		if e.events != nil {
			e.events.RecordError(ctx, e.inst.Symbol, "K线乱序", err)
		}
		return
	}
	e.lastClose = candle.Close
	e.mu.Lock()
	e.lastCandle = candle.Timestamp
	e.mu.Unlock()

	if decision.GapBars > 0 && e.events != nil {
		e.events.RecordGap(ctx, monitor.GapPayload{
			Symbol:      e.inst.Symbol,
			CandleTime:  candle.Timestamp,
			MissingBars: decision.GapBars,
		})
	}

	state := e.core.State()
	if e.events != nil {
		e.events.RecordDecision(ctx, monitor.DecisionPayload{
			Symbol:       e.inst.Symbol,
			CandleTime:   candle.Timestamp,
			Direction:    decision.Direction.String(),
			SizeFraction: decision.Size,
			Equity:       state.Equity,
			Drawdown:     state.Drawdown,
			ActiveSignal: state.ActiveSignalName,
		})
	}

	if e.guard != nil {
		equity := e.inst.Capital * state.Equity
		verdict, guardErr := e.guard.Check(ctx, candle.Timestamp, equity, state.Drawdown)
		if guardErr != nil {
			e.logger.Error("风控评估失败", zap.Error(guardErr))
			return
		}
		if !verdict.Tradable {
			e.logger.Warn("风控暂停交易，目标仓位压为空仓", zap.String("reason", verdict.Reason))
			decision.Direction = signal.Flat
			decision.Size = 0
		}
	}

	// 单飞：在途委托未到终态前只保留最新决策
	if e.pending != nil {
		e.deferred = &decision
		return
	}

	e.submit(ctx, decision)
}

// submit 计算期望仓位与置信仓位的差额并提交市价委托。
func (e *Executor) submit(ctx context.Context, decision engine.Decision) {
	// 对账失败后置信仓位不可信，在下一次对账成功前禁止下单
	if e.State() == StateReconciling {
		e.logger.Warn("置信仓位尚未对账成功，跳过下单")
		return
	}

	desired := decision.Signed()
	believed := e.Believed()
	delta := desired - believed.Fraction

	if math.Abs(delta) < e.live.MinOrderDelta {
		return
	}
	if e.lastClose <= 0 {
		e.logger.Warn("缺少有效价格，跳过下单")
		return
	}

	side := "buy"
	if delta < 0 {
		side = "sell"
	}
	amount := math.Abs(delta) * e.inst.Capital * float64(e.inst.Leverage) / e.lastClose
	reduceOnly := desired == 0 ||
		(sameSign(desired, believed.Fraction) && math.Abs(desired) < math.Abs(believed.Fraction))

	req := OrderRequest{
		Symbol:     e.inst.Symbol,
		Side:       side,
		Amount:     amount,
		Delta:      delta,
		Desired:    desired,
		Price:      e.lastClose,
		ReduceOnly: reduceOnly,
		Timestamp:  decision.Timestamp,
	}
	e.pending = &req
	e.setState(StateSubmitting, "order_submitted")
	if e.events != nil {
		e.events.RecordOrder(ctx, monitor.OrderPayload{
			Symbol: req.Symbol,
			Side:   req.Side,
			Amount: req.Amount,
			Delta:  req.Delta,
			Status: string(OrderPending),
		})
	}

	go func() {
		attempts := 0
		var ack exchange.OrderAck
		err := e.policy.Do(ctx, e.logger, "create_order", exchange.Classify, func() error {
			attempts++
			var callErr error
			ack, callErr = e.gate.CreateMarketOrder(ctx, req.Symbol, req.Side, req.Amount, req.ReduceOnly)
			return callErr
		})

		result := OrderResult{Request: req, Ack: ack, Attempts: attempts}
		switch {
		case err == nil:
			result.Status = OrderFilled
		case errors.Is(err, exchange.ErrOrderRejected):
			result.Status = OrderRejected
			result.Err = err
		default:
			result.Status = OrderFailed
			result.Err = err
		}

		select {
		case e.results <- result:
		case <-ctx.Done():
		}
	}()
}

// onOrderResult 处理在途委托的终态回执。只有在这里以及对账中
// 才允许更新置信仓位。
func (e *Executor) onOrderResult(ctx context.Context, result OrderResult) {
	if !result.Status.Terminal() {
		e.logger.Warn("忽略非终态委托回执", zap.String("status", string(result.Status)))
		return
	}
	e.pending = nil

	if e.events != nil {
		payload := monitor.OrderPayload{
			Symbol:   result.Request.Symbol,
			Side:     result.Request.Side,
			Amount:   result.Request.Amount,
			Delta:    result.Request.Delta,
			Status:   string(result.Status),
			OrderID:  result.Ack.OrderID,
			Attempts: result.Attempts,
		}
		if result.Err != nil {
			payload.Error = result.Err.Error()
		}
		e.events.RecordOrder(ctx, payload)
	}

	switch result.Status {
	case OrderFilled:
		believed := e.Believed()
		believed.Fraction = result.Request.Desired
		believed.EntryPrice = result.Request.Price
		believed.Timestamp = e.now().UTC()
		e.setBelieved(believed)
		e.setState(StateActive, "order_filled")

	case OrderRejected:
		// 拒单不重试也不改置信仓位，等待下一次对账澄清
		e.logger.Error("交易所拒单", zap.Error(result.Err))
		e.setState(StateActive, "order_rejected")

	case OrderFailed:
		e.logger.Error("委托重试耗尽", zap.Int("attempts", result.Attempts), zap.Error(result.Err))
		if err := e.resync(ctx, "retry_exhausted"); err != nil {
			e.logger.Error("失败后对账未完成，暂停下单直至对账成功", zap.Error(err))
		} else {
			e.setState(StateActive, "reconciled_after_failure")
		}
	}

	if e.deferred != nil {
		decision := *e.deferred
		e.deferred = nil
		e.submit(ctx, decision)
	}
}

// onDisconnect 丢弃尚未执行的挂起决策；在途委托自行完成或超时。
func (e *Executor) onDisconnect() {
	e.deferred = nil
	e.logger.Warn("行情推送中断，挂起决策已丢弃")
}

// onResume 在重连后重建决策核心并对账：先 Warming 再 Reconciling，
// 之后才恢复正常决策。
func (e *Executor) onResume(ctx context.Context) error {
	e.logger.Info("行情推送恢复，重新预热并对账")

	e.core.Reset()
	if err := e.warmup(ctx); err != nil {
		return err
	}
	if err := e.resync(ctx, "reconnect"); err != nil {
		return err
	}

	if e.pending != nil {
		e.setState(StateSubmitting, "resume_with_pending_order")
	} else {
		e.setState(StateActive, "resume")
	}
	return nil
}

func sameSign(a, b float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	return (a > 0) == (b > 0)
}
