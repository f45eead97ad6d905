package execution

import (
	"context"
	"time"

	"crosstrader/internal/exchange"
	"crosstrader/internal/position"
)

// State 表示执行器状态机的当前状态。
type State string

const (
	// StateWarming 预热中：历史K线经决策核心回放，不下单。
	StateWarming State = "warming"
	// StateActive 正常决策，可提交委托。
	StateActive State = "active"
	// StateSubmitting 有委托在途，同标的禁止再次下单。
	StateSubmitting State = "submitting"
	// StateReconciling 对账中：以交易所权威仓位覆盖本地置信仓位。
	StateReconciling State = "reconciling"
)

// OrderStatus 表示委托状态。
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderFilled   OrderStatus = "filled"
	OrderRejected OrderStatus = "rejected"
	OrderFailed   OrderStatus = "failed"
)

// Terminal 判断委托是否到达终态。仅终态回执允许更新置信仓位。
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderFailed
}

// OrderRequest 描述一笔待提交的市价委托。
type OrderRequest struct {
	Symbol     string
	Side       string
	Amount     float64
	Delta      float64
	Desired    float64
	Price      float64
	ReduceOnly bool
	Timestamp  time.Time
}

// OrderResult 为一笔委托的最终结果。
type OrderResult struct {
	Request  OrderRequest
	Status   OrderStatus
	Ack      exchange.OrderAck
	Attempts int
	Err      error
}

// Gateway 是执行器对交易所的写接口。
type Gateway interface {
	CreateMarketOrder(ctx context.Context, symbol, side string, amount float64, reduceOnly bool) (exchange.OrderAck, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
}

// Reconciler 读取交易所权威仓位，用于覆盖本地置信仓位。
type Reconciler interface {
	FetchAuthoritative(ctx context.Context) (position.Snapshot, error)
}

// Preloader 拉取预热用的历史K线。
type Preloader interface {
	PreloadWindow(ctx context.Context, symbol, timeframe string, preload time.Duration, now time.Time) ([]exchange.Candle, error)
}
