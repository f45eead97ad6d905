package position

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"go.uber.org/zap"
)

type accountClient interface {
	FetchBalance(params ...interface{}) (ccxt.Balances, error)
	FetchPositions(options ...ccxt.FetchPositionsOptions) ([]ccxt.Position, error)
}

// Manager 从交易所读取权威仓位与账户状态，供对账使用。
// 本地的置信仓位只能由执行器在终态回执或对账后更新，
// 任何中断之后都以这里读到的快照为准。
type Manager struct {
	client  accountClient
	symbol  string
	capital float64
	logger  *zap.Logger
}

// NewManager 创建仓位管理器。capital 用于把合约持仓换算为仓位系数。
func NewManager(client accountClient, symbol string, capital float64, logger *zap.Logger) (*Manager, error) {
	if client == nil {
		return nil, errors.New("position: 交易所客户端不能为空")
	}
	if symbol == "" {
		return nil, errors.New("position: symbol 不能为空")
	}
	if capital <= 0 {
		return nil, fmt.Errorf("position: 本金 %.4f 必须为正", capital)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:  client,
		symbol:  symbol,
		capital: capital,
		logger:  logger,
	}, nil
}

// FetchAuthoritative 读取交易所当前仓位与杠杆。
// 无持仓时返回 Fraction 为0的空仓快照，杠杆为交易所记录值或0。
func (m *Manager) FetchAuthoritative(ctx context.Context) (Snapshot, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Snapshot{}, ctxErr
	}

	now := time.Now().UTC()

	balances, err := m.client.FetchBalance()
	if err != nil {
		return Snapshot{}, fmt.Errorf("position: 获取账户余额失败: %w", err)
	}
	balance := convertBalance(balances, now)

	rawPositions, err := m.client.FetchPositions()
	if err != nil {
		return Snapshot{}, fmt.Errorf("position: 获取持仓失败: %w", err)
	}

	pos := Position{Symbol: m.symbol, Timestamp: now}

	for _, raw := range rawPositions {
		symbol := derefString(raw.Symbol)
		if symbol == "" || !strings.EqualFold(symbol, m.symbol) {
			continue
		}

		contracts := derefFloat(raw.Contracts)
		if contracts == 0 {
			continue
		}

		notional := derefFloat(raw.Notional)
		mark := derefFloat(raw.MarkPrice)
		entry := derefFloat(raw.EntryPrice)
		leverage := derefFloat(raw.Leverage)
		side := strings.ToLower(strings.TrimSpace(derefString(raw.Side)))

		if notional == 0 {
			price := mark
			if price == 0 {
				price = entry
			}
			notional = contracts * price
		}
		if leverage == 0 && raw.Info != nil {
			leverage = parseNumeric(raw.Info["lever"])
		}

		fraction := 0.0
		if m.capital > 0 && leverage > 0 {
			fraction = notional / (m.capital * leverage)
		}
		if side == "short" {
			fraction = -fraction
		}

		pos.Fraction = clampFraction(fraction)
		pos.Leverage = int(leverage)
		pos.EntryPrice = entry
		break
	}

	m.logger.Debug("完成仓位对账读取",
		zap.String("symbol", m.symbol),
		zap.Float64("fraction", pos.Fraction),
		zap.Int("leverage", pos.Leverage),
		zap.Float64("equity", balance.TotalEquity),
	)

	return Snapshot{Position: pos, Balance: balance}, nil
}

func convertBalance(balances ccxt.Balances, now time.Time) AccountBalance {
	out := AccountBalance{Timestamp: now}

	if balances.Total != nil {
		for _, code := range []string{"USDT", "USDC", "USD"} {
			if total, ok := balances.Total[code]; ok && total != nil && *total > 0 {
				out.TotalEquity = *total
				break
			}
		}
	}
	if balances.Free != nil {
		for _, code := range []string{"USDT", "USDC", "USD"} {
			if free, ok := balances.Free[code]; ok && free != nil && *free > 0 {
				out.FreeUSD = *free
				break
			}
		}
	}
	if balances.Info != nil {
		if v := parseNumeric(balances.Info["totalEq"]); v > 0 && out.TotalEquity == 0 {
			out.TotalEquity = v
		}
		if v := parseNumeric(balances.Info["upl"]); v != 0 {
			out.Unrealized = v
		}
	}

	return out
}

func clampFraction(fraction float64) float64 {
	if fraction > 1 {
		return 1
	}
	if fraction < -1 {
		return -1
	}
	return fraction
}

func derefFloat(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func parseNumeric(value interface{}) float64 {
	switch v := value.(type) {
	case nil:
		return 0
	case float64:
		return v
	case *float64:
		if v != nil {
			return *v
		}
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return 0
}
