package feed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"crosstrader/internal/config"
	"crosstrader/internal/exchange"
	"crosstrader/internal/retry"
)

// EventKind 区分推送事件类型。
type EventKind int

const (
	// KindCandle 为一根已收盘的K线。
	KindCandle EventKind = iota
	// KindDisconnect 表示连接中断，后续K线可能缺失。
	KindDisconnect
	// KindResume 表示断线后重新订阅成功，消费方应重新预热并对账。
	KindResume
)

// Event 为推送通道的单个事件。仅 KindCandle 携带K线。
type Event struct {
	Kind   EventKind
	Candle exchange.Candle
}

// Client 维护实时K线推送连接。只转发已收盘（confirm）的K线，
// 过滤形成中的K线更新；断线后按指数退避自动重连，不设上限。
type Client struct {
	cfg    config.FeedConfig
	logger *zap.Logger
}

// NewClient 创建推送客户端。
func NewClient(cfg config.FeedConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Stream 订阅单个标的的K线推送。返回的通道在 ctx 取消后关闭。
func (c *Client) Stream(ctx context.Context, symbol, timeframe string) (<-chan Event, error) {
	channel, err := channelForTimeframe(timeframe)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 64)
	go c.run(ctx, symbol, channel, out)
	return out, nil
}

func (c *Client) run(ctx context.Context, symbol, channel string, out chan<- Event) {
	defer close(out)

	backoff := retry.Policy{
		MaxAttempts: math.MaxInt32,
		MinDelay:    c.cfg.ReconnectMin,
		MaxDelay:    c.cfg.ReconnectMax,
	}

	var lastTS time.Time
	sessions := 0
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}

		err := c.session(ctx, symbol, channel, out, sessions > 0, &lastTS)
		if ctx.Err() != nil {
			return
		}
		sessions++
		attempt++

		c.logger.Warn("推送连接中断，准备重连",
			zap.String("symbol", symbol),
			zap.String("channel", channel),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if !emit(ctx, out, Event{Kind: KindDisconnect}) {
			return
		}

		timer := time.NewTimer(backoff.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// session 建立一次连接并阻塞读取，返回导致断开的错误。
func (c *Client) session(ctx context.Context, symbol, channel string, out chan<- Event, resumed bool, lastTS *time.Time) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("feed: 连接推送服务失败: %w", err)
	}
	defer conn.Close()

	payload, err := subscribePayload(symbol, channel)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("feed: 发送订阅请求失败: %w", err)
	}

	// ctx 取消时强制断开读循环
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	pingTicker := time.NewTicker(c.cfg.PingInterval)
	defer pingTicker.Stop()
	go func() {
		for {
			select {
			case <-pingTicker.C:
				_ = conn.WriteMessage(websocket.TextMessage, []byte("ping"))
			case <-done:
				return
			}
		}
	}()

	subscribed := false
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("feed: 设置读超时失败: %w", err)
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: 读取推送消息失败: %w", err)
		}
		if string(data) == "pong" {
			continue
		}

		msg, err := parseMessage(data)
		if err != nil {
			c.logger.Warn("忽略无法解析的推送消息", zap.Error(err))
			continue
		}

		switch msg.Event {
		case "subscribe":
			subscribed = true
			c.logger.Info("K线订阅成功",
				zap.String("symbol", symbol),
				zap.String("channel", channel),
			)
			if resumed {
				if !emit(ctx, out, Event{Kind: KindResume}) {
					return errors.New("feed: 消费方已退出")
				}
			}
			continue
		case "error":
			return fmt.Errorf("feed: 订阅失败 code=%s msg=%s", msg.Code, msg.Msg)
		case "":
			// data push
		default:
			continue
		}

		if !subscribed || len(msg.Data) == 0 {
			continue
		}

		for _, row := range msg.Data {
			candle, confirmed, err := parseCandleRow(row)
			if err != nil {
				c.logger.Warn("忽略无效K线推送", zap.Error(err))
				continue
			}
			if !confirmed {
				continue
			}
			// 重连后的重复推送按时间戳去重
			if !lastTS.IsZero() && !candle.Timestamp.After(*lastTS) {
				continue
			}
			*lastTS = candle.Timestamp
			if !emit(ctx, out, Event{Kind: KindCandle, Candle: candle}) {
				return errors.New("feed: 消费方已退出")
			}
		}
	}
}

func emit(ctx context.Context, out chan<- Event, event Event) bool {
	select {
	case out <- event:
		return true
	case <-ctx.Done():
		return false
	}
}
