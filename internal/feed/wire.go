package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"crosstrader/internal/exchange"
)

// candleChannels 将K线周期映射到 OKX 推送频道名。
var candleChannels = map[string]string{
	"1m":  "candle1m",
	"3m":  "candle3m",
	"5m":  "candle5m",
	"15m": "candle15m",
	"30m": "candle30m",
	"1h":  "candle1H",
	"2h":  "candle2H",
	"4h":  "candle4H",
	"6h":  "candle6H",
	"12h": "candle12H",
	"1d":  "candle1D",
}

func channelForTimeframe(timeframe string) (string, error) {
	channel, ok := candleChannels[timeframe]
	if !ok {
		return "", fmt.Errorf("feed: 不支持的K线周期 %q", timeframe)
	}
	return channel, nil
}

type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

type wsMessage struct {
	Event string     `json:"event"`
	Code  string     `json:"code"`
	Msg   string     `json:"msg"`
	Arg   wsArg      `json:"arg"`
	Data  [][]string `json:"data"`
}

func subscribePayload(symbol, channel string) ([]byte, error) {
	req := wsRequest{
		Op:   "subscribe",
		Args: []wsArg{{Channel: channel, InstID: symbol}},
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("feed: 构造订阅请求失败: %w", err)
	}
	return payload, nil
}

// parseCandleRow 解析单行K线推送。
// 行格式为 [ts, o, h, l, c, vol, volCcy, volCcyQuote, confirm]，
// confirm 为 "1" 表示该K线已收盘。
func parseCandleRow(row []string) (exchange.Candle, bool, error) {
	if len(row) < 9 {
		return exchange.Candle{}, false, fmt.Errorf("feed: K线推送字段不足: %d", len(row))
	}

	ms, err := strconv.ParseInt(row[0], 10, 64)
	if err != nil {
		return exchange.Candle{}, false, fmt.Errorf("feed: 时间戳无效 %q: %w", row[0], err)
	}

	values := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(row[i+1], 64)
		if err != nil {
			return exchange.Candle{}, false, fmt.Errorf("feed: 数值字段无效 %q: %w", row[i+1], err)
		}
		values[i] = v
	}

	candle := exchange.Candle{
		Timestamp: time.UnixMilli(ms).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}
	return candle, row[8] == "1", nil
}

func parseMessage(data []byte) (wsMessage, error) {
	var msg wsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return wsMessage{}, fmt.Errorf("feed: 解析推送消息失败: %w", err)
	}
	return msg, nil
}
