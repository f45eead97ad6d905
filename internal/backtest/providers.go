package backtest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"crosstrader/internal/exchange"
)

// CandleProvider 按时间顺序提供K线。
type CandleProvider interface {
	Next(ctx context.Context) (exchange.Candle, bool, error)
}

// SliceProvider 以固定序列提供K线。
type SliceProvider struct {
	candles []exchange.Candle
	index   int
}

// NewSliceProvider 创建内存K线源。
func NewSliceProvider(candles []exchange.Candle) *SliceProvider {
	return &SliceProvider{candles: candles}
}

// Next 返回下一根K线，序列耗尽时 ok 为 false。
func (p *SliceProvider) Next(ctx context.Context) (exchange.Candle, bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return exchange.Candle{}, false, ctxErr
	}
	if p.index >= len(p.candles) {
		return exchange.Candle{}, false, nil
	}
	candle := p.candles[p.index]
	p.index++
	return candle, true, nil
}

// CSVProvider 从CSV文件读取K线，格式为
// timestamp,open,high,low,close,volume，首行表头可选，
// 时间戳为毫秒或RFC3339。
type CSVProvider struct {
	path   string
	start  time.Time
	end    time.Time
	loaded bool
	inner  *SliceProvider
}

// NewCSVProvider 创建CSV K线源。start/end 为零值时不过滤。
func NewCSVProvider(path string, start, end time.Time) *CSVProvider {
	return &CSVProvider{path: path, start: start, end: end}
}

// Next 返回下一根K线。
func (p *CSVProvider) Next(ctx context.Context) (exchange.Candle, bool, error) {
	if !p.loaded {
		candles, err := loadCSV(p.path, p.start, p.end)
		if err != nil {
			return exchange.Candle{}, false, err
		}
		p.inner = NewSliceProvider(candles)
		p.loaded = true
	}
	return p.inner.Next(ctx)
}

func loadCSV(path string, start, end time.Time) ([]exchange.Candle, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("backtest: 打开CSV文件失败: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var out []exchange.Candle
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backtest: 解析CSV第%d行失败: %w", line+1, err)
		}
		line++

		if len(record) < 6 {
			return nil, fmt.Errorf("backtest: CSV第%d行字段不足", line)
		}
		// 跳过表头
		if line == 1 {
			if _, err := strconv.ParseFloat(record[1], 64); err != nil {
				continue
			}
		}

		ts, err := parseCSVTimestamp(record[0])
		if err != nil {
			return nil, fmt.Errorf("backtest: CSV第%d行时间戳无效: %w", line, err)
		}

		fields := make([]float64, 5)
		for i := 0; i < 5; i++ {
			v, err := strconv.ParseFloat(record[i+1], 64)
			if err != nil {
				return nil, fmt.Errorf("backtest: CSV第%d行数值无效: %w", line, err)
			}
			fields[i] = v
		}

		if !start.IsZero() && ts.Before(start) {
			continue
		}
		if !end.IsZero() && !ts.Before(end) {
			continue
		}

		if len(out) > 0 && !ts.After(out[len(out)-1].Timestamp) {
			return nil, fmt.Errorf("backtest: CSV第%d行时间戳未严格递增", line)
		}

		out = append(out, exchange.Candle{
			Timestamp: ts,
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
		})
	}

	return out, nil
}

func parseCSVTimestamp(field string) (time.Time, error) {
	if ms, err := strconv.ParseInt(field, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, field)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
