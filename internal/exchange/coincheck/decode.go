package coincheck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tnar/coincheck-rust/internal/domain"
)

var (
	// ErrDecode 帧形状可识别但字段无法解析；调用方丢弃该帧并计数
	ErrDecode = errors.New("coincheck: 消息解码失败")
	// ErrUnknownMessage 既不是盘口也不是成交（或属于其它交易对），直接忽略
	ErrUnknownMessage = errors.New("coincheck: 未知消息")
)

// 成交数组的位置字段
const (
	tradeFieldAmount  = 4
	tradeFieldMakerID = 7
	tradeFieldCount   = 8
)

// SubscribeMessage 订阅请求
type SubscribeMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

func OrderBookChannel(symbol string) string { return symbol + "-orderbook" }
func TradesChannel(symbol string) string    { return symbol + "-trades" }

// DecodeEvent 解析一帧 websocket 文本消息
//
//	["btc_jpy", {"bids": [[p, s]...], "asks": [...]}]  -> 盘口增量
//	[[ts, id, pair, rate, amount, side, taker_id, maker_id], ...] -> 成交批次
func DecodeEvent(symbol string, data []byte) (domain.Event, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '[' {
		return domain.Event{}, ErrUnknownMessage
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return domain.Event{}, errors.Wrap(ErrDecode, err.Error())
	}

	if len(items) == 2 && isJSONString(items[0]) && isJSONObject(items[1]) {
		return decodeOrderBook(symbol, items)
	}

	execs := make([]domain.Execution, 0, len(items))
	for i, it := range items {
		if !isJSONArray(it) {
			return domain.Event{}, ErrUnknownMessage
		}
		ex, err := decodeTrade(it)
		if err != nil {
			return domain.Event{}, errors.Wrapf(ErrDecode, "第 %d 笔成交: %v", i, err)
		}
		execs = append(execs, ex)
	}
	return domain.NewExecutionEvent(execs), nil
}

func decodeOrderBook(symbol string, items []json.RawMessage) (domain.Event, error) {
	var pair string
	if err := json.Unmarshal(items[0], &pair); err != nil {
		return domain.Event{}, errors.Wrap(ErrDecode, err.Error())
	}
	if pair != symbol {
		return domain.Event{}, errors.Wrapf(ErrUnknownMessage, "交易对 %s", pair)
	}
	var payload orderBookPayload
	if err := json.Unmarshal(items[1], &payload); err != nil {
		return domain.Event{}, errors.Wrap(ErrDecode, err.Error())
	}
	delta, err := payload.toDomain()
	if err != nil {
		return domain.Event{}, errors.Wrap(ErrDecode, err.Error())
	}
	return domain.NewOrderBookEvent(delta), nil
}

func decodeTrade(raw json.RawMessage) (domain.Execution, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.Execution{}, err
	}
	// 末尾多出的字段忽略
	if len(fields) < tradeFieldCount {
		return domain.Execution{}, fmt.Errorf("字段数 %d 少于 %d", len(fields), tradeFieldCount)
	}
	var amount flexFloat
	if err := json.Unmarshal(fields[tradeFieldAmount], &amount); err != nil {
		return domain.Execution{}, fmt.Errorf("amount: %w", err)
	}
	if !amount.Set {
		return domain.Execution{}, fmt.Errorf("amount 为空")
	}
	makerID, err := parseID(fields[tradeFieldMakerID])
	if err != nil {
		return domain.Execution{}, fmt.Errorf("maker_id: %w", err)
	}
	return domain.Execution{Size: amount.Value, MakerID: makerID}, nil
}

func parseID(raw json.RawMessage) (int64, error) {
	var s string
	if isJSONString(raw) {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
	} else {
		s = string(bytes.TrimSpace(raw))
	}
	return strconv.ParseInt(strings.TrimSpace(s), 10, 64)
}

func firstByte(raw json.RawMessage) byte {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}

func isJSONString(raw json.RawMessage) bool { return firstByte(raw) == '"' }
func isJSONObject(raw json.RawMessage) bool { return firstByte(raw) == '{' }
func isJSONArray(raw json.RawMessage) bool  { return firstByte(raw) == '[' }
