package coincheck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tnar/coincheck-rust/internal/domain"
	"github.com/tnar/coincheck-rust/pkg/quantize"
)

// flexFloat 兼容交易所返回的 "123.4" / 123.4 / null
// 只在解码边界使用，进入领域层前统一转成 float64
type flexFloat struct {
	Value float64
	Set   bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = flexFloat{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*f = flexFloat{}
			return nil
		}
		v, err := quantize.Parse(s)
		if err != nil {
			return err
		}
		*f = flexFloat{Value: v, Set: true}
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("数值字段格式错误 %s: %w", string(b), err)
	}
	*f = flexFloat{Value: v, Set: true}
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.Set {
		return nil
	}
	v := f.Value
	return &v
}

// flexID 兼容字符串或数字形式的订单 id
type flexID int64

func (id *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return fmt.Errorf("订单 id 格式错误 %q: %w", s, err)
		}
		*id = flexID(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("订单 id 格式错误 %s: %w", string(b), err)
	}
	*id = flexID(v)
	return nil
}

type baseResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// wireOrder 字段别名：order_type/side, rate/price, pending_amount/amount/size
type wireOrder struct {
	ID            flexID    `json:"id"`
	Pair          string    `json:"pair"`
	OrderType     string    `json:"order_type"`
	Side          string    `json:"side"`
	Rate          flexFloat `json:"rate"`
	Price         flexFloat `json:"price"`
	PendingAmount flexFloat `json:"pending_amount"`
	Amount        flexFloat `json:"amount"`
	Size          flexFloat `json:"size"`
}

func firstSet(vals ...flexFloat) (float64, bool) {
	for _, v := range vals {
		if v.Set {
			return v.Value, true
		}
	}
	return 0, false
}

// toDomain 转成领域挂单；方向未知或缺少价格/数量时 ok=false
func (w wireOrder) toDomain() (domain.RestingOrder, bool) {
	sideRaw := w.OrderType
	if sideRaw == "" {
		sideRaw = w.Side
	}
	side, ok := domain.ParseSide(sideRaw)
	if !ok {
		return domain.RestingOrder{}, false
	}
	price, ok := firstSet(w.Rate, w.Price)
	if !ok {
		return domain.RestingOrder{}, false
	}
	size, ok := firstSet(w.PendingAmount, w.Amount, w.Size)
	if !ok {
		return domain.RestingOrder{}, false
	}
	return domain.RestingOrder{ID: int64(w.ID), Side: side, Price: price, Size: size}, true
}

type openOrdersResponse struct {
	baseResponse
	Orders []wireOrder `json:"orders"`
}

type placeOrderRequest struct {
	Pair        string `json:"pair"`
	OrderType   string `json:"order_type"`
	Rate        string `json:"rate"`
	Amount      string `json:"amount"`
	TimeInForce string `json:"time_in_force"`
}

type placeOrderResponse struct {
	baseResponse
	ID        flexID    `json:"id"`
	Rate      flexFloat `json:"rate"`
	Amount    flexFloat `json:"amount"`
	OrderType string    `json:"order_type"`
}

type cancelOrderResponse struct {
	baseResponse
	ID flexID `json:"id"`
}

// wireLevels [[price, size], ...]
type wireLevels [][]flexFloat

func (ls wireLevels) toDomain() ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(ls))
	for i, l := range ls {
		if len(l) != 2 || !l[0].Set || !l[1].Set {
			return nil, fmt.Errorf("第 %d 个价位格式错误", i)
		}
		out = append(out, domain.PriceLevel{Price: l[0].Value, Size: l[1].Value})
	}
	return out, nil
}

type orderBookPayload struct {
	Bids wireLevels `json:"bids"`
	Asks wireLevels `json:"asks"`
}

func (p orderBookPayload) toDomain() (domain.OrderBookDelta, error) {
	bids, err := p.Bids.toDomain()
	if err != nil {
		return domain.OrderBookDelta{}, fmt.Errorf("bids: %w", err)
	}
	asks, err := p.Asks.toDomain()
	if err != nil {
		return domain.OrderBookDelta{}, fmt.Errorf("asks: %w", err)
	}
	return domain.OrderBookDelta{Bids: bids, Asks: asks}, nil
}
