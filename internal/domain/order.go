package domain

import "fmt"

// Side 订单方向
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// ParseSide 解析交易所返回的 order_type/side 字段
func ParseSide(s string) (Side, bool) {
	switch Side(s) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

func (s Side) String() string { return string(s) }

// RestingOrder 挂在交易所订单簿上、尚未完全成交或撤销的订单
// 只归 Order Ledger 所有
type RestingOrder struct {
	ID    int64   `json:"id"`
	Side  Side    `json:"side"`
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

func (o RestingOrder) String() string {
	return fmt.Sprintf("%s#%d %.8g@%.8g", o.Side, o.ID, o.Size, o.Price)
}

// Execution 成交事件（只消费一次，不保存）
type Execution struct {
	Size    float64
	MakerID int64
}
