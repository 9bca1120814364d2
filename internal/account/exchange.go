package account

import (
	"context"

	"github.com/tnar/coincheck-rust/internal/domain"
)

// Balance 交易所返回的基础资产余额
// 字段缺失时为 nil（本轮不更新余额）
type Balance struct {
	Amount   *float64
	Reserved *float64
}

// Exchange AccountState 依赖的交易所 REST 协作方
type Exchange interface {
	FetchBalance(ctx context.Context) (*Balance, error)
	FetchOpenOrders(ctx context.Context) ([]domain.RestingOrder, error)
	// PlaceOrder 返回 nil, nil 表示交易所拒绝（例如 post-only 会吃单），不是错误
	PlaceOrder(ctx context.Context, side domain.Side, price, size float64) (*domain.RestingOrder, error)
	CancelOrder(ctx context.Context, id int64) (bool, error)
}
