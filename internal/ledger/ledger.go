package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tnar/coincheck-rust/internal/domain"
	"github.com/tnar/coincheck-rust/pkg/quantize"
	"github.com/tnar/coincheck-rust/pkg/syncgroup"
)

var ledgerLog = logrus.WithField("component", "ledger")

// Canceler 撤单协作方（交易所 REST）
type Canceler interface {
	CancelOrder(ctx context.Context, id int64) (bool, error)
}

// Ledger 本进程认为当前挂着的买单/卖单（每侧最多一个）
type Ledger struct {
	buy  *domain.RestingOrder
	sell *domain.RestingOrder
}

// New 创建空账本
func New() *Ledger {
	return &Ledger{}
}

// Get 返回某一侧的挂单（拷贝）
func (l *Ledger) Get(side domain.Side) (domain.RestingOrder, bool) {
	o := l.slot(side)
	if *o == nil {
		return domain.RestingOrder{}, false
	}
	return **o, true
}

// Set 记录新挂单（下单成功后）
func (l *Ledger) Set(order domain.RestingOrder) {
	o := order
	*l.slot(order.Side) = &o
}

// Clear 清空某一侧
func (l *Ledger) Clear(side domain.Side) {
	*l.slot(side) = nil
}

// Orders 当前所有挂单，买单在前
func (l *Ledger) Orders() []domain.RestingOrder {
	out := make([]domain.RestingOrder, 0, 2)
	if l.buy != nil {
		out = append(out, *l.buy)
	}
	if l.sell != nil {
		out = append(out, *l.sell)
	}
	return out
}

func (l *Ledger) slot(side domain.Side) **domain.RestingOrder {
	if side == domain.SideSell {
		return &l.sell
	}
	return &l.buy
}

// ReconcileResult 一次对账的结果
type ReconcileResult struct {
	Kept      []domain.RestingOrder
	Cancelled []int64 // 交易所确认撤销的重复挂单
	Failed    []int64 // 撤单失败或被拒绝的重复挂单（下一轮对账会再处理）
}

// Duplicates 对账需要撤掉的挂单数量
func (r ReconcileResult) Duplicates() int {
	return len(r.Cancelled) + len(r.Failed)
}

// Reconcile 用交易所报告的挂单列表替换本地账本
// 每侧 0 个 -> 清空；1 个 -> 采用；多于 1 个 -> 保留 id 最大（最新）的一个，其余并发撤单
// 撤单是尽力而为：失败只记录日志，不同步重试
func (l *Ledger) Reconcile(ctx context.Context, reported []domain.RestingOrder, canceler Canceler) ReconcileResult {
	var buys, sells []domain.RestingOrder
	for _, o := range reported {
		switch o.Side {
		case domain.SideBuy:
			buys = append(buys, o)
		case domain.SideSell:
			sells = append(sells, o)
		}
	}

	var result ReconcileResult
	var extra []int64
	for _, side := range []struct {
		side   domain.Side
		orders []domain.RestingOrder
	}{{domain.SideBuy, buys}, {domain.SideSell, sells}} {
		keep, dup := pickSurvivor(side.orders)
		if keep == nil {
			l.Clear(side.side)
			continue
		}
		l.Set(*keep)
		result.Kept = append(result.Kept, *keep)
		for _, o := range dup {
			extra = append(extra, o.ID)
		}
	}

	if len(extra) == 0 {
		return result
	}
	ledgerLog.Warnf("发现 %d 个重复挂单，撤销: %v", len(extra), extra)

	var mu sync.Mutex
	sg := syncgroup.NewSyncGroup()
	for _, id := range extra {
		id := id
		sg.Add(func() {
			ok, err := canceler.CancelOrder(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || !ok {
				if err != nil {
					ledgerLog.Warnf("撤销重复挂单失败: id=%d err=%v", id, err)
				} else {
					ledgerLog.Warnf("撤销重复挂单被拒绝: id=%d", id)
				}
				result.Failed = append(result.Failed, id)
				return
			}
			result.Cancelled = append(result.Cancelled, id)
		})
	}
	sg.Run()
	sg.Wait()

	sort.Slice(result.Cancelled, func(i, j int) bool { return result.Cancelled[i] < result.Cancelled[j] })
	sort.Slice(result.Failed, func(i, j int) bool { return result.Failed[i] < result.Failed[j] })
	return result
}

// pickSurvivor 选出保留的挂单：id 最大者
func pickSurvivor(orders []domain.RestingOrder) (*domain.RestingOrder, []domain.RestingOrder) {
	if len(orders) == 0 {
		return nil, nil
	}
	best := 0
	for i := range orders {
		if orders[i].ID > orders[best].ID {
			best = i
		}
	}
	keep := orders[best]
	dup := make([]domain.RestingOrder, 0, len(orders)-1)
	for i := range orders {
		if i != best {
			dup = append(dup, orders[i])
		}
	}
	return &keep, dup
}

// Fill 一次成交对账本的影响
type Fill struct {
	Side      domain.Side
	OrderID   int64
	Size      float64
	Completed bool // 挂单已完全成交并移除
}

// ApplyFill 按 maker id 匹配挂单并扣减数量
// 完全成交（数量相等，或扣减后不为正）移除挂单；否则按 size 精度更新剩余数量
// 不匹配任何挂单的成交（属于本进程不再跟踪的旧订单）返回 ok=false，不修改任何状态
func (l *Ledger) ApplyFill(exec domain.Execution, params quantize.Params) (Fill, bool) {
	for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
		slot := l.slot(side)
		o := *slot
		if o == nil || o.ID != exec.MakerID {
			continue
		}
		fill := Fill{Side: side, OrderID: o.ID, Size: exec.Size}
		remaining := params.Size(o.Size - exec.Size)
		if o.Size == exec.Size || remaining <= 0 {
			*slot = nil
			fill.Completed = true
		} else {
			o.Size = remaining
		}
		return fill, true
	}
	return Fill{}, false
}
