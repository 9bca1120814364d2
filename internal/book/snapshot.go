package book

import (
	"sort"

	"github.com/tnar/coincheck-rust/internal/domain"
)

// Snapshot 本地维护的订单簿镜像
// bids 按价格降序，asks 按价格升序；每个价格最多一个价位，size=0 的价位不保存
type Snapshot struct {
	bids []domain.PriceLevel
	asks []domain.PriceLevel
}

// New 创建空订单簿
func New() *Snapshot {
	return &Snapshot{}
}

// Replace 用全量快照替换当前订单簿（等价于对空订单簿应用增量）
func (s *Snapshot) Replace(full domain.OrderBookDelta) {
	s.bids = nil
	s.asks = nil
	s.ApplyDelta(full)
}

// ApplyDelta 应用一批订单簿增量，两侧独立处理
func (s *Snapshot) ApplyDelta(delta domain.OrderBookDelta) {
	s.bids = applySide(s.bids, delta.Bids, func(a, b float64) bool { return a > b })
	s.asks = applySide(s.asks, delta.Asks, func(a, b float64) bool { return a < b })
}

func applySide(levels, delta []domain.PriceLevel, before func(a, b float64) bool) []domain.PriceLevel {
	if len(delta) == 0 {
		return levels
	}
	for _, d := range delta {
		found := false
		for i := range levels {
			if levels[i].Price == d.Price {
				levels[i].Size = d.Size
				found = true
				break
			}
		}
		if !found && d.Size != 0 {
			levels = append(levels, d)
		}
	}

	kept := levels[:0]
	for _, l := range levels {
		if l.Size != 0 {
			kept = append(kept, l)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return before(kept[i].Price, kept[j].Price) })
	return kept
}

// BestBid 最优买价；bids 为空时 ok=false
func (s *Snapshot) BestBid() (domain.PriceLevel, bool) {
	if len(s.bids) == 0 {
		return domain.PriceLevel{}, false
	}
	return s.bids[0], true
}

// BestAsk 最优卖价；asks 为空时 ok=false
func (s *Snapshot) BestAsk() (domain.PriceLevel, bool) {
	if len(s.asks) == 0 {
		return domain.PriceLevel{}, false
	}
	return s.asks[0], true
}

// Bids 返回 bids 的拷贝
func (s *Snapshot) Bids() []domain.PriceLevel { return clone(s.bids) }

// Asks 返回 asks 的拷贝
func (s *Snapshot) Asks() []domain.PriceLevel { return clone(s.asks) }

// Depth 返回两侧最多 n 档（拷贝），用于展示
func (s *Snapshot) Depth(n int) (bids, asks []domain.PriceLevel) {
	return clone(head(s.bids, n)), clone(head(s.asks, n))
}

// Warm 两侧都有价位
func (s *Snapshot) Warm() bool {
	return len(s.bids) > 0 && len(s.asks) > 0
}

func head(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if n >= 0 && len(levels) > n {
		return levels[:n]
	}
	return levels
}

func clone(levels []domain.PriceLevel) []domain.PriceLevel {
	if len(levels) == 0 {
		return nil
	}
	out := make([]domain.PriceLevel, len(levels))
	copy(out, levels)
	return out
}
