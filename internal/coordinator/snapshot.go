package coordinator

import (
	"errors"
	"time"

	"github.com/tnar/coincheck-rust/internal/account"
	"github.com/tnar/coincheck-rust/internal/domain"
	"github.com/tnar/coincheck-rust/internal/metrics"
	"github.com/tnar/coincheck-rust/pkg/persistence"
)

// Snapshot 落盘的运行状态，重启后用于恢复挂单账本
type Snapshot struct {
	RunID   string               `json:"run_id"`
	Symbol  string               `json:"symbol"`
	Balance float64              `json:"balance"`
	Buy     *domain.RestingOrder `json:"buy,omitempty"`
	Sell    *domain.RestingOrder `json:"sell,omitempty"`
	BestBid *float64             `json:"best_bid,omitempty"`
	BestAsk *float64             `json:"best_ask,omitempty"`
	SavedAt time.Time            `json:"saved_at"`
}

// Orders 快照里记录的挂单
func (s *Snapshot) Orders() []domain.RestingOrder {
	var out []domain.RestingOrder
	if s.Buy != nil {
		out = append(out, *s.Buy)
	}
	if s.Sell != nil {
		out = append(out, *s.Sell)
	}
	return out
}

func snapshotOf(runID string, v account.View) Snapshot {
	return Snapshot{
		RunID:   runID,
		Symbol:  v.Symbol,
		Balance: v.Balance,
		Buy:     v.Buy,
		Sell:    v.Sell,
		BestBid: v.BestBid,
		BestAsk: v.BestAsk,
		SavedAt: time.Now(),
	}
}

// NewSnapshotStore 每个交易对一个快照文件
func NewSnapshotStore(svc persistence.Service, symbol string) persistence.Store {
	return svc.NewStore("coincheck", symbol, "state")
}

// LoadSnapshot 读取上次运行的快照；不存在时返回 nil, nil
func LoadSnapshot(store persistence.Store) (*Snapshot, error) {
	if store == nil {
		return nil, nil
	}
	var s Snapshot
	if err := store.Load(&s); err != nil {
		if errors.Is(err, persistence.ErrNotExists) {
			return nil, nil
		}
		return nil, err
	}
	metrics.SnapshotLoads.Add(1)
	return &s, nil
}
