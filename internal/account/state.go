package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tnar/coincheck-rust/internal/book"
	"github.com/tnar/coincheck-rust/internal/domain"
	"github.com/tnar/coincheck-rust/internal/ledger"
	"github.com/tnar/coincheck-rust/internal/metrics"
	"github.com/tnar/coincheck-rust/pkg/quantize"
	"github.com/tnar/coincheck-rust/pkg/syncgroup"
)

var accountLog = logrus.WithField("component", "account")

// Options 交易参数（启动时确定，之后只读）
type Options struct {
	Symbol       string
	Params       quantize.Params
	OrderSize    float64
	MinOrderSize float64
	MaxSellSize  float64 // 0 = 卖出全部余额
	DryRun       bool
}

// State 单个交易对的账户聚合：余额 + 订单簿镜像 + 挂单账本
// 没有内部锁：只允许事件循环串行调用
type State struct {
	opts     Options
	exchange Exchange

	balance float64
	book    *book.Snapshot
	ledger  *ledger.Ledger

	lastBookAt  time.Time
	lastFillAt  time.Time
	lastRefresh time.Time
}

// New 创建账户状态
func New(opts Options, ex Exchange) *State {
	return &State{
		opts:     opts,
		exchange: ex,
		book:     book.New(),
		ledger:   ledger.New(),
	}
}

func (s *State) Balance() float64 { return s.balance }

// Order 某一侧的挂单
func (s *State) Order(side domain.Side) (domain.RestingOrder, bool) {
	return s.ledger.Get(side)
}

// Orders 当前挂单
func (s *State) Orders() []domain.RestingOrder { return s.ledger.Orders() }

// ReplaceBook 用 REST 全量订单簿替换镜像（启动、重连后）
func (s *State) ReplaceBook(full domain.OrderBookDelta) {
	s.book.Replace(full)
	s.lastBookAt = time.Now()
}

// RefreshBalance 拉取余额：balance = round(btc + btc_reserved)
// 交易所返回字段缺失时保持原值
func (s *State) RefreshBalance(ctx context.Context) error {
	bal, err := s.exchange.FetchBalance(ctx)
	if err != nil {
		return fmt.Errorf("获取余额失败: %w", err)
	}
	if bal == nil || bal.Amount == nil || bal.Reserved == nil {
		accountLog.Debugf("余额响应不完整，保持原余额 %.8f", s.balance)
		return nil
	}
	s.balance = s.opts.Params.Size(*bal.Amount + *bal.Reserved)
	accountLog.Debugf("余额已同步: %.8f", s.balance)
	return nil
}

// RefreshOrders 拉取挂单并对账
func (s *State) RefreshOrders(ctx context.Context) (ledger.ReconcileResult, error) {
	orders, err := s.exchange.FetchOpenOrders(ctx)
	if err != nil {
		return ledger.ReconcileResult{}, fmt.Errorf("获取挂单失败: %w", err)
	}
	res := s.ledger.Reconcile(ctx, orders, s.exchange)
	metrics.OrdersCancelled.Add(int64(len(res.Cancelled)))
	metrics.CancelFailures.Add(int64(len(res.Failed)))
	return res, nil
}

// Refresh 慢定时器：余额 + 挂单全量同步
func (s *State) Refresh(ctx context.Context) error {
	metrics.ReconcileRuns.Add(1)
	errBalance := s.RefreshBalance(ctx)
	_, errOrders := s.RefreshOrders(ctx)
	if err := errors.Join(errBalance, errOrders); err != nil {
		metrics.ReconcileErrors.Add(1)
		return err
	}
	s.lastRefresh = time.Now()
	return nil
}

// Apply 应用一条行情流事件
func (s *State) Apply(ev domain.Event) {
	switch ev.Kind {
	case domain.EventOrderBook:
		s.book.ApplyDelta(ev.Delta)
		s.lastBookAt = time.Now()
		metrics.BookUpdates.Add(1)
	case domain.EventExecutions:
		for _, exec := range ev.Executions {
			s.applyFill(exec)
		}
	}
}

func (s *State) applyFill(exec domain.Execution) {
	fill, ok := s.ledger.ApplyFill(exec, s.opts.Params)
	if !ok {
		return
	}
	switch fill.Side {
	case domain.SideBuy:
		s.balance = s.opts.Params.Size(s.balance + exec.Size)
	case domain.SideSell:
		s.balance = s.opts.Params.Size(s.balance - exec.Size)
	}
	s.lastFillAt = time.Now()
	metrics.FillsApplied.Add(1)
	accountLog.WithFields(logrus.Fields{
		"side":      fill.Side,
		"order_id":  fill.OrderID,
		"size":      exec.Size,
		"completed": fill.Completed,
	}).Infof("💰 成交: 余额=%.8f", s.balance)
}

// Decide 基于当前状态生成本轮指令（纯函数，不做 IO）
func (s *State) Decide() []Command {
	in := DecisionInput{
		Balance:    s.balance,
		OrderSize:  s.opts.OrderSize,
		MinOrder:   s.opts.MinOrderSize,
		MaxSellCap: s.opts.MaxSellSize,
	}
	if b, ok := s.book.BestBid(); ok {
		p := b.Price
		in.BestBid = &p
	}
	if a, ok := s.book.BestAsk(); ok {
		p := a.Price
		in.BestAsk = &p
	}
	if o, ok := s.ledger.Get(domain.SideBuy); ok {
		in.Buy = &o
	}
	if o, ok := s.ledger.Get(domain.SideSell); ok {
		in.Sell = &o
	}
	return Decide(in)
}

// Execute 快定时器：执行一轮决策
// 撤单成功立即清空该侧，下单成功立即记账；被拒绝不改变状态，下一轮重新评估
func (s *State) Execute(ctx context.Context) error {
	cmds := s.Decide()
	if len(cmds) == 0 {
		return nil
	}
	if s.opts.DryRun {
		for _, c := range cmds {
			accountLog.Infof("[dry-run] %s", c)
		}
		return nil
	}

	var errs []error
	for _, c := range cmds {
		switch c.Kind {
		case CommandCancel:
			ok, err := s.exchange.CancelOrder(ctx, c.OrderID)
			if err != nil {
				metrics.CancelFailures.Add(1)
				errs = append(errs, fmt.Errorf("撤单失败 %s#%d: %w", c.Side, c.OrderID, err))
				continue
			}
			if !ok {
				metrics.CancelFailures.Add(1)
				accountLog.Debugf("撤单未生效: %s#%d", c.Side, c.OrderID)
				continue
			}
			metrics.OrdersCancelled.Add(1)
			s.ledger.Clear(c.Side)
			accountLog.Infof("🔄 价格偏离，已撤单: %s#%d", c.Side, c.OrderID)
		case CommandPlace:
			price := s.opts.Params.Price(c.Price)
			size := s.opts.Params.Size(c.Size)
			order, err := s.exchange.PlaceOrder(ctx, c.Side, price, size)
			if err != nil {
				errs = append(errs, fmt.Errorf("下单失败 %s %.8f@%.0f: %w", c.Side, size, price, err))
				continue
			}
			if order == nil {
				metrics.OrdersDeclined.Add(1)
				accountLog.Debugf("下单被拒绝: %s %.8f@%.8g", c.Side, size, price)
				continue
			}
			metrics.OrdersPlaced.Add(1)
			s.ledger.Set(*order)
			accountLog.Infof("✅ 已挂单: %s", order)
		}
	}
	return errors.Join(errs...)
}

// CancelAll 退出前尽力撤销所有挂单（并发），返回失败的错误
// 撤单失败的挂单留在账本里，随快照落盘
func (s *State) CancelAll(ctx context.Context) error {
	orders := s.ledger.Orders()
	if len(orders) == 0 {
		return nil
	}
	var (
		mu        sync.Mutex
		errs      []error
		cancelled []domain.Side
	)
	sg := syncgroup.NewSyncGroup()
	for _, o := range orders {
		o := o
		sg.Add(func() {
			ok, err := s.exchange.CancelOrder(ctx, o.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("撤单失败 %s: %w", o, err))
			case !ok:
				errs = append(errs, fmt.Errorf("撤单未生效 %s", o))
			default:
				cancelled = append(cancelled, o.Side)
				accountLog.Infof("退出撤单: %s", o)
			}
		})
	}
	sg.Run()
	sg.Wait()
	for _, side := range cancelled {
		s.ledger.Clear(side)
	}
	metrics.OrdersCancelled.Add(int64(len(cancelled)))
	return errors.Join(errs...)
}

// View 只读视图（发布给状态服务/仪表板）
type View struct {
	Symbol      string               `json:"symbol"`
	Balance     float64              `json:"balance"`
	BestBid     *float64             `json:"best_bid,omitempty"`
	BestAsk     *float64             `json:"best_ask,omitempty"`
	Buy         *domain.RestingOrder `json:"buy,omitempty"`
	Sell        *domain.RestingOrder `json:"sell,omitempty"`
	Bids        []domain.PriceLevel  `json:"bids"`
	Asks        []domain.PriceLevel  `json:"asks"`
	LastBookAt  time.Time            `json:"last_book_at"`
	LastFillAt  time.Time            `json:"last_fill_at"`
	LastRefresh time.Time            `json:"last_refresh"`
	DryRun      bool                 `json:"dry_run"`
}

// View 生成当前状态的拷贝，depth 为每侧展示档数
func (s *State) View(depth int) View {
	v := View{
		Symbol:      s.opts.Symbol,
		Balance:     s.balance,
		LastBookAt:  s.lastBookAt,
		LastFillAt:  s.lastFillAt,
		LastRefresh: s.lastRefresh,
		DryRun:      s.opts.DryRun,
	}
	v.Bids, v.Asks = s.book.Depth(depth)
	if b, ok := s.book.BestBid(); ok {
		p := b.Price
		v.BestBid = &p
	}
	if a, ok := s.book.BestAsk(); ok {
		p := a.Price
		v.BestAsk = &p
	}
	if o, ok := s.ledger.Get(domain.SideBuy); ok {
		v.Buy = &o
	}
	if o, ok := s.ledger.Get(domain.SideSell); ok {
		v.Sell = &o
	}
	return v
}

// Restore 用持久化快照预填账本，保证首次对账前收到退出信号也能撤掉这些挂单
// 随后的对账以交易所为准覆盖
func (s *State) Restore(orders []domain.RestingOrder) {
	for _, o := range orders {
		s.ledger.Set(o)
	}
}
