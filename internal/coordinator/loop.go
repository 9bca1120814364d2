package coordinator

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/tnar/coincheck-rust/internal/account"
	"github.com/tnar/coincheck-rust/internal/domain"
	"github.com/tnar/coincheck-rust/internal/marketstate"
	"github.com/tnar/coincheck-rust/internal/metrics"
	"github.com/tnar/coincheck-rust/pkg/persistence"
	"github.com/tnar/coincheck-rust/pkg/shutdown"
)

var loopLog = logrus.WithField("component", "coordinator")

// MarketFeed 行情流
type MarketFeed interface {
	Events() <-chan domain.Event
	// Resync 重连后发出，事件循环需要全量同步盘口
	Resync() <-chan struct{}
	// Done 行情流永久关闭
	Done() <-chan struct{}
	Close() error
}

// BookFetcher REST 全量盘口
type BookFetcher interface {
	FetchOrderBook(ctx context.Context) (domain.OrderBookDelta, error)
}

type Config struct {
	RunID             string
	ReconcileInterval time.Duration
	ExecuteInterval   time.Duration
	ShutdownTimeout   time.Duration
	// ViewDepth 发布视图时每侧保留的档数
	ViewDepth int
}

type namedHandler struct {
	name string
	h    shutdown.Handler
}

// Coordinator 单线程事件循环：唯一持有 account.State
//
// 行情事件、慢定时器（对账）、快定时器（决策）和退出信号在同一个 select 中串行处理，
// State 不需要任何锁。
type Coordinator struct {
	cfg   Config
	state *account.State
	feed  MarketFeed
	books BookFetcher
	board *marketstate.Board
	store persistence.Store

	signals <-chan os.Signal
	extra   []namedHandler
}

func New(cfg Config, state *account.State, feed MarketFeed, books BookFetcher) *Coordinator {
	if cfg.ViewDepth <= 0 {
		cfg.ViewDepth = 10
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Coordinator{cfg: cfg, state: state, feed: feed, books: books}
}

// WithBoard 发布只读视图
func (c *Coordinator) WithBoard(b *marketstate.Board) *Coordinator {
	c.board = b
	return c
}

// WithStore 周期性保存快照
func (c *Coordinator) WithStore(s persistence.Store) *Coordinator {
	c.store = s
	return c
}

// WithSignals 替换退出信号源（默认 SIGINT/SIGTERM）
func (c *Coordinator) WithSignals(ch <-chan os.Signal) *Coordinator {
	c.signals = ch
	return c
}

// OnShutdown 注册最后阶段的关闭回调（状态服务、仪表板等）
func (c *Coordinator) OnShutdown(name string, h shutdown.Handler) {
	c.extra = append(c.extra, namedHandler{name: name, h: h})
}

// Run 运行事件循环直到收到退出信号、ctx 取消或行情流关闭
// 退出前撤掉所有挂单、保存快照并关闭行情流；正常退出返回 nil
func (c *Coordinator) Run(ctx context.Context) error {
	signals := c.signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, unix.SIGINT, unix.SIGTERM)
		defer signal.Stop(ch)
		signals = ch
	}

	reason := c.loop(ctx, signals)
	loopLog.Infof("🛑 事件循环退出: %s，开始清理", reason)
	c.shutdown()
	return nil
}

func (c *Coordinator) loop(ctx context.Context, signals <-chan os.Signal) string {
	slow := time.NewTicker(c.cfg.ReconcileInterval)
	defer slow.Stop()
	fast := time.NewTicker(c.cfg.ExecuteInterval)
	defer fast.Stop()

	// 慢定时器的第一跳立即执行，首次决策前余额和挂单已同步
	c.reconcile(ctx)
	c.publish()

	for {
		select {
		case <-ctx.Done():
			return "context 已取消"
		case sig := <-signals:
			return "收到信号 " + sig.String()
		case <-c.feed.Done():
			return "行情流已关闭"
		case ev := <-c.feed.Events():
			c.state.Apply(ev)
			c.publish()
		case <-c.feed.Resync():
			c.resyncBook(ctx)
			c.publish()
		case <-slow.C:
			c.reconcile(ctx)
			c.publish()
		case <-fast.C:
			if err := c.state.Execute(ctx); err != nil {
				loopLog.Warnf("执行决策失败: %v", err)
			}
			c.publish()
		}
	}
}

func (c *Coordinator) reconcile(ctx context.Context) {
	if err := c.state.Refresh(ctx); err != nil {
		loopLog.Warnf("对账失败，跳过本轮: %v", err)
	}
	if err := c.saveSnapshot(); err != nil {
		loopLog.Warnf("保存快照失败: %v", err)
	}
}

func (c *Coordinator) resyncBook(ctx context.Context) {
	full, err := c.books.FetchOrderBook(ctx)
	if err != nil {
		loopLog.Warnf("重连后拉取盘口失败: %v", err)
		return
	}
	c.state.ReplaceBook(full)
	loopLog.Infof("🔄 重连后盘口已全量同步: bids=%d asks=%d", len(full.Bids), len(full.Asks))
}

func (c *Coordinator) publish() {
	if c.board == nil {
		return
	}
	c.board.Publish(c.state.View(c.cfg.ViewDepth))
}

func (c *Coordinator) saveSnapshot() error {
	if c.store == nil {
		return nil
	}
	snap := snapshotOf(c.cfg.RunID, c.state.View(0))
	if err := c.store.Save(&snap); err != nil {
		return err
	}
	metrics.SnapshotSaves.Add(1)
	return nil
}

// shutdown 撤单 -> 保存快照 -> 关闭行情流和外部组件
func (c *Coordinator) shutdown() {
	m := shutdown.NewManager()
	m.OnShutdown("cancel-orders", func(ctx context.Context) error {
		return c.state.CancelAll(ctx)
	})
	m.NextStage()
	m.OnShutdown("save-snapshot", func(context.Context) error {
		return c.saveSnapshot()
	})
	m.NextStage()
	m.OnShutdown("close-stream", func(context.Context) error {
		return c.feed.Close()
	})
	for _, e := range c.extra {
		m.OnShutdown(e.name, e.h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ShutdownTimeout)
	defer cancel()
	if failed := m.Shutdown(ctx); failed > 0 {
		loopLog.Warnf("⚠️ %d 个关闭步骤失败", failed)
		return
	}
	loopLog.Info("✅ 已安全退出")
}
