package coordinator

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/tnar/coincheck-rust/internal/account"
	"github.com/tnar/coincheck-rust/internal/domain"
	"github.com/tnar/coincheck-rust/internal/marketstate"
	"github.com/tnar/coincheck-rust/pkg/persistence"
	"github.com/tnar/coincheck-rust/pkg/quantize"
)

type fakeExchange struct {
	mu        sync.Mutex
	nextID    int64
	open      []domain.RestingOrder
	cancelled []int64
	refreshes int
}

func (f *fakeExchange) FetchBalance(context.Context) (*account.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	zero := 0.0
	return &account.Balance{Amount: &zero, Reserved: &zero}, nil
}

func (f *fakeExchange) FetchOpenOrders(context.Context) ([]domain.RestingOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.RestingOrder(nil), f.open...), nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, side domain.Side, price, size float64) (*domain.RestingOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	o := domain.RestingOrder{ID: f.nextID, Side: side, Price: price, Size: size}
	f.open = append(f.open, o)
	return &o, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
	return true, nil
}

func (f *fakeExchange) cancelledIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.cancelled...)
}

type fakeFeed struct {
	events chan domain.Event
	resync chan struct{}
	done   chan struct{}
	closed atomic.Int32
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		events: make(chan domain.Event, 8),
		resync: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (f *fakeFeed) Events() <-chan domain.Event { return f.events }
func (f *fakeFeed) Resync() <-chan struct{}     { return f.resync }
func (f *fakeFeed) Done() <-chan struct{}       { return f.done }
func (f *fakeFeed) Close() error {
	f.closed.Add(1)
	return nil
}

type fakeBooks struct {
	full domain.OrderBookDelta
}

func (b *fakeBooks) FetchOrderBook(context.Context) (domain.OrderBookDelta, error) {
	return b.full, nil
}

type harness struct {
	ex      *fakeExchange
	feed    *fakeFeed
	books   *fakeBooks
	board   *marketstate.Board
	store   persistence.Store
	state   *account.State
	signals chan os.Signal
	coord   *Coordinator
	done    chan error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	p, err := quantize.NewParams(1.0, 0.00000001)
	require.NoError(t, err)

	h := &harness{
		ex:      &fakeExchange{},
		feed:    newFakeFeed(),
		books:   &fakeBooks{},
		board:   marketstate.NewBoard(),
		store:   NewSnapshotStore(persistence.NewJSONFileService(t.TempDir()), "btc_jpy"),
		signals: make(chan os.Signal, 1),
		done:    make(chan error, 1),
	}
	h.state = account.New(account.Options{
		Symbol:       "btc_jpy",
		Params:       p,
		OrderSize:    0.02,
		MinOrderSize: 0.005,
	}, h.ex)

	h.coord = New(Config{
		RunID:             "test-run",
		ReconcileInterval: time.Hour,
		ExecuteInterval:   5 * time.Millisecond,
		ShutdownTimeout:   time.Second,
	}, h.state, h.feed, h.books).
		WithBoard(h.board).
		WithStore(h.store).
		WithSignals(h.signals)

	return h
}

func (h *harness) run(ctx context.Context) {
	go func() { h.done <- h.coord.Run(ctx) }()
}

func (h *harness) wait(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatalf("事件循环没有退出")
	}
}

func bookEvent(bid, ask float64) domain.Event {
	return domain.NewOrderBookEvent(domain.OrderBookDelta{
		Bids: []domain.PriceLevel{{Price: bid, Size: 1}},
		Asks: []domain.PriceLevel{{Price: ask, Size: 1}},
	})
}

func TestCoordinator_QuotesAndShutsDownOnSignal(t *testing.T) {
	h := newHarness(t)
	var extraCalled atomic.Bool
	h.coord.OnShutdown("extra", func(context.Context) error {
		extraCalled.Store(true)
		return nil
	})
	h.run(context.Background())

	h.feed.events <- bookEvent(100, 105)

	require.Eventually(t, func() bool {
		v, ok := h.board.Load()
		return ok && v.Buy != nil
	}, 2*time.Second, 5*time.Millisecond, "应该在 best bid 挂买单")

	v, _ := h.board.Load()
	assert.Equal(t, 100.0, v.Buy.Price)
	assert.Equal(t, 0.02, v.Buy.Size)
	assert.Nil(t, v.Sell)
	buyID := v.Buy.ID

	h.signals <- unix.SIGTERM
	h.wait(t)

	assert.Equal(t, []int64{buyID}, h.ex.cancelledIDs())
	assert.Equal(t, int32(1), h.feed.closed.Load())
	assert.True(t, extraCalled.Load())

	snap, err := LoadSnapshot(h.store)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "test-run", snap.RunID)
	assert.Equal(t, "btc_jpy", snap.Symbol)
	assert.Empty(t, snap.Orders(), "退出撤单后快照里没有挂单")
}

func TestCoordinator_InitialRefreshBeforeDecisions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t)
	h.run(ctx)

	require.Eventually(t, func() bool {
		h.ex.mu.Lock()
		defer h.ex.mu.Unlock()
		return h.ex.refreshes == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	h.wait(t)
}

func TestCoordinator_ResyncReplacesBook(t *testing.T) {
	h := newHarness(t)
	h.books.full = domain.OrderBookDelta{
		Bids: []domain.PriceLevel{{Price: 200, Size: 1}},
		Asks: []domain.PriceLevel{{Price: 210, Size: 1}},
	}
	h.run(context.Background())

	h.feed.events <- bookEvent(100, 105)
	require.Eventually(t, func() bool {
		v, ok := h.board.Load()
		return ok && v.BestBid != nil && *v.BestBid == 100
	}, 2*time.Second, 5*time.Millisecond)
	h.feed.resync <- struct{}{}

	require.Eventually(t, func() bool {
		v, ok := h.board.Load()
		return ok && v.BestBid != nil && *v.BestBid == 200
	}, 2*time.Second, 5*time.Millisecond)

	v, _ := h.board.Load()
	assert.Len(t, v.Bids, 1, "全量替换，旧价位不保留")

	h.signals <- os.Interrupt
	h.wait(t)
}

func TestCoordinator_StopsWhenFeedCloses(t *testing.T) {
	h := newHarness(t)
	h.run(context.Background())
	close(h.feed.done)
	h.wait(t)
	assert.Equal(t, int32(1), h.feed.closed.Load())
}

func TestLoadSnapshot_Missing(t *testing.T) {
	store := NewSnapshotStore(persistence.NewJSONFileService(t.TempDir()), "btc_jpy")
	snap, err := LoadSnapshot(store)
	assert.NoError(t, err)
	assert.Nil(t, snap)

	snap, err = LoadSnapshot(nil)
	assert.NoError(t, err)
	assert.Nil(t, snap)
}

// subscribingFeed 连接时模拟订阅后立即推来的增量
type subscribingFeed struct {
	feed  *fakeFeed
	calls *[]string
	delta domain.OrderBookDelta
	err   error
}

func (s *subscribingFeed) Connect(context.Context) error {
	*s.calls = append(*s.calls, "connect")
	if s.err != nil {
		return s.err
	}
	s.feed.events <- domain.NewOrderBookEvent(s.delta)
	return nil
}

type recordingBooks struct {
	calls *[]string
	full  domain.OrderBookDelta
}

func (b *recordingBooks) FetchOrderBook(context.Context) (domain.OrderBookDelta, error) {
	*b.calls = append(*b.calls, "fetch")
	return b.full, nil
}

func TestBootstrap_DeltaDuringFetchIsApplied(t *testing.T) {
	h := newHarness(t)
	var calls []string
	stream := &subscribingFeed{
		feed:  h.feed,
		calls: &calls,
		// 快照之后、拉取完成之前 100 被撤掉
		delta: domain.OrderBookDelta{Bids: []domain.PriceLevel{{Price: 100, Size: 0}}},
	}
	books := &recordingBooks{calls: &calls, full: domain.OrderBookDelta{
		Bids: []domain.PriceLevel{{Price: 100, Size: 1}, {Price: 99, Size: 2}},
		Asks: []domain.PriceLevel{{Price: 105, Size: 1}},
	}}

	require.NoError(t, Bootstrap(context.Background(), stream, books, h.state))
	assert.Equal(t, []string{"connect", "fetch"}, calls, "先订阅再拉全量")

	h.run(context.Background())
	require.Eventually(t, func() bool {
		v, ok := h.board.Load()
		return ok && v.BestBid != nil && *v.BestBid == 99
	}, 2*time.Second, 5*time.Millisecond, "缓冲的增量应叠加在全量快照上")

	v, _ := h.board.Load()
	assert.Equal(t, []domain.PriceLevel{{Price: 99, Size: 2}}, v.Bids)

	h.signals <- unix.SIGTERM
	h.wait(t)
}

func TestBootstrap_ConnectFailureSkipsFetch(t *testing.T) {
	h := newHarness(t)
	var calls []string
	stream := &subscribingFeed{feed: h.feed, calls: &calls, err: errors.New("dial refused")}
	books := &recordingBooks{calls: &calls}

	err := Bootstrap(context.Background(), stream, books, h.state)
	assert.ErrorContains(t, err, "dial refused")
	assert.Equal(t, []string{"connect"}, calls)
}
