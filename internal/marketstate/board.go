package marketstate

import (
	"sync/atomic"
	"time"

	"github.com/tnar/coincheck-rust/internal/account"
	"github.com/tnar/coincheck-rust/pkg/sigchan"
)

// Board 事件循环发布的只读账户视图
//
// 只有事件循环写入（Publish），状态服务/仪表板并发读取（Load）。
// 每次发布替换整个不可变视图，读取方不会看到撕裂的多字段状态。
type Board struct {
	view        atomic.Pointer[account.View]
	publishedAt atomic.Int64

	// C 每次发布后发出信号（非阻塞，合并）
	C *sigchan.Chan
}

func NewBoard() *Board {
	return &Board{C: sigchan.New(1)}
}

// Publish 发布新视图
func (b *Board) Publish(v account.View) {
	if b == nil {
		return
	}
	b.view.Store(&v)
	b.publishedAt.Store(time.Now().UnixMilli())
	b.C.Emit()
}

// Load 读取最近发布的视图
func (b *Board) Load() (account.View, bool) {
	if b == nil {
		return account.View{}, false
	}
	v := b.view.Load()
	if v == nil {
		return account.View{}, false
	}
	return *v, true
}

// PublishedAt 最近一次发布时间；尚未发布时为零值
func (b *Board) PublishedAt() time.Time {
	if b == nil {
		return time.Time{}
	}
	ms := b.publishedAt.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// StateFunc 适配状态服务
func (b *Board) StateFunc() func() (any, bool) {
	return func() (any, bool) {
		v, ok := b.Load()
		if !ok {
			return nil, false
		}
		return v, true
	}
}
