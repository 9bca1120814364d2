package syncgroup

import (
	"sync"
)

// SyncGroup 包装 sync.WaitGroup：先 Add 函数，再 Run 一次性启动，最后 Wait
// 自动管理 Add()/Done()，避免漏掉 Done()
type SyncGroup struct {
	wg sync.WaitGroup

	mu    sync.Mutex
	funcs []func()
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// Add 登记一个待启动的函数
func (g *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	g.mu.Lock()
	g.funcs = append(g.funcs, fn)
	g.mu.Unlock()
}

// Run 启动所有已登记的函数，并清空登记列表（可以再次 Add/Run）
func (g *SyncGroup) Run() {
	g.mu.Lock()
	fns := g.funcs
	g.funcs = nil
	g.mu.Unlock()

	for _, fn := range fns {
		g.wg.Add(1)
		go func(f func()) {
			defer g.wg.Done()
			f()
		}(fn)
	}
}

// Wait 等待所有已启动的函数结束
func (g *SyncGroup) Wait() {
	g.wg.Wait()
}
