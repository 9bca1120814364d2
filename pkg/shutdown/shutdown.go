package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

var shutdownLog = logrus.WithField("component", "shutdown")

// Handler 关闭处理函数；必须响应 ctx 取消
type Handler func(ctx context.Context) error

type entry struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器：按阶段执行，同一阶段内的回调并发执行
type Manager struct {
	mu     sync.Mutex
	stages [][]entry
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 在最后一个阶段注册回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.stages) == 0 {
		m.stages = append(m.stages, nil)
	}
	last := len(m.stages) - 1
	m.stages[last] = append(m.stages[last], entry{name: name, handler: handler})
}

// NextStage 开启新阶段：之后注册的回调要等前面的阶段全部完成才执行
func (m *Manager) NextStage() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, nil)
}

// Shutdown 执行所有关闭回调（阻塞），返回失败的回调数
// ctx 应带超时，超时后不再等待剩余回调
func (m *Manager) Shutdown(ctx context.Context) int {
	m.mu.Lock()
	stages := m.stages
	m.mu.Unlock()

	failed := 0
	for i, stage := range stages {
		if len(stage) == 0 {
			continue
		}
		shutdownLog.Infof("关闭阶段 %d：%d 个回调", i+1, len(stage))

		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for _, e := range stage {
			wg.Add(1)
			go func(e entry) {
				defer wg.Done()
				start := time.Now()
				err := e.handler(ctx)
				if err != nil {
					mu.Lock()
					failed++
					mu.Unlock()
					shutdownLog.Warnf("❌ 关闭回调失败: %s err=%v", e.name, err)
					return
				}
				shutdownLog.Debugf("关闭回调完成: %s (%s)", e.name, time.Since(start))
			}(e)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			shutdownLog.Warnf("关闭超时: %v", ctx.Err())
			mu.Lock()
			n := failed
			mu.Unlock()
			return n
		}
	}
	shutdownLog.Info("所有关闭回调已完成")
	return failed
}
