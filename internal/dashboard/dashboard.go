package dashboard

import (
	"context"
	"os"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/tnar/coincheck-rust/internal/account"
	"github.com/tnar/coincheck-rust/internal/marketstate"
	"github.com/tnar/coincheck-rust/pkg/logger"
)

var log = logrus.WithField("component", "dashboard")

// Dashboard 终端仪表板：订阅 Board 的发布信号，只渲染最新视图
type Dashboard struct {
	board *marketstate.Board
	title string

	mu          sync.Mutex
	program     *tea.Program
	programDone chan struct{}
	updateCh    chan account.View
	stopCh      chan struct{}
}

func New(board *marketstate.Board, title string) *Dashboard {
	return &Dashboard{
		board:    board,
		title:    title,
		updateCh: make(chan account.View, 1), // 只保留最新
		stopCh:   make(chan struct{}),
	}
}

// Start 启动 TUI；stdout 不是终端时什么都不做
func (d *Dashboard) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.program != nil {
		return nil
	}
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		log.Info("stdout 不是终端，跳过仪表板")
		return nil
	}

	// TUI 运行期间日志只写文件
	logger.SetConsole(false)

	d.program = tea.NewProgram(newModel(d.title, d.updateCh), tea.WithAltScreen())
	d.programDone = make(chan struct{})

	go d.forward(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Dashboard UI panic: %v", r)
			}
			logger.SetConsole(true)
			close(d.programDone)
		}()
		if _, err := d.program.Run(); err != nil {
			log.Errorf("Dashboard UI 运行错误: %v", err)
		}
	}()
	return nil
}

// forward 把 Board 的最新视图转发给 UI，来不及渲染的旧视图直接丢弃
func (d *Dashboard) forward(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-d.board.C.C():
			v, ok := d.board.Load()
			if !ok {
				continue
			}
			select {
			case <-d.updateCh:
			default:
			}
			d.updateCh <- v
		}
	}
}

// Stop 退出 TUI 并恢复控制台日志
func (d *Dashboard) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	select {
	case <-d.stopCh:
	default:
		close(d.stopCh)
	}
	if d.program == nil {
		return nil
	}
	d.program.Quit()

	wait := time.NewTimer(time.Second)
	defer wait.Stop()
	select {
	case <-d.programDone:
	case <-wait.C:
		log.Warn("等待仪表板退出超时")
	case <-ctx.Done():
	}
	d.program = nil
	return nil
}
