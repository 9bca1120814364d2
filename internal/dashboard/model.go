package dashboard

import (
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sys/unix"

	"github.com/tnar/coincheck-rust/internal/account"
	"github.com/tnar/coincheck-rust/internal/domain"
	"github.com/tnar/coincheck-rust/internal/metrics"
)

const bookRows = 8

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	bidStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	askStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	warnStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("39")).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")).Padding(0, 1)
)

type updateMsg struct {
	view account.View
}

type tickMsg time.Time

type model struct {
	title    string
	view     *account.View
	updateCh <-chan account.View
	width    int
	height   int
}

func newModel(title string, updateCh <-chan account.View) model {
	return model{title: title, updateCh: updateCh}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.waitForUpdate(), m.tick())
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			// bubbletea 拦截了 Ctrl+C，转成 SIGINT 交给事件循环统一退出
			_ = unix.Kill(os.Getpid(), unix.SIGINT)
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil
	case updateMsg:
		v := msg.view
		m.view = &v
		return m, m.waitForUpdate()
	case tickMsg:
		return m, m.tick()
	}
	return m, nil
}

func (m model) View() string {
	if m.view == nil {
		return "等待数据..."
	}
	v := m.view

	width := m.width - 4
	if width < 60 {
		width = 60
	}
	half := width/2 - 1

	left := boxStyle.Width(half).Render(renderBook(v))
	right := boxStyle.Width(half).Render(renderAccount(v))
	content := lipgloss.JoinHorizontal(lipgloss.Top, left, "  ", right)
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(v), content, mutedStyle.Render(" q / ctrl+c 退出（会撤掉所有挂单）"))
}

func (m model) renderHeader(v *account.View) string {
	title := m.title
	if strings.TrimSpace(title) == "" {
		title = "Coincheck MM"
	}
	s := fmt.Sprintf("%s | %s | %s", title, v.Symbol, time.Now().Format("15:04:05"))
	if v.DryRun {
		s += " | " + warnStyle.Render("DRY-RUN")
	}
	return headerStyle.Render(s)
}

func renderBook(v *account.View) string {
	lines := []string{titleStyle.Render("Order Book")}
	asks := v.Asks
	if len(asks) > bookRows {
		asks = asks[:bookRows]
	}
	// 卖盘倒序，最优价贴近中间
	for i := len(asks) - 1; i >= 0; i-- {
		lines = append(lines, askStyle.Render(levelLine(asks[i], v.Sell)))
	}
	lines = append(lines, mutedStyle.Render(spreadLine(v)))
	bids := v.Bids
	if len(bids) > bookRows {
		bids = bids[:bookRows]
	}
	for _, l := range bids {
		lines = append(lines, bidStyle.Render(levelLine(l, v.Buy)))
	}
	return strings.Join(lines, "\n")
}

func levelLine(l domain.PriceLevel, mine *domain.RestingOrder) string {
	mark := " "
	if mine != nil && mine.Price == l.Price {
		mark = "*"
	}
	return fmt.Sprintf("%s %10.0f %12.8f", mark, l.Price, l.Size)
}

func spreadLine(v *account.View) string {
	if v.BestBid == nil || v.BestAsk == nil {
		return "  spread: -"
	}
	return fmt.Sprintf("  spread: %.0f", *v.BestAsk-*v.BestBid)
}

func renderAccount(v *account.View) string {
	lines := []string{
		titleStyle.Render("Account"),
		fmt.Sprintf("Balance: %.8f", v.Balance),
		"Buy:  " + orderLine(v.Buy),
		"Sell: " + orderLine(v.Sell),
		"",
		titleStyle.Render("Activity"),
		"Book:    " + ago(v.LastBookAt),
		"Fill:    " + ago(v.LastFillAt),
		"Refresh: " + ago(v.LastRefresh),
		"",
		titleStyle.Render("Counters"),
		fmt.Sprintf("placed=%d declined=%d cancelled=%d", metrics.OrdersPlaced.Value(), metrics.OrdersDeclined.Value(), metrics.OrdersCancelled.Value()),
		fmt.Sprintf("fills=%d decode_errors=%d reconnects=%d", metrics.FillsApplied.Value(), metrics.DecodeErrors.Value(), metrics.StreamReconnects.Value()),
	}
	return strings.Join(lines, "\n")
}

func orderLine(o *domain.RestingOrder) string {
	if o == nil {
		return mutedStyle.Render("-")
	}
	return fmt.Sprintf("#%d %.8f @ %.0f", o.ID, o.Size, o.Price)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Truncate(100 * time.Millisecond).String() + " ago"
}

func (m model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		v, ok := <-m.updateCh
		if !ok {
			return nil
		}
		return updateMsg{view: v}
	}
}

func (m model) tick() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
