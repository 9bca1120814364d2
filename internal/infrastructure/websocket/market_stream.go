package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/tnar/coincheck-rust/internal/domain"
	"github.com/tnar/coincheck-rust/internal/exchange/coincheck"
	"github.com/tnar/coincheck-rust/internal/metrics"
	"github.com/tnar/coincheck-rust/pkg/sigchan"
	"github.com/tnar/coincheck-rust/pkg/syncgroup"
)

var marketLog = logrus.WithField("component", "market_stream")

// ErrClosed MarketStream 已关闭
var ErrClosed = errors.New("MarketStream 已关闭")

const (
	defaultReconnectCoolDown = 15 * time.Second
	defaultPingInterval      = 10 * time.Second
	defaultReadTimeout       = 30 * time.Second
	writeTimeout             = 10 * time.Second
	handshakeTimeout         = 30 * time.Second

	eventBufferSize = 256
)

// Options 行情流参数
type Options struct {
	URL    string
	Symbol string
	// SubscribeDelay 订阅 orderbook 与 trades 之间的间隔
	SubscribeDelay    time.Duration
	ReconnectCoolDown time.Duration
	PingInterval      time.Duration
	ReadTimeout       time.Duration
}

func (o *Options) applyDefaults() {
	if o.ReconnectCoolDown <= 0 {
		o.ReconnectCoolDown = defaultReconnectCoolDown
	}
	if o.PingInterval <= 0 {
		o.PingInterval = defaultPingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = defaultReadTimeout
	}
}

// MarketStream Coincheck 公共行情流：盘口增量 + 成交
//
// 读 goroutine 负责解码并把事件投递到 Events()；控制帧（ping）在读 goroutine 内直接回复 pong。
// 断线后按冷却时间重连并重新订阅，成功后通过 Reconnected 通知调用方全量同步盘口。
type MarketStream struct {
	opts Options

	// 连接管理
	conn       *websocket.Conn
	connCancel context.CancelFunc
	connMu     sync.Mutex

	reconnectC chan struct{}
	closeC     chan struct{}
	closeOnce  sync.Once

	events chan domain.Event

	// Reconnected 每次重连并重新订阅成功后发出
	Reconnected *sigchan.Chan

	sg     *syncgroup.SyncGroup // reconnector
	connSg *syncgroup.SyncGroup // read / ping

	healthMu      sync.RWMutex
	lastPong      time.Time
	lastMessageAt time.Time
}

// NewMarketStream 创建行情流（尚未连接）
func NewMarketStream(opts Options) *MarketStream {
	opts.applyDefaults()
	return &MarketStream{
		opts:        opts,
		reconnectC:  make(chan struct{}, 1),
		closeC:      make(chan struct{}),
		events:      make(chan domain.Event, eventBufferSize),
		Reconnected: sigchan.New(1),
		sg:          syncgroup.NewSyncGroup(),
		connSg:      syncgroup.NewSyncGroup(),
		lastPong:    time.Now(),
	}
}

// Events 解码后的行情事件
func (m *MarketStream) Events() <-chan domain.Event { return m.events }

// Done 在 Close 之后关闭
func (m *MarketStream) Done() <-chan struct{} { return m.closeC }

// LastMessageAt 最近一次收到数据帧的时间
func (m *MarketStream) LastMessageAt() time.Time {
	m.healthMu.RLock()
	defer m.healthMu.RUnlock()
	return m.lastMessageAt
}

func (m *MarketStream) markMessageReceived() {
	m.healthMu.Lock()
	m.lastMessageAt = time.Now()
	m.healthMu.Unlock()
}

func (m *MarketStream) markPong() {
	m.healthMu.Lock()
	m.lastPong = time.Now()
	m.healthMu.Unlock()
}

// Connect 启动重连器并建立首个连接；首次连接失败直接返回错误
func (m *MarketStream) Connect(ctx context.Context) error {
	if err := m.dialAndSubscribe(ctx, false); err != nil {
		return err
	}
	m.sg.Add(func() {
		m.reconnector(ctx)
	})
	m.sg.Run()
	return nil
}

func (m *MarketStream) closed() bool {
	select {
	case <-m.closeC:
		return true
	default:
		return false
	}
}

func (m *MarketStream) dialAndSubscribe(ctx context.Context, reconnect bool) error {
	if m.closed() {
		return ErrClosed
	}

	conn, err := m.dial(ctx)
	if err != nil {
		return fmt.Errorf("连接 %s 失败: %w", m.opts.URL, err)
	}
	connCtx, connCancel, err := m.setConn(ctx, conn)
	if err != nil {
		return err
	}

	if err := m.subscribe(connCtx, conn); err != nil {
		connCancel()
		_ = conn.Close()
		return err
	}

	if reconnect {
		metrics.StreamReconnects.Add(1)
		m.Reconnected.Emit()
		marketLog.Infof("✅ 行情 WebSocket 已重连: %s", m.opts.Symbol)
	} else {
		marketLog.Infof("✅ 行情 WebSocket 已连接: %s", m.opts.Symbol)
	}
	return nil
}

// setConn 替换当前连接并启动读/ping goroutine，旧连接立即关闭
// 拨号期间 Close 已执行时丢弃新连接：检查和启动都在 connMu 内，Close 之后不会再有 goroutine 加入 connSg
func (m *MarketStream) setConn(ctx context.Context, conn *websocket.Conn) (context.Context, context.CancelFunc, error) {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.closed() {
		_ = conn.Close()
		return nil, nil, ErrClosed
	}
	if m.connCancel != nil {
		m.connCancel()
	}
	if m.conn != nil {
		_ = m.conn.Close()
	}

	connCtx, connCancel := context.WithCancel(ctx)
	m.conn = conn
	m.connCancel = connCancel

	// 先启动读 goroutine，订阅间隔期间的 ping 也能及时回复
	m.connSg.Add(func() {
		m.read(connCtx, conn, connCancel)
	})
	m.connSg.Add(func() {
		m.ping(connCtx, conn, connCancel)
	})
	m.connSg.Run()
	return connCtx, connCancel, nil
}

func (m *MarketStream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: handshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, m.opts.URL, nil)
	if err != nil {
		return nil, err
	}

	conn.SetPingHandler(func(appData string) error {
		// 先回 pong 再继续读下一帧
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			return err
		}
		return conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))
	})
	conn.SetPongHandler(func(string) error {
		m.markPong()
		return conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout))
	})
	return conn, nil
}

func (m *MarketStream) subscribe(ctx context.Context, conn *websocket.Conn) error {
	channels := []string{
		coincheck.OrderBookChannel(m.opts.Symbol),
		coincheck.TradesChannel(m.opts.Symbol),
	}
	for i, ch := range channels {
		if i > 0 && m.opts.SubscribeDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.closeC:
				return ErrClosed
			case <-time.After(m.opts.SubscribeDelay):
			}
		}
		m.connMu.Lock()
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := conn.WriteJSON(coincheck.SubscribeMessage{Type: "subscribe", Channel: ch})
		m.connMu.Unlock()
		if err != nil {
			return fmt.Errorf("订阅 %s 失败: %w", ch, err)
		}
		marketLog.Infof("📡 已订阅 %s", ch)
	}
	return nil
}

// Reconnect 触发重连（非阻塞，合并）
func (m *MarketStream) Reconnect() {
	select {
	case m.reconnectC <- struct{}{}:
	default:
	}
}

func (m *MarketStream) reconnector(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closeC:
			return
		case <-m.reconnectC:
			marketLog.Warnf("收到重连信号，冷却 %s...", m.opts.ReconnectCoolDown)
			select {
			case <-ctx.Done():
				return
			case <-m.closeC:
				return
			case <-time.After(m.opts.ReconnectCoolDown):
			}

			marketLog.Warnf("重新连接...")
			if err := m.dialAndSubscribe(ctx, true); err != nil {
				marketLog.Warnf("重连失败: %v，将再次尝试...", err)
				m.Reconnect()
			}
		}
	}
}

func (m *MarketStream) read(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closeC:
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(m.opts.ReadTimeout)); err != nil {
			marketLog.Debugf("设置读取超时失败: %v", err)
			return
		}

		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || m.closed() || errors.Is(err, net.ErrClosed) {
				marketLog.Debugf("WebSocket 连接已关闭")
				return
			}
			// 超时后连接状态不可用，同样走重连
			marketLog.Warnf("WebSocket 读取错误: %v，触发重连", err)
			_ = conn.Close()
			m.Reconnect()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		m.markMessageReceived()
		ev, err := coincheck.DecodeEvent(m.opts.Symbol, message)
		switch {
		case err == nil:
		case errors.Is(err, coincheck.ErrDecode):
			metrics.DecodeErrors.Add(1)
			marketLog.Warnf("丢弃无法解析的消息: %v, msg=%q", err, preview(message))
			continue
		default:
			marketLog.Debugf("忽略消息: %v, msg=%q", err, preview(message))
			continue
		}

		select {
		case m.events <- ev:
		case <-ctx.Done():
			return
		case <-m.closeC:
			return
		}
	}
}

func preview(msg []byte) string {
	if len(msg) > 200 {
		return string(msg[:200])
	}
	return string(msg)
}

func (m *MarketStream) ping(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closeC:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				if ctx.Err() != nil || m.closed() {
					return
				}
				marketLog.Warnf("发送 PING 失败: %v，触发重连", err)
				_ = conn.Close()
				m.Reconnect()
				return
			}
		}
	}
}

// Close 关闭连接并等待后台 goroutine 退出
func (m *MarketStream) Close() error {
	m.closeOnce.Do(func() {
		close(m.closeC)

		m.connMu.Lock()
		if m.connCancel != nil {
			m.connCancel()
		}
		if m.conn != nil {
			_ = m.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = m.conn.Close()
			m.conn = nil
		}
		m.connMu.Unlock()

		waitWithTimeout(m.connSg, 5*time.Second, "连接相关")
		waitWithTimeout(m.sg, 5*time.Second, "重连器")
		marketLog.Infof("✅ MarketStream 已关闭: %s", m.opts.Symbol)
	})
	return nil
}

func waitWithTimeout(sg *syncgroup.SyncGroup, d time.Duration, what string) {
	done := make(chan struct{})
	go func() {
		sg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		marketLog.Warnf("等待%s goroutine 退出超时（%s），继续关闭", what, d)
	}
}

// Resync 重连成功通知，供事件循环 select
func (m *MarketStream) Resync() <-chan struct{} { return m.Reconnected.C() }
