package coordinator

import (
	"context"
	"fmt"

	"github.com/tnar/coincheck-rust/internal/account"
)

// Connector 行情流连接（连接成功即已订阅）
type Connector interface {
	Connect(ctx context.Context) error
}

// Bootstrap 启动同步：先连接并订阅行情流，再拉取 REST 全量盘口替换本地镜像
//
// 拉取期间到达的增量留在行情流的事件缓冲里，事件循环开始后按顺序叠加到全量快照上，
// 快照之后删除的价位不会残留。
func Bootstrap(ctx context.Context, stream Connector, books BookFetcher, state *account.State) error {
	if err := stream.Connect(ctx); err != nil {
		return fmt.Errorf("连接行情 WebSocket 失败: %w", err)
	}
	full, err := books.FetchOrderBook(ctx)
	if err != nil {
		return fmt.Errorf("拉取初始盘口失败: %w", err)
	}
	state.ReplaceBook(full)
	loopLog.Infof("📚 初始盘口已同步: bids=%d asks=%d", len(full.Bids), len(full.Asks))
	return nil
}
