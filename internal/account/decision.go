package account

import (
	"fmt"

	"github.com/tnar/coincheck-rust/internal/domain"
)

// CommandKind 决策产生的指令类型
type CommandKind int

const (
	CommandCancel CommandKind = iota + 1
	CommandPlace
)

// Command 一条下单/撤单指令
type Command struct {
	Kind    CommandKind
	Side    domain.Side
	OrderID int64   // 撤单
	Price   float64 // 下单
	Size    float64 // 下单
}

func (c Command) String() string {
	if c.Kind == CommandCancel {
		return fmt.Sprintf("cancel %s#%d", c.Side, c.OrderID)
	}
	return fmt.Sprintf("place %s %.8g@%.8g", c.Side, c.Size, c.Price)
}

// DecisionInput 决策所需的只读状态
type DecisionInput struct {
	BestBid    *float64
	BestAsk    *float64
	Buy        *domain.RestingOrder
	Sell       *domain.RestingOrder
	Balance    float64
	OrderSize  float64
	MinOrder   float64
	MaxSellCap float64 // 0 表示不限制，卖出全部余额
}

// Decide 库存翻转式做市策略：两侧独立判断
//
// 买侧：已有买单且价格偏离 best bid -> 撤单；没有买单且余额 < 最小下单量 -> 在 best bid 挂固定数量买单。
// 卖侧：已有卖单且价格偏离 best ask -> 撤单；没有卖单且余额 >= 最小下单量 -> 在 best ask 挂出全部余额。
// best bid/ask 任一缺失时不产生指令。
func Decide(in DecisionInput) []Command {
	if in.BestBid == nil || in.BestAsk == nil {
		return nil
	}
	bid, ask := *in.BestBid, *in.BestAsk

	var cmds []Command
	if in.Buy != nil {
		if in.Buy.Price != bid {
			cmds = append(cmds, Command{Kind: CommandCancel, Side: domain.SideBuy, OrderID: in.Buy.ID})
		}
	} else if in.Balance < in.MinOrder {
		cmds = append(cmds, Command{Kind: CommandPlace, Side: domain.SideBuy, Price: bid, Size: in.OrderSize})
	}

	if in.Sell != nil {
		if in.Sell.Price != ask {
			cmds = append(cmds, Command{Kind: CommandCancel, Side: domain.SideSell, OrderID: in.Sell.ID})
		}
	} else if in.Balance >= in.MinOrder {
		size := in.Balance
		if in.MaxSellCap > 0 && size > in.MaxSellCap {
			size = in.MaxSellCap
		}
		cmds = append(cmds, Command{Kind: CommandPlace, Side: domain.SideSell, Price: ask, Size: size})
	}
	return cmds
}
