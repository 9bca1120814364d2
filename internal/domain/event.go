package domain

// EventKind 行情流事件类型
type EventKind int

const (
	EventOrderBook EventKind = iota + 1
	EventExecutions
)

func (k EventKind) String() string {
	switch k {
	case EventOrderBook:
		return "orderbook"
	case EventExecutions:
		return "executions"
	}
	return "unknown"
}

// Event 解码后的行情流消息：OrderBookDelta 或 ExecutionBatch 二选一
// 在解码边界校验一次，下游不再检查原始数据
type Event struct {
	Kind       EventKind
	Delta      OrderBookDelta
	Executions []Execution
}

// NewOrderBookEvent 构造订单簿增量事件
func NewOrderBookEvent(delta OrderBookDelta) Event {
	return Event{Kind: EventOrderBook, Delta: delta}
}

// NewExecutionEvent 构造成交批次事件
func NewExecutionEvent(execs []Execution) Event {
	return Event{Kind: EventExecutions, Executions: execs}
}
