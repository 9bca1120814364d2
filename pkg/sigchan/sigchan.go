package sigchan

// Chan 合并型通知 channel：只表示“有事发生”，不携带数据
// 接收方来不及处理时多次 Emit 合并为一次
type Chan struct {
	c chan struct{}
}

// New 创建通知 channel，bufferSize 通常为 1
func New(bufferSize int) *Chan {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发出通知（非阻塞，满了就丢弃）
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 用于 select
func (c *Chan) C() <-chan struct{} {
	return c.c
}
