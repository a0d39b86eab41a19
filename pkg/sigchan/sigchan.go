// Package sigchan 提供只通知、不携带数据的合并信号。
package sigchan

// Chan 多次 Emit 在被消费前合并为一次
type Chan struct {
	c chan struct{}
}

// New bufferSize 通常为 1
func New(bufferSize int) *Chan {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 非阻塞发送；缓冲已满时丢弃
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

// Drain 清掉尚未消费的信号，返回清掉的个数
func (c *Chan) Drain() int {
	n := 0
	for {
		select {
		case <-c.c:
			n++
		default:
			return n
		}
	}
}
