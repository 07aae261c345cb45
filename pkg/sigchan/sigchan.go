package sigchan

import (
	"context"
	"time"
)

// Chan 是一个非阻塞的信号 channel
// 用于通知事件发生（如注册表变更），不传递数据；多次 Emit 会合并
type Chan struct {
	c chan struct{}
}

// New 创建新的信号 channel
func New(bufferSize int) *Chan {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &Chan{
		c: make(chan struct{}, bufferSize),
	}
}

// Emit 发送信号（非阻塞，channel 已满时丢弃）
func (c *Chan) Emit() {
	select {
	case c.c <- struct{}{}:
	default:
	}
}

// C 返回内部的 channel（用于 select）
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Drain 丢弃所有已积压的信号
func (c *Chan) Drain() {
	for {
		select {
		case <-c.c:
		default:
			return
		}
	}
}

// WaitFor 等待信号、超时或 ctx 取消，三者先到者返回
// 返回 true 表示收到了信号
func (c *Chan) WaitFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-c.c:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
