package ratelimit

import (
	"context"
	"sync"
	"time"
)

// 默认值：每 1000ms 最多 2 次价格查询
const (
	DefaultMaxRequests = 2
	DefaultWindow      = 1000 * time.Millisecond
)

// Limiter 速率限制器接口
type Limiter interface {
	// WaitForSlot 阻塞直到窗口内有空位，然后记录一次准入
	WaitForSlot(ctx context.Context) error
	// Allow 非阻塞尝试准入
	Allow() bool
	// Remaining 当前窗口内剩余可用次数
	Remaining() int
	// ResetTime 最早一次准入滑出窗口的时间
	ResetTime() time.Time
}

// Status 限流器快照
type Status struct {
	MaxRequests int           `json:"maxRequests"`
	Window      time.Duration `json:"window"`
	InWindow    int           `json:"inWindow"`
}

// SlidingWindow 滑动窗口速率限制器
type SlidingWindow struct {
	limit      int           // 限制数量
	windowSize time.Duration // 窗口大小
	requests   []time.Time   // 准入时间戳（按时间升序）
	mu         sync.Mutex
	now        func() time.Time
}

// NewSlidingWindow 创建新的滑动窗口速率限制器
// limit<=0 或 windowSize<=0 时使用默认值
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	if limit <= 0 {
		limit = DefaultMaxRequests
	}
	if windowSize <= 0 {
		windowSize = DefaultWindow
	}
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		requests:   make([]time.Time, 0, limit),
		now:        time.Now,
	}
}

// prune 移除窗口外的准入记录，调用方需持有锁
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.windowSize)
	i := 0
	for i < len(sw.requests) && !sw.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		sw.requests = append(sw.requests[:0], sw.requests[i:]...)
	}
}

// Allow 检查是否允许请求
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.prune(now)
	if len(sw.requests) >= sw.limit {
		return false
	}
	sw.requests = append(sw.requests, now)
	return true
}

// WaitForSlot 等待直到允许请求
// 唯一的错误来源是 ctx 取消
func (sw *SlidingWindow) WaitForSlot(ctx context.Context) error {
	for {
		if sw.Allow() {
			return nil
		}

		sw.mu.Lock()
		waitTime := 10 * time.Millisecond
		if len(sw.requests) > 0 {
			// 最早一条滑出窗口后即可重试
			if w := sw.requests[0].Add(sw.windowSize).Sub(sw.now()); w > 0 {
				waitTime = w
			}
		}
		sw.mu.Unlock()

		timer := time.NewTimer(waitTime)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining 获取剩余可用次数
func (sw *SlidingWindow) Remaining() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.now())
	return sw.limit - len(sw.requests)
}

// ResetTime 获取重置时间
func (sw *SlidingWindow) ResetTime() time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := sw.now()
	sw.prune(now)
	if len(sw.requests) == 0 {
		return now
	}
	return sw.requests[0].Add(sw.windowSize)
}

// Status 返回限流器快照
func (sw *SlidingWindow) Status() Status {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.prune(sw.now())
	return Status{
		MaxRequests: sw.limit,
		Window:      sw.windowSize,
		InWindow:    len(sw.requests),
	}
}
