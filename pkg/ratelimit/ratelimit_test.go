package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastAdmission(sw *SlidingWindow) time.Time {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.requests[len(sw.requests)-1]
}

// 任意连续 limit+1 次准入的时间跨度都不小于窗口
func TestSlidingWindow_NeverExceedsLimitPerWindow(t *testing.T) {
	const limit = 2
	window := 60 * time.Millisecond
	sw := NewSlidingWindow(limit, window)

	var admissions []time.Time
	for i := 0; i < 7; i++ {
		require.NoError(t, sw.WaitForSlot(context.Background()))
		admissions = append(admissions, lastAdmission(sw))
	}

	for i := 0; i+limit < len(admissions); i++ {
		span := admissions[i+limit].Sub(admissions[i])
		assert.GreaterOrEqualf(t, span, window, "admission %d..%d span=%v", i, i+limit, span)
	}
}

func TestSlidingWindow_AllowAndRemaining(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	sw := NewSlidingWindow(2, time.Second)
	sw.now = func() time.Time { return now }

	assert.Equal(t, 2, sw.Remaining())
	assert.True(t, sw.Allow())
	assert.True(t, sw.Allow())
	assert.False(t, sw.Allow())
	assert.Equal(t, 0, sw.Remaining())
	assert.Equal(t, now.Add(time.Second), sw.ResetTime())

	// 窗口滑过后旧记录被裁剪
	now = now.Add(time.Second + time.Millisecond)
	assert.Equal(t, 2, sw.Remaining())
	assert.True(t, sw.Allow())
	assert.Equal(t, 1, sw.Status().InWindow)
}

// 紧密循环调用时队列长度不会超过 limit
func TestSlidingWindow_BoundedQueue(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	sw := NewSlidingWindow(3, 10*time.Millisecond)
	sw.now = func() time.Time { return now }

	for i := 0; i < 1000; i++ {
		sw.Allow()
		now = now.Add(time.Millisecond)
		sw.mu.Lock()
		n := len(sw.requests)
		sw.mu.Unlock()
		require.LessOrEqual(t, n, 3)
	}
}

func TestSlidingWindow_WaitHonoursContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	require.NoError(t, sw.WaitForSlot(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := sw.WaitForSlot(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSlidingWindow_ConcurrentCallers(t *testing.T) {
	sw := NewSlidingWindow(4, 50*time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sw.WaitForSlot(context.Background())
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, sw.Status().InWindow, 4)
}

func TestNewSlidingWindow_Defaults(t *testing.T) {
	st := NewSlidingWindow(0, 0).Status()
	assert.Equal(t, DefaultMaxRequests, st.MaxRequests)
	assert.Equal(t, DefaultWindow, st.Window)
}
