package syncgroup

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// SyncGroup 是 sync.WaitGroup 的包装器，简化 goroutine 生命周期管理
// 自动管理 Add() 和 Done()；单个任务 panic 不会影响其它任务，也不会让 Wait() 卡住
type SyncGroup struct {
	wg sync.WaitGroup

	mu      sync.Mutex
	funcs   []func()
	running int
	onPanic func(recovered interface{}, stack []byte)
}

// NewSyncGroup 创建新的 SyncGroup
func NewSyncGroup() *SyncGroup {
	return &SyncGroup{}
}

// OnPanic 设置任务 panic 时的回调（默认忽略）
func (w *SyncGroup) OnPanic(fn func(recovered interface{}, stack []byte)) {
	w.mu.Lock()
	w.onPanic = fn
	w.mu.Unlock()
}

// Add 添加一个待启动的任务
func (w *SyncGroup) Add(fn func()) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.funcs = append(w.funcs, fn)
	w.mu.Unlock()
}

// Run 启动所有已添加的任务并清空待启动列表
func (w *SyncGroup) Run() {
	w.mu.Lock()
	fns := w.funcs
	w.funcs = nil
	w.running += len(fns)
	onPanic := w.onPanic
	w.mu.Unlock()

	for _, fn := range fns {
		w.wg.Add(1)
		go func(doFunc func()) {
			defer func() {
				if r := recover(); r != nil && onPanic != nil {
					onPanic(r, debug.Stack())
				}
				w.mu.Lock()
				w.running--
				w.mu.Unlock()
				w.wg.Done()
			}()
			doFunc()
		}(fn)
	}
}

// Running 当前仍在运行的任务数
func (w *SyncGroup) Running() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Wait 等待所有已启动的任务完成
func (w *SyncGroup) Wait() {
	w.wg.Wait()
}

// PanicError 把 recover 的值包装成 error
func PanicError(recovered interface{}) error {
	if err, ok := recovered.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return fmt.Errorf("panic: %v", recovered)
}
