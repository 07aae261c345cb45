package shutdown

import (
	"context"
	"sync"
	"time"

	"github.com/betbot/circuitbot/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type stage struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器
// 回调按注册顺序串行执行：前一阶段结束（或 ctx 超时）后才进入下一阶段
type Manager struct {
	stages []stage
	mu     sync.Mutex
	once   sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	if handler == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stage{name: name, handler: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）
// 单个阶段出错只记录日志，不阻断后续阶段
func (m *Manager) Shutdown(ctx context.Context) {
	m.once.Do(func() {
		m.mu.Lock()
		stages := append([]stage(nil), m.stages...)
		m.mu.Unlock()

		if len(stages) == 0 {
			logger.Info("没有注册的关闭回调")
			return
		}

		logger.Infof("开始优雅关闭，共 %d 个阶段", len(stages))
		for _, st := range stages {
			start := time.Now()
			done := make(chan error, 1)
			go func(h Handler) { done <- h(ctx) }(st.handler)

			select {
			case err := <-done:
				if err != nil {
					logger.Warnf("关闭阶段 %s 失败: %v", st.name, err)
				} else {
					logger.Debugf("关闭阶段 %s 完成，耗时 %s", st.name, time.Since(start))
				}
			case <-ctx.Done():
				logger.Warnf("关闭超时（阶段 %s）: %v", st.name, ctx.Err())
				return
			}
		}
		logger.Info("所有关闭回调已完成")
	})
}
