package events

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/ladder"
)

var sinkLog = logrus.WithField("component", "events")

// Level 事件日志级别
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Sink 引擎对外的观察接口
// 实现方不能阻塞调用方；引擎在 Nop 下的行为与有观察者时完全一致
type Sink interface {
	OnLog(msg string, level Level)
	OnStatusChange(accountID string, status domain.Status)
	OnCycleComplete(index int, duration time.Duration)
	OnOrdersComplete(results []ladder.Result)
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) OnLog(string, Level)                  {}
func (Nop) OnStatusChange(string, domain.Status) {}
func (Nop) OnCycleComplete(int, time.Duration)   {}
func (Nop) OnOrdersComplete([]ladder.Result)     {}

// Multi 扇出到多个 Sink；单个 Sink panic 不影响其它 Sink 和调用方
type Multi []Sink

func (m Multi) each(name string, fn func(Sink)) {
	for _, s := range m {
		func() {
			defer func() {
				if r := recover(); r != nil {
					sinkLog.Errorf("❌ sink %T.%s panic: %v", s, name, r)
				}
			}()
			fn(s)
		}()
	}
}

func (m Multi) OnLog(msg string, level Level) {
	m.each("OnLog", func(s Sink) { s.OnLog(msg, level) })
}

func (m Multi) OnStatusChange(accountID string, status domain.Status) {
	m.each("OnStatusChange", func(s Sink) { s.OnStatusChange(accountID, status) })
}

func (m Multi) OnCycleComplete(index int, duration time.Duration) {
	m.each("OnCycleComplete", func(s Sink) { s.OnCycleComplete(index, duration) })
}

func (m Multi) OnOrdersComplete(results []ladder.Result) {
	m.each("OnOrdersComplete", func(s Sink) { s.OnOrdersComplete(results) })
}

// Logf 格式化后发送日志事件，同时写入 logrus
func Logf(s Sink, level Level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch level {
	case LevelError:
		sinkLog.Error(msg)
	case LevelWarning:
		sinkLog.Warn(msg)
	default:
		sinkLog.Info(msg)
	}
	if s != nil {
		s.OnLog(msg, level)
	}
}
