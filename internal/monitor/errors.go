package monitor

import (
	"errors"
	"fmt"
)

// ErrStopPending Stop 超时：循环已收到停止信号，但仍有阶梯在运行
// 阶梯结束后循环自行退出并关闭会话
var ErrStopPending = errors.New("stop signalled, ladders still running")

// ConfigError 启动前的配置错误，Start 直接返回
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "configuration error: " + e.Reason }

func configError(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}
