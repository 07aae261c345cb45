package registry

import (
	"time"

	"github.com/betbot/circuitbot/internal/domain"
)

// 以下 setter 只由监控循环和阶梯调用
// 查价期间的变更只标记 dirty，下单的终态立即落盘，其余由 Flush 或下一次管理操作写入

func (r *Registry) mutate(id string, fn func(a *domain.Account)) (domain.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexLocked(id)
	if i < 0 {
		return "", false
	}
	before := r.accounts[i].Status
	fn(&r.accounts[i])
	st := r.accounts[i].Status
	if st != before && (st == domain.StatusOrderPlaced || st == domain.StatusOrderFailed) {
		_ = r.persistLocked()
	} else {
		r.dirty = true
	}
	return st, true
}

// SetStatus 更新运行时状态并通知 sink
func (r *Registry) SetStatus(id string, status domain.Status) {
	if _, ok := r.mutate(id, func(a *domain.Account) { a.Status = status }); ok {
		r.notifyStatus(id, status)
	}
}

// RecordSample 记录一次成功采样，清除上次错误
func (r *Registry) RecordSample(id string, price float64, at time.Time) {
	r.mutate(id, func(a *domain.Account) {
		a.LastPrice = price
		t := at
		a.LastCheckedAt = &t
		a.LastError = ""
	})
}

// SetMatched 记录触发的标的
func (r *Registry) SetMatched(id, symbol string) {
	r.mutate(id, func(a *domain.Account) { a.MatchedInstrument = symbol })
}

// SetError 状态置为 error 并记录错误信息
func (r *Registry) SetError(id, msg string) {
	if _, ok := r.mutate(id, func(a *domain.Account) {
		a.Status = domain.StatusError
		a.LastError = msg
	}); ok {
		r.notifyStatus(id, domain.StatusError)
	}
}

func (r *Registry) notifyStatus(id string, status domain.Status) {
	r.mu.RLock()
	sink := r.sink
	r.mu.RUnlock()
	sink.OnStatusChange(id, status)
}
