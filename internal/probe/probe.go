package probe

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/metrics"
)

var probeLog = logrus.WithField("component", "probe")

// ErrNotAuthenticated 会话没有登录凭证；调用方本周期跳过该账户，不重试
var ErrNotAuthenticated = errors.New("not authenticated")

// Failure 查价失败（transport/解析错误，或所有标的都查价失败）
type Failure struct {
	Symbol string
	Err    error
}

func (f *Failure) Error() string {
	if f.Symbol == "" {
		return fmt.Sprintf("probe failed: %v", f.Err)
	}
	return fmt.Sprintf("probe %s failed: %v", f.Symbol, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Target 一个待查价标的及其触发条件
type Target struct {
	Symbol      string
	TargetPrice float64
	BelowPrice  float64
	Condition   domain.Condition
}

// Triggered 价格是否满足触发条件
func (t Target) Triggered(price float64) bool {
	return domain.Triggered(price, t.TargetPrice, t.BelowPrice, t.Condition)
}

// Outcome 查价结果：Matched | Unmatched
type Outcome interface {
	Sample() (symbol string, price float64)
	IsMatched() bool
}

// Matched 第一个触发的标的
type Matched struct {
	Symbol string
	Price  float64
}

func (m Matched) Sample() (string, float64) { return m.Symbol, m.Price }
func (Matched) IsMatched() bool             { return true }

// Unmatched 全部扫描完未触发，携带最后一次成功采样
type Unmatched struct {
	Symbol string
	Price  float64
}

func (u Unmatched) Sample() (string, float64) { return u.Symbol, u.Price }
func (Unmatched) IsMatched() bool             { return false }

// Quoter 场所查价传输层
type Quoter interface {
	// Authenticated 会话是否有登录证据
	Authenticated() bool
	// LastPrice 查询单个标的的最新成交价
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// Prober 场所查价适配器
type Prober interface {
	Probe(ctx context.Context, account domain.Account, targets []Target) (Outcome, error)
}

// Scan 共享的查价算法
// 按目录顺序逐个查价，第一个触发的标的立即返回；全部未触发时返回最后一次成功采样；
// 单个标的查价失败记录日志后跳过，全部失败返回 *Failure
func Scan(ctx context.Context, q Quoter, targets []Target) (Outcome, error) {
	if !q.Authenticated() {
		return nil, ErrNotAuthenticated
	}

	var (
		last    *Unmatched
		lastErr error
	)
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return nil, &Failure{Err: err}
		}
		price, err := q.LastPrice(ctx, t.Symbol)
		if err != nil {
			if errors.Is(err, ErrNotAuthenticated) {
				return nil, err
			}
			probeLog.Debugf("查价失败，跳过 %s: %v", t.Symbol, err)
			lastErr = &Failure{Symbol: t.Symbol, Err: err}
			continue
		}
		if t.Triggered(price) {
			return Matched{Symbol: t.Symbol, Price: price}, nil
		}
		last = &Unmatched{Symbol: t.Symbol, Price: price}
	}

	if last != nil {
		return *last, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &Failure{Err: errors.New("no enabled instruments")}
}

// Observe 记录一次查价的结果指标
func Observe(venue domain.Venue, out Outcome, err error) {
	outcome := "unmatched"
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		outcome = "not_authenticated"
	case err != nil:
		outcome = "failed"
	case out != nil && out.IsMatched():
		outcome = "matched"
	}
	metrics.ProbesTotal.WithLabelValues(string(venue), outcome).Inc()
}
