package ladder

import (
	"context"
	"time"

	"github.com/betbot/circuitbot/internal/domain"
)

// Request 一次阶梯执行的输入
type Request struct {
	RunID   string
	Account domain.Account
	Symbol  string
	Config  domain.LadderConfig
}

// Result 阶梯执行的终态结果
// 阶梯永远返回结构化结果，失败用 Success=false + Message 表达，不向外抛错
type Result struct {
	RunID          string         `json:"runId"`
	AccountID      string         `json:"accountId"`
	AccountName    string         `json:"accountName"`
	Venue          domain.Venue   `json:"venue"`
	Symbol         string         `json:"symbol"`
	Success        bool           `json:"success"`
	CircuitReached bool           `json:"circuitReached"`
	CircuitPrice   float64        `json:"circuitPrice,omitempty"`
	OrdersPlaced   int            `json:"ordersPlaced"`
	Prices         []float64      `json:"prices"`
	Orders         []domain.Order `json:"orders,omitempty"`
	Message        string         `json:"message,omitempty"`
	StartedAt      time.Time      `json:"startedAt"`
	FinishedAt     time.Time      `json:"finishedAt"`
}

// Duration 执行耗时
func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Runner 场所相关的阶梯算法
type Runner interface {
	Run(ctx context.Context, req Request) Result
}

// Timing 阶梯节奏参数
type Timing struct {
	PollInterval        time.Duration // A: 轮询 LTP 间隔
	ErrorBackoff        time.Duration // A: transport 错误后的退避
	RetryInterval       time.Duration // B: 第 0 档重试间隔
	WaitInterval        time.Duration // B: 等待价格到达时的轮询间隔
	UnavailableInterval time.Duration // B: 报价不可用时的轮询间隔
	MaxDuration         time.Duration // 墙钟截止时间（从阶梯开始计）
}

// DefaultTiming 默认节奏
func DefaultTiming() Timing {
	return Timing{
		PollInterval:        200 * time.Millisecond,
		ErrorBackoff:        300 * time.Millisecond,
		RetryInterval:       10 * time.Millisecond,
		WaitInterval:        100 * time.Millisecond,
		UnavailableInterval: 500 * time.Millisecond,
		MaxDuration:         time.Hour,
	}
}

// WithDefaults 零值字段使用默认值
func (t Timing) WithDefaults() Timing {
	d := DefaultTiming()
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.ErrorBackoff <= 0 {
		t.ErrorBackoff = d.ErrorBackoff
	}
	if t.RetryInterval <= 0 {
		t.RetryInterval = d.RetryInterval
	}
	if t.WaitInterval <= 0 {
		t.WaitInterval = d.WaitInterval
	}
	if t.UnavailableInterval <= 0 {
		t.UnavailableInterval = d.UnavailableInterval
	}
	if t.MaxDuration <= 0 {
		t.MaxDuration = d.MaxDuration
	}
	return t
}

// NewResult 以请求信息初始化结果
func NewResult(req Request, startedAt time.Time) Result {
	return Result{
		RunID:       req.RunID,
		AccountID:   req.Account.ID,
		AccountName: req.Account.DisplayName(),
		Venue:       req.Account.Venue,
		Symbol:      req.Symbol,
		Prices:      []float64{},
		StartedAt:   startedAt,
	}
}

// Record 记录一笔委托；只有被确认的委托计入 Prices/OrdersPlaced
func (r *Result) Record(o domain.Order) {
	r.Orders = append(r.Orders, o)
	if o.Accepted() {
		r.Prices = append(r.Prices, o.Price)
		r.OrdersPlaced++
	}
}

// HasPlaced 价格是否已被确认下过单
func (r *Result) HasPlaced(price float64) bool {
	for _, p := range r.Prices {
		if p == price {
			return true
		}
	}
	return false
}

// Finish 填写终态
func (r *Result) Finish(success bool, msg string) Result {
	r.Success = success
	r.Message = msg
	r.FinishedAt = time.Now()
	return *r
}

// Sleep 可被 ctx 打断的等待，返回 false 表示 ctx 已结束
func Sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// EndReason 根据 ctx 错误生成终止原因
func EndReason(ctx context.Context, maxDuration time.Duration) string {
	if ctx.Err() == context.DeadlineExceeded {
		return "timeout after " + maxDuration.String()
	}
	return "cancelled"
}
