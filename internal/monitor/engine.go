package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/events"
	"github.com/betbot/circuitbot/internal/ladder"
	"github.com/betbot/circuitbot/internal/metrics"
	"github.com/betbot/circuitbot/internal/probe"
	"github.com/betbot/circuitbot/internal/session"
	"github.com/betbot/circuitbot/pkg/ratelimit"
	"github.com/betbot/circuitbot/pkg/shutdown"
	"github.com/betbot/circuitbot/pkg/sigchan"
	"github.com/betbot/circuitbot/pkg/syncgroup"
)

var monLog = logrus.WithField("component", "monitor")

// Registry 监控循环需要的注册表能力
type Registry interface {
	List() []domain.Account
	EnabledInstruments() []domain.Instrument
	LadderConfig(accountKey, symbol string) (domain.LadderConfig, bool)
	LadderConfigs() map[string]map[string]domain.LadderConfig

	SetStatus(id string, status domain.Status)
	RecordSample(id string, price float64, at time.Time)
	SetMatched(id, symbol string)
	SetError(id, msg string)
	Changed() *sigchan.Chan
}

// warmer 可选：启动时预先打开会话
type warmer interface {
	Warm(ctx context.Context, accounts []domain.Account) int
}

// Options 引擎依赖与节奏参数
type Options struct {
	Registry Registry
	Limiter  ratelimit.Limiter
	Sessions session.Provider
	Probers  map[domain.Venue]probe.Prober
	Ladders  map[domain.Venue]ladder.Runner
	Sink     events.Sink

	IdleWait          time.Duration // 没有查价账户时的等待
	ProbeTimeout      time.Duration
	LadderMaxDuration time.Duration
}

// Engine 查价 → 触发 → 并行阶梯下单 → 停止
type Engine struct {
	opts     Options
	sink     events.Sink
	inflight *InFlightDeduper

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	cycles      int
	lastResults []ladder.Result
	closeAfter  chan struct{} // 已为该 done 安排延迟关闭会话

	// 以下只在循环 goroutine 中访问
	warned   map[string]bool
	loggedIn map[string]bool
}

func NewEngine(opts Options) *Engine {
	if opts.IdleWait <= 0 {
		opts.IdleWait = 5 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 30 * time.Second
	}
	if opts.LadderMaxDuration <= 0 {
		opts.LadderMaxDuration = time.Hour
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewSlidingWindow(0, 0)
	}
	sink := opts.Sink
	if sink == nil {
		sink = events.Nop{}
	}
	return &Engine{
		opts:     opts,
		sink:     sink,
		inflight: NewInFlightDeduper(opts.LadderMaxDuration+time.Minute, 0),
	}
}

// Start 校验配置并在后台启动监控循环
// 循环与调用方的 ctx 解绑，只由 Stop 或一次完成的下单结束
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return configError("monitoring already running")
	}
	if err := e.validate(); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.running = true
	e.cancel = cancel
	e.done = make(chan struct{})
	e.cycles = 0
	e.warned = make(map[string]bool)
	e.loggedIn = make(map[string]bool)
	metrics.Monitoring.Set(1)

	events.Logf(e.sink, events.LevelSuccess, "🚀 开始价格监控")
	go e.loop(loopCtx, e.done)
	return nil
}

func (e *Engine) validate() error {
	reg := e.opts.Registry
	accounts := reg.List()
	if len(accounts) == 0 {
		return configError("no accounts configured")
	}
	if len(reg.EnabledInstruments()) == 0 && len(reg.LadderConfigs()) == 0 {
		return configError("no trigger configured: enable an instrument or add a ladder config")
	}
	for i := range accounts {
		a := &accounts[i]
		if !a.Enabled {
			continue
		}
		if a.Role.CanPrice() && e.opts.Probers[a.Venue] == nil {
			return configError("no price script configured for venue %q (%s)", a.Venue, a.DisplayName())
		}
		if a.Role.CanOrder() && e.opts.Ladders[a.Venue] == nil {
			return configError("no order script configured for venue %q (%s)", a.Venue, a.DisplayName())
		}
	}
	return nil
}

// Stop 通知循环停止（当前查价会完成），等待进行中的阶梯，然后关闭会话
// 未运行时直接返回 nil
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	running := e.running
	e.mu.Unlock()
	if !running || done == nil {
		return nil
	}

	events.Logf(e.sink, events.LevelWarning, "⏹️ 正在停止价格监控...")
	m := shutdown.NewManager()
	m.OnShutdown("monitor-loop", func(ctx context.Context) error {
		cancel()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	m.OnShutdown("sessions", func(context.Context) error {
		return e.closeSessions()
	})
	m.Shutdown(ctx)

	select {
	case <-done:
	default:
		e.closeSessionsAfter(done)
		events.Logf(e.sink, events.LevelWarning, "⏳ 循环已通知停止，等待进行中的阶梯结束")
		return fmt.Errorf("stop monitor: %w: %w", ErrStopPending, ctx.Err())
	}
	events.Logf(e.sink, events.LevelSuccess, "✅ 监控已停止")
	return nil
}

func (e *Engine) closeSessions() error {
	if e.opts.Sessions == nil {
		return nil
	}
	return e.opts.Sessions.Close()
}

// closeSessionsAfter 循环退出后再关闭会话，同一轮运行只安排一次
func (e *Engine) closeSessionsAfter(done chan struct{}) {
	e.mu.Lock()
	if e.closeAfter == done {
		e.mu.Unlock()
		return
	}
	e.closeAfter = done
	e.mu.Unlock()

	go func() {
		<-done
		if err := e.closeSessions(); err != nil {
			monLog.Warnf("关闭会话失败: %v", err)
		}
	}()
}

// Wait 阻塞直到循环退出
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Running 是否正在监控
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) finish() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
	metrics.Monitoring.Set(0)
}

func splitAccounts(accounts []domain.Account) (price, order []domain.Account) {
	for i := range accounts {
		a := &accounts[i]
		if a.PriceEligible() {
			price = append(price, *a)
		}
		if a.OrderEligible() {
			order = append(order, *a)
		}
	}
	return price, order
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer e.finish()

	reg := e.opts.Registry
	if w, ok := e.opts.Sessions.(warmer); ok {
		var enabled []domain.Account
		for _, a := range reg.List() {
			if a.Enabled {
				enabled = append(enabled, a)
			}
		}
		authed := w.Warm(ctx, enabled)
		events.Logf(e.sink, events.LevelInfo, "📂 已打开 %d 个会话，其中 %d 个已登录", len(enabled), authed)
	}

	priceAccts, orderAccts := splitAccounts(reg.List())
	events.Logf(e.sink, events.LevelInfo, "🔄 查价账户 %d 个，下单账户 %d 个", len(priceAccts), len(orderAccts))

	for ctx.Err() == nil {
		priceAccts, _ = splitAccounts(reg.List())
		if len(priceAccts) == 0 {
			events.Logf(e.sink, events.LevelWarning, "⚠️ 没有可查价的账户，等待配置变更...")
			reg.Changed().WaitFor(ctx, e.opts.IdleWait)
			continue
		}

		e.mu.Lock()
		e.cycles++
		cycle := e.cycles
		e.mu.Unlock()

		start := time.Now()
		hit, source := e.probeCycle(ctx, priceAccts)
		dur := time.Since(start)
		metrics.MonitorCycles.Add(1)
		metrics.CycleDuration.Observe(dur.Seconds())
		monLog.Debugf("✅ Cycle #%d 完成，耗时 %.1fs", cycle, dur.Seconds())
		e.sink.OnCycleComplete(cycle, dur)

		if hit == nil {
			continue
		}
		// 查价期间账户可能被修改，以触发时的注册表为准
		_, orderAccts = splitAccounts(reg.List())
		if len(orderAccts) == 0 {
			events.Logf(e.sink, events.LevelWarning, "⚠️ %s 触发但没有可下单的账户，继续监控", hit.Symbol)
			continue
		}

		events.Logf(e.sink, events.LevelSuccess, "🎯 %s 在 %s 触发 @ %.1f", hit.Symbol, source.DisplayName(), hit.Price)
		results := e.dispatch(ctx, hit.Symbol, orderAccts)

		e.mu.Lock()
		e.lastResults = results
		e.mu.Unlock()
		e.sink.OnOrdersComplete(results)
		e.summarize(results)
		events.Logf(e.sink, events.LevelSuccess, "✅ 下单完成，监控已停止")
		return
	}
}

// probeCycle 逐个账户查价，返回第一个触发的结果
func (e *Engine) probeCycle(ctx context.Context, accounts []domain.Account) (*probe.Matched, *domain.Account) {
	reg := e.opts.Registry
	for i := range accounts {
		a := &accounts[i]
		prober := e.opts.Probers[a.Venue]
		if prober == nil {
			// 运行中新增的账户不经过 Start 校验
			reg.SetError(a.ID, fmt.Sprintf("no price script configured for venue %q", a.Venue))
			if key := "noscript:" + a.ID; !e.warned[key] {
				e.warned[key] = true
				events.Logf(e.sink, events.LevelError, "❌ %s: %v，跳过", a.DisplayName(),
					configError("no price script configured for venue %q", a.Venue))
			}
			continue
		}
		if err := e.opts.Limiter.WaitForSlot(ctx); err != nil {
			return nil, nil
		}

		reg.SetStatus(a.ID, domain.StatusChecking)
		// 停止信号不打断进行中的查价
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.ProbeTimeout)
		out, err := prober.Probe(pctx, *a, e.targets(a))
		cancel()

		switch {
		case errors.Is(err, probe.ErrNotAuthenticated):
			reg.SetError(a.ID, "not logged in")
			if !e.warned[a.ID] {
				e.warned[a.ID] = true
				events.Logf(e.sink, events.LevelWarning, "⏳ %s: 未登录，跳过...", a.DisplayName())
			}
		case err != nil:
			reg.SetError(a.ID, err.Error())
			events.Logf(e.sink, events.LevelError, "❌ 查价失败 %s: %v", a.DisplayName(), err)
		default:
			sym, price := out.Sample()
			reg.RecordSample(a.ID, price, time.Now())
			reg.SetStatus(a.ID, domain.StatusIdle)
			delete(e.warned, a.ID)
			if !e.loggedIn[a.ID] {
				e.loggedIn[a.ID] = true
				events.Logf(e.sink, events.LevelSuccess, "✅ %s 已登录", a.DisplayName())
			}
			events.Logf(e.sink, events.LevelInfo, "💰 %s [%s]: %.1f", a.DisplayName(), sym, price)
			if m, ok := out.(probe.Matched); ok {
				reg.SetMatched(a.ID, m.Symbol)
				return &m, a
			}
		}

		if ctx.Err() != nil {
			return nil, nil
		}
	}
	return nil, nil
}

// targets 账户本周期的查价目标
// 有启用的标的时用标的目录（BelowPrice 取该账户的阶梯配置）；
// 否则用阶梯配置里的标的，以 OrderPrice 为目标价
func (e *Engine) targets(a *domain.Account) []probe.Target {
	reg := e.opts.Registry
	instruments := reg.EnabledInstruments()
	if len(instruments) > 0 {
		out := make([]probe.Target, 0, len(instruments))
		for _, in := range instruments {
			t := probe.Target{Symbol: in.Symbol, TargetPrice: in.TargetPrice, Condition: in.Condition}
			if cfg, ok := reg.LadderConfig(a.Key(), in.Symbol); ok {
				t.BelowPrice = cfg.BelowPrice
			}
			out = append(out, t)
		}
		return out
	}

	all := reg.LadderConfigs()
	bySym := all[a.Key()]
	seen := map[string]bool{}
	var symbols []string
	for sym := range bySym {
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	// 账户自己没有配置的标的用其它账户的配置补齐
	var extra []string
	for key, m := range all {
		if key == a.Key() {
			continue
		}
		for sym := range m {
			if !seen[sym] {
				seen[sym] = true
				extra = append(extra, sym)
			}
		}
	}
	sort.Strings(extra)
	symbols = append(symbols, extra...)

	out := make([]probe.Target, 0, len(symbols))
	for _, sym := range symbols {
		cfg, ok := bySym[sym]
		if !ok {
			cfg = firstConfig(all, sym)
		}
		out = append(out, probe.Target{Symbol: sym, TargetPrice: cfg.OrderPrice, BelowPrice: cfg.BelowPrice, Condition: domain.ConditionLTE})
	}
	return out
}

func firstConfig(all map[string]map[string]domain.LadderConfig, sym string) domain.LadderConfig {
	keys := make([]string, 0, len(all))
	for k := range all {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if cfg, ok := all[k][sym]; ok {
			return cfg
		}
	}
	return domain.LadderConfig{}.WithDefaults()
}

// dispatch 在所有有配置的下单账户上并行运行阶梯，等待全部结束
// 阶梯与停止信号解绑，只受 LadderMaxDuration 约束
func (e *Engine) dispatch(ctx context.Context, symbol string, accounts []domain.Account) []ladder.Result {
	reg := e.opts.Registry
	runID := uuid.NewString()
	ladderCtx := context.WithoutCancel(ctx)

	var (
		mu      sync.Mutex
		results []ladder.Result
	)
	sg := syncgroup.NewSyncGroup()
	sg.OnPanic(func(recovered interface{}, stack []byte) {
		monLog.Errorf("❌ 阶梯 panic: %v\n%s", syncgroup.PanicError(recovered), stack)
	})

	for i := range accounts {
		a := accounts[i]
		cfg, ok := reg.LadderConfig(a.Key(), symbol)
		if !ok {
			events.Logf(e.sink, events.LevelInfo, "⏭️ %s 没有 %s 的阶梯配置，跳过", a.DisplayName(), symbol)
			continue
		}
		runner := e.opts.Ladders[a.Venue]
		if runner == nil {
			reg.SetError(a.ID, fmt.Sprintf("no order script configured for venue %q", a.Venue))
			events.Logf(e.sink, events.LevelError, "❌ %s: %v，跳过", a.DisplayName(),
				configError("no order script configured for venue %q", a.Venue))
			continue
		}
		key := a.ID
		if err := e.inflight.TryAcquire(key); err != nil {
			events.Logf(e.sink, events.LevelWarning, "⏭️ %s 已有进行中的阶梯，跳过", a.DisplayName())
			continue
		}

		reg.SetStatus(a.ID, domain.StatusOrdering)
		metrics.LaddersInFlight.Add(1)
		events.Logf(e.sink, events.LevelInfo, "📦 %s: %s 开始下单 (qty=%d max=%d price=%.1f)",
			a.DisplayName(), symbol, cfg.OrderQty, cfg.MaxOrderQty, cfg.OrderPrice)

		sg.Add(func() {
			res := ladder.Result{AccountID: a.ID, AccountName: a.DisplayName(), Venue: a.Venue, Symbol: symbol, Message: "ladder panicked"}
			defer func() {
				e.inflight.Release(key)
				metrics.LaddersInFlight.Add(-1)
				status := domain.StatusOrderFailed
				if res.Success {
					status = domain.StatusOrderPlaced
				}
				reg.SetStatus(a.ID, status)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}()
			lctx, cancel := context.WithTimeout(ladderCtx, e.opts.LadderMaxDuration)
			defer cancel()
			res = runner.Run(lctx, ladder.Request{RunID: runID, Account: a, Symbol: symbol, Config: cfg})
		})
	}

	sg.Run()
	sg.Wait()

	// 按账户顺序输出
	order := make(map[string]int, len(accounts))
	for i, a := range accounts {
		order[a.ID] = i
	}
	sort.SliceStable(results, func(i, j int) bool { return order[results[i].AccountID] < order[results[j].AccountID] })
	return results
}

func (e *Engine) summarize(results []ladder.Result) {
	ok, circuit := 0, 0
	for _, r := range results {
		if r.Success {
			ok++
		}
		if r.CircuitReached {
			circuit++
		}
		level, mark := events.LevelSuccess, "✅"
		detail := fmt.Sprintf("%d orders placed", r.OrdersPlaced)
		switch {
		case r.CircuitReached:
			detail = fmt.Sprintf("CIRCUIT @ %.1f, %d orders placed", r.CircuitPrice, r.OrdersPlaced)
		case !r.Success:
			level, mark = events.LevelError, "⚠️"
			detail = r.Message
		}
		events.Logf(e.sink, level, "%s %s [%s]: %s", mark, r.AccountName, r.Symbol, detail)
	}
	events.Logf(e.sink, events.LevelInfo, "📊 下单汇总: %d 个账户, %d 成功, %d 到达涨停", len(results), ok, circuit)
}
