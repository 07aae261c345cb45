package tms

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/ladder"
	"github.com/betbot/circuitbot/internal/metrics"
	"github.com/betbot/circuitbot/internal/session"
)

var ladderLog = logrus.WithField("component", "tms-ladder")

// Ladder 追价直到涨停
//
// 每个 tick 查询 LTP；价格上涨时以 Truncate1(LTP*1.02) 挂单（同一价格只挂一次），
// 一旦该价格达到涨停价，则以涨停价和 EffectiveMaxQty 挂最后一笔单并结束。
type Ladder struct {
	sessions session.Provider
	timing   ladder.Timing
}

func NewLadder(sessions session.Provider, timing ladder.Timing) *Ladder {
	return &Ladder{sessions: sessions, timing: timing.WithDefaults()}
}

func (l *Ladder) Run(ctx context.Context, req ladder.Request) ladder.Result {
	res := ladder.NewResult(req, time.Now())
	log := ladderLog.WithFields(logrus.Fields{"account": req.Account.DisplayName(), "symbol": req.Symbol})
	defer func() { recordLadder(res) }()

	s, err := l.sessions.Session(ctx, req.Account)
	if err != nil {
		return res.Finish(false, "session unavailable: "+err.Error())
	}
	if !s.Authenticated() {
		return res.Finish(false, "not logged in (no securities/token in session)")
	}
	sec, ok := s.Security(req.Symbol)
	if !ok {
		return res.Finish(false, "scrip not found: "+req.Symbol)
	}

	cfg := req.Config
	maxQty := ladder.EffectiveMaxQty(cfg.OrderQty, cfg.MaxOrderQty, cfg.OrderPrice, cfg.Collateral)
	circuit := ladder.CircuitPrice(cfg.OrderPrice)
	if cfg.OrderPrice == 0 {
		circuit = ladder.Truncate1(sec.DPRRangeHigh)
	}
	if circuit <= 0 {
		return res.Finish(false, "no circuit price (orderPrice=0 and no dprRangeHigh)")
	}
	res.CircuitPrice = circuit
	log.Infof("🚀 开始追价: circuit=%.1f qty=%d maxQty=%d", circuit, cfg.OrderQty, maxQty)

	c := NewClient(s)
	ctx, cancel := context.WithTimeout(ctx, l.timing.MaxDuration)
	defer cancel()

	var previous float64
	for {
		if ctx.Err() != nil {
			reason := ladder.EndReason(ctx, l.timing.MaxDuration)
			log.Warnf("⏰ 追价结束（%s），已下 %d 单", reason, res.OrdersPlaced)
			return res.Finish(res.OrdersPlaced > 0, reason)
		}

		ltp, err := c.LastTradedPrice(ctx, sec)
		switch {
		case errors.Is(err, ErrTokenExpired):
			if rerr := c.RefreshToken(ctx); rerr != nil {
				metrics.TokenRefreshes.WithLabelValues("failed").Inc()
				log.Errorf("❌ 401 后刷新 token 失败: %v", rerr)
				return res.Finish(false, "token refresh failed after 401")
			}
			metrics.TokenRefreshes.WithLabelValues("ok").Inc()
			log.Info("🔑 token 已刷新")
			ladder.Sleep(ctx, l.timing.PollInterval)
			continue
		case errors.Is(err, ErrNotReady):
			ladder.Sleep(ctx, l.timing.PollInterval)
			continue
		case err != nil:
			log.Debugf("查询 LTP 失败: %v", err)
			ladder.Sleep(ctx, l.timing.ErrorBackoff)
			continue
		}

		// 第一次采样视为上涨（previous 初始为 0）
		if ltp > previous {
			candidate := ladder.StepUp(ltp)
			if candidate >= circuit {
				if !res.HasPlaced(circuit) {
					res.Record(l.place(ctx, c, req, sec, circuit, maxQty, true))
				}
				res.CircuitReached = true
				log.Infof("🎯 到达涨停价 %.1f，共下 %d 单", circuit, res.OrdersPlaced)
				return res.Finish(true, "")
			}
			if !res.HasPlaced(candidate) {
				res.Record(l.place(ctx, c, req, sec, candidate, cfg.OrderQty, false))
			}
		}
		previous = ltp
		ladder.Sleep(ctx, l.timing.PollInterval)
	}
}

func (l *Ladder) place(ctx context.Context, c *Client, req ladder.Request, sec session.Security, price float64, qty int, circuit bool) domain.Order {
	o := domain.Order{
		AccountID: req.Account.ID,
		Symbol:    req.Symbol,
		Price:     price,
		Qty:       qty,
		IsCircuit: circuit,
		Status:    domain.OrderStatusRejected,
		PlacedAt:  time.Now(),
	}
	status, err := c.PlaceOrder(ctx, sec, price, qty)
	switch {
	case err != nil:
		o.Detail = err.Error()
	case status == "200":
		o.Status = domain.OrderStatusAccepted
		o.Detail = status
	default:
		o.Detail = "status=" + status
	}
	metrics.OrdersTotal.WithLabelValues(string(domain.VenueTMS), string(o.Status), metrics.BoolLabel(circuit)).Inc()
	ladderLog.WithFields(logrus.Fields{"account": req.Account.DisplayName(), "symbol": req.Symbol}).
		Infof("📝 委托 %.1f x %d circuit=%v => %s", price, qty, circuit, o.Detail)
	return o
}

func recordLadder(res ladder.Result) {
	result := "failed"
	switch {
	case res.CircuitReached:
		result = "circuit"
	case res.Success:
		result = "success"
	}
	metrics.LaddersTotal.WithLabelValues(string(domain.VenueTMS), result).Inc()
}

var _ ladder.Runner = (*Ladder)(nil)

// String 便于日志打印
func (l *Ladder) String() string {
	return fmt.Sprintf("tms.Ladder{poll=%s maxDuration=%s}", l.timing.PollInterval, l.timing.MaxDuration)
}
