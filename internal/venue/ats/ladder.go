package ats

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/ladder"
	"github.com/betbot/circuitbot/internal/metrics"
	"github.com/betbot/circuitbot/internal/session"
)

var ladderLog = logrus.WithField("component", "ats-ladder")

// Ladder 预先计算的分档挂单
//
// 开始时采样一次价格，算出最多 4 个 +2% 档位和涨停档。
// 第 0 档立即下单并持续重试直到受理；之后每一档等待 LTP 达到档位价格再下单。
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

	if !req.Account.HasATSConfig() {
		return res.Finish(false, "ATS config (broker/acntid/clientAcc) not found for "+req.Account.DisplayName())
	}
	s, err := l.sessions.Session(ctx, req.Account)
	if err != nil {
		return res.Finish(false, "session unavailable: "+err.Error())
	}
	c := NewClient(s)

	ctx, cancel := context.WithTimeout(ctx, l.timing.MaxDuration)
	defer cancel()

	current, err := c.Quote(ctx, req.Symbol)
	if err != nil {
		log.Warnf("⚠️ 获取价格失败: %v", err)
		return res.Finish(false, "failed to get price for "+req.Symbol+" (not logged in?)")
	}

	cfg := req.Config
	circuit := ladder.CircuitPrice(cfg.OrderPrice)
	levels := ladder.SteppedLevels(current, circuit, cfg.OrderQty, cfg.MaxOrderQty)
	if len(levels) == 0 {
		return res.Finish(false, "no order levels to place for "+req.Symbol)
	}
	log.Infof("🚀 %d 档, current=%.1f circuit=%.1f", len(levels), current, circuit)

	for i, lv := range levels {
		var ok bool
		if i == 0 {
			ok = l.placeFirst(ctx, c, req, lv, &res)
		} else {
			ok = l.placeWhenReached(ctx, c, req, lv, &res)
		}
		if !ok {
			reason := ladder.EndReason(ctx, l.timing.MaxDuration)
			log.Warnf("⏰ 分档结束（%s），已下 %d 单", reason, res.OrdersPlaced)
			return res.Finish(res.OrdersPlaced > 0, reason)
		}
		if i < len(levels)-1 {
			ladder.Sleep(ctx, l.timing.WaitInterval)
		}
	}

	last := levels[len(levels)-1]
	if last.IsCircuit {
		res.CircuitReached = true
		res.CircuitPrice = last.Price
		log.Infof("🎯 到达涨停价 %.1f，共下 %d 单", last.Price, res.OrdersPlaced)
	}
	return res.Finish(res.OrdersPlaced > 0, "")
}

// placeFirst 第 0 档按固定间隔重试直到受理或截止
func (l *Ladder) placeFirst(ctx context.Context, c *Client, req ladder.Request, lv ladder.Level, res *ladder.Result) bool {
	b := backoff.WithContext(backoff.NewConstantBackOff(l.timing.RetryInterval), ctx)
	err := backoff.Retry(func() error {
		o := l.place(ctx, c, req, lv)
		if !o.Accepted() {
			return errors.New(o.Detail)
		}
		res.Record(o)
		return nil
	}, b)
	return err == nil
}

// placeWhenReached 等待 LTP 达到档位价格后下单，直到受理或截止
func (l *Ladder) placeWhenReached(ctx context.Context, c *Client, req ladder.Request, lv ladder.Level, res *ladder.Result) bool {
	for ctx.Err() == nil {
		ltp, err := c.Quote(ctx, req.Symbol)
		if err != nil {
			ladder.Sleep(ctx, l.timing.UnavailableInterval)
			continue
		}
		if ltp >= lv.Price {
			o := l.place(ctx, c, req, lv)
			if o.Accepted() {
				res.Record(o)
				return true
			}
		}
		ladder.Sleep(ctx, l.timing.WaitInterval)
	}
	return false
}

func (l *Ladder) place(ctx context.Context, c *Client, req ladder.Request, lv ladder.Level) domain.Order {
	o := domain.Order{
		AccountID: req.Account.ID,
		Symbol:    req.Symbol,
		Price:     lv.Price,
		Qty:       lv.Qty,
		IsCircuit: lv.IsCircuit,
		Status:    domain.OrderStatusRejected,
		PlacedAt:  time.Now(),
	}
	desc, err := c.PlaceOrder(ctx, req.Account, req.Symbol, lv.Price, lv.Qty)
	switch {
	case err != nil:
		o.Detail = err.Error()
	case desc == OrderSubmitted:
		o.Status = domain.OrderStatusAccepted
		o.Detail = desc
	case desc == "":
		o.Detail = "empty response"
	default:
		o.Detail = desc
	}
	metrics.OrdersTotal.WithLabelValues(string(domain.VenueATS), string(o.Status), metrics.BoolLabel(lv.IsCircuit)).Inc()

	log := ladderLog.WithFields(logrus.Fields{"account": req.Account.DisplayName(), "symbol": req.Symbol})
	if o.Accepted() {
		log.Infof("📝 委托 %.1f x %d => SUCCESS", lv.Price, lv.Qty)
	} else {
		log.Debugf("委托 %.1f x %d => RETRY (%s)", lv.Price, lv.Qty, o.Detail)
	}
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
	metrics.LaddersTotal.WithLabelValues(string(domain.VenueATS), result).Inc()
}

var _ ladder.Runner = (*Ladder)(nil)
