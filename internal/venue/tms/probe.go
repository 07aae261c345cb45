package tms

import (
	"context"
	"errors"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/probe"
	"github.com/betbot/circuitbot/internal/session"
)

// Prober TMS 查价适配器
type Prober struct {
	sessions session.Provider
}

func NewProber(sessions session.Provider) *Prober {
	return &Prober{sessions: sessions}
}

func (p *Prober) Probe(ctx context.Context, account domain.Account, targets []probe.Target) (probe.Outcome, error) {
	s, err := p.sessions.Session(ctx, account)
	if err != nil {
		return nil, &probe.Failure{Err: err}
	}
	out, err := probe.Scan(ctx, &quoter{s: s, c: NewClient(s)}, targets)
	probe.Observe(domain.VenueTMS, out, err)
	return out, err
}

type quoter struct {
	s *session.Session
	c *Client
}

func (q *quoter) Authenticated() bool { return q.s.Authenticated() }

func (q *quoter) LastPrice(ctx context.Context, symbol string) (float64, error) {
	sec, ok := q.s.Security(symbol)
	if !ok {
		return 0, errors.New("scrip not found: " + symbol)
	}
	ltp, err := q.c.LastTradedPrice(ctx, sec)
	if errors.Is(err, ErrTokenExpired) {
		return 0, probe.ErrNotAuthenticated
	}
	return ltp, err
}
