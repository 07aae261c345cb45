package ats

import (
	"context"
	"errors"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/probe"
	"github.com/betbot/circuitbot/internal/session"
)

// Prober ATS 查价适配器
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
	probe.Observe(domain.VenueATS, out, err)
	return out, err
}

type quoter struct {
	s *session.Session
	c *Client
}

func (q *quoter) Authenticated() bool { return q.s.Authenticated() }

func (q *quoter) LastPrice(ctx context.Context, symbol string) (float64, error) {
	price, err := q.c.Quote(ctx, symbol)
	if errors.Is(err, ErrUnauthorized) {
		return 0, probe.ErrNotAuthenticated
	}
	return price, err
}
