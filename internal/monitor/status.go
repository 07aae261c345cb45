package monitor

import (
	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/ladder"
	"github.com/betbot/circuitbot/pkg/ratelimit"
)

// Status 监控状态汇总
type Status struct {
	Monitoring     bool              `json:"monitoring"`
	Accounts       int               `json:"accounts"`
	Enabled        int               `json:"enabled"`
	PriceAccounts  int               `json:"priceAccounts"`
	OrderAccounts  int               `json:"orderAccounts"`
	Instruments    int               `json:"instruments"`
	LadderAccounts int               `json:"ladderAccounts"`
	LadderSymbols  int               `json:"ladderSymbols"`
	Cycles         int               `json:"cycles"`
	RateLimit      *ratelimit.Status `json:"rateLimit,omitempty"`
	LastResults    []ladder.Result   `json:"lastResults,omitempty"`
	AccountList    []domain.Account  `json:"accountList"`
}

type limiterStatus interface {
	Status() ratelimit.Status
}

func (e *Engine) Status() Status {
	reg := e.opts.Registry
	accounts := reg.List()
	ladders := reg.LadderConfigs()

	st := Status{
		Accounts:       len(accounts),
		Instruments:    len(reg.EnabledInstruments()),
		LadderAccounts: len(ladders),
		AccountList:    accounts,
	}
	for i := range accounts {
		a := &accounts[i]
		if a.Enabled {
			st.Enabled++
		}
		if a.PriceEligible() {
			st.PriceAccounts++
		}
		if a.OrderEligible() {
			st.OrderAccounts++
		}
	}
	for _, bySym := range ladders {
		st.LadderSymbols += len(bySym)
	}
	if ls, ok := e.opts.Limiter.(limiterStatus); ok {
		rs := ls.Status()
		st.RateLimit = &rs
	}

	e.mu.Lock()
	st.Monitoring = e.running
	st.Cycles = e.cycles
	st.LastResults = append([]ladder.Result(nil), e.lastResults...)
	e.mu.Unlock()
	return st
}
