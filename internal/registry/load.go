package registry

import (
	"errors"
	"strings"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/pkg/config"
	"github.com/betbot/circuitbot/pkg/persistence"
)

// Load 恢复持久化的快照；没有快照时用配置文件播种并立即保存
func (r *Registry) Load(seed *config.Config) error {
	if r.store != nil {
		var snap Snapshot
		err := r.store.Load(&snap)
		switch {
		case err == nil:
			r.restore(snap)
			return nil
		case !errors.Is(err, persistence.ErrNotExists):
			return err
		}
	}
	if seed == nil {
		return nil
	}

	accounts, instruments, ladders := FromConfig(seed)
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	for i := range accounts {
		accounts[i].CreatedAt = now
	}
	r.accounts = accounts
	r.instruments = instruments
	r.ladders = ladders
	r.adminChangedLocked("🌱 从配置文件初始化: %d 个账户, %d 个标的", len(accounts), len(instruments))
	return nil
}

func (r *Registry) restore(snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = snap.Accounts
	for i := range r.accounts {
		// 上次进程退出时的中间态不再有意义
		switch r.accounts[i].Status {
		case domain.StatusChecking, domain.StatusOrdering, "":
			r.accounts[i].Status = domain.StatusIdle
		}
	}
	r.instruments = snap.Instruments
	r.ladders = snap.Ladders
	if r.ladders == nil {
		r.ladders = make(map[string]map[string]domain.LadderConfig)
	}
	regLog.Infof("📂 恢复注册表快照: %d 个账户, %d 个标的 (saved %s)",
		len(r.accounts), len(r.instruments), snap.SavedAt.Format("2006-01-02 15:04:05"))
}

// FromConfig 把配置文件中的条目转换为领域对象
func FromConfig(cfg *config.Config) ([]domain.Account, []domain.Instrument, map[string]map[string]domain.LadderConfig) {
	accounts := make([]domain.Account, 0, len(cfg.Accounts))
	for _, ac := range cfg.Accounts {
		a := domain.Account{
			ID:         ac.ID,
			Name:       ac.Name,
			AccountKey: ac.AccountKey,
			Venue:      domain.Venue(strings.ToLower(ac.Venue)),
			Role:       domain.Role(strings.ToLower(ac.Role)),
			Endpoint:   ac.Endpoint,
			Enabled:    ac.Enabled == nil || *ac.Enabled,
			Broker:     ac.Broker,
			AcntID:     ac.AcntID,
			ClientAcc:  ac.ClientAcc,
			Status:     domain.StatusIdle,
		}
		if a.Role == "" {
			a.Role = domain.RoleBoth
		}
		accounts = append(accounts, a)
	}

	instruments := make([]domain.Instrument, 0, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		cond := domain.Condition(strings.ToLower(ic.Condition))
		if cond == "" {
			cond = domain.ConditionLTE
		}
		instruments = append(instruments, domain.Instrument{
			Symbol:      strings.ToUpper(strings.TrimSpace(ic.Symbol)),
			Enabled:     ic.Enabled == nil || *ic.Enabled,
			TargetPrice: ic.TargetPrice,
			Qty:         ic.Qty,
			Condition:   cond,
		})
	}

	ladders := make(map[string]map[string]domain.LadderConfig, len(cfg.Ladders))
	for key, bySym := range cfg.Ladders {
		m := make(map[string]domain.LadderConfig, len(bySym))
		for sym, lc := range bySym {
			price := domain.DefaultOrderPrice
			if lc.OrderPrice != nil {
				price = *lc.OrderPrice
			}
			m[strings.ToUpper(sym)] = domain.LadderConfig{
				OrderQty:    lc.OrderQty,
				MaxOrderQty: lc.MaxOrderQty,
				OrderPrice:  price,
				BelowPrice:  lc.BelowPrice,
				Collateral:  lc.Collateral,
			}.WithDefaults()
		}
		ladders[key] = m
	}
	return accounts, instruments, ladders
}
