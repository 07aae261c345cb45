package api

import (
	"net/http"
	"strings"

	"github.com/betbot/circuitbot/internal/domain"
)

func (s *Server) handleInstrumentsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.cfg.Registry.Instruments())
}

func (s *Server) handleInstrumentsReplace(w http.ResponseWriter, r *http.Request) {
	var list []domain.Instrument
	if err := decodeJSON(r, &list); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	if err := s.cfg.Registry.SetInstruments(list); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, 200, s.cfg.Registry.Instruments())
}

// ladderRequest orderPrice 省略时取默认价，显式 0 表示用 DPR 上限
type ladderRequest struct {
	OrderQty    int      `json:"orderQty"`
	MaxOrderQty int      `json:"maxOrderQty"`
	OrderPrice  *float64 `json:"orderPrice"`
	BelowPrice  float64  `json:"belowPrice"`
	Collateral  float64  `json:"collateral"`
}

func (req ladderRequest) toConfig() domain.LadderConfig {
	c := domain.LadderConfig{
		OrderQty:    req.OrderQty,
		MaxOrderQty: req.MaxOrderQty,
		OrderPrice:  domain.DefaultOrderPrice,
		BelowPrice:  req.BelowPrice,
		Collateral:  req.Collateral,
	}
	if req.OrderPrice != nil {
		c.OrderPrice = *req.OrderPrice
	}
	return c
}

func (s *Server) handleLaddersList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.cfg.Registry.LadderConfigs())
}

func (s *Server) handleLaddersReplace(w http.ResponseWriter, r *http.Request) {
	var body map[string]map[string]ladderRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	all := make(map[string]map[string]domain.LadderConfig, len(body))
	for key, bySym := range body {
		all[key] = make(map[string]domain.LadderConfig, len(bySym))
		for sym, req := range bySym {
			all[key][sym] = req.toConfig()
		}
	}
	s.cfg.Registry.ReplaceLadderConfigs(all)
	writeJSON(w, 200, s.cfg.Registry.LadderConfigs())
}

func (s *Server) handleLadderGet(w http.ResponseWriter, r *http.Request) {
	key, sym := pathParam(r, "accountKey"), strings.ToUpper(pathParam(r, "symbol"))
	cfg, ok := s.cfg.Registry.LadderConfig(key, sym)
	if !ok {
		writeError(w, 404, "ladder config not found")
		return
	}
	writeJSON(w, 200, cfg)
}

func (s *Server) handleLadderSet(w http.ResponseWriter, r *http.Request) {
	key, sym := pathParam(r, "accountKey"), strings.ToUpper(pathParam(r, "symbol"))
	var req ladderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	if err := s.cfg.Registry.SetLadderConfig(key, sym, req.toConfig()); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	cfg, _ := s.cfg.Registry.LadderConfig(key, sym)
	writeJSON(w, 200, cfg)
}

func (s *Server) handleLadderDelete(w http.ResponseWriter, r *http.Request) {
	key, sym := pathParam(r, "accountKey"), strings.ToUpper(pathParam(r, "symbol"))
	if !s.cfg.Registry.RemoveLadderConfig(key, sym) {
		writeError(w, 404, "ladder config not found")
		return
	}
	writeJSON(w, 200, map[string]any{"deleted": key + "/" + sym})
}

func (s *Server) handleSymbolsGet(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "accountKey")
	writeJSON(w, 200, map[string]any{"accountKey": key, "symbols": s.cfg.Registry.EnabledSymbols(key)})
}

// handleSymbolsSet 设置账户允许下单的标的集合
// 新标的使用默认配置，已有标的保留原配置，不在集合中的删除
func (s *Server) handleSymbolsSet(w http.ResponseWriter, r *http.Request) {
	key := pathParam(r, "accountKey")
	if key == "" {
		writeError(w, 400, "accountKey is required")
		return
	}
	var body struct {
		Symbols []string `json:"symbols"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}

	all := s.cfg.Registry.LadderConfigs()
	prev := all[key]
	next := make(map[string]domain.LadderConfig, len(body.Symbols))
	for _, sym := range body.Symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		if cfg, ok := prev[sym]; ok {
			next[sym] = cfg
		} else {
			next[sym] = domain.LadderConfig{OrderPrice: domain.DefaultOrderPrice}
		}
	}
	if len(next) == 0 {
		delete(all, key)
	} else {
		all[key] = next
	}
	s.cfg.Registry.ReplaceLadderConfigs(all)
	writeJSON(w, 200, map[string]any{"accountKey": key, "symbols": s.cfg.Registry.EnabledSymbols(key)})
}
