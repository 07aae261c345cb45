package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/registry"
)

type accountRequest struct {
	Name       string `json:"name"`
	AccountKey string `json:"accountKey"`
	Venue      string `json:"venue"`
	Role       string `json:"role"`
	Endpoint   string `json:"endpoint"`
	Enabled    *bool  `json:"enabled"`
	Broker     string `json:"broker"`
	AcntID     string `json:"acntid"`
	ClientAcc  string `json:"clientAcc"`
	Username   string `json:"username"`
	Password   string `json:"password"`
}

func (req accountRequest) toAccount(id string) domain.Account {
	a := domain.Account{
		ID:         id,
		Name:       strings.TrimSpace(req.Name),
		AccountKey: strings.TrimSpace(req.AccountKey),
		Venue:      domain.Venue(strings.ToLower(strings.TrimSpace(req.Venue))),
		Role:       domain.Role(strings.ToLower(strings.TrimSpace(req.Role))),
		Endpoint:   strings.TrimSpace(req.Endpoint),
		Enabled:    req.Enabled == nil || *req.Enabled,
		Broker:     strings.TrimSpace(req.Broker),
		AcntID:     strings.TrimSpace(req.AcntID),
		ClientAcc:  strings.TrimSpace(req.ClientAcc),
	}
	if req.Username != "" || req.Password != "" {
		a.Credentials = &domain.Credentials{Username: req.Username, Password: req.Password}
	}
	return a
}

func (s *Server) handleAccountsList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.cfg.Registry.List())
}

func (s *Server) handleAccountsCreate(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	a, err := s.cfg.Registry.Upsert(req.toAccount(""))
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, 201, map[string]any{"account": a})
}

func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "accountID")
	a, ok := s.cfg.Registry.Get(id)
	if !ok {
		writeError(w, 404, "account not found")
		return
	}
	writeJSON(w, 200, a)
}

func (s *Server) handleAccountUpdate(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "accountID")
	if _, ok := s.cfg.Registry.Get(id); !ok {
		writeError(w, 404, "account not found")
		return
	}
	var req accountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, 400, "invalid json body")
		return
	}
	a, err := s.cfg.Registry.Upsert(req.toAccount(id))
	if err != nil {
		writeError(w, 400, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"account": a})
}

func (s *Server) handleAccountDelete(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "accountID")
	if err := s.cfg.Registry.Remove(id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, 404, "account not found")
			return
		}
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, 200, map[string]any{"deleted": id})
}

// handleAccountsSync 为阶梯配置中的 tmsNN 键补建下单账户
func (s *Server) handleAccountsSync(w http.ResponseWriter, r *http.Request) {
	added := s.cfg.Registry.SyncFromLadderConfigs()
	if added == nil {
		added = []string{}
	}
	writeJSON(w, 200, map[string]any{"added": added})
}
