package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/betbot/circuitbot/internal/events"
	"github.com/betbot/circuitbot/internal/journal"
	"github.com/betbot/circuitbot/internal/monitor"
)

// stopTimeout 停止请求等待阶梯的时长；超过后返回 202，阶梯继续跑完
const stopTimeout = 5 * time.Second

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Monitor.Start(r.Context()); err != nil {
		var ce *monitor.ConfigError
		if errors.As(err, &ce) {
			status := 400
			if s.cfg.Monitor.Status().Monitoring {
				status = 409
			}
			writeError(w, status, err.Error())
			return
		}
		writeError(w, 500, err.Error())
		return
	}
	apiLog.Info("▶️ 通过 API 启动监控")
	writeJSON(w, 200, s.cfg.Monitor.Status())
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()
	if err := s.cfg.Monitor.Stop(ctx); err != nil {
		if errors.Is(err, monitor.ErrStopPending) {
			apiLog.Info("⏳ 通过 API 停止监控，等待阶梯结束")
			writeJSON(w, 202, s.cfg.Monitor.Status())
			return
		}
		writeError(w, 500, err.Error())
		return
	}
	apiLog.Info("⏹️ 通过 API 停止监控")
	writeJSON(w, 200, s.cfg.Monitor.Status())
}

func (s *Server) handleMonitorStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.cfg.Monitor.Status())
}

func queryInt(r *http.Request, key string, def, max int) int {
	if v := strings.TrimSpace(r.URL.Query().Get(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= max {
			return n
		}
	}
	return def
}

func (s *Server) handleLogsList(w http.ResponseWriter, r *http.Request) {
	entries := s.cfg.Logs.Entries()
	if n := queryInt(r, "tail", 0, events.DefaultLogCapacity); n > 0 && n < len(entries) {
		entries = entries[len(entries)-n:]
	}
	if entries == nil {
		entries = []events.Entry{}
	}
	writeJSON(w, 200, map[string]any{"entries": entries})
}

func (s *Server) handleLogsClear(w http.ResponseWriter, r *http.Request) {
	s.cfg.Logs.Clear()
	writeJSON(w, 200, map[string]any{"cleared": true})
}

func (s *Server) handleJournalList(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Journal == nil {
		writeError(w, 404, "journal disabled")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	list, err := s.cfg.Journal.List(ctx, journal.Filter{
		AccountID: strings.TrimSpace(r.URL.Query().Get("account")),
		Symbol:    strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("symbol"))),
		Limit:     queryInt(r, "limit", 100, 1000),
	})
	if err != nil {
		writeError(w, 500, "db list: "+err.Error())
		return
	}
	if list == nil {
		list = []journal.Entry{}
	}
	writeJSON(w, 200, list)
}
