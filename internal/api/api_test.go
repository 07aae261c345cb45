package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/events"
	"github.com/betbot/circuitbot/internal/journal"
	"github.com/betbot/circuitbot/internal/ladder"
	"github.com/betbot/circuitbot/internal/monitor"
	"github.com/betbot/circuitbot/internal/registry"
	"github.com/betbot/circuitbot/pkg/persistence"
)

type fakeMonitor struct {
	running  bool
	startErr error
	stopErr  error
}

func (m *fakeMonitor) Start(context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}

func (m *fakeMonitor) Stop(context.Context) error {
	if m.stopErr != nil {
		return m.stopErr
	}
	m.running = false
	return nil
}

func (m *fakeMonitor) Status() monitor.Status {
	return monitor.Status{Monitoring: m.running}
}

type creds struct{ saved map[string]domain.Credentials }

func (c *creds) SaveCredentials(id string, cr domain.Credentials) error {
	c.saved[id] = cr
	return nil
}

type fixture struct {
	srv  *httptest.Server
	reg  *registry.Registry
	mon  *fakeMonitor
	logs *events.LogBuffer
	cred *creds
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	f := &fixture{mon: &fakeMonitor{}, logs: events.NewLogBuffer(10), cred: &creds{saved: map[string]domain.Credentials{}}}
	f.reg = registry.New(registry.Options{
		Store:       persistence.NewMemoryService().NewStore("registry", "api"),
		Credentials: f.cred,
		Sink:        f.logs,
	})
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	j.OnOrdersComplete([]ladder.Result{{RunID: "r", AccountID: "tms17", Symbol: "NLO", Success: true, Prices: []float64{110}}})

	s, err := New(Config{Registry: f.reg, Monitor: f.mon, Logs: f.logs, Journal: j, Token: token})
	require.NoError(t, err)
	f.srv = httptest.NewServer(s.Router())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestAccountsCRUD(t *testing.T) {
	f := newFixture(t, "")

	var created struct {
		Account domain.Account `json:"account"`
	}
	code := f.do(t, http.MethodPost, "/api/accounts", map[string]any{
		"name": "TMS 17", "accountKey": "tms17", "venue": "TMS", "endpoint": "https://tms17.example",
		"username": "u", "password": "p",
	}, &created)
	require.Equal(t, 201, code)
	id := created.Account.ID
	require.NotEmpty(t, id)
	assert.Equal(t, domain.RoleBoth, created.Account.Role)
	assert.True(t, created.Account.Enabled)
	assert.Equal(t, domain.Credentials{Username: "u", Password: "p"}, f.cred.saved[id])

	var raw map[string]any
	require.Equal(t, 200, f.do(t, http.MethodGet, "/api/accounts/"+id, nil, &raw))
	assert.NotContains(t, raw, "password")
	assert.NotContains(t, raw, "credentials")

	var updated struct {
		Account domain.Account `json:"account"`
	}
	code = f.do(t, http.MethodPut, "/api/accounts/"+id, map[string]any{
		"name": "TMS 17b", "accountKey": "tms17", "venue": "tms", "role": "order",
		"endpoint": "https://tms17.example", "enabled": false,
	}, &updated)
	require.Equal(t, 200, code)
	assert.Equal(t, "TMS 17b", updated.Account.Name)
	assert.False(t, updated.Account.Enabled)

	assert.Equal(t, 400, f.do(t, http.MethodPost, "/api/accounts", map[string]any{"venue": "fix", "endpoint": "x"}, nil))
	assert.Equal(t, 404, f.do(t, http.MethodPut, "/api/accounts/nope", map[string]any{"venue": "tms"}, nil))

	require.Equal(t, 200, f.do(t, http.MethodDelete, "/api/accounts/"+id, nil, nil))
	assert.Equal(t, 404, f.do(t, http.MethodDelete, "/api/accounts/"+id, nil, nil))
	assert.Equal(t, 404, f.do(t, http.MethodGet, "/api/accounts/"+id, nil, nil))
}

func TestLaddersAndSync(t *testing.T) {
	f := newFixture(t, "")

	var cfg domain.LadderConfig
	require.Equal(t, 200, f.do(t, http.MethodPut, "/api/ladders/tms21/nlo", map[string]any{"orderQty": 5}, &cfg))
	assert.Equal(t, domain.LadderConfig{OrderQty: 5, MaxOrderQty: 100, OrderPrice: 254.1}, cfg)

	require.Equal(t, 200, f.do(t, http.MethodPut, "/api/ladders/tms21/JHAPA", map[string]any{"orderPrice": 0}, &cfg))
	assert.Equal(t, 0.0, cfg.OrderPrice)

	var sym struct {
		Symbols []string `json:"symbols"`
	}
	require.Equal(t, 200, f.do(t, http.MethodGet, "/api/symbols/tms21", nil, &sym))
	assert.Equal(t, []string{"JHAPA", "NLO"}, sym.Symbols)

	require.Equal(t, 200, f.do(t, http.MethodPut, "/api/symbols/tms21", map[string]any{"symbols": []string{"nlo", "upper"}}, &sym))
	assert.Equal(t, []string{"NLO", "UPPER"}, sym.Symbols)
	got, ok := f.reg.LadderConfig("tms21", "NLO")
	require.True(t, ok)
	assert.Equal(t, 5, got.OrderQty, "existing config kept")

	var added struct {
		Added []string `json:"added"`
	}
	require.Equal(t, 200, f.do(t, http.MethodPost, "/api/accounts/sync", nil, &added))
	assert.Equal(t, []string{"tms21"}, added.Added)
	a, ok := f.reg.Get("tms21")
	require.True(t, ok)
	assert.Equal(t, domain.RoleOrder, a.Role)

	require.Equal(t, 200, f.do(t, http.MethodDelete, "/api/ladders/tms21/UPPER", nil, nil))
	assert.Equal(t, 404, f.do(t, http.MethodGet, "/api/ladders/tms21/UPPER", nil, nil))

	var all map[string]map[string]domain.LadderConfig
	require.Equal(t, 200, f.do(t, http.MethodPut, "/api/ladders", map[string]any{
		"tms5": map[string]any{"nlo": map[string]any{"belowPrice": 240}},
	}, &all))
	assert.Equal(t, 240.0, all["tms5"]["NLO"].BelowPrice)
	assert.NotContains(t, all, "tms21")
}

func TestInstruments(t *testing.T) {
	f := newFixture(t, "")
	var list []domain.Instrument
	require.Equal(t, 200, f.do(t, http.MethodPut, "/api/instruments", []map[string]any{
		{"symbol": "nlo", "enabled": true, "targetPrice": 254.1, "qty": 10},
	}, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "NLO", list[0].Symbol)
	assert.Equal(t, domain.ConditionLTE, list[0].Condition)

	assert.Equal(t, 400, f.do(t, http.MethodPut, "/api/instruments", []map[string]any{
		{"symbol": "NLO", "condition": "eq"},
	}, nil))
}

func TestMonitorLogsJournal(t *testing.T) {
	f := newFixture(t, "")

	var st monitor.Status
	require.Equal(t, 200, f.do(t, http.MethodPost, "/api/monitor/start", nil, &st))
	assert.True(t, st.Monitoring)
	require.Equal(t, 200, f.do(t, http.MethodPost, "/api/monitor/stop", nil, &st))
	assert.False(t, st.Monitoring)

	// 阶梯还在运行：已通知停止，返回 202
	require.Equal(t, 200, f.do(t, http.MethodPost, "/api/monitor/start", nil, &st))
	f.mon.stopErr = fmt.Errorf("stop monitor: %w: %w", monitor.ErrStopPending, context.DeadlineExceeded)
	require.Equal(t, 202, f.do(t, http.MethodPost, "/api/monitor/stop", nil, &st))
	assert.True(t, st.Monitoring)
	f.mon.stopErr = errors.New("boom")
	assert.Equal(t, 500, f.do(t, http.MethodPost, "/api/monitor/stop", nil, nil))
	f.mon.stopErr = nil
	require.Equal(t, 200, f.do(t, http.MethodPost, "/api/monitor/stop", nil, &st))
	assert.False(t, st.Monitoring)

	f.mon.startErr = &monitor.ConfigError{Reason: "no accounts configured"}
	assert.Equal(t, 400, f.do(t, http.MethodPost, "/api/monitor/start", nil, nil))

	f.logs.OnLog("hello", events.LevelInfo)
	f.logs.OnLog("world", events.LevelSuccess)
	var logs struct {
		Entries []events.Entry `json:"entries"`
	}
	require.Equal(t, 200, f.do(t, http.MethodGet, "/api/logs?tail=1", nil, &logs))
	require.Len(t, logs.Entries, 1)
	assert.Equal(t, "world", logs.Entries[0].Message)
	require.Equal(t, 200, f.do(t, http.MethodDelete, "/api/logs", nil, nil))
	require.Equal(t, 200, f.do(t, http.MethodGet, "/api/logs", nil, &logs))
	assert.Empty(t, logs.Entries)

	var entries []journal.Entry
	require.Equal(t, 200, f.do(t, http.MethodGet, "/api/journal?account=tms17", nil, &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, []float64{110}, entries[0].Prices)
}

func TestTokenAuth(t *testing.T) {
	f := newFixture(t, "s3cret")
	assert.Equal(t, 200, f.do(t, http.MethodGet, "/healthz", nil, nil))
	assert.Equal(t, 401, f.do(t, http.MethodGet, "/api/accounts", nil, nil))

	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/accounts", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}

func TestNewRequiresDeps(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
