package registry

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/events"
	"github.com/betbot/circuitbot/pkg/config"
	"github.com/betbot/circuitbot/pkg/persistence"
)

type fakeCreds struct {
	saved map[string]domain.Credentials
}

func (f *fakeCreds) SaveCredentials(id string, c domain.Credentials) error {
	if f.saved == nil {
		f.saved = map[string]domain.Credentials{}
	}
	f.saved[id] = c
	return nil
}

type statusSink struct {
	events.Nop
	mu       sync.Mutex
	statuses []domain.Status
	logs     int
}

func (s *statusSink) OnStatusChange(_ string, st domain.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, st)
}

func (s *statusSink) OnLog(string, events.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs++
}

type failingStore struct{}

func (failingStore) Save(any) error { return errors.New("disk full") }
func (failingStore) Load(any) error { return persistence.ErrNotExists }

func newTestRegistry(t *testing.T) (*Registry, *persistence.MemoryService, *fakeCreds, *statusSink) {
	t.Helper()
	svc := persistence.NewMemoryService()
	creds := &fakeCreds{}
	sink := &statusSink{}
	r := New(Options{Store: svc.NewStore("registry", "snapshot"), Credentials: creds, Sink: sink})
	return r, svc, creds, sink
}

func tmsAccount(id string) domain.Account {
	return domain.Account{ID: id, Venue: domain.VenueTMS, Role: domain.RoleBoth, Endpoint: "https://" + id + ".nepsetms.com.np/", Enabled: true}
}

func TestUpsert_CredentialsNeverExposed(t *testing.T) {
	r, svc, creds, _ := newTestRegistry(t)

	a := tmsAccount("tms17")
	a.Credentials = &domain.Credentials{Username: "u", Password: "secret-pw"}
	got, err := r.Upsert(a)
	require.NoError(t, err)
	assert.Nil(t, got.Credentials)
	assert.Equal(t, "secret-pw", creds.saved["tms17"].Password)

	listed := r.List()
	require.Len(t, listed, 1)
	assert.Nil(t, listed[0].Credentials)

	raw, ok := svc.Raw("registry", "snapshot")
	require.True(t, ok)
	assert.NotContains(t, string(raw), "secret-pw")

	b, err := json.Marshal(listed[0])
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret-pw")
}

func TestUpsert_GeneratesIDAndKeepsRuntimeState(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	a := tmsAccount("")
	created, err := r.Upsert(a)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, domain.StatusIdle, created.Status)

	r.RecordSample(created.ID, 268, time.Unix(1_700_000_000, 0))
	created.Name = "renamed"
	updated, err := r.Upsert(created)
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, 268.0, updated.LastPrice)
	require.Len(t, r.List(), 1)
}

func TestUpsert_Validation(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	bad := tmsAccount("x")
	bad.Venue = "fix"
	_, err := r.Upsert(bad)
	assert.Error(t, err)

	bad = tmsAccount("x")
	bad.Endpoint = ""
	_, err = r.Upsert(bad)
	assert.Error(t, err)

	assert.ErrorIs(t, r.Remove("missing"), ErrNotFound)
}

func TestPersistFailureDoesNotFailMutation(t *testing.T) {
	r := New(Options{Store: failingStore{}})
	_, err := r.Upsert(tmsAccount("tms17"))
	require.NoError(t, err)
	r.SetStatus("tms17", domain.StatusChecking)
	a, ok := r.Get("tms17")
	require.True(t, ok)
	assert.Equal(t, domain.StatusChecking, a.Status)
}

func TestLadderConfigs(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)

	require.NoError(t, r.SetLadderConfig("tms17", "nlo", domain.LadderConfig{}))
	cfg, ok := r.LadderConfig("tms17", "NLO")
	require.True(t, ok)
	assert.Equal(t, domain.LadderConfig{OrderQty: 10, MaxOrderQty: 100}, cfg)
	assert.True(t, r.IsSymbolEnabled("tms17", "NLO"))
	assert.False(t, r.IsSymbolEnabled("tms17", "RSML"))

	require.NoError(t, r.SetLadderConfig("tms17", "RSML", domain.LadderConfig{OrderQty: 20, OrderPrice: 432}))
	assert.Equal(t, []string{"NLO", "RSML"}, r.EnabledSymbols("tms17"))

	assert.True(t, r.RemoveLadderConfig("tms17", "NLO"))
	assert.False(t, r.RemoveLadderConfig("tms17", "NLO"))

	r.ReplaceLadderConfigs(map[string]map[string]domain.LadderConfig{
		"tms40": {"jhapa": {OrderPrice: 1073.6}},
	})
	assert.Empty(t, r.EnabledSymbols("tms17"))
	cfg, ok = r.LadderConfig("tms40", "JHAPA")
	require.True(t, ok)
	assert.Equal(t, 1073.6, cfg.OrderPrice)

	// 返回的是副本
	all := r.LadderConfigs()
	delete(all, "tms40")
	assert.True(t, r.IsSymbolEnabled("tms40", "JHAPA"))
}

func TestSyncFromLadderConfigs(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	_, err := r.Upsert(domain.Account{ID: "a1", AccountKey: "tms17", Venue: domain.VenueTMS, Role: domain.RolePrice, Endpoint: "https://tms17.nepsetms.com.np/"})
	require.NoError(t, err)
	r.ReplaceLadderConfigs(map[string]map[string]domain.LadderConfig{
		"tms17":  {"NLO": {}},
		"tms40":  {"NLO": {}},
		"custom": {"NLO": {}},
	})

	added := r.SyncFromLadderConfigs()
	assert.Equal(t, []string{"tms40"}, added)

	a, ok := r.Get("tms40")
	require.True(t, ok)
	assert.Equal(t, "https://tms40.nepsetms.com.np/", a.Endpoint)
	assert.Equal(t, domain.RoleOrder, a.Role)
	assert.True(t, a.Enabled)

	assert.Empty(t, r.SyncFromLadderConfigs())
}

func TestInstruments(t *testing.T) {
	r, _, _, _ := newTestRegistry(t)
	require.NoError(t, r.SetInstruments([]domain.Instrument{
		{Symbol: "nlo", Enabled: true, TargetPrice: 254.1},
		{Symbol: "JHAPA", Enabled: false, TargetPrice: 1073.6},
		{Symbol: "RSML", Enabled: true, TargetPrice: 400, Condition: domain.ConditionGTE},
	}))
	enabled := r.EnabledInstruments()
	require.Len(t, enabled, 2)
	assert.Equal(t, "NLO", enabled[0].Symbol)
	assert.Equal(t, domain.ConditionLTE, enabled[0].Condition)
	assert.Equal(t, "RSML", enabled[1].Symbol)

	assert.Error(t, r.SetInstruments([]domain.Instrument{{Symbol: "A"}, {Symbol: "a"}}))
	assert.Error(t, r.SetInstruments([]domain.Instrument{{Symbol: "A", Condition: "eq"}}))
}

func TestRuntimeSettersNotify(t *testing.T) {
	r, _, _, sink := newTestRegistry(t)
	_, err := r.Upsert(tmsAccount("tms17"))
	require.NoError(t, err)

	select {
	case <-r.Changed().C():
	default:
		t.Fatal("admin change should signal")
	}

	r.SetStatus("tms17", domain.StatusChecking)
	r.SetError("tms17", "not logged in")
	r.SetMatched("tms17", "NLO")
	r.SetStatus("missing", domain.StatusIdle)

	a, _ := r.Get("tms17")
	assert.Equal(t, domain.StatusError, a.Status)
	assert.Equal(t, "not logged in", a.LastError)
	assert.Equal(t, "NLO", a.MatchedInstrument)
	assert.Equal(t, []domain.Status{domain.StatusChecking, domain.StatusError}, sink.statuses)
	assert.Positive(t, sink.logs)

	select {
	case <-r.Changed().C():
		t.Fatal("runtime changes must not signal")
	default:
	}
}

type countingStore struct {
	persistence.Store
	mu    sync.Mutex
	saves int
}

func (c *countingStore) Save(v any) error {
	c.mu.Lock()
	c.saves++
	c.mu.Unlock()
	return c.Store.Save(v)
}

func (c *countingStore) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saves
}

func TestRuntimeSettersPersistOnlyTerminalStatuses(t *testing.T) {
	mem := persistence.NewMemoryService().NewStore("registry", "snapshot")
	store := &countingStore{Store: mem}
	r := New(Options{Store: store})
	_, err := r.Upsert(tmsAccount("tms17"))
	require.NoError(t, err)
	require.Equal(t, 1, store.count(), "admin changes persist synchronously")

	now := time.Unix(1_700_000_000, 0)
	for i := 0; i < 50; i++ {
		r.SetStatus("tms17", domain.StatusChecking)
		r.RecordSample("tms17", 260, now)
		r.SetStatus("tms17", domain.StatusIdle)
	}
	r.SetError("tms17", "timeout")
	r.SetMatched("tms17", "NLO")
	assert.Equal(t, 1, store.count(), "price cycles do not write the snapshot")

	r.SetStatus("tms17", domain.StatusOrdering)
	r.SetStatus("tms17", domain.StatusOrderPlaced)
	assert.Equal(t, 2, store.count(), "order outcome is written immediately")
	r.SetStatus("tms17", domain.StatusOrderPlaced)
	assert.Equal(t, 2, store.count())

	r.RecordSample("tms17", 250, now)
	require.NoError(t, r.Flush())
	assert.Equal(t, 3, store.count())
	require.NoError(t, r.Flush())
	assert.Equal(t, 3, store.count(), "nothing left to flush")

	var snap Snapshot
	require.NoError(t, mem.Load(&snap))
	require.Len(t, snap.Accounts, 1)
	assert.Equal(t, 250.0, snap.Accounts[0].LastPrice)
	assert.Equal(t, domain.StatusOrderPlaced, snap.Accounts[0].Status)
}

func TestLoad_SeedThenRestore(t *testing.T) {
	svc := persistence.NewMemoryService()
	enabled := false
	price := 0.0
	seed := &config.Config{ConfigFile: config.ConfigFile{
		Accounts: []config.AccountConfig{
			{ID: "tms17", Venue: "tms", Role: "both", Endpoint: "https://tms17.nepsetms.com.np/"},
			{ID: "ats", Venue: "ats", Endpoint: "https://ats.example.com", Enabled: &enabled},
		},
		Instruments: []config.InstrumentConfig{{Symbol: "nlo", TargetPrice: 254.1}},
		Ladders: map[string]map[string]config.LadderConfig{
			"tms17": {"NLO": {}, "RSML": {OrderPrice: &price}},
		},
	}}

	r := New(Options{Store: svc.NewStore("registry", "snapshot")})
	require.NoError(t, r.Load(seed))
	require.Len(t, r.List(), 2)
	assert.True(t, r.List()[0].Enabled)
	assert.False(t, r.List()[1].Enabled)
	assert.Equal(t, domain.RoleBoth, r.List()[1].Role)
	cfg, _ := r.LadderConfig("tms17", "NLO")
	assert.Equal(t, domain.DefaultOrderPrice, cfg.OrderPrice)
	cfg, _ = r.LadderConfig("tms17", "RSML")
	assert.Equal(t, 0.0, cfg.OrderPrice)
	r.SetStatus("tms17", domain.StatusOrdering)

	// 第二次启动从快照恢复，忽略配置文件
	r2 := New(Options{Store: svc.NewStore("registry", "snapshot")})
	require.NoError(t, r2.Load(&config.Config{}))
	require.Len(t, r2.List(), 2)
	a, _ := r2.Get("tms17")
	assert.Equal(t, domain.StatusIdle, a.Status)
	assert.Equal(t, "NLO", r2.EnabledInstruments()[0].Symbol)
}
