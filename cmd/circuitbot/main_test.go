package main

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/events"
	"github.com/betbot/circuitbot/internal/journal"
	"github.com/betbot/circuitbot/internal/ladder"
	"github.com/betbot/circuitbot/internal/monitor"
	"github.com/betbot/circuitbot/internal/probe"
	"github.com/betbot/circuitbot/internal/registry"
	"github.com/betbot/circuitbot/internal/session"
	"github.com/betbot/circuitbot/pkg/persistence"
	"github.com/betbot/circuitbot/pkg/secretstore"
	sdkhttp "github.com/betbot/circuitbot/pkg/sdk/http"
)

type matchAll struct{}

func (matchAll) Probe(context.Context, domain.Account, []probe.Target) (probe.Outcome, error) {
	return probe.Matched{Symbol: "NLO", Price: 250}, nil
}

type slowLadder struct {
	started  chan struct{}
	finished atomic.Bool
	delay    time.Duration
}

func (l *slowLadder) Run(ctx context.Context, req ladder.Request) ladder.Result {
	close(l.started)
	select {
	case <-time.After(l.delay):
	case <-ctx.Done():
		return ladder.Result{AccountID: req.Account.ID, Symbol: req.Symbol, Message: ctx.Err().Error()}
	}
	l.finished.Store(true)
	return ladder.Result{AccountID: req.Account.ID, Symbol: req.Symbol, Success: true, OrdersPlaced: 1}
}

func TestAppClose_WaitsForLaddersThenClosesStorage(t *testing.T) {
	old := closeTimeout
	closeTimeout = 100 * time.Millisecond
	t.Cleanup(func() { closeTimeout = old })

	dir := t.TempDir()
	secrets, err := secretstore.Open(secretstore.OpenOptions{InMemory: true})
	require.NoError(t, err)
	jrnl, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	stateDir := filepath.Join(dir, "state")
	reg := registry.New(registry.Options{
		Store: persistence.NewJSONFileService(stateDir).NewStore("registry", "snapshot"),
		Sink:  jrnl,
	})
	_, err = reg.Upsert(domain.Account{ID: "tms17", Venue: domain.VenueTMS, Role: domain.RoleBoth, Endpoint: "https://tms17.nepsetms.com.np/", Enabled: true})
	require.NoError(t, err)
	require.NoError(t, reg.SetLadderConfig("tms17", "NLO", domain.LadderConfig{OrderPrice: 254.1}))

	sessions := session.NewManager(session.NewMemoryStore(), time.Minute, sdkhttp.Options{})
	runner := &slowLadder{started: make(chan struct{}), delay: 400 * time.Millisecond}
	engine := monitor.NewEngine(monitor.Options{
		Registry:          reg,
		Sessions:          sessions,
		Probers:           map[domain.Venue]probe.Prober{domain.VenueTMS: matchAll{}},
		Ladders:           map[domain.Venue]ladder.Runner{domain.VenueTMS: runner},
		Sink:              events.Multi{jrnl},
		LadderMaxDuration: 5 * time.Second,
	})
	a := &app{engine: engine, reg: reg, sessions: sessions, hub: events.NewHub(), jrnl: jrnl, secrets: secrets}

	require.NoError(t, engine.Start(context.Background()))
	<-runner.started

	a.close(5*time.Second + time.Minute)

	assert.True(t, runner.finished.Load(), "ladder runs to completion")
	assert.False(t, engine.Running())
	_, _, err = secrets.Get("session:tms17")
	assert.ErrorIs(t, err, secretstore.ErrNotOpened)

	// 流水在关闭前已写入
	reopened, err := journal.Open(filepath.Join(dir, "journal.db"))
	require.NoError(t, err)
	defer reopened.Close()
	entries, err := reopened.List(context.Background(), journal.Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)

	// 运行时采样在关闭时落盘
	var snap registry.Snapshot
	require.NoError(t, persistence.NewJSONFileService(stateDir).NewStore("registry", "snapshot").Load(&snap))
	require.Len(t, snap.Accounts, 1)
	assert.Equal(t, 250.0, snap.Accounts[0].LastPrice)
	assert.Equal(t, domain.StatusOrderPlaced, snap.Accounts[0].Status)
}
