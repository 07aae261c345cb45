package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/circuitbot/internal/domain"
	"github.com/betbot/circuitbot/internal/ladder"
)

func TestJournal_RecordAndList(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	t0 := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	j.OnOrdersComplete([]ladder.Result{
		{
			RunID: "r1", AccountID: "tms17", AccountName: "TMS 17", Venue: domain.VenueTMS, Symbol: "NLO",
			Success: true, CircuitReached: true, CircuitPrice: 110, OrdersPlaced: 2, Prices: []float64{102, 110},
			Orders: []domain.Order{
				{Price: 102, Qty: 10, Status: domain.OrderStatusAccepted, PlacedAt: t0},
				{Price: 110, Qty: 100, IsCircuit: true, Status: domain.OrderStatusAccepted, PlacedAt: t0},
			},
			StartedAt: t0, FinishedAt: t0.Add(time.Minute),
		},
		{
			RunID: "r1", AccountID: "ats", AccountName: "ATS", Venue: domain.VenueATS, Symbol: "NLO",
			Message: "no order levels to place for NLO", Prices: []float64{},
			StartedAt: t0, FinishedAt: t0.Add(2 * time.Minute),
		},
	})

	all, err := j.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "ats", all[0].AccountID, "newest first")
	assert.False(t, all[0].Success)
	assert.Equal(t, "no order levels to place for NLO", all[0].Message)

	one, err := j.List(context.Background(), Filter{AccountID: "tms17"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.True(t, one[0].CircuitReached)
	assert.Equal(t, []float64{102, 110}, one[0].Prices)
	assert.True(t, t0.Add(time.Minute).Equal(one[0].FinishedAt))

	var orders int
	require.NoError(t, j.db.QueryRow(`SELECT COUNT(*) FROM ladder_orders`).Scan(&orders))
	assert.Equal(t, 2, orders)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}
