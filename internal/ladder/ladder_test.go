package ladder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/betbot/circuitbot/internal/domain"
)

func TestResult_RecordOnlyCountsAccepted(t *testing.T) {
	r := NewResult(Request{Account: domain.Account{ID: "a1", Venue: domain.VenueTMS}, Symbol: "NLO"}, time.Now())
	r.Record(domain.Order{Price: 102, Status: domain.OrderStatusRejected})
	r.Record(domain.Order{Price: 105, Status: domain.OrderStatusAccepted})

	assert.Equal(t, 1, r.OrdersPlaced)
	assert.Equal(t, []float64{105}, r.Prices)
	assert.Len(t, r.Orders, 2)
	assert.True(t, r.HasPlaced(105))
	assert.False(t, r.HasPlaced(102))

	out := r.Finish(true, "")
	assert.True(t, out.Success)
	assert.Equal(t, "a1", out.AccountName)
	assert.False(t, out.FinishedAt.IsZero())
}

func TestTiming_WithDefaults(t *testing.T) {
	tm := Timing{PollInterval: time.Millisecond}.WithDefaults()
	assert.Equal(t, time.Millisecond, tm.PollInterval)
	assert.Equal(t, time.Hour, tm.MaxDuration)
	assert.Equal(t, 10*time.Millisecond, tm.RetryInterval)
}

func TestSleepAndEndReason(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.False(t, Sleep(ctx, time.Second))
	assert.Equal(t, "timeout after 1h0m0s", EndReason(ctx, time.Hour))

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	assert.Equal(t, "cancelled", EndReason(ctx2, time.Hour))
}
