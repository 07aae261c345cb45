package sigchan

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChan_EmitCoalesces(t *testing.T) {
	c := New(1)
	c.Emit()
	c.Emit() // 不阻塞
	assert.True(t, c.WaitFor(context.Background(), time.Second))
	assert.False(t, c.WaitFor(context.Background(), 10*time.Millisecond))
}

func TestChan_WaitForContext(t *testing.T) {
	c := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.False(t, c.WaitFor(ctx, time.Hour))
	assert.Less(t, time.Since(start), time.Second)
}

func TestChan_Drain(t *testing.T) {
	c := New(4)
	c.Emit()
	c.Emit()
	c.Drain()
	select {
	case <-c.C():
		t.Fatalf("expected drained channel")
	default:
	}
}
