package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_RunsStagesInOrder(t *testing.T) {
	m := NewManager()
	var mu sync.Mutex
	var order []string
	record := func(name string, err error) Handler {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}
	}
	m.OnShutdown("engine", record("engine", nil))
	m.OnShutdown("api", record("api", errors.New("already closed")))
	m.OnShutdown("store", record("store", nil))

	m.Shutdown(context.Background())
	m.Shutdown(context.Background()) // 第二次调用无效果

	assert.Equal(t, []string{"engine", "api", "store"}, order)
}

func TestManager_StopsOnTimeout(t *testing.T) {
	m := NewManager()
	ran := false
	m.OnShutdown("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	m.OnShutdown("after", func(ctx context.Context) error {
		ran = true
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	m.Shutdown(ctx)
	assert.False(t, ran)
}
