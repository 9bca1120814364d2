package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdown_StagesRunInOrder(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) Handler {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	m := NewManager()
	m.OnShutdown("cancel-buy", record("a"))
	m.OnShutdown("cancel-sell", record("a"))
	m.NextStage()
	m.OnShutdown("close-stream", record("b"))

	failed := m.Shutdown(context.Background())
	assert.Equal(t, 0, failed)
	assert.Equal(t, []string{"a", "a", "b"}, order)
}

func TestShutdown_CountsFailures(t *testing.T) {
	m := NewManager()
	m.OnShutdown("ok", func(ctx context.Context) error { return nil })
	m.OnShutdown("bad", func(ctx context.Context) error { return errors.New("boom") })
	assert.Equal(t, 1, m.Shutdown(context.Background()))
}

func TestShutdown_Timeout(t *testing.T) {
	m := NewManager()
	m.OnShutdown("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	m.Shutdown(ctx)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestShutdown_Empty(t *testing.T) {
	assert.Equal(t, 0, NewManager().Shutdown(context.Background()))
}
