package events

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

func ev(chain string, n int) models.MonitorEvent {
	return models.MonitorEvent{
		Kind:  models.EventRecoveryTriggered,
		Watch: &models.Watch{ChainID: chain},
		Price: float64(n),
	}
}

func TestDispatcher_PerChainFIFO(t *testing.T) {
	var mu sync.Mutex
	got := map[string][]float64{}
	d := NewDispatcher(4, 256, func(_ context.Context, e models.MonitorEvent) {
		mu.Lock()
		defer mu.Unlock()
		got[e.ChainKey()] = append(got[e.ChainKey()], e.Price)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { d.Run(ctx); close(done) }()

	chains := []string{"c1", "c2", "c3", "c4", "c5"}
	for i := 0; i < 50; i++ {
		for _, c := range chains {
			require.NoError(t, d.Emit(ctx, ev(c, i)))
		}
	}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range chains {
			if len(got[c]) != 50 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	for _, c := range chains {
		for i, p := range got[c] {
			assert.Equal(t, float64(i), p, "chain %s out of order", c)
		}
	}
}

func TestDispatcher_EmitRespectsContext(t *testing.T) {
	block := make(chan struct{})
	d := NewDispatcher(1, 1, func(context.Context, models.MonitorEvent) { <-block })
	defer close(block)

	runCtx, stop := context.WithCancel(context.Background())
	defer stop()
	go d.Run(runCtx)

	// первое событие забирает воркер, второе занимает очередь, третье упирается в ctx
	require.NoError(t, d.Emit(context.Background(), ev("c", 0)))
	require.Eventually(t, func() bool { return len(d.shards[0]) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Emit(context.Background(), ev("c", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Emit(ctx, ev("c", 2)), context.DeadlineExceeded)
}

func TestDispatcher_HandlerPanicDoesNotKillWorker(t *testing.T) {
	var mu sync.Mutex
	var seen []float64
	d := NewDispatcher(1, 8, func(_ context.Context, e models.MonitorEvent) {
		if e.Price == 0 {
			panic("boom")
		}
		mu.Lock()
		seen = append(seen, e.Price)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	require.NoError(t, d.Emit(ctx, ev("c", 0)))
	require.NoError(t, d.Emit(ctx, ev("c", 1)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	var mu sync.Mutex
	n := 0
	d := NewDispatcher(2, 16, func(context.Context, models.MonitorEvent) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Emit(context.Background(), ev("c", i)))
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 10, n)
}
