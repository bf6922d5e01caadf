package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBackend struct {
	mu    sync.Mutex
	texts []string
}

func (c *captureBackend) Send(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, text)
	return nil
}

func (c *captureBackend) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func TestFormat_StableOrder(t *testing.T) {
	text := Format(models.NotifyPositionClosed, Fields{"symbol": "EURUSD", "pnl": -12.0, "reason": "SL_HIT"})
	assert.Equal(t, "📕 position_closed\npnl: -12\nreason: SL_HIT\nsymbol: EURUSD", text)
}

func TestQueue_DeliversAsync(t *testing.T) {
	logger.InitNop()
	be := &captureBackend{}
	q := NewQueue(8, be)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	q.Notify(models.NotifyOrderPlaced, Fields{"symbol": "EURUSD"})

	require.Eventually(t, func() bool { return len(be.got()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, be.got()[0], "order_placed")
	assert.Len(t, q.Recent(), 1)
}

func TestQueue_DropsWhenFull(t *testing.T) {
	logger.InitNop()
	q := NewQueue(1)

	// без Run: первое ложится в буфер, второе выбрасывается, Notify не блокирует
	done := make(chan struct{})
	go func() {
		q.Notify(models.NotifyOrderPlaced, nil)
		q.Notify(models.NotifyOrderFailed, nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	assert.Len(t, q.ch, 1)
}
