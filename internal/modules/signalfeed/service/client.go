package service

import (
	"context"
	"fmt"
	"time"

	"lifecycle_bot/internal/engine/trend"
	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
)

// Client читает фид сигналов по WebSocket и переподключается сам.
type Client struct {
	url    string
	hub    *trend.Hub
	out    chan models.Signal
	dialer *websocket.Dialer
	now    func() time.Time

	// OnConnect для health: true после подключения, false при разрыве.
	OnConnect func(bool)
}

func NewClient(url string, buffer int, hub *trend.Hub) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		url:    url,
		hub:    hub,
		out:    make(chan models.Signal, buffer),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Signals: канал, который закрывается после остановки Run.
func (c *Client) Signals() <-chan models.Signal { return c.out }

func (c *Client) Run(ctx context.Context) {
	defer close(c.out)
	b := &backoff.Backoff{Min: time.Second, Max: 30 * time.Second, Factor: 2, Jitter: true}
	for {
		err := c.session(ctx, b)
		c.connected(false)
		if ctx.Err() != nil {
			return
		}
		d := b.Duration()
		logger.Warn("signalfeed: session ended: %v, reconnect in %s", err, d)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d):
		}
	}
}

func (c *Client) session(ctx context.Context, b *backoff.Backoff) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()
	b.Reset()
	c.connected(true)
	logger.Info("signalfeed: connected to %s", c.url)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		c.Handle(ctx, msg)
	}
}

func (c *Client) connected(v bool) {
	if c.OnConnect != nil {
		c.OnConnect(v)
	}
}

// Handle разбирает один кадр: тренд уходит в Hub, сигнал в канал.
func (c *Client) Handle(ctx context.Context, msg []byte) {
	d, err := Decode(msg, c.now())
	if err != nil {
		logger.Warn("signalfeed: drop frame: %v", err)
		return
	}
	if d.Trend != nil {
		c.hub.Set(*d.Trend)
		return
	}
	select {
	case c.out <- *d.Signal:
	case <-ctx.Done():
	}
}
