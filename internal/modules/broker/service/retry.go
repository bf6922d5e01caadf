package service

import (
	"context"
	"fmt"
	"time"

	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/pkg/logger"

	"github.com/jpillora/backoff"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
)

type RetryConfig struct {
	Attempts  int
	BaseDelay time.Duration
}

// Reliable оборачивает Gateway ретраями с экспоненциальной задержкой
// для размещения и закрытия, спаны на каждый вызов.
type Reliable struct {
	Gateway
	cfg RetryConfig
}

func NewReliable(g Gateway, cfg RetryConfig) *Reliable {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &Reliable{Gateway: g, cfg: cfg}
}

func (r *Reliable) PlaceOrder(ctx context.Context, req PlaceRequest) (ticket string, err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "broker.PlaceOrder")
	span.SetTag("symbol", req.Symbol)
	span.SetTag("side", string(req.Side))
	span.SetTag("lot", req.Lot)
	defer func() {
		if err != nil {
			ext.Error.Set(span, true)
			span.LogKV("error", err.Error())
		}
		span.Finish()
	}()

	started := time.Now()
	err = r.do(ctx, "place "+req.Symbol, func() error {
		var e error
		ticket, e = r.Gateway.PlaceOrder(ctx, req)
		return e
	})
	metrics.BrokerCallLatency.WithLabelValues("place").Observe(float64(time.Since(started).Milliseconds()))
	return ticket, err
}

func (r *Reliable) ClosePosition(ctx context.Context, ticket string) (ok bool, err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "broker.ClosePosition")
	span.SetTag("ticket", ticket)
	defer span.Finish()

	started := time.Now()
	err = r.do(ctx, "close "+ticket, func() error {
		var e error
		ok, e = r.Gateway.ClosePosition(ctx, ticket)
		return e
	})
	metrics.BrokerCallLatency.WithLabelValues("close").Observe(float64(time.Since(started).Milliseconds()))
	return ok, err
}

func (r *Reliable) ClosePartial(ctx context.Context, ticket string, lot float64) (ok bool, err error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "broker.ClosePartial")
	span.SetTag("ticket", ticket)
	span.SetTag("lot", lot)
	defer span.Finish()

	err = r.do(ctx, "partial "+ticket, func() error {
		var e error
		ok, e = r.Gateway.ClosePartial(ctx, ticket, lot)
		return e
	})
	return ok, err
}

// do: не более cfg.Attempts попыток, задержка удваивается.
func (r *Reliable) do(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    r.cfg.BaseDelay,
		Max:    r.cfg.BaseDelay * time.Duration(1<<uint(r.cfg.Attempts)),
		Factor: 2,
	}

	var err error
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if attempt == r.cfg.Attempts {
			break
		}
		d := b.Duration()
		logger.Warn("broker %s: attempt %d/%d failed: %v, retry in %s", op, attempt, r.cfg.Attempts, err, d)
		metrics.BrokerRetries.WithLabelValues(opKind(op)).Inc()

		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("broker %s: %w (last error: %v)", op, ctx.Err(), err)
		case <-t.C:
		}
	}
	return fmt.Errorf("broker %s: %d attempts exhausted: %w", op, r.cfg.Attempts, err)
}

func opKind(op string) string {
	for i := 0; i < len(op); i++ {
		if op[i] == ' ' {
			return op[:i]
		}
	}
	return op
}

var _ Gateway = (*Reliable)(nil)
