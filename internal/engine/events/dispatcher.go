package events

import (
	"context"
	"hash/fnv"
	"runtime/debug"
	"strconv"
	"sync"

	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/logger"
)

// Handler обрабатывает одно событие монитора.
type Handler func(ctx context.Context, ev models.MonitorEvent)

// Emitter: то, куда монитор отдаёт события.
type Emitter interface {
	Emit(ctx context.Context, ev models.MonitorEvent) error
}

// Dispatcher раскладывает события по шардам по хешу цепочки:
// события одной цепочки идут строго по очереди, разные цепочки параллельно.
type Dispatcher struct {
	shards  []chan models.MonitorEvent
	handler Handler
	wg      sync.WaitGroup
}

func NewDispatcher(shards, queue int, h Handler) *Dispatcher {
	if shards <= 0 {
		shards = 4
	}
	if queue <= 0 {
		queue = 64
	}
	d := &Dispatcher{handler: h, shards: make([]chan models.MonitorEvent, shards)}
	for i := range d.shards {
		d.shards[i] = make(chan models.MonitorEvent, queue)
	}
	return d
}

func (d *Dispatcher) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(d.shards)))
}

// Emit блокируется, пока в шарде нет места или пока не отменён ctx.
func (d *Dispatcher) Emit(ctx context.Context, ev models.MonitorEvent) error {
	i := d.shard(ev.ChainKey())
	select {
	case d.shards[i] <- ev:
		metrics.DispatchQueueSize.WithLabelValues(strconv.Itoa(i)).Set(float64(len(d.shards[i])))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run запускает воркеры и ждёт ctx. После отмены воркеры дорабатывают
// то, что уже лежит в очереди: вотчи этих событий монитор уже снял.
func (d *Dispatcher) Run(ctx context.Context) {
	for i := range d.shards {
		d.wg.Add(1)
		go d.worker(ctx, i)
	}
	<-ctx.Done()
	d.wg.Wait()
}

func (d *Dispatcher) worker(ctx context.Context, i int) {
	defer d.wg.Done()
	ch := d.shards[i]
	label := strconv.Itoa(i)
	for {
		select {
		case ev := <-ch:
			metrics.DispatchQueueSize.WithLabelValues(label).Set(float64(len(ch)))
			d.handle(ctx, ev)
		case <-ctx.Done():
			d.drain(i)
			return
		}
	}
}

func (d *Dispatcher) drain(i int) {
	ctx := context.Background()
	for {
		select {
		case ev := <-d.shards[i]:
			d.handle(ctx, ev)
		default:
			metrics.DispatchQueueSize.WithLabelValues(strconv.Itoa(i)).Set(0)
			return
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev models.MonitorEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("events: handler panic on %s chain=%s: %v\n%s", ev.Kind, ev.ChainKey(), r, debug.Stack())
		}
	}()
	d.handler(context.WithoutCancel(ctx), ev)
}

var _ Emitter = (*Dispatcher)(nil)
