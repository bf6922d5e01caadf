// Package enginetest собирает движок на симуляторе и in-memory хранилище для тестов.
package enginetest

import (
	"context"
	"sync"
	"testing"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/engine/orders"
	"lifecycle_bot/internal/engine/risk"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	notify "lifecycle_bot/internal/modules/notify/service"
	storage "lifecycle_bot/internal/modules/storage/service"
)

// Notification: одно записанное уведомление.
type Notification struct {
	Kind   models.NotifyKind
	Fields notify.Fields
}

// Recorder: sink, который всё запоминает.
type Recorder struct {
	mu  sync.Mutex
	got []Notification
}

func (r *Recorder) Notify(kind models.NotifyKind, fields notify.Fields) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, Notification{Kind: kind, Fields: fields})
}

func (r *Recorder) Kinds() []models.NotifyKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.NotifyKind, len(r.got))
	for i, n := range r.got {
		out[i] = n.Kind
	}
	return out
}

func (r *Recorder) Count(kind models.NotifyKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, g := range r.got {
		if g.Kind == kind {
			n++
		}
	}
	return n
}

// Last: поля последнего уведомления данного типа.
func (r *Recorder) Last(kind models.NotifyKind) (notify.Fields, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.got) - 1; i >= 0; i-- {
		if r.got[i].Kind == kind {
			return r.got[i].Fields, true
		}
	}
	return nil, false
}

// Events: Emitter, складывающий события в слайс.
type Events struct {
	mu   sync.Mutex
	list []models.MonitorEvent
	Err  error
}

func (e *Events) Emit(_ context.Context, ev models.MonitorEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return e.Err
	}
	e.list = append(e.list, ev)
	return nil
}

func (e *Events) List() []models.MonitorEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]models.MonitorEvent(nil), e.list...)
}

// Env: общий стенд (симулятор, реестр, риск-гейт и плейсер).
type Env struct {
	Cfg    *config.Provider
	Sim    *broker.Simulator
	Store  *storage.Memory
	Reg    *chains.Registry
	Gate   *risk.Gate
	Placer *orders.Placer
	Locks  *broker.TicketLocks
	Sink   *Recorder
}

// New: стенд с EURUSD по 1.1000. values перекрывают дефолты конфига.
// Маржинальные проверки выключены, чтобы тесты не зависели от модели маржи.
func New(t testing.TB, values map[string]any) *Env {
	t.Helper()
	merged := map[string]any{
		"risk.tiers.default.min_margin_level": 0.0,
	}
	for k, v := range values {
		merged[k] = v
	}
	cfg := config.NewProviderWithValues(merged)
	sim := broker.NewSimulator(10000)
	sim.SetPrice("EURUSD", 1.1000)
	store := storage.NewMemory()
	reg := chains.NewRegistry(store)
	gate := risk.NewGate(cfg, sim, store)
	sink := &Recorder{}
	return &Env{
		Cfg:    cfg,
		Sim:    sim,
		Store:  store,
		Reg:    reg,
		Gate:   gate,
		Placer: orders.NewPlacer(sim, gate, reg, cfg, sink),
		Locks:  broker.NewTicketLocks(),
		Sink:   sink,
	}
}

// Open размещает одиночную позицию через плейсер и возвращает её.
func (e *Env) Open(t testing.TB, req orders.SingleRequest) *models.Position {
	t.Helper()
	if req.Symbol == "" {
		req.Symbol = "EURUSD"
	}
	if req.Role == "" {
		req.Role = models.RoleA
	}
	pos, err := e.Placer.PlaceSingle(context.Background(), req)
	if err != nil {
		t.Fatalf("open position: %v", err)
	}
	return pos
}
