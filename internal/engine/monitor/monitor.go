package monitor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"lifecycle_bot/internal/engine/chains"
	"lifecycle_bot/internal/engine/events"
	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	broker "lifecycle_bot/internal/modules/broker/service"
	"lifecycle_bot/internal/modules/config"
	notify "lifecycle_bot/internal/modules/notify/service"
	"lifecycle_bot/pkg/logger"
)

const emitTimeout = 5 * time.Second

// Monitor: периодическая проверка ожиданий и TP1-чекпоинтов.
// Единственный, кто снимает вотчи из реестра.
type Monitor struct {
	reg  *chains.Registry
	gw   broker.Gateway
	emit events.Emitter
	cfg  *config.Provider
	sink notify.Sink
	now  func() time.Time

	mu       sync.Mutex
	failing  int
	open     bool
	lastTick time.Time
	lastErr  string
}

func New(reg *chains.Registry, gw broker.Gateway, emit events.Emitter, cfg *config.Provider, sink notify.Sink) *Monitor {
	return &Monitor{reg: reg, gw: gw, emit: emit, cfg: cfg, sink: sink, now: time.Now}
}

// TickStats: итог одного прохода.
type TickStats struct {
	Evaluated int
	Errors    int
	Panics    int
	Emitted   int
	Skipped   bool
}

// State: снимок для health.
type State struct {
	CircuitOpen         bool      `json:"circuit_open"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastTick            time.Time `json:"last_tick"`
	LastError           string    `json:"last_error,omitempty"`
	Watches             int       `json:"watches"`
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		CircuitOpen:         m.open,
		ConsecutiveFailures: m.failing,
		LastTick:            m.lastTick,
		LastError:           m.lastErr,
		Watches:             len(m.reg.Watches()),
	}
}

// Reset замыкает breaker после ручной проверки оператором.
func (m *Monitor) Reset() {
	m.mu.Lock()
	wasOpen := m.open
	m.open = false
	m.failing = 0
	m.lastErr = ""
	m.mu.Unlock()
	metrics.CircuitOpen.Set(0)
	if wasOpen {
		logger.Info("monitor: circuit breaker reset")
	}
}

// Run тикает до отмены ctx. Текущий тик всегда доходит до конца.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.cfg.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("monitor: started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			logger.Info("monitor: stopped")
			return
		case <-ticker.C:
			m.Tick(context.WithoutCancel(ctx), m.now())
			if next := m.cfg.TickInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Tick проверяет все вотчи и открытые позиции с TP1.
func (m *Monitor) Tick(ctx context.Context, now time.Time) (st TickStats) {
	m.mu.Lock()
	open := m.open
	m.mu.Unlock()
	if open {
		st.Skipped = true
		return st
	}

	start := time.Now()
	defer func() {
		metrics.MonitorTickDuration.Observe(float64(time.Since(start).Milliseconds()))
		m.afterTick(now, st)
	}()

	prices := make(map[string]priceResult)
	price := func(symbol string) (float64, error) {
		if r, ok := prices[symbol]; ok {
			return r.px, r.err
		}
		px, err := m.gw.GetCurrentPrice(ctx, symbol)
		prices[symbol] = priceResult{px: px, err: err}
		return px, err
	}

	for _, w := range m.reg.Watches() {
		st.Evaluated++
		emitted, err := m.safe(func() (bool, error) { return m.checkWatch(ctx, w, now, price) })
		st.count(emitted, err)
	}

	for _, p := range m.reg.OpenPositions() {
		if p.TP1 <= 0 || p.TP1Handled {
			continue
		}
		st.Evaluated++
		emitted, err := m.safe(func() (bool, error) { return m.checkTarget(ctx, p, now, price) })
		st.count(emitted, err)
	}
	return st
}

type priceResult struct {
	px  float64
	err error
}

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("panic: %v", p.v) }

func (s *TickStats) count(emitted bool, err error) {
	if emitted {
		s.Emitted++
	}
	if err == nil {
		return
	}
	s.Errors++
	if _, ok := err.(panicError); ok {
		s.Panics++
	}
}

func (m *Monitor) safe(fn func() (bool, error)) (emitted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("monitor: panic: %v\n%s", r, debug.Stack())
			metrics.MonitorErrors.WithLabelValues("panic").Inc()
			err = panicError{v: r}
		}
	}()
	return fn()
}

func (m *Monitor) checkWatch(ctx context.Context, w *models.Watch, now time.Time, price func(string) (float64, error)) (bool, error) {
	px, err := price(w.Symbol)
	if err != nil {
		metrics.MonitorErrors.WithLabelValues("price").Inc()
		logger.Warn("monitor: price %s for watch %s: %v", w.Symbol, w.ID, err)
		// таймаут не зависит от цены
		if w.Expired(now) {
			emitted := m.fire(ctx, w, timedOutKind(w.Kind), 0, now)
			return emitted, err
		}
		return false, err
	}

	switch {
	case w.Triggered(px):
		return m.fire(ctx, w, triggeredKind(w.Kind), px, now), nil
	case w.Expired(now):
		return m.fire(ctx, w, timedOutKind(w.Kind), px, now), nil
	}
	return false, nil
}

// fire снимает вотч и только потом отдаёт событие. Если отдать не вышло,
// вотч возвращается в реестр до следующего тика.
func (m *Monitor) fire(ctx context.Context, w *models.Watch, kind models.EventKind, px float64, now time.Time) bool {
	removed, ok := m.reg.RemoveWatch(ctx, w.ID)
	if !ok {
		return false
	}
	ev := models.MonitorEvent{Kind: kind, Watch: removed, Price: px, At: now}

	emitCtx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()
	if err := m.emit.Emit(emitCtx, ev); err != nil {
		logger.Error("monitor: emit %s for chain %s: %v", kind, removed.ChainID, err)
		if err := m.reg.AddWatch(ctx, removed); err != nil {
			logger.Error("monitor: restore watch %s: %v", removed.ID, err)
		}
		return false
	}
	metrics.MonitorEvents.WithLabelValues(string(kind)).Inc()
	logger.Debug("monitor: %s chain=%s %s @%.5f", kind, removed.ChainID, removed.Symbol, px)
	return true
}

// checkTarget: как fire, флаг ставится до отдачи события и снимается при неудаче.
func (m *Monitor) checkTarget(ctx context.Context, p *models.Position, now time.Time, price func(string) (float64, error)) (bool, error) {
	px, err := price(p.Symbol)
	if err != nil {
		metrics.MonitorErrors.WithLabelValues("price").Inc()
		return false, err
	}
	if (px-p.TP1)*p.Side.Sign() < 0 {
		return false, nil
	}
	marked, err := m.reg.MarkTP1Handled(ctx, p.ID)
	if err != nil {
		return false, err
	}
	ev := models.MonitorEvent{Kind: models.EventTargetReached, Position: marked, Price: px, At: now}

	emitCtx, cancel := context.WithTimeout(ctx, emitTimeout)
	defer cancel()
	if err := m.emit.Emit(emitCtx, ev); err != nil {
		logger.Error("monitor: emit %s for %s: %v", ev.Kind, p.ID, err)
		if _, rerr := m.reg.SetTP1Handled(ctx, p.ID, false); rerr != nil {
			logger.Error("monitor: restore tp1 checkpoint %s: %v", p.ID, rerr)
		}
		return false, err
	}
	metrics.MonitorEvents.WithLabelValues(string(ev.Kind)).Inc()
	return true, nil
}

// afterTick ведёт breaker: тик считается провальным, если упали все проверки
// или была паника. Порог: monitor.breaker_threshold тиков подряд.
func (m *Monitor) afterTick(now time.Time, st TickStats) {
	failed := st.Panics > 0 || (st.Evaluated > 0 && st.Errors == st.Evaluated)

	m.mu.Lock()
	m.lastTick = now
	if !failed {
		m.failing = 0
		m.mu.Unlock()
		return
	}
	m.failing++
	m.lastErr = fmt.Sprintf("%d/%d checks failed, %d panics", st.Errors, st.Evaluated, st.Panics)
	threshold := m.cfg.BreakerThreshold()
	trip := threshold > 0 && m.failing >= threshold && !m.open
	if trip {
		m.open = true
	}
	failing, lastErr := m.failing, m.lastErr
	m.mu.Unlock()

	if trip {
		metrics.CircuitOpen.Set(1)
		logger.Error("monitor: circuit breaker open after %d failing ticks: %s", failing, lastErr)
		m.sink.Notify(models.NotifyCircuitOpen, notify.Fields{
			"failing_ticks": failing,
			"last_error":    lastErr,
		})
	}
}

func triggeredKind(k models.WatchKind) models.EventKind {
	if k == models.WatchContinuation {
		return models.EventContinuationTriggered
	}
	return models.EventRecoveryTriggered
}

func timedOutKind(k models.WatchKind) models.EventKind {
	if k == models.WatchContinuation {
		return models.EventContinuationTimedOut
	}
	return models.EventRecoveryTimedOut
}
