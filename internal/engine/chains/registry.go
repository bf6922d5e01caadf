package chains

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"lifecycle_bot/internal/metrics"
	"lifecycle_bot/internal/models"
	storage "lifecycle_bot/internal/modules/storage/service"
	"lifecycle_bot/pkg/logger"

	"github.com/google/uuid"
)

var (
	ErrChainNotFound    = errors.New("chain not found")
	ErrChainExhausted   = errors.New("chain exhausted")
	ErrWatchExists      = errors.New("active watch already exists for symbol and chain")
	ErrPositionNotFound = errors.New("position not found")
)

// Registry: единственный владелец цепочек, позиций и ожиданий.
// Все записи под одним мьютексом; изменение сначала пишется в store,
// и только потом применяется в памяти.
type Registry struct {
	mu    sync.Mutex
	store storage.Store

	chains    map[string]*models.Chain
	positions map[string]*models.Position
	watches   map[string]*models.Watch
	watchKeys map[string]string

	now func() time.Time
}

func NewRegistry(store storage.Store) *Registry {
	return &Registry{
		store:     store,
		chains:    make(map[string]*models.Chain),
		positions: make(map[string]*models.Position),
		watches:   make(map[string]*models.Watch),
		watchKeys: make(map[string]string),
		now:       time.Now,
	}
}

// Restore поднимает открытые цепочки, позиции и ожидания после рестарта.
func (r *Registry) Restore(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("chains.Restore: %w", err)
		}
	}()

	chains, err := r.store.LoadOpenChains(ctx)
	if err != nil {
		return err
	}
	positions, err := r.store.LoadOpenPositions(ctx)
	if err != nil {
		return err
	}
	watches, err := r.store.LoadWatches(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range chains {
		r.chains[c.ID] = c
	}
	for _, p := range positions {
		r.positions[p.ID] = p
	}
	for _, w := range watches {
		if _, dup := r.watchKeys[w.Key()]; dup {
			logger.Warn("chains: duplicate watch %s for %s dropped on restore", w.ID, w.Key())
			continue
		}
		r.watches[w.ID] = w
		r.watchKeys[w.Key()] = w.ID
	}
	r.syncGaugesLocked()
	logger.Info("chains: restored %d chains, %d open positions, %d watches", len(chains), len(positions), len(r.watches))
	return nil
}

// CreateChain: новая цепочка от базовой позиции; база замораживается здесь.
func (r *Registry) CreateChain(ctx context.Context, kind models.ChainKind, base *models.Position, maxLevels int, reduction float64) (*models.Chain, error) {
	if base == nil {
		return nil, fmt.Errorf("chains.CreateChain: nil base position")
	}
	if maxLevels < 0 {
		maxLevels = 0
	}
	now := r.now().UTC()
	c := &models.Chain{
		ID:             uuid.NewString(),
		Kind:           kind,
		Symbol:         base.Symbol,
		Side:           base.Side,
		Strategy:       base.Strategy,
		Status:         models.ChainActive,
		MaxLevels:      maxLevels,
		Reduction:      reduction,
		Positions:      []string{base.ID},
		BaseEntry:      base.Entry,
		BaseSLDistance: base.SLDistance(),
		BaseLot:        base.Lot,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.SaveChain(ctx, c); err != nil {
		return nil, fmt.Errorf("chains.CreateChain: %w", err)
	}
	r.chains[c.ID] = c
	return c.Clone(), nil
}

// Attach добавляет позицию в цепочку без смены уровня (вторая нога dual).
func (r *Registry) Attach(ctx context.Context, chainID, positionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[chainID]
	if !ok {
		return ErrChainNotFound
	}
	next := c.Clone()
	next.Positions = append(next.Positions, positionID)
	next.UpdatedAt = r.now().UTC()
	return r.saveChainLocked(ctx, next)
}

// AdvanceLevel: +1 уровень и новая позиция. На level == maxLevels это no-op,
// цепочка помечается EXHAUSTED и возвращается ErrChainExhausted.
func (r *Registry) AdvanceLevel(ctx context.Context, chainID, newPositionID string) (*models.Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[chainID]
	if !ok {
		return nil, ErrChainNotFound
	}
	if c.Status != models.ChainActive || c.Level >= c.MaxLevels {
		if c.Status == models.ChainActive {
			next := c.Clone()
			next.Status = models.ChainExhausted
			next.UpdatedAt = r.now().UTC()
			if err := r.saveChainLocked(ctx, next); err != nil {
				return nil, err
			}
			c = next
		}
		return c.Clone(), ErrChainExhausted
	}

	next := c.Clone()
	next.Level++
	next.Positions = append(next.Positions, newPositionID)
	next.UpdatedAt = r.now().UTC()
	if err := r.saveChainLocked(ctx, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

func (r *Registry) Chain(id string) (*models.Chain, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[id]
	if !ok {
		return nil, false
	}
	return c.Clone(), true
}

// IsExhausted: неизвестная цепочка тоже считается исчерпанной.
func (r *Registry) IsExhausted(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[id]
	if !ok {
		return true
	}
	return c.Status != models.ChainActive || c.Level >= c.MaxLevels
}

func (r *Registry) AddProfit(ctx context.Context, id string, pnl float64) (*models.Chain, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[id]
	if !ok {
		return nil, ErrChainNotFound
	}
	next := c.Clone()
	next.AccumulatedProfit += pnl
	next.UpdatedAt = r.now().UTC()
	if err := r.saveChainLocked(ctx, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// CloseChain: терминальное закрытие. Закрытые позиции цепочки выгружаются из памяти.
func (r *Registry) CloseChain(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.chains[id]
	if !ok {
		return ErrChainNotFound
	}
	if c.Status == models.ChainClosed {
		return nil
	}
	next := c.Clone()
	next.Status = models.ChainClosed
	next.UpdatedAt = r.now().UTC()
	if err := r.saveChainLocked(ctx, next); err != nil {
		return err
	}
	for _, pid := range next.Positions {
		if p, ok := r.positions[pid]; ok && !p.IsOpen() && !r.referencedLocked(pid, id) {
			delete(r.positions, pid)
		}
	}
	return nil
}

func (r *Registry) referencedLocked(positionID, except string) bool {
	for id, c := range r.chains {
		if id == except || c.Status == models.ChainClosed {
			continue
		}
		for _, pid := range c.Positions {
			if pid == positionID {
				return true
			}
		}
	}
	return false
}

func (r *Registry) saveChainLocked(ctx context.Context, next *models.Chain) error {
	if err := r.store.SaveChain(ctx, next); err != nil {
		return fmt.Errorf("chains: save %s: %w", next.ID, err)
	}
	r.chains[next.ID] = next
	return nil
}

// ---- позиции ----

func (r *Registry) RegisterPosition(ctx context.Context, p *models.Position) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.PositionOpen
	}
	cp := *p

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.SavePosition(ctx, &cp); err != nil {
		return fmt.Errorf("chains.RegisterPosition: %w", err)
	}
	r.positions[cp.ID] = &cp
	r.syncGaugesLocked()
	return nil
}

func (r *Registry) Position(id string) (*models.Position, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// ClosePosition переводит OPEN -> CLOSED. Повторный вызов вернёт changed=false.
func (r *Registry) ClosePosition(ctx context.Context, id string, reason models.CloseReason, pnl float64) (*models.Position, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return nil, false, ErrPositionNotFound
	}
	if !models.CanTransition(p.Status, models.PositionClosed) {
		cp := *p
		return &cp, false, nil
	}

	next := *p
	next.Status = models.PositionClosed
	next.CloseReason = reason
	// итог вместе с частичными фиксациями
	next.PnL += pnl
	next.ClosedAt = r.now().UTC()
	if err := r.store.SavePosition(ctx, &next); err != nil {
		return nil, false, fmt.Errorf("chains.ClosePosition: %w", err)
	}
	r.positions[id] = &next
	r.syncGaugesLocked()

	out := next
	return &out, true, nil
}

// ReducePosition: после частичного закрытия.
func (r *Registry) ReducePosition(ctx context.Context, id string, closedLot, realized float64) (*models.Position, error) {
	return r.update(ctx, id, func(p *models.Position) {
		p.Lot -= closedLot
		if p.Lot < 0 {
			p.Lot = 0
		}
		p.PnL += realized
	})
}

func (r *Registry) MarkTP1Handled(ctx context.Context, id string) (*models.Position, error) {
	return r.SetTP1Handled(ctx, id, true)
}

// SetTP1Handled: false возвращает чекпоинт, если событие так и не ушло.
func (r *Registry) SetTP1Handled(ctx context.Context, id string, handled bool) (*models.Position, error) {
	return r.update(ctx, id, func(p *models.Position) { p.TP1Handled = handled })
}

func (r *Registry) update(ctx context.Context, id string, fn func(p *models.Position)) (*models.Position, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok || !p.IsOpen() {
		return nil, ErrPositionNotFound
	}
	next := *p
	fn(&next)
	if err := r.store.SavePosition(ctx, &next); err != nil {
		return nil, fmt.Errorf("chains: save position %s: %w", id, err)
	}
	r.positions[id] = &next
	out := next
	return &out, nil
}

func (r *Registry) OpenPositions() []*models.Position {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Position, 0, len(r.positions))
	for _, p := range r.positions {
		if p.IsOpen() {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out
}

// ActiveChains: активные цепочки, старые первыми.
func (r *Registry) ActiveChains() []*models.Chain {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Chain, 0, len(r.chains))
	for _, c := range r.chains {
		if c.IsOpen() {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ---- ожидания ----

// AddWatch: не более одного активного ожидания на symbol+chain.
func (r *Registry) AddWatch(ctx context.Context, w *models.Watch) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = r.now().UTC()
	}
	cp := *w

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.watchKeys[cp.Key()]; exists {
		return ErrWatchExists
	}
	if err := r.store.SaveWatch(ctx, &cp); err != nil {
		return fmt.Errorf("chains.AddWatch: %w", err)
	}
	r.watches[cp.ID] = &cp
	r.watchKeys[cp.Key()] = cp.ID
	r.syncGaugesLocked()
	return nil
}

// RemoveWatch вызывает только монитор.
func (r *Registry) RemoveWatch(ctx context.Context, id string) (*models.Watch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[id]
	if !ok {
		return nil, false
	}
	if err := r.store.DeleteWatch(ctx, id); err != nil {
		// в памяти всё равно снимаем: после рестарта ожидание сработает по дедлайну
		logger.Error("chains: delete watch %s: %v", id, err)
	}
	delete(r.watches, id)
	delete(r.watchKeys, w.Key())
	r.syncGaugesLocked()
	cp := *w
	return &cp, true
}

func (r *Registry) Watches() []*models.Watch {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Watch, 0, len(r.watches))
	for _, w := range r.watches {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *Registry) syncGaugesLocked() {
	var open int
	for _, p := range r.positions {
		if p.IsOpen() {
			open++
		}
	}
	metrics.OpenPositions.Set(float64(open))

	counts := map[models.WatchKind]int{models.WatchRecovery: 0, models.WatchContinuation: 0}
	for _, w := range r.watches {
		counts[w.Kind]++
	}
	for k, n := range counts {
		metrics.ActiveWatches.WithLabelValues(string(k)).Set(float64(n))
	}
}
