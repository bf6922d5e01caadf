package service

import (
	"context"
	"sort"
	"sync"

	"lifecycle_bot/internal/models"
)

// Memory: хранилище без персистентности (тесты, simulation без диска).
type Memory struct {
	mu        sync.RWMutex
	chains    map[string]models.Chain
	positions map[string]models.Position
	watches   map[string]models.Watch
	risk      *models.RiskState
}

func NewMemory() *Memory {
	return &Memory{
		chains:    make(map[string]models.Chain),
		positions: make(map[string]models.Position),
		watches:   make(map[string]models.Watch),
	}
}

func (m *Memory) SaveChain(_ context.Context, c *models.Chain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains[c.ID] = *c.Clone()
	return nil
}

func (m *Memory) LoadOpenChains(_ context.Context) ([]*models.Chain, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Chain, 0, len(m.chains))
	for _, c := range m.chains {
		if c.Status != models.ChainClosed {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Chains: все цепочки, включая закрытые (для тестов и админки).
func (m *Memory) Chains() []*models.Chain {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Chain, 0, len(m.chains))
	for _, c := range m.chains {
		out = append(out, c.Clone())
	}
	return out
}

func (m *Memory) SavePosition(_ context.Context, p *models.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[p.ID] = *p
	return nil
}

func (m *Memory) LoadOpenPositions(_ context.Context) ([]*models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if p.Status == models.PositionOpen {
			cp := p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenedAt.Before(out[j].OpenedAt) })
	return out, nil
}

// Position: последняя сохранённая версия позиции.
func (m *Memory) Position(id string) (models.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	return p, ok
}

func (m *Memory) SaveWatch(_ context.Context, w *models.Watch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watches[w.ID] = *w
	return nil
}

func (m *Memory) DeleteWatch(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.watches, id)
	return nil
}

func (m *Memory) LoadWatches(_ context.Context) ([]*models.Watch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Watch, 0, len(m.watches))
	for _, w := range m.watches {
		cp := w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SaveRiskState(_ context.Context, s models.RiskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.risk = &s
	return nil
}

func (m *Memory) LoadRiskState(_ context.Context) (models.RiskState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.risk == nil {
		return models.RiskState{}, false, nil
	}
	return *m.risk, true, nil
}

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
