package service

import (
	"context"

	"lifecycle_bot/internal/models"
)

// Store: персистентность ядра. Записи синхронные: вызов вернулся => данные сохранены.
type Store interface {
	SaveChain(ctx context.Context, c *models.Chain) error
	// LoadOpenChains: все не закрытые цепочки, EXHAUSTED тоже.
	LoadOpenChains(ctx context.Context) ([]*models.Chain, error)

	SavePosition(ctx context.Context, p *models.Position) error
	LoadOpenPositions(ctx context.Context) ([]*models.Position, error)

	SaveWatch(ctx context.Context, w *models.Watch) error
	DeleteWatch(ctx context.Context, id string) error
	LoadWatches(ctx context.Context) ([]*models.Watch, error)

	SaveRiskState(ctx context.Context, s models.RiskState) error
	// LoadRiskState: ok=false => стейта ещё нет.
	LoadRiskState(ctx context.Context) (s models.RiskState, ok bool, err error)

	Close() error
}
