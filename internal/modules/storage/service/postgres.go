package service

import (
	"context"
	"time"

	"lifecycle_bot/internal/models"
	"lifecycle_bot/pkg/db"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// Postgres: хранилище для многоинстансной установки, через PgTxManager.
type Postgres struct {
	tm db.TxManager
}

func NewPostgres(tm db.TxManager) *Postgres { return &Postgres{tm: tm} }

func (s *Postgres) Migrate(ctx context.Context) error {
	return s.tm.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		for _, stmt := range schema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return errors.Wrap(err, "migrate")
			}
		}
		return nil
	})
}

func (s *Postgres) SaveChain(ctx context.Context, c *models.Chain) error {
	payload, err := sonic.Marshal(c)
	if err != nil {
		return errors.Wrapf(err, "marshal chain %s", c.ID)
	}
	_, err = s.tm.Conn().Exec(ctx, `INSERT INTO chains (id, kind, symbol, status, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		c.ID, string(c.Kind), c.Symbol, string(c.Status), string(payload), time.Now().UTC())
	return errors.Wrapf(err, "save chain %s", c.ID)
}

func (s *Postgres) LoadOpenChains(ctx context.Context) ([]*models.Chain, error) {
	rows, err := s.tm.Conn().Query(ctx, `SELECT payload FROM chains WHERE status <> $1 ORDER BY updated_at`, string(models.ChainClosed))
	if err != nil {
		return nil, errors.Wrap(err, "load chains")
	}
	return collectPayloads[models.Chain](rows, "chain")
}

// SavePosition пишет позицию и связанную цепочку не трогает: порядок записи задаёт реестр.
func (s *Postgres) SavePosition(ctx context.Context, p *models.Position) error {
	payload, err := sonic.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "marshal position %s", p.ID)
	}
	_, err = s.tm.Conn().Exec(ctx, `INSERT INTO positions (id, ticket, symbol, status, payload, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		p.ID, p.Ticket, p.Symbol, string(p.Status), string(payload), time.Now().UTC())
	return errors.Wrapf(err, "save position %s", p.ID)
}

func (s *Postgres) LoadOpenPositions(ctx context.Context) ([]*models.Position, error) {
	rows, err := s.tm.Conn().Query(ctx, `SELECT payload FROM positions WHERE status = $1 ORDER BY updated_at`, string(models.PositionOpen))
	if err != nil {
		return nil, errors.Wrap(err, "load positions")
	}
	return collectPayloads[models.Position](rows, "position")
}

func (s *Postgres) SaveWatch(ctx context.Context, w *models.Watch) error {
	payload, err := sonic.Marshal(w)
	if err != nil {
		return errors.Wrapf(err, "marshal watch %s", w.ID)
	}
	_, err = s.tm.Conn().Exec(ctx, `INSERT INTO watches (id, chain_id, payload) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`,
		w.ID, w.ChainID, string(payload))
	return errors.Wrapf(err, "save watch %s", w.ID)
}

func (s *Postgres) DeleteWatch(ctx context.Context, id string) error {
	_, err := s.tm.Conn().Exec(ctx, `DELETE FROM watches WHERE id = $1`, id)
	return errors.Wrapf(err, "delete watch %s", id)
}

func (s *Postgres) LoadWatches(ctx context.Context) ([]*models.Watch, error) {
	rows, err := s.tm.Conn().Query(ctx, `SELECT payload FROM watches`)
	if err != nil {
		return nil, errors.Wrap(err, "load watches")
	}
	return collectPayloads[models.Watch](rows, "watch")
}

func (s *Postgres) SaveRiskState(ctx context.Context, st models.RiskState) error {
	payload, err := sonic.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "marshal risk state")
	}
	_, err = s.tm.Conn().Exec(ctx, `INSERT INTO risk_state (id, payload) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload`, string(payload))
	return errors.Wrap(err, "save risk state")
}

func (s *Postgres) LoadRiskState(ctx context.Context) (models.RiskState, bool, error) {
	var payload string
	err := s.tm.Conn().QueryRow(ctx, `SELECT payload FROM risk_state WHERE id = 1`).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.RiskState{}, false, nil
	}
	if err != nil {
		return models.RiskState{}, false, errors.Wrap(err, "load risk state")
	}
	var st models.RiskState
	if err := sonic.UnmarshalString(payload, &st); err != nil {
		return models.RiskState{}, false, errors.Wrap(err, "decode risk state")
	}
	return st, true, nil
}

// Close: пул закрывает модуль postgres.
func (s *Postgres) Close() error { return nil }

func collectPayloads[T any](rows pgx.Rows, what string) ([]*T, error) {
	defer rows.Close()
	var out []*T
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrapf(err, "scan %s", what)
		}
		v := new(T)
		if err := sonic.UnmarshalString(payload, v); err != nil {
			return nil, errors.Wrapf(err, "decode %s", what)
		}
		out = append(out, v)
	}
	return out, errors.Wrapf(rows.Err(), "load %s", what)
}

var _ Store = (*Postgres)(nil)
