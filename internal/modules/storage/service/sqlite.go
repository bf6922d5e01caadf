package service

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"lifecycle_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// SQL: хранилище поверх database/sql (SQLite по умолчанию).
type SQL struct {
	db *sql.DB
}

// OpenSQLite открывает файл (создаёт каталог) и накатывает схему.
func OpenSQLite(ctx context.Context, path string) (*SQL, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "sqlite mkdir")
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open")
	}
	// одна запись за раз, иначе SQLITE_BUSY
	db.SetMaxOpenConns(1)

	s := NewSQL(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewSQL(db *sql.DB) *SQL { return &SQL{db: db} }

func (s *SQL) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}

func (s *SQL) SaveChain(ctx context.Context, c *models.Chain) error {
	payload, err := sonic.Marshal(c)
	if err != nil {
		return errors.Wrapf(err, "marshal chain %s", c.ID)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO chains (id, kind, symbol, status, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, payload = excluded.payload, updated_at = excluded.updated_at`,
		c.ID, string(c.Kind), c.Symbol, string(c.Status), string(payload), time.Now().UTC())
	return errors.Wrapf(err, "save chain %s", c.ID)
}

func (s *SQL) LoadOpenChains(ctx context.Context) ([]*models.Chain, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM chains WHERE status <> ? ORDER BY updated_at`, string(models.ChainClosed))
	if err != nil {
		return nil, errors.Wrap(err, "load chains")
	}
	defer rows.Close()

	var out []*models.Chain
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan chain")
		}
		c := &models.Chain{}
		if err := sonic.UnmarshalString(payload, c); err != nil {
			return nil, errors.Wrap(err, "decode chain")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "load chains")
}

func (s *SQL) SavePosition(ctx context.Context, p *models.Position) error {
	payload, err := sonic.Marshal(p)
	if err != nil {
		return errors.Wrapf(err, "marshal position %s", p.ID)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO positions (id, ticket, symbol, status, payload, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET status = excluded.status, payload = excluded.payload, updated_at = excluded.updated_at`,
		p.ID, p.Ticket, p.Symbol, string(p.Status), string(payload), time.Now().UTC())
	return errors.Wrapf(err, "save position %s", p.ID)
}

func (s *SQL) LoadOpenPositions(ctx context.Context) ([]*models.Position, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM positions WHERE status = ? ORDER BY updated_at`, string(models.PositionOpen))
	if err != nil {
		return nil, errors.Wrap(err, "load positions")
	}
	defer rows.Close()

	var out []*models.Position
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan position")
		}
		p := &models.Position{}
		if err := sonic.UnmarshalString(payload, p); err != nil {
			return nil, errors.Wrap(err, "decode position")
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "load positions")
}

func (s *SQL) SaveWatch(ctx context.Context, w *models.Watch) error {
	payload, err := sonic.Marshal(w)
	if err != nil {
		return errors.Wrapf(err, "marshal watch %s", w.ID)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO watches (id, chain_id, payload) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload`,
		w.ID, w.ChainID, string(payload))
	return errors.Wrapf(err, "save watch %s", w.ID)
}

func (s *SQL) DeleteWatch(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM watches WHERE id = ?`, id)
	return errors.Wrapf(err, "delete watch %s", id)
}

func (s *SQL) LoadWatches(ctx context.Context) ([]*models.Watch, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM watches`)
	if err != nil {
		return nil, errors.Wrap(err, "load watches")
	}
	defer rows.Close()

	var out []*models.Watch
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, errors.Wrap(err, "scan watch")
		}
		w := &models.Watch{}
		if err := sonic.UnmarshalString(payload, w); err != nil {
			return nil, errors.Wrap(err, "decode watch")
		}
		out = append(out, w)
	}
	return out, errors.Wrap(rows.Err(), "load watches")
}

func (s *SQL) SaveRiskState(ctx context.Context, st models.RiskState) error {
	payload, err := sonic.Marshal(st)
	if err != nil {
		return errors.Wrap(err, "marshal risk state")
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO risk_state (id, payload) VALUES (1, ?)
		ON CONFLICT (id) DO UPDATE SET payload = excluded.payload`, string(payload))
	return errors.Wrap(err, "save risk state")
}

func (s *SQL) LoadRiskState(ctx context.Context) (models.RiskState, bool, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM risk_state WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
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

func (s *SQL) Close() error { return s.db.Close() }

var _ Store = (*SQL)(nil)
