package service

// Схема одинакова для SQLite и PostgreSQL: модель лежит в payload (JSON),
// колонки рядом нужны только для выборок.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS chains (
		id         TEXT PRIMARY KEY,
		kind       TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		status     TEXT NOT NULL,
		payload    TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS chains_status_idx ON chains (status)`,
	`CREATE TABLE IF NOT EXISTS positions (
		id         TEXT PRIMARY KEY,
		ticket     TEXT NOT NULL,
		symbol     TEXT NOT NULL,
		status     TEXT NOT NULL,
		payload    TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS positions_status_idx ON positions (status)`,
	`CREATE TABLE IF NOT EXISTS watches (
		id       TEXT PRIMARY KEY,
		chain_id TEXT NOT NULL,
		payload  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS risk_state (
		id      INTEGER PRIMARY KEY,
		payload TEXT NOT NULL
	)`,
}
