package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"multiwatch/internal/model"
)

// Schema creates the tables used by Store.
const Schema = `
CREATE TABLE IF NOT EXISTS watch_values (
	watch_name   TEXT        NOT NULL,
	value_key    TEXT        NOT NULL,
	value        TEXT        NOT NULL,
	args         JSONB,
	block_number BIGINT      NOT NULL,
	observed_at  TIMESTAMPTZ NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (watch_name, value_key)
);
CREATE TABLE IF NOT EXISTS watch_state (
	name              TEXT PRIMARY KEY,
	last_block_number BIGINT      NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store persists the latest value of every watched key.
type Store struct {
	pool *pgxpool.Pool
	name string
}

// NewStore connects to dsn. name scopes rows so several watches can share tables.
func NewStore(ctx context.Context, dsn string, name string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	if name == "" {
		return nil, fmt.Errorf("watch name is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool, name: name}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutUpdates upserts the latest value per key. A row is only replaced by a
// record from the same or a later block.
func (s *Store) PutUpdates(ctx context.Context, records []model.UpdateRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		var args []byte
		if len(r.Args) > 0 {
			encoded, err := json.Marshal(r.Args)
			if err != nil {
				return fmt.Errorf("marshal args for %s: %w", r.Key, err)
			}
			args = encoded
		}
		observedAt, err := time.Parse(time.RFC3339, r.ObservedAt)
		if err != nil {
			observedAt = time.Now().UTC()
		}
		batch.Queue(`
			INSERT INTO watch_values (
				watch_name, value_key, value, args, block_number, observed_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, now())
			ON CONFLICT (watch_name, value_key)
			DO UPDATE SET
				value = EXCLUDED.value,
				args = EXCLUDED.args,
				block_number = EXCLUDED.block_number,
				observed_at = EXCLUDED.observed_at,
				updated_at = now()
			WHERE watch_values.block_number <= EXCLUDED.block_number
		`,
			s.name,
			r.Key,
			r.Value,
			args,
			int64(r.BlockNumber),
			observedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadValues returns the stored value per key.
func (s *Store) LoadValues(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT value_key, value FROM watch_values WHERE watch_name=$1`, s.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

// LoadState returns the last block recorded for the watch.
func (s *Store) LoadState(ctx context.Context) (uint64, bool, error) {
	var block int64
	row := s.pool.QueryRow(ctx, `SELECT last_block_number FROM watch_state WHERE name=$1`, s.name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(block), true, nil
}

// SaveState records the latest block applied by the watch. The stored
// block never decreases.
func (s *Store) SaveState(ctx context.Context, block uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watch_state (name, last_block_number, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_block_number = GREATEST(watch_state.last_block_number, EXCLUDED.last_block_number),
			updated_at = now()
	`, s.name, int64(block))
	return err
}
