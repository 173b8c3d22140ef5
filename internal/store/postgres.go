package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"meeting-insights-go/internal/logger"
)

type Postgres struct {
	db  *sql.DB
	log *logger.Logger
}

// NewPostgres connects, pings and migrates the schema.
func NewPostgres(ctx context.Context, databaseURL string, log *logger.Logger) (*Postgres, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, wrap("open", "postgres", fmt.Errorf("failed to connect to PostgreSQL database: %w", err))
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrap("open", "postgres", fmt.Errorf("failed to ping database: %w", err))
	}

	m := &migrator{db: db, log: log, migrations: postgresMigrations()}
	if err := m.run(ctx); err != nil {
		_ = db.Close()
		return nil, wrap("open", "postgres", fmt.Errorf("failed to run migrations: %w", err))
	}
	return &Postgres{db: db, log: log}, nil
}

func (p *Postgres) SaveInstance(ctx context.Context, rec InstanceRecord) error {
	if err := validateKey(rec.ID); err != nil {
		return wrap("save instance", rec.ID, err)
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO meeting_instances (id, state, active, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			active = EXCLUDED.active,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at
	`, rec.ID, rec.State, rec.Active, []byte(rec.Data), rec.UpdatedAt)
	return wrap("save instance", rec.ID, err)
}

func (p *Postgres) GetInstance(ctx context.Context, id string) (InstanceRecord, error) {
	rec := InstanceRecord{ID: id}
	var data []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT state, active, data, updated_at FROM meeting_instances WHERE id = $1`, id,
	).Scan(&rec.State, &rec.Active, &data, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return InstanceRecord{}, wrap("get instance", id, ErrNotFound)
	}
	if err != nil {
		return InstanceRecord{}, wrap("get instance", id, err)
	}
	rec.Data = data
	return rec, nil
}

func (p *Postgres) ListActive(ctx context.Context) ([]InstanceRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, state, active, data, updated_at FROM meeting_instances WHERE active ORDER BY id`)
	if err != nil {
		return nil, wrap("list active", "", err)
	}
	defer rows.Close()

	var out []InstanceRecord
	for rows.Next() {
		var rec InstanceRecord
		var data []byte
		if err := rows.Scan(&rec.ID, &rec.State, &rec.Active, &data, &rec.UpdatedAt); err != nil {
			return nil, wrap("list active", "", err)
		}
		rec.Data = data
		out = append(out, rec)
	}
	return out, wrap("list active", "", rows.Err())
}

func (p *Postgres) PutRecord(ctx context.Context, key string, payload []byte) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, wrap("put record", key, err)
	}
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO meeting_records (key, payload) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
		key, payload)
	if err != nil {
		return false, wrap("put record", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("put record", key, err)
	}
	return n == 1, nil
}

func (p *Postgres) GetRecord(ctx context.Context, key string) ([]byte, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx, `SELECT payload FROM meeting_records WHERE key = $1`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, wrap("get record", key, ErrNotFound)
	}
	if err != nil {
		return nil, wrap("get record", key, err)
	}
	return payload, nil
}

func (p *Postgres) Close() error {
	if p.db == nil {
		return nil
	}
	if err := p.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}
