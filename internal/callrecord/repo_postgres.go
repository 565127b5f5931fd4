package callrecord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/studypair/callkit/internal/domain"
)

// Schema for the calls table; applied by OpenPostgres on startup.
const schema = `
CREATE TABLE IF NOT EXISTS calls (
	call_id      TEXT PRIMARY KEY,
	room_id      TEXT NOT NULL,
	caller_id    TEXT NOT NULL,
	recipient_id TEXT NOT NULL,
	call_type    TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	connected_at TIMESTAMPTZ,
	ended_at     TIMESTAMPTZ,
	duration     INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS calls_caller_idx ON calls (caller_id, started_at DESC);
CREATE INDEX IF NOT EXISTS calls_recipient_idx ON calls (recipient_id, started_at DESC);
`

// PostgresRepository persists call records with pgx.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, verifies the connection and ensures the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Close() { r.pool.Close() }

func (r *PostgresRepository) Create(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO calls (call_id, room_id, caller_id, recipient_id, call_type, status, started_at, duration)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		rec.CallID, rec.RoomID, rec.CallerID, rec.RecipientID,
		rec.CallType, rec.Status, rec.StartedAt, rec.Duration,
	)
	if err != nil {
		return fmt.Errorf("create call record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id domain.CallID) (*Record, error) {
	query := `
		SELECT call_id, room_id, caller_id, recipient_id, call_type, status,
		       started_at, connected_at, ended_at, duration
		FROM calls WHERE call_id = $1
	`
	rec := &Record{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.CallID, &rec.RoomID, &rec.CallerID, &rec.RecipientID,
		&rec.CallType, &rec.Status, &rec.StartedAt, &rec.ConnectedAt,
		&rec.EndedAt, &rec.Duration,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get call record: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) Update(ctx context.Context, rec *Record) error {
	query := `
		UPDATE calls
		SET status = $2, connected_at = $3, ended_at = $4, duration = $5
		WHERE call_id = $1
	`
	tag, err := r.pool.Exec(ctx, query,
		rec.CallID, rec.Status, rec.ConnectedAt, rec.EndedAt, rec.Duration,
	)
	if err != nil {
		return fmt.Errorf("update call record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, uid domain.UserID, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT call_id, room_id, caller_id, recipient_id, call_type, status,
		       started_at, connected_at, ended_at, duration
		FROM calls
		WHERE caller_id = $1 OR recipient_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		rec := &Record{}
		if err := rows.Scan(
			&rec.CallID, &rec.RoomID, &rec.CallerID, &rec.RecipientID,
			&rec.CallType, &rec.Status, &rec.StartedAt, &rec.ConnectedAt,
			&rec.EndedAt, &rec.Duration,
		); err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
