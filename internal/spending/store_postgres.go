package spending

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists windows in Postgres, for deployments where several
// gateway instances must share one budget.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and pings it.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect spending db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping spending db: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Load(ctx context.Context, p Period) (Window, bool, error) {
	var w Window
	err := s.pool.QueryRow(ctx,
		`SELECT amount, reset_at FROM spending WHERE id = $1`, string(p),
	).Scan(&w.Amount, &w.ResetAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Window{}, false, nil
	}
	if err != nil {
		return Window{}, false, fmt.Errorf("load %s window: %w", p, err)
	}
	return w, true, nil
}

func (s *PostgresStore) Save(ctx context.Context, p Period, w Window) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO spending (id, amount, reset_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET amount = EXCLUDED.amount, reset_at = EXCLUDED.reset_at`,
		string(p), w.Amount, w.ResetAt)
	if err != nil {
		return fmt.Errorf("save %s window: %w", p, err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
