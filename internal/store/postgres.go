package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/quote-engine/internal/db"
	"github.com/sells-group/quote-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_quotation": `INSERT INTO quotations (id, query, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
	"update_status":    `UPDATE quotations SET status = $1, updated_at = $2 WHERE id = $3`,
	"set_result":       `UPDATE quotations SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
	"get_quotation":    `SELECT id, query, status, result, created_at, updated_at FROM quotations WHERE id = $1`,
	"insert_round":     `INSERT INTO quotation_rounds (id, quotation_id, number, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
	"list_rounds":      `SELECT data FROM quotation_rounds WHERE quotation_id = $1 ORDER BY number ASC`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS quotations (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	query      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS quotation_rounds (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	quotation_id TEXT NOT NULL REFERENCES quotations(id),
	number       INTEGER NOT NULL,
	data         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (quotation_id, number)
);

CREATE INDEX IF NOT EXISTS idx_quotations_status ON quotations(status);
CREATE INDEX IF NOT EXISTS idx_quotations_query ON quotations(query);
CREATE INDEX IF NOT EXISTS idx_quotation_rounds_quotation_id ON quotation_rounds(quotation_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateQuotation(ctx context.Context, query string) (*model.Quotation, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO quotations (id, query, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, query, string(model.QuotationQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert quotation")
	}

	return &model.Quotation{
		ID:        id,
		Query:     query,
		Status:    model.QuotationQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, quotationID string, status model.QuotationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE quotations SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), quotationID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update status %s", quotationID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("quotation not found: %s", quotationID)
	}
	return nil
}

func (s *PostgresStore) SetResult(ctx context.Context, quotationID string, status model.QuotationStatus, result *model.QuoteResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE quotations SET result = $1, status = $2, updated_at = $3 WHERE id = $4`,
		resultJSON, string(status), time.Now().UTC(), quotationID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set result %s", quotationID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("quotation not found: %s", quotationID)
	}
	return nil
}

func (s *PostgresStore) GetQuotation(ctx context.Context, quotationID string) (*model.Quotation, error) {
	var q model.Quotation
	var resultNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, query, status, result, created_at, updated_at FROM quotations WHERE id = $1`,
		quotationID,
	).Scan(&q.ID, &q.Query, &q.Status, &resultNull, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Errorf("quotation not found: %s", quotationID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get quotation %s", quotationID)
	}

	if resultNull != nil {
		q.Result = &model.QuoteResult{}
		if err := json.Unmarshal(*resultNull, q.Result); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
	}
	return &q, nil
}

func (s *PostgresStore) ListQuotations(ctx context.Context, filter QuotationFilter) ([]model.Quotation, error) {
	query := `SELECT id, query, status, result, created_at, updated_at FROM quotations WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Query != "" {
		query += fmt.Sprintf(` AND query = $%d`, argIdx)
		args = append(args, filter.Query)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list quotations")
	}
	defer rows.Close()

	var quotations []model.Quotation
	for rows.Next() {
		var q model.Quotation
		var resultNull *[]byte

		if err := rows.Scan(&q.ID, &q.Query, &q.Status, &resultNull, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan quotation")
		}
		if resultNull != nil {
			q.Result = &model.QuoteResult{}
			if err := json.Unmarshal(*resultNull, q.Result); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal result")
			}
		}
		quotations = append(quotations, q)
	}
	return quotations, eris.Wrap(rows.Err(), "postgres: list quotations iterate")
}

func (s *PostgresStore) AppendRound(ctx context.Context, quotationID string, round model.Round) error {
	data, err := json.Marshal(round)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal round")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO quotation_rounds (id, quotation_id, number, data, created_at) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), quotationID, round.Number, data, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: append round %d for %s", round.Number, quotationID)
}

func (s *PostgresStore) ListRounds(ctx context.Context, quotationID string) ([]model.Round, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT data FROM quotation_rounds WHERE quotation_id = $1 ORDER BY number ASC`,
		quotationID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: list rounds")
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan round")
		}
		var r model.Round
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal round")
		}
		rounds = append(rounds, r)
	}
	return rounds, eris.Wrap(rows.Err(), "postgres: list rounds iterate")
}
