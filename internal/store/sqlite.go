package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/quote-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the default
// backend for CLI use where no Postgres is available.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS quotations (
	id         TEXT PRIMARY KEY,
	query      TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	result     TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS quotation_rounds (
	id           TEXT PRIMARY KEY,
	quotation_id TEXT NOT NULL REFERENCES quotations(id),
	number       INTEGER NOT NULL,
	data         TEXT NOT NULL,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (quotation_id, number)
);

CREATE INDEX IF NOT EXISTS idx_quotations_status ON quotations(status);
CREATE INDEX IF NOT EXISTS idx_quotations_query ON quotations(query);
CREATE INDEX IF NOT EXISTS idx_quotation_rounds_quotation_id ON quotation_rounds(quotation_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateQuotation(ctx context.Context, query string) (*model.Quotation, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quotations (id, query, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		id, query, string(model.QuotationQueued), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert quotation")
	}

	return &model.Quotation{
		ID:        id,
		Query:     query,
		Status:    model.QuotationQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, quotationID string, status model.QuotationStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE quotations SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), quotationID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update status %s", quotationID)
	}
	return checkRowsAffected(res, "quotation", quotationID)
}

func (s *SQLiteStore) SetResult(ctx context.Context, quotationID string, status model.QuotationStatus, result *model.QuoteResult) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE quotations SET result = ?, status = ?, updated_at = ? WHERE id = ?`,
		string(resultJSON), string(status), time.Now().UTC(), quotationID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set result %s", quotationID)
	}
	return checkRowsAffected(res, "quotation", quotationID)
}

func (s *SQLiteStore) GetQuotation(ctx context.Context, quotationID string) (*model.Quotation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, query, status, result, created_at, updated_at FROM quotations WHERE id = ?`,
		quotationID,
	)
	return scanQuotation(row)
}

func (s *SQLiteStore) ListQuotations(ctx context.Context, filter QuotationFilter) ([]model.Quotation, error) {
	query := `SELECT id, query, status, result, created_at, updated_at FROM quotations WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Query != "" {
		query += ` AND query = ?`
		args = append(args, filter.Query)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list quotations")
	}
	defer rows.Close()

	var quotations []model.Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, err
		}
		quotations = append(quotations, *q)
	}
	return quotations, eris.Wrap(rows.Err(), "sqlite: list quotations iterate")
}

func (s *SQLiteStore) AppendRound(ctx context.Context, quotationID string, round model.Round) error {
	data, err := json.Marshal(round)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal round")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quotation_rounds (id, quotation_id, number, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), quotationID, round.Number, string(data), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: append round %d for %s", round.Number, quotationID)
}

func (s *SQLiteStore) ListRounds(ctx context.Context, quotationID string) ([]model.Round, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM quotation_rounds WHERE quotation_id = ? ORDER BY number ASC`,
		quotationID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list rounds")
	}
	defer rows.Close()

	var rounds []model.Round
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan round")
		}
		var r model.Round
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal round")
		}
		rounds = append(rounds, r)
	}
	return rounds, eris.Wrap(rows.Err(), "sqlite: list rounds iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanQuotation(row scannable) (*model.Quotation, error) {
	var q model.Quotation
	var resultJSON sql.NullString

	err := row.Scan(&q.ID, &q.Query, &q.Status, &resultJSON, &q.CreatedAt, &q.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.New("quotation not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan quotation")
	}

	if resultJSON.Valid {
		q.Result = &model.QuoteResult{}
		if err := json.Unmarshal([]byte(resultJSON.String), q.Result); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
	}
	return &q, nil
}
