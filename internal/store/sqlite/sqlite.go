package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/calder-ai/modelgate/internal/store"
	"github.com/calder-ai/modelgate/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Downloads() store.DownloadRepository {
	return &downloadRepo{db: r.executor}
}

func (r *SqliteRepository) Stats() store.StatsRepository {
	return &statsRepo{db: r.executor}
}

type downloadRepo struct {
	db DB
}

func (r *downloadRepo) Get(ctx context.Context, modelID, quantization string) (*model.Download, error) {
	var d model.Download
	query := `SELECT * FROM downloads WHERE model = ? AND quantization = ?`
	err := r.db.GetContext(ctx, &d, query, modelID, quantization)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *downloadRepo) Put(ctx context.Context, d *model.Download) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	query := `
	INSERT INTO downloads (id, model, quantization, path, size_bytes, sha256, created_at)
	VALUES (:id, :model, :quantization, :path, :size_bytes, :sha256, :created_at)
	ON CONFLICT (model, quantization) DO UPDATE SET
		path = excluded.path,
		size_bytes = excluded.size_bytes,
		sha256 = excluded.sha256`
	_, err := r.db.NamedExecContext(ctx, query, d)
	return err
}

func (r *downloadRepo) List(ctx context.Context) ([]model.Download, error) {
	var out []model.Download
	err := r.db.SelectContext(ctx, &out, `SELECT * FROM downloads ORDER BY model, quantization`)
	return out, err
}

func (r *downloadRepo) Delete(ctx context.Context, modelID, quantization string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM downloads WHERE model = ? AND quantization = ?`, modelID, quantization)
	return err
}

type statsRepo struct {
	db DB
}

func (r *statsRepo) Insert(ctx context.Context, events []model.StatEvent) error {
	if len(events) == 0 {
		return nil
	}
	query := `
	INSERT INTO stat_events (id, ts, backend, model, operation, latency_ms, tokens, error_type)
	VALUES (:id, :ts, :backend, :model, :operation, :latency_ms, :tokens, :error_type)`
	for i := range events {
		if _, err := r.db.NamedExecContext(ctx, query, &events[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *statsRepo) Summary(ctx context.Context, since time.Time) (*model.StatsSummary, error) {
	var s model.StatsSummary
	query := `
	SELECT
		COUNT(*) AS operations,
		COALESCE(SUM(CASE WHEN error_type != '' THEN 1 ELSE 0 END), 0) AS errors,
		COALESCE(SUM(tokens), 0) AS total_tokens,
		COALESCE(AVG(latency_ms), 0) AS avg_latency_ms
	FROM stat_events
	WHERE ts >= ?`
	if err := r.db.GetContext(ctx, &s, query, since); err != nil {
		return nil, err
	}
	return &s, nil
}
