package postgres

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/errors"
)

var dialect = goqu.Dialect("postgres")

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

type txKey struct{}

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	db *sqlx.DB
}

// NewBaseRepository creates a new base repository
func NewBaseRepository(db *sqlx.DB) BaseRepository {
	return BaseRepository{db: db}
}

// GetDB returns the database instance
func (r *BaseRepository) GetDB() *sqlx.DB {
	return r.db
}

// q returns the transaction carried by ctx, or the pool.
func (r *BaseRepository) q(ctx context.Context) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return r.db
}

// WithTx executes a function within a transaction
func (r *BaseRepository) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return classify("transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("transaction", err)
	}
	return nil
}

type transactor struct {
	BaseRepository
}

func NewTransactor(db *sqlx.DB) repository.Transactor {
	return &transactor{NewBaseRepository(db)}
}

func (t *transactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	return t.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// Postgres error codes that mean a concurrent writer won.
var conflictCodes = map[pq.ErrorCode]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
	"23505": {}, // unique_violation
	"23P01": {}, // exclusion_violation
}

// classify maps driver errors onto the application taxonomy.
func classify(resource string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := errors.As(err); ok {
		return err
	}
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.NotFound(resource, err)
	}
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		if _, ok := conflictCodes[pqErr.Code]; ok {
			return errors.Conflict(resource, err)
		}
	}
	return errors.Dependency("database", err)
}

// expectOne turns a zero-row compare-and-set into a Conflict.
func expectOne(resource string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(resource, err)
	}
	if n == 0 {
		return errors.Conflict(resource, fmt.Errorf("no rows updated"))
	}
	return nil
}

// expectFound turns a zero-row update or delete into NotFound.
func expectFound(resource string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(resource, err)
	}
	if n == 0 {
		return errors.NotFound(resource, nil)
	}
	return nil
}

// listQuery runs a goqu dataset twice: once for the page and once for the total.
func (r *BaseRepository) listQuery(ctx context.Context, resource string, dest interface{}, ds *goqu.SelectDataset, columns interface{}, order []exp.OrderedExpression, limit, offset int) (int, error) {
	countSQL, countArgs, err := ds.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build count query: %w", err)
	}
	var total int
	if err := r.q(ctx).GetContext(ctx, &total, countSQL, countArgs...); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", resource, classify(resource, err))
	}

	pageDS := ds.Select(columns).Limit(uint(limit)).Offset(uint(offset))
	for _, o := range order {
		pageDS = pageDS.OrderAppend(o)
	}
	query, args, err := pageDS.ToSQL()
	if err != nil {
		return 0, fmt.Errorf("failed to build list query: %w", err)
	}
	if err := r.q(ctx).SelectContext(ctx, dest, query, args...); err != nil {
		return 0, fmt.Errorf("failed to list %s: %w", resource, classify(resource, err))
	}
	return total, nil
}

// from starts a prepared goqu dataset for table.
func from(table string) *goqu.SelectDataset {
	return dialect.From(table).Prepared(true)
}

// inRange restricts col to the half-open window of tr.
func inRange(ds *goqu.SelectDataset, col string, tr model.TimeRange) *goqu.SelectDataset {
	if tr.From != nil {
		ds = ds.Where(goqu.C(col).Gte(*tr.From))
	}
	if tr.To != nil {
		ds = ds.Where(goqu.C(col).Lt(*tr.To))
	}
	return ds
}
