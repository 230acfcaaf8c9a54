// Package postgres implements driver.Driver on pgx. The applied-revision
// pointer lives in the single-row schema_revision table; the applied log,
// with script checksums, in schema_revision_log. Both are created lazily
// the first time a driver is constructed against a database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/receiptvault/schemactl/driver"
	"github.com/receiptvault/schemactl/revision"
)

// DB is the subset of pgxpool.Pool the driver needs.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Driver struct {
	db  DB
	log *slog.Logger
}

type Option func(*Driver)

func WithLogger(log *slog.Logger) Option {
	return func(d *Driver) {
		d.log = log
	}
}

func New(ctx context.Context, db DB, options ...Option) (*Driver, error) {
	d := &Driver{db: db, log: slog.Default()}
	for _, option := range options {
		option(d)
	}
	bookkeepingExists, existsErr := d.bookkeepingTablesExist(ctx)
	if existsErr != nil {
		return nil, fmt.Errorf("get bookkeeping table existence failed: %w", existsErr)
	}
	if bookkeepingExists {
		return d, nil
	}
	if err := d.createBookkeepingTables(ctx); err != nil {
		return nil, fmt.Errorf("create bookkeeping tables failed: %w", err)
	}
	return d, nil
}

// Current reads the applied-revision pointer. An absent row is the valid
// "no revisions applied" start state.
func (d *Driver) Current(ctx context.Context) (string, error) {
	var current string
	query := `SELECT revision_id FROM schema_revision`
	if err := pgxscan.Get(ctx, d.db, &current, query); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return revision.Root, nil
		}
		return "", fmt.Errorf("read applied-revision pointer failed: %w", err)
	}
	return current, nil
}

// Apply executes one migration step. Script, pointer update and log
// update commit atomically; any failure rolls the whole step back and
// leaves the pointer untouched.
func (d *Driver) Apply(ctx context.Context, step revision.Step) error {
	tx, beginErr := d.db.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("begin migration step failed: %w", beginErr)
	}
	if err := d.applyInTx(ctx, tx, step); err != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			return errors.Join(
				fmt.Errorf("rollback migration step failed: %w", rollbackErr),
				err,
			)
		}
		return err
	}
	if commitErr := tx.Commit(ctx); commitErr != nil {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
			return errors.Join(
				fmt.Errorf("rollback while commit migration step failed: %w", rollbackErr),
				fmt.Errorf("commit migration step failed: %w", commitErr),
			)
		}
		return fmt.Errorf("commit migration step failed: %w", commitErr)
	}
	d.log.Info("applied migration step",
		"revision", step.Revision.ID, "direction", step.Direction.String())
	return nil
}

func (d *Driver) applyInTx(ctx context.Context, tx pgx.Tx, step revision.Step) error {
	if _, execErr := tx.Exec(ctx, step.SQL()); execErr != nil {
		return fmt.Errorf("run migration script failed: %w", execErr)
	}
	if step.Direction == revision.Up {
		if err := d.movePointer(ctx, tx, step.Revision.ID); err != nil {
			return err
		}
		return d.insertLogEntry(ctx, tx, step.Revision)
	}
	if err := d.movePointer(ctx, tx, step.Revision.ParentID); err != nil {
		return err
	}
	return d.deleteLogEntry(ctx, tx, step.Revision.ID)
}

func (d *Driver) movePointer(ctx context.Context, tx pgx.Tx, revisionID string) error {
	if revisionID == revision.Root {
		if _, err := tx.Exec(ctx, `DELETE FROM schema_revision`); err != nil {
			return fmt.Errorf("clear applied-revision pointer failed: %w", err)
		}
		return nil
	}
	query := `INSERT INTO schema_revision (onerow, revision_id) VALUES (TRUE, $1)
ON CONFLICT (onerow) DO UPDATE SET revision_id = EXCLUDED.revision_id, updated_at = CURRENT_TIMESTAMP`
	if _, err := tx.Exec(ctx, query, revisionID); err != nil {
		return fmt.Errorf("move applied-revision pointer failed: %w", err)
	}
	return nil
}

func (d *Driver) insertLogEntry(ctx context.Context, tx pgx.Tx, rev revision.Revision) error {
	sql, args, createSqlErr := squirrel.Insert("schema_revision_log").
		Columns("revision_id", "checksum").
		Values(rev.ID, rev.Checksum).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if createSqlErr != nil {
		return fmt.Errorf("create log insert sql failed: %w", createSqlErr)
	}
	if _, execErr := tx.Exec(ctx, sql, args...); execErr != nil {
		return fmt.Errorf("insert log entry failed: %w", execErr)
	}
	return nil
}

func (d *Driver) deleteLogEntry(ctx context.Context, tx pgx.Tx, revisionID string) error {
	sql, args, createSqlErr := squirrel.Delete("schema_revision_log").
		Where(squirrel.Eq{"revision_id": revisionID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if createSqlErr != nil {
		return fmt.Errorf("create log delete sql failed: %w", createSqlErr)
	}
	if _, execErr := tx.Exec(ctx, sql, args...); execErr != nil {
		return fmt.Errorf("delete log entry failed: %w", execErr)
	}
	return nil
}

// Log lists the applied log in application order.
func (d *Driver) Log(ctx context.Context) ([]driver.Entry, error) {
	sql, args, createSqlErr := squirrel.Select("revision_id", "checksum", "applied_at").
		From("schema_revision_log").
		OrderBy("applied_at", "revision_id").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if createSqlErr != nil {
		return nil, fmt.Errorf("create log select sql failed: %w", createSqlErr)
	}
	rows, queryErr := d.db.Query(ctx, sql, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("query applied log failed: %w", queryErr)
	}
	defer rows.Close()
	var entries []driver.Entry
	if scanErr := pgxscan.ScanAll(&entries, rows); scanErr != nil {
		return nil, fmt.Errorf("scan applied log failed: %w", scanErr)
	}
	return entries, nil
}

func (d *Driver) bookkeepingTablesExist(ctx context.Context) (bool, error) {
	query := `SELECT EXISTS (
    SELECT FROM
        pg_tables
    WHERE
        schemaname = 'public' AND
        tablename  = 'schema_revision'
    );`
	var exists bool
	if err := pgxscan.Get(ctx, d.db, &exists, query); err != nil {
		return false, fmt.Errorf("check schema_revision table existence failed: %w", err)
	}
	return exists, nil
}

func (d *Driver) createBookkeepingTables(ctx context.Context) error {
	query := `CREATE TABLE IF NOT EXISTS schema_revision (
	onerow BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (onerow),
	revision_id TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE TABLE IF NOT EXISTS schema_revision_log (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	revision_id TEXT NOT NULL UNIQUE,
	checksum TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_schema_revision_log_applied_at ON schema_revision_log (applied_at);`
	if _, err := d.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("create bookkeeping tables failed: %w", err)
	}
	return nil
}
