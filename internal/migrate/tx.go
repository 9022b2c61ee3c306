package migrate

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"github.com/jamesruggles/scanmanager/internal/database"
	"github.com/jamesruggles/scanmanager/internal/manage"
)

// Tx is the transaction a step runs in, together with the collaborators a
// step may call.
type Tx struct {
	*sql.Tx

	newUUID  manage.UUIDFunc
	stateDir string
	log      *slog.Logger
	undo     []func() error
}

// onRollback registers fn to run if the step's transaction does not
// commit. Steps use it to reverse effects outside the database.
func (tx *Tx) onRollback(fn func() error) {
	tx.undo = append(tx.undo, fn)
}

// rollback runs the registered undo functions, last first.
func (tx *Tx) rollback() {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		if err := tx.undo[i](); err != nil {
			tx.log.Error("undoing step side effect", "error", err)
		}
	}
	tx.undo = nil
}

func (tx *Tx) exec(ctx context.Context, query string, args ...any) error {
	return database.Exec(ctx, tx.Tx, query, args...)
}

// execCount runs a statement and returns the number of rows it changed.
func (tx *Tx) execCount(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := database.ExecResult(ctx, tx.Tx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (tx *Tx) query(ctx context.Context, query string, args ...any) (*database.Iterator, error) {
	return database.Query(ctx, tx.Tx, query, args...)
}

func (tx *Tx) queryInt(ctx context.Context, query string, args ...any) (int, error) {
	return database.QueryInt(ctx, tx.Tx, query, args...)
}

func (tx *Tx) queryInt64(ctx context.Context, query string, args ...any) (int64, error) {
	return database.QueryInt64(ctx, tx.Tx, query, args...)
}

func (tx *Tx) queryString(ctx context.Context, query string, args ...any) (string, error) {
	return database.QueryString(ctx, tx.Tx, query, args...)
}

// execBuilt runs a statement built with squirrel.
func (tx *Tx) execBuilt(ctx context.Context, b sq.Sqlizer) error {
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("building statement: %w", err)
	}
	return tx.exec(ctx, query, args...)
}

func (tx *Tx) uuid() (string, error) {
	id, err := tx.newUUID()
	if err != nil {
		return "", fmt.Errorf("generating uuid: %w", err)
	}
	return id, nil
}

// execAll runs statements in order, stopping at the first failure.
func (tx *Tx) execAll(ctx context.Context, stmts ...string) error {
	for _, stmt := range stmts {
		if err := tx.exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// moveAside renames table to table_old so a new table can take its name.
func (tx *Tx) moveAside(ctx context.Context, table string) error {
	if err := tx.exec(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s_old`, table, table)); err != nil {
		return fmt.Errorf("moving %s aside: %w", table, err)
	}
	return nil
}

func (tx *Tx) dropOld(ctx context.Context, table string) error {
	if err := tx.exec(ctx, fmt.Sprintf(`DROP TABLE %s_old`, table)); err != nil {
		return fmt.Errorf("dropping old %s: %w", table, err)
	}
	return nil
}

// rebuild recreates table with ddl and copies every row across, keeping row
// ids. columns lists the new table's columns and exprs the values selected
// from the old table for them, in the same order.
func (tx *Tx) rebuild(ctx context.Context, table, ddl, columns, exprs string) error {
	if err := tx.moveAside(ctx, table); err != nil {
		return err
	}
	if err := tx.exec(ctx, ddl); err != nil {
		return fmt.Errorf("creating %s: %w", table, err)
	}
	copyRows := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s_old`, table, columns, exprs, table)
	if err := tx.exec(ctx, copyRows); err != nil {
		return fmt.Errorf("copying %s: %w", table, err)
	}
	return tx.dropOld(ctx, table)
}

// addColumn adds a column to an existing table.
func (tx *Tx) addColumn(ctx context.Context, table, column string) error {
	if err := tx.exec(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, table, column)); err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}

// copyConverted fills table from table_old, one row at a time, passing each
// row through convert first. oldColumns are read from table_old and the
// converted values are written to newColumns, position by position.
func (tx *Tx) copyConverted(ctx context.Context, table string, oldColumns, newColumns []string, convert func(row []any)) error {
	it, err := tx.query(ctx, fmt.Sprintf(`SELECT %s FROM %s_old ORDER BY id`,
		strings.Join(oldColumns, ", "), table))
	if err != nil {
		return fmt.Errorf("reading old %s: %w", table, err)
	}
	defer it.Close()

	insert := sq.Insert(table).Columns(newColumns...)
	for it.Next() {
		row := make([]any, len(oldColumns))
		for i := range row {
			row[i] = it.Value(i)
		}
		convert(row)
		if err := tx.execBuilt(ctx, insert.Values(row...)); err != nil {
			return fmt.Errorf("copying %s row: %w", table, err)
		}
	}
	if err := it.Close(); err != nil {
		return fmt.Errorf("reading old %s: %w", table, err)
	}
	return nil
}

// ids collects the row ids a query returns. The iterator is finished before
// returning, so callers may then write to the same table.
func (tx *Tx) ids(ctx context.Context, query string, args ...any) ([]int64, error) {
	it, err := tx.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for it.Next() {
		ids = append(ids, it.Int64(0))
	}
	return ids, it.Close()
}

// assignUUIDs gives a fresh uuid to every row of table whose uuid is NULL or
// empty.
func (tx *Tx) assignUUIDs(ctx context.Context, table string) error {
	query, args, err := sq.Select("id").From(table).
		Where(sq.Or{sq.Eq{"uuid": nil}, sq.Eq{"uuid": ""}}).
		OrderBy("id").ToSql()
	if err != nil {
		return fmt.Errorf("building statement: %w", err)
	}
	ids, err := tx.ids(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("listing %s without uuid: %w", table, err)
	}
	for _, id := range ids {
		u, err := tx.uuid()
		if err != nil {
			return err
		}
		if err := tx.execBuilt(ctx, sq.Update(table).Set("uuid", u).Where(sq.Eq{"id": id})); err != nil {
			return fmt.Errorf("setting uuid of %s %d: %w", table, id, err)
		}
	}
	return nil
}

// reference is a column holding the row id of a resource.
type reference struct {
	table  string
	column string
}

var configReferences = []reference{
	{"config_preferences", "config"},
	{"tasks", "config"},
}

// repoint rewrites every reference to row from into row to.
func (tx *Tx) repoint(ctx context.Context, refs []reference, from, to int64) error {
	for _, r := range refs {
		b := sq.Update(r.table).Set(r.column, to).Where(sq.Eq{r.column: from})
		if err := tx.execBuilt(ctx, b); err != nil {
			return fmt.Errorf("repointing %s.%s: %w", r.table, r.column, err)
		}
	}
	return nil
}

// relocateConfig moves the config at row id from to a fresh row id past
// every existing config and past floor, carrying its preferences and the
// tasks using it. It returns the new id.
func (tx *Tx) relocateConfig(ctx context.Context, from, floor int64) (int64, error) {
	to, err := tx.queryInt64(ctx, `SELECT max(coalesce(max(id), 0), ?) + 1 FROM configs`, floor)
	if err != nil {
		return 0, fmt.Errorf("choosing config id: %w", err)
	}
	if err := tx.moveConfig(ctx, from, to); err != nil {
		return 0, err
	}
	return to, nil
}

// moveConfig renumbers config from to id to. The target id must be free.
func (tx *Tx) moveConfig(ctx context.Context, from, to int64) error {
	if err := tx.execBuilt(ctx, sq.Update("configs").Set("id", to).Where(sq.Eq{"id": from})); err != nil {
		return fmt.Errorf("moving config %d to %d: %w", from, to, err)
	}
	return tx.repoint(ctx, configReferences, from, to)
}
