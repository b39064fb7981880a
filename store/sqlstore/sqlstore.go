/*
Package sqlstore implements gateway.Gateway on top of database/sql.

PURPOSE:
  One SQL rendition of the table gateway shared by the SQLite and Postgres
  stores. The SQL is written with '?' placeholders and rebound by sqlx for
  the driver in use, so both dialects run the same statements.

STATEMENTS:
  Select  SELECT * FROM t WHERE ... ORDER BY ... LIMIT n
  Insert  INSERT INTO t (cols) VALUES (...)
  Update  UPDATE t SET ... WHERE ...
  Upsert  INSERT ... ON CONFLICT (id) DO UPDATE SET col = excluded.col
  Count   SELECT COUNT(*) FROM t WHERE ...

  Table and column names are checked against gateway.Schema before they
  are spliced into SQL. Values always travel as bind parameters.

DIALECT:
  The only per-driver knowledge needed here is how to recognise a unique
  constraint failure. Each driver package supplies a Dialect.

SEE ALSO:
  - store/sqlite: SQLite driver, schema and Dialect
  - store/postgres: Postgres driver, schema and Dialect
  - gateway/gateway.go: Contract
*/
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/warp/dorm-engine/gateway"
)

// Dialect carries driver-specific behaviour.
type Dialect struct {
	Name string

	// IsUniqueViolation recognises a unique constraint failure.
	IsUniqueViolation func(error) bool
}

// Store is a gateway.TxGateway over a sqlx database.
type Store struct {
	db      *sqlx.DB
	dialect Dialect
}

// New wraps an open database.
func New(db *sqlx.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying handle (for migrations and health checks).
func (s *Store) DB() *sqlx.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Select(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	return (&runner{ext: s.db, dialect: s.dialect}).Select(ctx, table, q)
}

func (s *Store) Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error) {
	return (&runner{ext: s.db, dialect: s.dialect}).Insert(ctx, table, row)
}

// InsertMany runs every insert in one transaction.
func (s *Store) InsertMany(ctx context.Context, table string, rows []gateway.Row) ([]gateway.Row, error) {
	var out []gateway.Row
	err := s.WithTx(ctx, func(gw gateway.Gateway) error {
		var err error
		out, err = gw.InsertMany(ctx, table, rows)
		return err
	})
	return out, err
}

func (s *Store) Update(ctx context.Context, table string, patch gateway.Row, filters ...gateway.Filter) (int64, error) {
	return (&runner{ext: s.db, dialect: s.dialect}).Update(ctx, table, patch, filters...)
}

func (s *Store) Upsert(ctx context.Context, table string, row gateway.Row) error {
	return (&runner{ext: s.db, dialect: s.dialect}).Upsert(ctx, table, row)
}

func (s *Store) Count(ctx context.Context, table string, filters ...gateway.Filter) (int, error) {
	return (&runner{ext: s.db, dialect: s.dialect}).Count(ctx, table, filters...)
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(gateway.Gateway) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&runner{ext: tx, dialect: s.dialect, inTx: true}); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// STATEMENT RUNNER - Shared by the pool and by open transactions
// =============================================================================

type runner struct {
	ext     sqlx.ExtContext
	dialect Dialect
	inTx    bool
}

func (r *runner) Select(ctx context.Context, table string, q gateway.Query) ([]gateway.Row, error) {
	schema, err := gateway.Lookup(table)
	if err != nil {
		return nil, err
	}
	where, args, err := buildWhere(schema, q.Filters)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s%s", strings.Join(schema.Columns, ", "), table, where)
	if len(q.OrderBy) > 0 {
		parts := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			if !schema.HasColumn(o.Column) {
				return nil, fmt.Errorf("%w: %s.%s", gateway.ErrUnknownColumn, table, o.Column)
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			parts[i] = o.Column + " " + dir
		}
		b.WriteString(" ORDER BY " + strings.Join(parts, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}

	query, args, err := r.expand(b.String(), args)
	if err != nil {
		return nil, err
	}
	rows, err := r.ext.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []gateway.Row
	for rows.Next() {
		m := make(map[string]any, len(schema.Columns))
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		row := make(gateway.Row, len(m))
		for k, v := range m {
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[k] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *runner) Insert(ctx context.Context, table string, row gateway.Row) (gateway.Row, error) {
	schema, err := gateway.Lookup(table)
	if err != nil {
		return nil, err
	}
	stored := normalize(row)
	if stored.ID() == "" {
		stored["id"] = uuid.New().String()
	}
	cols, vals, err := columns(schema, stored)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := r.ext.ExecContext(ctx, r.ext.Rebind(query), vals...); err != nil {
		return nil, r.mapErr(table, err)
	}
	return stored, nil
}

func (r *runner) InsertMany(ctx context.Context, table string, rows []gateway.Row) ([]gateway.Row, error) {
	out := make([]gateway.Row, 0, len(rows))
	for _, row := range rows {
		stored, err := r.Insert(ctx, table, row)
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (r *runner) Update(ctx context.Context, table string, patch gateway.Row, filters ...gateway.Filter) (int64, error) {
	schema, err := gateway.Lookup(table)
	if err != nil {
		return 0, err
	}
	p := normalize(patch)
	delete(p, "id")
	if len(p) == 0 {
		return 0, nil
	}
	cols, vals, err := columns(schema, p)
	if err != nil {
		return 0, err
	}
	sets := make([]string, len(cols))
	setArgs := make([]any, 0, len(cols))
	for i, c := range cols {
		if vals[i] == nil {
			sets[i] = c + " = NULL"
			continue
		}
		sets[i] = c + " = ?"
		setArgs = append(setArgs, vals[i])
	}
	where, args, err := buildWhere(schema, filters)
	if err != nil {
		return 0, err
	}

	query, args, err := r.expand(
		fmt.Sprintf("UPDATE %s SET %s%s", table, strings.Join(sets, ", "), where),
		append(setArgs, args...))
	if err != nil {
		return 0, err
	}
	res, err := r.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, r.mapErr(table, err)
	}
	return res.RowsAffected()
}

func (r *runner) Upsert(ctx context.Context, table string, row gateway.Row) error {
	schema, err := gateway.Lookup(table)
	if err != nil {
		return err
	}
	stored := normalize(row)
	if stored.ID() == "" {
		stored["id"] = uuid.New().String()
	}
	cols, vals, err := columns(schema, stored)
	if err != nil {
		return err
	}
	var sets []string
	for _, c := range cols {
		if c != "id" {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
		}
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders(len(cols)))
	if len(sets) == 0 {
		query += " ON CONFLICT (id) DO NOTHING"
	} else {
		query += " ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", ")
	}
	if _, err := r.ext.ExecContext(ctx, r.ext.Rebind(query), vals...); err != nil {
		return r.mapErr(table, err)
	}
	return nil
}

func (r *runner) Count(ctx context.Context, table string, filters ...gateway.Filter) (int, error) {
	schema, err := gateway.Lookup(table)
	if err != nil {
		return 0, err
	}
	where, args, err := buildWhere(schema, filters)
	if err != nil {
		return 0, err
	}
	query, args, err := r.expand("SELECT COUNT(*) FROM "+table+where, args)
	if err != nil {
		return 0, err
	}
	var n int
	if err := r.ext.QueryRowxContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// WithTx inside a transaction joins it.
func (r *runner) WithTx(ctx context.Context, fn func(gateway.Gateway) error) error {
	if r.inTx {
		return fn(r)
	}
	db, ok := r.ext.(*sqlx.DB)
	if !ok {
		return fn(r)
	}
	return (&Store{db: db, dialect: r.dialect}).WithTx(ctx, fn)
}

// expand rewrites IN (?) placeholders for slice arguments and rebinds for
// the driver.
func (r *runner) expand(query string, args []any) (string, []any, error) {
	if !hasSlice(args) {
		return r.ext.Rebind(query), args, nil
	}
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, fmt.Errorf("expand query: %w", err)
	}
	return r.ext.Rebind(query), args, nil
}

func (r *runner) mapErr(table string, err error) error {
	if r.dialect.IsUniqueViolation != nil && r.dialect.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", &gateway.UniqueViolationError{Table: table, Index: indexName(err)}, err)
	}
	if err == sql.ErrNoRows {
		return err
	}
	return fmt.Errorf("%s: %w", table, err)
}

// =============================================================================
// SQL BUILDING HELPERS
// =============================================================================

func buildWhere(schema gateway.TableSchema, filters []gateway.Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filters))
	var args []any
	for _, f := range filters {
		if !schema.HasColumn(f.Column) {
			return "", nil, fmt.Errorf("%w: %s.%s", gateway.ErrUnknownColumn, schema.Name, f.Column)
		}
		switch f.Op {
		case gateway.OpEq:
			clauses = append(clauses, f.Column+" = ?")
			args = append(args, gateway.Normalize(f.Value))
		case gateway.OpNeq:
			clauses = append(clauses, f.Column+" <> ?")
			args = append(args, gateway.Normalize(f.Value))
		case gateway.OpLt:
			clauses = append(clauses, f.Column+" < ?")
			args = append(args, gateway.Normalize(f.Value))
		case gateway.OpGt:
			clauses = append(clauses, f.Column+" > ?")
			args = append(args, gateway.Normalize(f.Value))
		case gateway.OpIsNull:
			clauses = append(clauses, f.Column+" IS NULL")
		case gateway.OpNotNull:
			clauses = append(clauses, f.Column+" IS NOT NULL")
		case gateway.OpIn:
			values, _ := f.Value.([]any)
			if len(values) == 0 {
				clauses = append(clauses, "1 = 0")
				continue
			}
			norm := make([]any, len(values))
			for i, v := range values {
				norm[i] = gateway.Normalize(v)
			}
			clauses = append(clauses, f.Column+" IN (?)")
			args = append(args, norm)
		default:
			return "", nil, fmt.Errorf("unsupported filter op %q", f.Op)
		}
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func columns(schema gateway.TableSchema, row gateway.Row) ([]string, []any, error) {
	cols := make([]string, 0, len(row))
	for c := range row {
		if !schema.HasColumn(c) {
			return nil, nil, fmt.Errorf("%w: %s.%s", gateway.ErrUnknownColumn, schema.Name, c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	vals := make([]any, len(cols))
	for i, c := range cols {
		vals[i] = row[c]
	}
	return cols, vals, nil
}

func normalize(row gateway.Row) gateway.Row {
	out := make(gateway.Row, len(row))
	for k, v := range row {
		out[k] = gateway.Normalize(v)
	}
	return out
}

// sqlx.In cannot reflect over nil arguments, so it only runs when an IN
// list is present (IN values are never nil).
func hasSlice(args []any) bool {
	for _, a := range args {
		if _, ok := a.([]any); ok {
			return true
		}
	}
	return false
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func indexName(err error) string {
	msg := err.Error()
	for name := range knownIndexes() {
		if strings.Contains(msg, name) {
			return name
		}
	}
	return "unique"
}

func knownIndexes() map[string]struct{} {
	out := make(map[string]struct{})
	for _, t := range gateway.Schema {
		for _, idx := range t.Unique {
			out[idx.Name] = struct{}{}
		}
	}
	return out
}

var _ gateway.TxGateway = (*Store)(nil)
