package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"jotlog/api/internal/engine"
	"jotlog/api/internal/schema"
	"jotlog/api/internal/util"
)

// PostgresClient is the production engine.RawClient: a generic executor
// that translates invocations into SQL using the schema registry. It is
// unscoped on purpose; every policy lives in the engine above it.
type PostgresClient struct {
	db  *sql.DB
	reg *schema.Registry
	now func() time.Time
}

// NewPostgresClient returns a raw client over an open database handle.
func NewPostgresClient(db *sql.DB, reg *schema.Registry) *PostgresClient {
	return &PostgresClient{db: db, reg: reg, now: time.Now}
}

// DB exposes the underlying handle for migrations and health checks.
func (c *PostgresClient) DB() *sql.DB {
	return c.db
}

type pgTxKey struct{}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (c *PostgresClient) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(pgTxKey{}).(*sql.Tx); ok {
		return tx
	}
	return c.db
}

// InTx runs fn inside one transaction; invocations issued with fn's context
// join it. Nested calls reuse the outer transaction.
func (c *PostgresClient) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(pgTxKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(context.WithValue(ctx, pgTxKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Do executes one invocation literally.
func (c *PostgresClient) Do(ctx context.Context, inv engine.Invocation) (engine.Result, error) {
	m, err := c.reg.Model(inv.Model)
	if err != nil {
		return engine.Result{}, err
	}
	switch inv.Op {
	case engine.OpFind, engine.OpFindMany:
		limit := inv.Args.Limit
		if inv.Op == engine.OpFind {
			limit = 1
		}
		rows, err := c.sel(ctx, m, inv.Args, limit)
		if err != nil {
			return engine.Result{}, err
		}
		return engine.Result{Rows: rows, Count: int64(len(rows))}, nil
	case engine.OpCount:
		return c.count(ctx, m, inv.Args.Where)
	case engine.OpGroupBy:
		return c.groupBy(ctx, m, inv.Args)
	case engine.OpCreate:
		data, ok := inv.Args.Data.(*engine.Create)
		if !ok {
			return engine.Result{}, fmt.Errorf("store: create on %q wants *engine.Create, got %T", m.Name, inv.Args.Data)
		}
		var row engine.Row
		err := c.InTx(ctx, func(txCtx context.Context) error {
			var insErr error
			row, insErr = c.insertTree(txCtx, m, data)
			return insErr
		})
		if err != nil {
			return engine.Result{}, err
		}
		return engine.Result{Rows: []engine.Row{row}, Count: 1}, nil
	case engine.OpCreateMany:
		data, ok := inv.Args.Data.(*engine.CreateMany)
		if !ok {
			return engine.Result{}, fmt.Errorf("store: createMany on %q wants *engine.CreateMany, got %T", m.Name, inv.Args.Data)
		}
		err := c.InTx(ctx, func(txCtx context.Context) error {
			for _, row := range data.Rows {
				if _, err := c.insertTree(txCtx, m, row); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return engine.Result{}, err
		}
		return engine.Result{Count: int64(len(data.Rows))}, nil
	case engine.OpUpdate, engine.OpUpdateMany:
		data, ok := inv.Args.Data.(*engine.Update)
		if !ok {
			return engine.Result{}, fmt.Errorf("store: update on %q wants *engine.Update, got %T", m.Name, inv.Args.Data)
		}
		var res engine.Result
		err := c.InTx(ctx, func(txCtx context.Context) error {
			var upErr error
			res, upErr = c.update(txCtx, m, inv.Args.Where, data)
			return upErr
		})
		return res, err
	case engine.OpDelete, engine.OpDeleteMany:
		return c.delete(ctx, m, inv.Args.Where)
	default:
		return engine.Result{}, fmt.Errorf("store: unknown operation %q", inv.Op)
	}
}

func (c *PostgresClient) sel(ctx context.Context, m *schema.Model, args engine.Args, limit int) ([]engine.Row, error) {
	cols := scalarColumns(m)
	where, vals, err := whereSQL(m, args.Where, 1)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s", strings.Join(cols, ", "), m.Name, where)
	if args.OrderBy != "" {
		if !m.HasScalar(args.OrderBy) {
			return nil, fmt.Errorf("store: model %q has no column %q", m.Name, args.OrderBy)
		}
		query += " ORDER BY " + args.OrderBy
		if args.Desc {
			query += " DESC"
		}
	} else if m.HasScalar("created_at") {
		query += " ORDER BY created_at, id"
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if args.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", args.Offset)
	}

	rows, err := c.q(ctx).QueryContext(ctx, query, vals...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", m.Name, err)
	}
	defer rows.Close()
	out, err := scanRows(rows, cols)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", m.Name, err)
	}
	if err := c.attachIncludes(ctx, m, out, args.Include); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *PostgresClient) attachIncludes(ctx context.Context, m *schema.Model, parents []engine.Row, includes []engine.Include) error {
	if len(parents) == 0 {
		return nil
	}
	for _, inc := range includes {
		rel, ok := m.Relations[inc.Relation]
		if !ok {
			return fmt.Errorf("store: model %q has no relation %q", m.Name, inc.Relation)
		}
		target, err := c.reg.Model(rel.Target)
		if err != nil {
			return err
		}
		if rel.ForeignKey != "" {
			if err := c.attachParents(ctx, target, parents, rel.ForeignKey, inc); err != nil {
				return err
			}
			continue
		}
		fk, ok := target.ForeignKeyTo(m.Name)
		if !ok {
			return fmt.Errorf("store: model %q has no link back to %q", target.Name, m.Name)
		}
		ids := make([]any, 0, len(parents))
		for _, p := range parents {
			ids = append(ids, p.ID())
		}
		where := inc.Where.Clone()
		where[fk] = ids
		children, err := c.sel(ctx, target, engine.Args{Where: where}, 0)
		if err != nil {
			return err
		}
		byParent := map[string][]engine.Row{}
		for _, child := range children {
			key, _ := child[fk].(string)
			byParent[key] = append(byParent[key], child)
		}
		for _, p := range parents {
			attached := byParent[p.ID()]
			if attached == nil {
				attached = []engine.Row{}
			}
			p[inc.Relation] = attached
		}
	}
	return nil
}

func (c *PostgresClient) attachParents(ctx context.Context, target *schema.Model, rows []engine.Row, fkCol string, inc engine.Include) error {
	ids := make([]any, 0, len(rows))
	for _, row := range rows {
		if id, ok := row[fkCol].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		for _, row := range rows {
			row[inc.Relation] = nil
		}
		return nil
	}
	where := inc.Where.Clone()
	where["id"] = ids
	hits, err := c.sel(ctx, target, engine.Args{Where: where}, 0)
	if err != nil {
		return err
	}
	byID := map[string]engine.Row{}
	for _, hit := range hits {
		byID[hit.ID()] = hit
	}
	for _, row := range rows {
		if id, ok := row[fkCol].(string); ok {
			if hit, found := byID[id]; found {
				row[inc.Relation] = hit
				continue
			}
		}
		row[inc.Relation] = nil
	}
	return nil
}

func (c *PostgresClient) count(ctx context.Context, m *schema.Model, where engine.Filter) (engine.Result, error) {
	cond, vals, err := whereSQL(m, where, 1)
	if err != nil {
		return engine.Result{}, err
	}
	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", m.Name, cond)
	if err := c.q(ctx).QueryRowContext(ctx, query, vals...).Scan(&n); err != nil {
		return engine.Result{}, fmt.Errorf("count %s: %w", m.Name, err)
	}
	return engine.Result{Count: n}, nil
}

func (c *PostgresClient) groupBy(ctx context.Context, m *schema.Model, args engine.Args) (engine.Result, error) {
	for _, col := range args.By {
		if !m.HasScalar(col) {
			return engine.Result{}, fmt.Errorf("store: model %q has no column %q", m.Name, col)
		}
	}
	cond, vals, err := whereSQL(m, args.Where, 1)
	if err != nil {
		return engine.Result{}, err
	}
	byList := strings.Join(args.By, ", ")
	query := fmt.Sprintf("SELECT %s, COUNT(*) AS count FROM %s%s GROUP BY %s", byList, m.Name, cond, byList)
	rows, err := c.q(ctx).QueryContext(ctx, query, vals...)
	if err != nil {
		return engine.Result{}, fmt.Errorf("group %s: %w", m.Name, err)
	}
	defer rows.Close()
	out, err := scanRows(rows, append(append([]string{}, args.By...), "count"))
	if err != nil {
		return engine.Result{}, fmt.Errorf("scan %s groups: %w", m.Name, err)
	}
	return engine.Result{Rows: out, Count: int64(len(out))}, nil
}

func (c *PostgresClient) insertTree(ctx context.Context, m *schema.Model, node *engine.Create) (engine.Row, error) {
	row := engine.Row{}
	for col, val := range node.Fields {
		if !m.HasScalar(col) {
			return nil, fmt.Errorf("store: model %q has no column %q", m.Name, col)
		}
		row[col] = val
	}

	childWrites := map[string]engine.Mutation{}
	for field, sub := range node.Nested {
		rel, ok := m.Relations[field]
		if !ok {
			return nil, fmt.Errorf("store: model %q has no relation %q", m.Name, field)
		}
		if rel.ForeignKey == "" {
			childWrites[field] = sub
			continue
		}
		target, err := c.reg.Model(rel.Target)
		if err != nil {
			return nil, err
		}
		switch ref := sub.(type) {
		case *engine.Connect:
			id, err := c.resolveConnect(ctx, target, ref.Where)
			if err != nil {
				return nil, fmt.Errorf("connect %s.%s: %w", m.Name, field, err)
			}
			row[rel.ForeignKey] = id
		case *engine.Create:
			parent, err := c.insertTree(ctx, target, ref)
			if err != nil {
				return nil, err
			}
			row[rel.ForeignKey] = parent.ID()
		default:
			return nil, fmt.Errorf("store: unsupported nested %T on %q.%s", sub, m.Name, field)
		}
	}

	if row.ID() == "" {
		row["id"] = util.NewID(m.IDPrefix)
	}
	now := c.now().UTC()
	if m.HasScalar("created_at") && row["created_at"] == nil {
		row["created_at"] = now
	}
	if m.HasScalar("updated_at") && row["updated_at"] == nil {
		row["updated_at"] = now
	}

	cols := make([]string, 0, len(row))
	for col := range row {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	placeholders := make([]string, 0, len(cols))
	vals := make([]any, 0, len(cols))
	for i, col := range cols {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		vals = append(vals, encodeValue(m, col, row[col]))
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", m.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := c.q(ctx).ExecContext(ctx, query, vals...); err != nil {
		return nil, fmt.Errorf("insert %s: %w", m.Name, err)
	}

	for field, sub := range childWrites {
		rel := m.Relations[field]
		target, err := c.reg.Model(rel.Target)
		if err != nil {
			return nil, err
		}
		fk, ok := target.ForeignKeyTo(m.Name)
		if !ok {
			return nil, fmt.Errorf("store: model %q has no link back to %q", target.Name, m.Name)
		}
		if err := c.writeChildren(ctx, target, fk, row.ID(), sub); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (c *PostgresClient) resolveConnect(ctx context.Context, target *schema.Model, where engine.Filter) (string, error) {
	cond, vals, err := whereSQL(target, where, 1)
	if err != nil {
		return "", err
	}
	var id string
	query := fmt.Sprintf("SELECT id FROM %s%s LIMIT 1", target.Name, cond)
	if err := c.q(ctx).QueryRowContext(ctx, query, vals...).Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("no %s row matches connect filter", target.Name)
		}
		return "", err
	}
	return id, nil
}

func (c *PostgresClient) writeChildren(ctx context.Context, target *schema.Model, fk, parentID string, sub engine.Mutation) error {
	switch node := sub.(type) {
	case *engine.Create:
		return c.insertChild(ctx, target, fk, parentID, node)
	case *engine.CreateMany:
		for _, row := range node.Rows {
			if err := c.insertChild(ctx, target, fk, parentID, row); err != nil {
				return err
			}
		}
		return nil
	case *engine.UpdateMany:
		where := node.Where.Clone()
		where[fk] = parentID
		_, err := c.update(ctx, target, where, &engine.Update{Set: node.Set})
		return err
	case *engine.UpdateEach:
		for _, item := range node.Items {
			where := item.Where.Clone()
			where[fk] = parentID
			if _, err := c.update(ctx, target, where, item.Data); err != nil {
				return err
			}
		}
		return nil
	case *engine.DeleteMany:
		where := node.Where.Clone()
		where[fk] = parentID
		_, err := c.delete(ctx, target, where)
		return err
	default:
		return fmt.Errorf("store: unsupported nested %T on child %q", sub, target.Name)
	}
}

func (c *PostgresClient) insertChild(ctx context.Context, target *schema.Model, fk, parentID string, node *engine.Create) error {
	child := &engine.Create{Fields: map[string]any{}, Nested: node.Nested}
	for k, v := range node.Fields {
		child.Fields[k] = v
	}
	child.Fields[fk] = parentID
	_, err := c.insertTree(ctx, target, child)
	return err
}

func (c *PostgresClient) update(ctx context.Context, m *schema.Model, where engine.Filter, data *engine.Update) (engine.Result, error) {
	set := make(map[string]any, len(data.Set)+1)
	for col, val := range data.Set {
		if !m.HasScalar(col) {
			return engine.Result{}, fmt.Errorf("store: model %q has no column %q", m.Name, col)
		}
		set[col] = val
	}
	if m.HasScalar("updated_at") && set["updated_at"] == nil {
		set["updated_at"] = c.now().UTC()
	}

	var affected int64
	if len(set) > 0 {
		cols := make([]string, 0, len(set))
		for col := range set {
			cols = append(cols, col)
		}
		sort.Strings(cols)
		assignments := make([]string, 0, len(cols))
		vals := make([]any, 0, len(cols))
		for i, col := range cols {
			assignments = append(assignments, fmt.Sprintf("%s = $%d", col, i+1))
			vals = append(vals, encodeValue(m, col, set[col]))
		}
		cond, condVals, err := whereSQL(m, where, len(cols)+1)
		if err != nil {
			return engine.Result{}, err
		}
		query := fmt.Sprintf("UPDATE %s SET %s%s", m.Name, strings.Join(assignments, ", "), cond)
		res, err := c.q(ctx).ExecContext(ctx, query, append(vals, condVals...)...)
		if err != nil {
			return engine.Result{}, fmt.Errorf("update %s: %w", m.Name, err)
		}
		affected, _ = res.RowsAffected()
	}

	if len(data.Nested) > 0 {
		parents, err := c.sel(ctx, m, engine.Args{Where: where}, 0)
		if err != nil {
			return engine.Result{}, err
		}
		if len(set) == 0 {
			affected = int64(len(parents))
		}
		for _, parent := range parents {
			for field, sub := range data.Nested {
				rel, ok := m.Relations[field]
				if !ok {
					return engine.Result{}, fmt.Errorf("store: model %q has no relation %q", m.Name, field)
				}
				target, err := c.reg.Model(rel.Target)
				if err != nil {
					return engine.Result{}, err
				}
				if rel.ForeignKey != "" {
					ref, ok := sub.(*engine.Connect)
					if !ok {
						return engine.Result{}, fmt.Errorf("store: unsupported nested %T on %q.%s", sub, m.Name, field)
					}
					id, err := c.resolveConnect(ctx, target, ref.Where)
					if err != nil {
						return engine.Result{}, fmt.Errorf("connect %s.%s: %w", m.Name, field, err)
					}
					query := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE id = $2", m.Name, rel.ForeignKey)
					if _, err := c.q(ctx).ExecContext(ctx, query, id, parent.ID()); err != nil {
						return engine.Result{}, fmt.Errorf("update %s: %w", m.Name, err)
					}
					continue
				}
				fk, ok := target.ForeignKeyTo(m.Name)
				if !ok {
					return engine.Result{}, fmt.Errorf("store: model %q has no link back to %q", target.Name, m.Name)
				}
				if err := c.writeChildren(ctx, target, fk, parent.ID(), sub); err != nil {
					return engine.Result{}, err
				}
			}
		}
	}
	return engine.Result{Count: affected}, nil
}

func (c *PostgresClient) delete(ctx context.Context, m *schema.Model, where engine.Filter) (engine.Result, error) {
	cond, vals, err := whereSQL(m, where, 1)
	if err != nil {
		return engine.Result{}, err
	}
	query := fmt.Sprintf("DELETE FROM %s%s", m.Name, cond)
	res, err := c.q(ctx).ExecContext(ctx, query, vals...)
	if err != nil {
		return engine.Result{}, fmt.Errorf("delete %s: %w", m.Name, err)
	}
	affected, _ := res.RowsAffected()
	return engine.Result{Count: affected}, nil
}

func scalarColumns(m *schema.Model) []string {
	cols := make([]string, 0, len(m.Scalars))
	for col := range m.Scalars {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	return cols
}

// whereSQL renders a filter as a WHERE clause. Column names are validated
// against the schema; values become placeholders.
func whereSQL(m *schema.Model, where engine.Filter, start int) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	cols := make([]string, 0, len(where))
	for col := range where {
		if !m.HasScalar(col) {
			return "", nil, fmt.Errorf("store: model %q has no column %q", m.Name, col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)

	var conds []string
	var vals []any
	n := start
	for _, col := range cols {
		cond := where[col]
		switch {
		case cond == nil:
			conds = append(conds, col+" IS NULL")
		case engine.IsNotNull(cond):
			conds = append(conds, col+" IS NOT NULL")
		default:
			if items, ok := asSlice(cond); ok {
				if len(items) == 0 {
					conds = append(conds, "FALSE")
					continue
				}
				placeholders := make([]string, 0, len(items))
				for _, item := range items {
					placeholders = append(placeholders, fmt.Sprintf("$%d", n))
					vals = append(vals, item)
					n++
				}
				conds = append(conds, fmt.Sprintf("%s IN (%s)", col, strings.Join(placeholders, ", ")))
				continue
			}
			conds = append(conds, fmt.Sprintf("%s = $%d", col, n))
			vals = append(vals, encodeValue(m, col, cond))
			n++
		}
	}
	return " WHERE " + strings.Join(conds, " AND "), vals, nil
}

func asSlice(cond any) ([]any, bool) {
	switch items := cond.(type) {
	case []any:
		return items, true
	case []string:
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, item)
		}
		return out, true
	}
	return nil, false
}

// encodeValue prepares a value for the driver; jsonb columns take any
// JSON-able value.
func encodeValue(m *schema.Model, col string, val any) any {
	if val == nil {
		return nil
	}
	if m.Scalars[col] != "jsonb" {
		return val
	}
	switch v := val.(type) {
	case string:
		return v
	case []byte:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return raw
	}
}

func scanRows(rows *sql.Rows, cols []string) ([]engine.Row, error) {
	var out []engine.Row
	for rows.Next() {
		values := make([]any, len(cols))
		targets := make([]any, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}
		row := make(engine.Row, len(cols))
		for i, col := range cols {
			row[col] = decodeValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func decodeValue(val any) any {
	switch v := val.(type) {
	case []byte:
		return string(v)
	default:
		return val
	}
}
