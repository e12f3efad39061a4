package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"jotlog/api/internal/engine"
	"jotlog/api/internal/schema"
	"jotlog/api/internal/util"
)

// MemoryClient is an in-memory implementation of engine.RawClient with the
// same nested-write semantics as the Postgres client. It backs the engine
// tests and is handy for local development without a database.
type MemoryClient struct {
	reg *schema.Registry
	now func() time.Time

	mu     sync.Mutex
	tables map[string][]engine.Row
}

// NewMemoryClient returns an empty in-memory store over the given schema.
func NewMemoryClient(reg *schema.Registry) *MemoryClient {
	return &MemoryClient{
		reg:    reg,
		now:    time.Now,
		tables: make(map[string][]engine.Row),
	}
}

// SetClock pins the timestamps the store assigns to created_at/updated_at.
func (c *MemoryClient) SetClock(now func() time.Time) {
	c.now = now
}

type memTxKey struct{}

// InTx runs fn with the whole store locked; on error every change made
// inside fn is rolled back.
func (c *MemoryClient) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.snapshot()
	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		c.tables = snapshot
		return err
	}
	return nil
}

// Do executes one invocation literally. No policy is applied here.
func (c *MemoryClient) Do(ctx context.Context, inv engine.Invocation) (engine.Result, error) {
	if ctx.Value(memTxKey{}) == nil {
		c.mu.Lock()
		defer c.mu.Unlock()
	}
	m, err := c.reg.Model(inv.Model)
	if err != nil {
		return engine.Result{}, err
	}
	switch inv.Op {
	case engine.OpFind, engine.OpFindMany:
		rows, err := c.sel(m, inv.Args)
		if err != nil {
			return engine.Result{}, err
		}
		if inv.Op == engine.OpFind && len(rows) > 1 {
			rows = rows[:1]
		}
		return engine.Result{Rows: rows, Count: int64(len(rows))}, nil
	case engine.OpCount:
		rows := c.match(m.Name, inv.Args.Where)
		return engine.Result{Count: int64(len(rows))}, nil
	case engine.OpGroupBy:
		return c.groupBy(m, inv.Args)
	case engine.OpCreate:
		data, ok := inv.Args.Data.(*engine.Create)
		if !ok {
			return engine.Result{}, fmt.Errorf("store: create on %q wants *engine.Create, got %T", m.Name, inv.Args.Data)
		}
		row, err := c.insertTree(m, data)
		if err != nil {
			return engine.Result{}, err
		}
		return engine.Result{Rows: []engine.Row{cloneRow(row)}, Count: 1}, nil
	case engine.OpCreateMany:
		data, ok := inv.Args.Data.(*engine.CreateMany)
		if !ok {
			return engine.Result{}, fmt.Errorf("store: createMany on %q wants *engine.CreateMany, got %T", m.Name, inv.Args.Data)
		}
		for _, row := range data.Rows {
			if _, err := c.insertTree(m, row); err != nil {
				return engine.Result{}, err
			}
		}
		return engine.Result{Count: int64(len(data.Rows))}, nil
	case engine.OpUpdate, engine.OpUpdateMany:
		data, ok := inv.Args.Data.(*engine.Update)
		if !ok {
			return engine.Result{}, fmt.Errorf("store: update on %q wants *engine.Update, got %T", m.Name, inv.Args.Data)
		}
		return c.update(m, inv.Args.Where, data)
	case engine.OpDelete, engine.OpDeleteMany:
		return c.delete(m, inv.Args.Where), nil
	default:
		return engine.Result{}, fmt.Errorf("store: unknown operation %q", inv.Op)
	}
}

func (c *MemoryClient) sel(m *schema.Model, args engine.Args) ([]engine.Row, error) {
	matched := c.match(m.Name, args.Where)
	if args.OrderBy != "" {
		col, desc := args.OrderBy, args.Desc
		sort.SliceStable(matched, func(i, j int) bool {
			less := lessValue(matched[i][col], matched[j][col])
			if desc {
				return !less && !equalValue(matched[i][col], matched[j][col])
			}
			return less
		})
	}
	if args.Offset > 0 {
		if args.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[args.Offset:]
		}
	}
	if args.Limit > 0 && len(matched) > args.Limit {
		matched = matched[:args.Limit]
	}
	out := make([]engine.Row, 0, len(matched))
	for _, row := range matched {
		clone := cloneRow(row)
		if err := c.attachIncludes(m, clone, args.Include); err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func (c *MemoryClient) attachIncludes(m *schema.Model, row engine.Row, includes []engine.Include) error {
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
			where := inc.Where.Clone()
			where["id"] = row[rel.ForeignKey]
			hits := c.match(target.Name, where)
			if len(hits) > 0 {
				row[inc.Relation] = cloneRow(hits[0])
			} else {
				row[inc.Relation] = nil
			}
			continue
		}
		fk, ok := target.ForeignKeyTo(m.Name)
		if !ok {
			return fmt.Errorf("store: model %q has no link back to %q", target.Name, m.Name)
		}
		where := inc.Where.Clone()
		where[fk] = row.ID()
		hits := c.match(target.Name, where)
		children := make([]engine.Row, 0, len(hits))
		for _, hit := range hits {
			children = append(children, cloneRow(hit))
		}
		row[inc.Relation] = children
	}
	return nil
}

func (c *MemoryClient) groupBy(m *schema.Model, args engine.Args) (engine.Result, error) {
	for _, col := range args.By {
		if !m.HasScalar(col) {
			return engine.Result{}, fmt.Errorf("store: model %q has no column %q", m.Name, col)
		}
	}
	type group struct {
		row   engine.Row
		count int64
	}
	groups := map[string]*group{}
	var order []string
	for _, row := range c.match(m.Name, args.Where) {
		key := ""
		values := engine.Row{}
		for _, col := range args.By {
			key += fmt.Sprintf("%v\x00", row[col])
			values[col] = row[col]
		}
		g, ok := groups[key]
		if !ok {
			g = &group{row: values}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
	}
	out := make([]engine.Row, 0, len(order))
	for _, key := range order {
		g := groups[key]
		g.row["count"] = g.count
		out = append(out, g.row)
	}
	return engine.Result{Rows: out, Count: int64(len(out))}, nil
}

func (c *MemoryClient) insertTree(m *schema.Model, node *engine.Create) (engine.Row, error) {
	row := engine.Row{}
	for col, val := range node.Fields {
		if !m.HasScalar(col) {
			return nil, fmt.Errorf("store: model %q has no column %q", m.Name, col)
		}
		row[col] = val
	}

	// Pass one: relations pointing outward resolve to a local key before
	// the row exists.
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
		switch ref := sub.(type) {
		case *engine.Connect:
			target, err := c.reg.Model(rel.Target)
			if err != nil {
				return nil, err
			}
			hit := c.match(target.Name, ref.Where)
			if len(hit) == 0 {
				return nil, fmt.Errorf("store: connect on %q.%s matched no row", m.Name, field)
			}
			row[rel.ForeignKey] = hit[0].ID()
		case *engine.Create:
			target, err := c.reg.Model(rel.Target)
			if err != nil {
				return nil, err
			}
			parent, err := c.insertTree(target, ref)
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
	c.tables[m.Name] = append(c.tables[m.Name], row)

	// Pass two: child collections reference this row.
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
		if err := c.writeChildren(target, fk, row.ID(), sub); err != nil {
			return nil, err
		}
	}
	return row, nil
}

func (c *MemoryClient) writeChildren(target *schema.Model, fk, parentID string, sub engine.Mutation) error {
	switch node := sub.(type) {
	case *engine.Create:
		return c.insertChild(target, fk, parentID, node)
	case *engine.CreateMany:
		for _, row := range node.Rows {
			if err := c.insertChild(target, fk, parentID, row); err != nil {
				return err
			}
		}
		return nil
	case *engine.UpdateMany:
		where := node.Where.Clone()
		where[fk] = parentID
		_, err := c.update(target, where, &engine.Update{Set: node.Set})
		return err
	case *engine.UpdateEach:
		for _, item := range node.Items {
			where := item.Where.Clone()
			where[fk] = parentID
			if _, err := c.update(target, where, item.Data); err != nil {
				return err
			}
		}
		return nil
	case *engine.DeleteMany:
		where := node.Where.Clone()
		where[fk] = parentID
		c.delete(target, where)
		return nil
	default:
		return fmt.Errorf("store: unsupported nested %T on child %q", sub, target.Name)
	}
}

func (c *MemoryClient) insertChild(target *schema.Model, fk, parentID string, node *engine.Create) error {
	child := &engine.Create{Fields: map[string]any{}, Nested: node.Nested}
	for k, v := range node.Fields {
		child.Fields[k] = v
	}
	child.Fields[fk] = parentID
	_, err := c.insertTree(target, child)
	return err
}

func (c *MemoryClient) update(m *schema.Model, where engine.Filter, data *engine.Update) (engine.Result, error) {
	matched := c.match(m.Name, where)
	now := c.now().UTC()
	for _, row := range matched {
		for col, val := range data.Set {
			if !m.HasScalar(col) {
				return engine.Result{}, fmt.Errorf("store: model %q has no column %q", m.Name, col)
			}
			row[col] = val
		}
		if m.HasScalar("updated_at") {
			row["updated_at"] = now
		}
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
				hit := c.match(target.Name, ref.Where)
				if len(hit) == 0 {
					return engine.Result{}, fmt.Errorf("store: connect on %q.%s matched no row", m.Name, field)
				}
				row[rel.ForeignKey] = hit[0].ID()
				continue
			}
			fk, ok := target.ForeignKeyTo(m.Name)
			if !ok {
				return engine.Result{}, fmt.Errorf("store: model %q has no link back to %q", target.Name, m.Name)
			}
			if err := c.writeChildren(target, fk, row.ID(), sub); err != nil {
				return engine.Result{}, err
			}
		}
	}
	return engine.Result{Count: int64(len(matched))}, nil
}

func (c *MemoryClient) delete(m *schema.Model, where engine.Filter) engine.Result {
	var kept []engine.Row
	var removed int64
	for _, row := range c.tables[m.Name] {
		if rowMatches(row, where) {
			removed++
			continue
		}
		kept = append(kept, row)
	}
	c.tables[m.Name] = kept
	return engine.Result{Count: removed}
}

// match returns live row references in insertion order.
func (c *MemoryClient) match(model string, where engine.Filter) []engine.Row {
	var out []engine.Row
	for _, row := range c.tables[model] {
		if rowMatches(row, where) {
			out = append(out, row)
		}
	}
	return out
}

func rowMatches(row engine.Row, where engine.Filter) bool {
	for col, cond := range where {
		if !matchValue(row[col], cond) {
			return false
		}
	}
	return true
}

func matchValue(val, cond any) bool {
	if cond == nil {
		return val == nil
	}
	if engine.IsNotNull(cond) {
		return val != nil
	}
	switch want := cond.(type) {
	case []any:
		for _, item := range want {
			if matchValue(val, item) {
				return true
			}
		}
		return false
	case []string:
		for _, item := range want {
			if matchValue(val, item) {
				return true
			}
		}
		return false
	case time.Time:
		have, ok := val.(time.Time)
		return ok && have.Equal(want)
	default:
		return val == cond
	}
}

func equalValue(a, b any) bool { return matchValue(a, b) }

func lessValue(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		return av < bv
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case int:
		bv, _ := b.(int)
		return av < bv
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Before(bv)
	}
	return false
}

func cloneRow(row engine.Row) engine.Row {
	out := make(engine.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func (c *MemoryClient) snapshot() map[string][]engine.Row {
	out := make(map[string][]engine.Row, len(c.tables))
	for name, rows := range c.tables {
		copied := make([]engine.Row, 0, len(rows))
		for _, row := range rows {
			copied = append(copied, cloneRow(row))
		}
		out[name] = copied
	}
	return out
}
