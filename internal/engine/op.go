// Package engine is the data-access policy layer. Every read, write and
// delete the application issues goes through an Engine, which rewrites the
// operation to enforce tenant isolation, soft-delete semantics and audit
// logging before handing it to the raw storage client. The raw client
// executes exactly what it is given and applies no policy of its own.
package engine

import "context"

// Op names one operation of the storage surface. The engine exposes the
// same surface as the raw client, model by model.
type Op string

const (
	OpFind       Op = "find"
	OpFindMany   Op = "findMany"
	OpCount      Op = "count"
	OpGroupBy    Op = "groupBy"
	OpCreate     Op = "create"
	OpCreateMany Op = "createMany"
	OpUpdate     Op = "update"
	OpUpdateMany Op = "updateMany"
	OpDelete     Op = "delete"
	OpDeleteMany Op = "deleteMany"
)

// IsRead reports whether the operation only reads rows.
func (o Op) IsRead() bool {
	switch o {
	case OpFind, OpFindMany, OpCount, OpGroupBy:
		return true
	}
	return false
}

// IsWrite reports whether the operation mutates rows.
func (o Op) IsWrite() bool {
	return !o.IsRead()
}

// Filter is a conjunction of column conditions. A nil value matches SQL
// NULL, NotNull matches any non-NULL value, a []any value matches any
// element (IN), anything else matches by equality. Presence of a key
// matters: interceptors only inject a condition when the caller did not
// already filter on that column.
type Filter map[string]any

type notNull struct{}

// NotNull is the filter condition matching rows where the column is set.
// Filtering on deleted_at with NotNull is how trash views opt back in to
// soft-deleted rows.
var NotNull = notNull{}

// IsNotNull reports whether a filter condition is the NotNull sentinel.
// Storage clients use it when translating filters.
func IsNotNull(cond any) bool {
	_, ok := cond.(notNull)
	return ok
}

// Clone returns a shallow copy so interceptors can inject conditions
// without mutating the caller's filter.
func (f Filter) Clone() Filter {
	out := make(Filter, len(f)+2)
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Has reports whether the filter already constrains the given column.
func (f Filter) Has(column string) bool {
	_, ok := f[column]
	return ok
}

// Include asks the storage client to attach related rows to each result row
// under the relation's field name. Interceptors inject conditions into
// Where the same way they scope top-level reads.
type Include struct {
	Relation string
	Where    Filter
}

// Args carries the operation arguments. Which fields are meaningful depends
// on the operation: Where for reads, updates and deletes; Data for writes;
// Include for reads; By for groupBy.
type Args struct {
	Where   Filter
	Data    Mutation
	Include []Include
	By      []string
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Invocation is one operation against one model. Origin records the
// operation the caller originally issued when an interceptor rewrote it
// (delete becomes update under soft deletion); it is empty when no rewrite
// happened.
type Invocation struct {
	Model  string
	Op     Op
	Origin Op
	Args   Args
}

// OriginOp returns the operation the caller issued, before any interceptor
// rewrite.
func (inv Invocation) OriginOp() Op {
	if inv.Origin != "" {
		return inv.Origin
	}
	return inv.Op
}

// Row is one storage row, keyed by column name. Included relations appear
// under their relation field name as []Row (child collections) or Row
// (foreign-key relations).
type Row map[string]any

// ID returns the row's id column as a string.
func (r Row) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Result is the outcome of one invocation. Reads fill Rows; count and
// bulk writes fill Count; create fills Rows with the single created row.
type Result struct {
	Rows  []Row
	Count int64
}

// First returns the first row, or nil when the result is empty.
func (r Result) First() Row {
	if len(r.Rows) == 0 {
		return nil
	}
	return r.Rows[0]
}

// RawClient is the unscoped storage surface the engine sits in front of.
// Implementations execute invocations literally, including nested write
// trees, and must support running a function inside one transaction;
// invocations issued with the context passed to fn join that transaction.
type RawClient interface {
	Do(ctx context.Context, inv Invocation) (Result, error)
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
