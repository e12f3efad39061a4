package engine

// Mutation is one node of a write payload tree. The concrete node type
// decides how the rewriter and the storage client treat it; there is no
// key-sniffing of dynamic maps anywhere in the engine.
//
// The tree mirrors the shapes a caller can express: a create with nested
// creates/connects, an update with nested sub-mutations per relation, a
// reference to an existing row, and the bulk forms.
type Mutation interface {
	mutation()
}

// Create describes one new row: scalar column values plus nested mutations
// per relation field.
type Create struct {
	Fields map[string]any
	Nested map[string]Mutation
}

// Update describes changes to existing rows: scalar column assignments plus
// nested mutations per relation field.
type Update struct {
	Set    map[string]any
	Nested map[string]Mutation
}

// Connect references an existing row by a unique filter. Interceptors never
// inject into a Connect: it identifies a row, it does not write one.
type Connect struct {
	Where Filter
}

// CreateMany creates a batch of rows under one relation (or at the top
// level); each entry is an independent Create.
type CreateMany struct {
	Rows []*Create
}

// UpdateEach updates several rows of one relation, each with its own filter
// and data.
type UpdateEach struct {
	Items []UpdateItem
}

// UpdateItem is one entry of an UpdateEach.
type UpdateItem struct {
	Where Filter
	Data  *Update
}

// UpdateMany updates every row of a relation matching Where. It is also
// what nested DeleteMany nodes are rewritten into under soft deletion.
type UpdateMany struct {
	Where Filter
	Set   map[string]any
}

// DeleteMany removes every row of a relation matching Where. For models
// under soft deletion the rewriter turns this into an UpdateMany stamping
// the deletion marker; for exempt models it reaches the storage client
// unchanged and deletes physically.
type DeleteMany struct {
	Where Filter
}

func (*Create) mutation()     {}
func (*Update) mutation()     {}
func (*Connect) mutation()    {}
func (*CreateMany) mutation() {}
func (*UpdateEach) mutation() {}
func (*UpdateMany) mutation() {}
func (*DeleteMany) mutation() {}

func cloneValues(src map[string]any) map[string]any {
	out := make(map[string]any, len(src)+3)
	for k, v := range src {
		out[k] = v
	}
	return out
}

// ToMap renders a mutation tree as plain nested maps, the shape stored in
// audit payloads.
func ToMap(m Mutation) any {
	switch n := m.(type) {
	case nil:
		return nil
	case *Create:
		out := map[string]any{}
		for k, v := range n.Fields {
			out[k] = v
		}
		for rel, sub := range n.Nested {
			out[rel] = ToMap(sub)
		}
		return out
	case *Update:
		out := map[string]any{}
		for k, v := range n.Set {
			out[k] = v
		}
		for rel, sub := range n.Nested {
			out[rel] = ToMap(sub)
		}
		return out
	case *Connect:
		return map[string]any{"connect": map[string]any(n.Where)}
	case *CreateMany:
		rows := make([]any, 0, len(n.Rows))
		for _, row := range n.Rows {
			rows = append(rows, ToMap(row))
		}
		return map[string]any{"createMany": rows}
	case *UpdateEach:
		items := make([]any, 0, len(n.Items))
		for _, item := range n.Items {
			items = append(items, map[string]any{
				"where": map[string]any(item.Where),
				"data":  ToMap(item.Data),
			})
		}
		return map[string]any{"update": items}
	case *UpdateMany:
		return map[string]any{"updateMany": map[string]any{
			"where": map[string]any(n.Where),
			"data":  n.Set,
		}}
	case *DeleteMany:
		return map[string]any{"deleteMany": map[string]any(n.Where)}
	default:
		return nil
	}
}
