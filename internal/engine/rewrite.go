package engine

import (
	"fmt"
	"time"

	"jotlog/api/internal/schema"
)

// Stamps is what the tenant interceptor wants written into a payload tree:
// the effective tenant and the acting user, with the rewrite timestamp used
// for nested soft deletes. Empty fields are simply not injected.
type Stamps struct {
	TenantID string
	UserID   string
	Now      time.Time
}

// Rewriter walks a mutation tree and injects tenant and actor stamps at
// every level. Recursion follows only the relation keys present in the
// payload, so a cyclic model graph (self-referencing folders) terminates
// with the payload's own depth.
type Rewriter struct {
	schema *schema.Registry
	exempt Exemptions
}

// NewRewriter returns a rewriter over the given schema.
func NewRewriter(reg *schema.Registry, exempt Exemptions) *Rewriter {
	return &Rewriter{schema: reg, exempt: exempt}
}

// Rewrite returns a rewritten copy of node for the given model. The input
// tree is never modified. viaRelation must be false for the operation's own
// top-level payload and true for every nested node; it decides whether the
// tenant stamp is written as a bare scalar or as a relational connect
// block.
func (rw *Rewriter) Rewrite(model string, node Mutation, st Stamps, viaRelation bool) (Mutation, error) {
	if node == nil {
		return nil, nil
	}
	m, err := rw.schema.Model(model)
	if err != nil {
		return nil, err
	}
	switch n := node.(type) {
	case *Create:
		return rw.rewriteCreate(m, n, st, viaRelation)
	case *Update:
		return rw.rewriteUpdate(m, n, st)
	case *Connect:
		// A reference to an existing row; injecting here would rewrite
		// the target row's identity.
		return &Connect{Where: n.Where.Clone()}, nil
	case *CreateMany:
		rows := make([]*Create, 0, len(n.Rows))
		for _, row := range n.Rows {
			rewritten, err := rw.rewriteCreate(m, row, st, viaRelation)
			if err != nil {
				return nil, err
			}
			rows = append(rows, rewritten)
		}
		return &CreateMany{Rows: rows}, nil
	case *UpdateEach:
		items := make([]UpdateItem, 0, len(n.Items))
		for _, item := range n.Items {
			data, err := rw.rewriteUpdate(m, item.Data, st)
			if err != nil {
				return nil, err
			}
			items = append(items, UpdateItem{Where: item.Where.Clone(), Data: data})
		}
		return &UpdateEach{Items: items}, nil
	case *UpdateMany:
		set := cloneValues(n.Set)
		stampUpdate(m, set, st)
		return &UpdateMany{Where: n.Where.Clone(), Set: set}, nil
	case *DeleteMany:
		// Same rule as a top-level delete: models under soft deletion get
		// an update stamping the marker, exempt models delete physically.
		if rw.exempt.SoftDeleteExempt(m.Name) {
			return &DeleteMany{Where: n.Where.Clone()}, nil
		}
		return &UpdateMany{Where: n.Where.Clone(), Set: softDeleteSet(m, st.UserID, st.Now)}, nil
	default:
		return nil, fmt.Errorf("engine: unhandled mutation node %T on model %q", node, model)
	}
}

func (rw *Rewriter) rewriteCreate(m *schema.Model, n *Create, st Stamps, viaRelation bool) (*Create, error) {
	out := &Create{Fields: cloneValues(n.Fields)}
	if st.UserID != "" {
		if m.HasScalar("created_by") {
			out.Fields["created_by"] = st.UserID
		}
		if m.HasScalar("updated_by") {
			out.Fields["updated_by"] = st.UserID
		}
	}
	nested, err := rw.rewriteNested(m, n.Nested, st)
	if err != nil {
		return nil, err
	}
	out.Nested = nested
	if err := rw.injectTenant(m, out, st, viaRelation); err != nil {
		return nil, err
	}
	return out, nil
}

func (rw *Rewriter) rewriteUpdate(m *schema.Model, n *Update, st Stamps) (*Update, error) {
	if n == nil {
		return nil, nil
	}
	out := &Update{Set: cloneValues(n.Set)}
	stampUpdate(m, out.Set, st)
	nested, err := rw.rewriteNested(m, n.Nested, st)
	if err != nil {
		return nil, err
	}
	out.Nested = nested
	return out, nil
}

func (rw *Rewriter) rewriteNested(m *schema.Model, nested map[string]Mutation, st Stamps) (map[string]Mutation, error) {
	if len(nested) == 0 {
		return nil, nil
	}
	out := make(map[string]Mutation, len(nested))
	for field, sub := range nested {
		rel, ok := m.Relations[field]
		if !ok {
			return nil, fmt.Errorf("engine: model %q has no relation %q", m.Name, field)
		}
		rewritten, err := rw.Rewrite(rel.Target, sub, st, true)
		if err != nil {
			return nil, err
		}
		out[field] = rewritten
	}
	return out, nil
}

// injectTenant writes the effective tenant into a create node. The node's
// position decides the form: the operation's own target takes the bare
// scalar column, a node reached through a relation takes a connect block on
// its tenant relation (looked up by foreign key, never guessed from payload
// shape). The stamp overwrites whatever the caller put there; the tenant
// interceptor has already decided which tenant is in effect.
func (rw *Rewriter) injectTenant(m *schema.Model, n *Create, st Stamps, viaRelation bool) error {
	if st.TenantID == "" || rw.exempt.TenantExempt(m.Name) || !m.HasScalar("tenant_id") {
		return nil
	}
	if !viaRelation {
		n.Fields["tenant_id"] = st.TenantID
		return nil
	}
	relField, _, ok := m.RelationByForeignKey("tenant_id")
	if !ok {
		n.Fields["tenant_id"] = st.TenantID
		return nil
	}
	delete(n.Fields, "tenant_id")
	if n.Nested == nil {
		n.Nested = make(map[string]Mutation, 1)
	}
	n.Nested[relField] = &Connect{Where: Filter{"id": st.TenantID}}
	return nil
}

func stampUpdate(m *schema.Model, set map[string]any, st Stamps) {
	// A row's tenant is fixed at creation; updates cannot move it.
	delete(set, "tenant_id")
	if st.UserID != "" && m.HasScalar("updated_by") {
		set["updated_by"] = st.UserID
	}
}

// softDeleteSet is the assignment a delete is rewritten into. Shared by the
// soft-delete interceptor (top level) and the rewriter (nested deleteMany).
func softDeleteSet(m *schema.Model, userID string, now time.Time) map[string]any {
	set := map[string]any{"deleted_at": now}
	if userID != "" && m.HasScalar("updated_by") {
		set["updated_by"] = userID
	}
	return set
}
