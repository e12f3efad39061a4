package engine

import (
	"context"
	"time"

	"jotlog/api/internal/schema"
)

// tenantStage enforces tenant isolation. Reads and filtered writes are
// scoped to the actor's tenant regardless of what the caller put in the
// filter; write payloads get the effective tenant and the actor stamps
// propagated through the whole nested tree by the rewriter.
type tenantStage struct {
	schema   *schema.Registry
	exempt   Exemptions
	rewriter *Rewriter
	now      func() time.Time
}

func (s *tenantStage) middleware(next Handler) Handler {
	return func(ctx context.Context, actor Actor, inv Invocation) (Result, error) {
		m, err := s.schema.Model(inv.Model)
		if err != nil {
			return Result{}, err
		}
		scoped := !s.exempt.TenantExempt(inv.Model) && m.HasScalar("tenant_id")
		if scoped && inv.Op != OpCreate && inv.Op != OpCreateMany {
			inv.Args.Where = s.scopeFilter(actor, inv.Args.Where)
			if inv.Op.IsRead() {
				inv.Args.Include = s.scopeIncludes(m, actor, inv.Args.Include)
			}
		}
		if inv.Op.IsWrite() && inv.Args.Data != nil {
			stamps := Stamps{
				TenantID: s.effectiveTenant(m, actor, inv.Args.Data, scoped),
				UserID:   actor.UserID,
				Now:      s.now(),
			}
			data, err := s.rewriter.Rewrite(inv.Model, inv.Args.Data, stamps, false)
			if err != nil {
				return Result{}, err
			}
			inv.Args.Data = data
		}
		return next(ctx, actor, inv)
	}
}

// scopeFilter overwrites any caller-supplied tenant condition with the
// actor's tenant. Callers cannot escape their tenant by constructing a
// different filter. System actors without a tenant of their own read and
// write unscoped; an interactive actor without a tenant is scoped to
// nothing rather than to everything.
func (s *tenantStage) scopeFilter(actor Actor, where Filter) Filter {
	if actor.TenantID == "" && actor.IsSystem() {
		return where
	}
	out := where.Clone()
	if actor.TenantID == "" {
		out["tenant_id"] = nil
	} else {
		out["tenant_id"] = actor.TenantID
	}
	return out
}

func (s *tenantStage) scopeIncludes(m *schema.Model, actor Actor, includes []Include) []Include {
	if len(includes) == 0 {
		return includes
	}
	out := make([]Include, 0, len(includes))
	for _, inc := range includes {
		rel, ok := m.Relations[inc.Relation]
		if ok && !s.exempt.TenantExempt(rel.Target) {
			if target, err := s.schema.Model(rel.Target); err == nil && target.HasScalar("tenant_id") {
				inc.Where = s.scopeFilter(actor, inc.Where)
			}
		}
		out = append(out, inc)
	}
	return out
}

// effectiveTenant picks the tenant a write is stamped with. An explicit
// tenant_id in the top-level payload is honored only for system actors
// (ingestion supplies the tenant per event); for everyone else the session
// tenant wins and the payload value is overwritten by the rewriter.
func (s *tenantStage) effectiveTenant(m *schema.Model, actor Actor, data Mutation, scoped bool) string {
	if !scoped {
		return ""
	}
	if actor.IsSystem() {
		if explicit := payloadTenant(data); explicit != "" {
			return explicit
		}
	}
	return actor.TenantID
}

func payloadTenant(data Mutation) string {
	switch n := data.(type) {
	case *Create:
		id, _ := n.Fields["tenant_id"].(string)
		return id
	case *CreateMany:
		if len(n.Rows) > 0 {
			id, _ := n.Rows[0].Fields["tenant_id"].(string)
			return id
		}
	case *Update:
		id, _ := n.Set["tenant_id"].(string)
		return id
	}
	return ""
}
