package engine

import (
	"context"
	"time"

	"jotlog/api/internal/schema"
)

// softDeleteStage turns deletes into updates stamping deleted_at and
// filters soft-deleted rows out of reads. It runs first in the chain so the
// stages behind it only ever see updates.
type softDeleteStage struct {
	schema *schema.Registry
	exempt Exemptions
	now    func() time.Time
}

func (s *softDeleteStage) middleware(next Handler) Handler {
	return func(ctx context.Context, actor Actor, inv Invocation) (Result, error) {
		if s.exempt.SoftDeleteExempt(inv.Model) {
			return next(ctx, actor, inv)
		}
		m, err := s.schema.Model(inv.Model)
		if err != nil {
			return Result{}, err
		}
		switch {
		case inv.Op == OpDelete:
			inv.Origin = inv.OriginOp()
			inv.Op = OpUpdate
			inv.Args.Data = &Update{Set: softDeleteSet(m, actor.UserID, s.now())}
		case inv.Op == OpDeleteMany:
			inv.Origin = inv.OriginOp()
			inv.Op = OpUpdateMany
			inv.Args.Data = &Update{Set: softDeleteSet(m, actor.UserID, s.now())}
		case inv.Op.IsRead():
			inv.Args.Where = hideDeleted(inv.Args.Where)
			inv.Args.Include = s.hideDeletedIncludes(m, inv.Args.Include)
		}
		return next(ctx, actor, inv)
	}
}

// hideDeleted injects deleted_at IS NULL unless the caller filtered on the
// marker explicitly; explicit caller intent wins (that is how trash views
// list deleted rows).
func hideDeleted(where Filter) Filter {
	if where.Has("deleted_at") {
		return where
	}
	out := where.Clone()
	out["deleted_at"] = nil
	return out
}

func (s *softDeleteStage) hideDeletedIncludes(m *schema.Model, includes []Include) []Include {
	if len(includes) == 0 {
		return includes
	}
	out := make([]Include, 0, len(includes))
	for _, inc := range includes {
		rel, ok := m.Relations[inc.Relation]
		if ok && !s.exempt.SoftDeleteExempt(rel.Target) {
			inc.Where = hideDeleted(inc.Where)
		}
		out = append(out, inc)
	}
	return out
}
