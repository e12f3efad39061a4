package engine

// Exemptions lists, per policy, the models a policy does not apply to. The
// sets are deliberately independent: a model can be exempt from soft
// deletion but still audited. They are declared centrally here, never
// inferred from schema shape.
type Exemptions struct {
	tenantScope map[string]struct{}
	softDelete  map[string]struct{}
	audit       map[string]struct{}
}

// NewExemptions builds an exemption set from explicit model-name lists.
func NewExemptions(tenantScope, softDelete, audit []string) Exemptions {
	return Exemptions{
		tenantScope: toSet(tenantScope),
		softDelete:  toSet(softDelete),
		audit:       toSet(audit),
	}
}

// DefaultExemptions is the exemption set for the jotlog schema.
//
//   - tenants is the isolation boundary itself and cannot be scoped by it.
//   - audit_logs is append-only, global, and must never audit its own
//     writes.
//   - note_tags is a link table whose rows are identity-free; unlinking a
//     tag deletes the row physically.
//   - ingest_events is an append-only intake log kept verbatim for replay.
//   - auth_tokens are user-scoped credentials; they carry no tenant column
//     and expire on their own schedule.
func DefaultExemptions() Exemptions {
	return NewExemptions(
		[]string{"tenants", "audit_logs", "auth_tokens"},
		[]string{"audit_logs", "note_tags", "ingest_events", "auth_tokens"},
		[]string{"audit_logs", "ingest_events", "auth_tokens"},
	)
}

// TenantExempt reports whether tenant scoping skips the model.
func (e Exemptions) TenantExempt(model string) bool {
	_, ok := e.tenantScope[model]
	return ok
}

// SoftDeleteExempt reports whether delete calls on the model delete
// physically and reads are not filtered on the deletion marker.
func (e Exemptions) SoftDeleteExempt(model string) bool {
	_, ok := e.softDelete[model]
	return ok
}

// AuditExempt reports whether mutations on the model produce no audit
// records.
func (e Exemptions) AuditExempt(model string) bool {
	_, ok := e.audit[model]
	return ok
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
