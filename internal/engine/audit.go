package engine

import (
	"context"
	"time"
)

// BulkEntityID is the entity id recorded when a mutation has no single
// target row; the filter that selected the rows is embedded in the payload
// instead.
const (
	BulkEntityID       = "bulk_update"
	BulkCreateEntityID = "bulk_create"
)

// auditStage appends one audit record per successful mutation. The primary
// operation and the audit append run inside one storage transaction and
// fail closed: if the record cannot be written, the mutation is rolled back
// and the caller gets the error. Reads and exempt models pass straight
// through, which is also what keeps the audit table from auditing itself.
type auditStage struct {
	raw    RawClient
	exempt Exemptions
	now    func() time.Time
}

func (s *auditStage) middleware(next Handler) Handler {
	return func(ctx context.Context, actor Actor, inv Invocation) (Result, error) {
		if inv.Op.IsRead() || s.exempt.AuditExempt(inv.Model) {
			return next(ctx, actor, inv)
		}
		var res Result
		err := s.raw.InTx(ctx, func(txCtx context.Context) error {
			var opErr error
			res, opErr = next(txCtx, actor, inv)
			if opErr != nil {
				return opErr
			}
			record := s.record(actor, inv, res)
			_, auditErr := s.raw.Do(txCtx, Invocation{
				Model: "audit_logs",
				Op:    OpCreate,
				Args:  Args{Data: &Create{Fields: record}},
			})
			return auditErr
		})
		if err != nil {
			return Result{}, err
		}
		return res, nil
	}
}

// record builds the audit row for a finished mutation. The action reflects
// what the caller asked for: a delete rewritten into an update by the
// soft-delete stage is still recorded as a delete.
func (s *auditStage) record(actor Actor, inv Invocation, res Result) map[string]any {
	action := "update"
	switch inv.OriginOp() {
	case OpCreate, OpCreateMany:
		action = "create"
	case OpDelete, OpDeleteMany:
		action = "delete"
	}

	entityID := BulkEntityID
	payload := map[string]any{}
	switch inv.Op {
	case OpCreate:
		entityID = res.First().ID()
		payload["data"] = ToMap(inv.Args.Data)
	case OpCreateMany:
		entityID = BulkCreateEntityID
		payload["data"] = ToMap(inv.Args.Data)
	case OpUpdate:
		if id, ok := inv.Args.Where["id"].(string); ok && id != "" {
			entityID = id
		}
		payload["where"] = map[string]any(inv.Args.Where)
		payload["data"] = ToMap(inv.Args.Data)
	case OpUpdateMany:
		payload["where"] = map[string]any(inv.Args.Where)
		payload["data"] = ToMap(inv.Args.Data)
		payload["count"] = res.Count
	case OpDelete, OpDeleteMany:
		// Reaches storage as a physical delete only for soft-delete-exempt
		// models.
		if id, ok := inv.Args.Where["id"].(string); ok && id != "" {
			entityID = id
		}
		payload["where"] = map[string]any(inv.Args.Where)
	}

	return map[string]any{
		"entity_type":  inv.Model,
		"entity_id":    entityID,
		"action":       action,
		"event_status": "success",
		"payload":      redact(payload).(map[string]any),
		"created_by":   actor.UserID,
		"tenant_id":    s.recordTenant(actor, inv),
		"created_at":   s.now(),
	}
}

// redactedFields are scrubbed from audit payloads before they persist;
// audit rows are readable by workspace owners through the API.
var redactedFields = map[string]bool{"password_hash": true}

func redact(v any) any {
	switch n := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for k, val := range n {
			if redactedFields[k] {
				out[k] = "[redacted]"
				continue
			}
			out[k] = redact(val)
		}
		return out
	case Filter:
		return redact(map[string]any(n))
	case []any:
		out := make([]any, len(n))
		for i, val := range n {
			out[i] = redact(val)
		}
		return out
	default:
		return v
	}
}

// recordTenant resolves the tenant the audit record belongs to, preferring
// what was actually written over the session.
func (s *auditStage) recordTenant(actor Actor, inv Invocation) any {
	if id := payloadTenant(inv.Args.Data); id != "" {
		return id
	}
	if id, ok := inv.Args.Where["tenant_id"].(string); ok && id != "" {
		return id
	}
	if actor.TenantID != "" {
		return actor.TenantID
	}
	if inv.Model == "tenants" {
		// Mutating the tenant table itself: the entity is the tenant.
		if id, ok := inv.Args.Where["id"].(string); ok && id != "" {
			return id
		}
	}
	return nil
}
