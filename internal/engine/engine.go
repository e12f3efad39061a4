package engine

import (
	"context"
	"time"

	"jotlog/api/internal/schema"
)

// Handler executes one invocation for one actor.
type Handler func(ctx context.Context, actor Actor, inv Invocation) (Result, error)

// Middleware wraps a handler with one policy stage.
type Middleware func(Handler) Handler

// Engine is the policy-enforcing storage client the application code uses.
// It exposes the same operation surface as the raw client; swapping one for
// the other is transparent to call sites, except that every operation takes
// the acting identity explicitly.
type Engine struct {
	raw     RawClient
	schema  *schema.Registry
	handler Handler
}

// New builds an engine over a raw client with the standard chain:
// soft-delete, then tenant isolation (which feeds the mutation rewriter),
// then audit, then storage.
func New(raw RawClient, reg *schema.Registry, exempt Exemptions) *Engine {
	return NewWithClock(raw, reg, exempt, time.Now)
}

// NewWithClock is New with an injectable clock, used by tests to pin
// deletion and audit timestamps.
func NewWithClock(raw RawClient, reg *schema.Registry, exempt Exemptions, now func() time.Time) *Engine {
	softDelete := &softDeleteStage{schema: reg, exempt: exempt, now: now}
	tenant := &tenantStage{
		schema:   reg,
		exempt:   exempt,
		rewriter: NewRewriter(reg, exempt),
		now:      now,
	}
	audit := &auditStage{raw: raw, exempt: exempt, now: now}

	handler := func(ctx context.Context, _ Actor, inv Invocation) (Result, error) {
		return raw.Do(ctx, inv)
	}
	// Order is a contract: soft-delete must rewrite deletes before audit
	// decides how to record them, and tenant scoping must run before audit
	// so the recorded tenant matches the rows actually written.
	for _, mw := range []Middleware{audit.middleware, tenant.middleware, softDelete.middleware} {
		handler = mw(handler)
	}

	return &Engine{raw: raw, schema: reg, handler: handler}
}

// Do runs one invocation through the policy chain. Unknown models fail
// before any stage runs.
func (e *Engine) Do(ctx context.Context, actor Actor, inv Invocation) (Result, error) {
	if _, err := e.schema.Model(inv.Model); err != nil {
		return Result{}, err
	}
	return e.handler(ctx, actor, inv)
}

// Raw exposes the unscoped storage client. It exists for the engine's own
// maintenance paths and for migrations; application code must not use it.
func (e *Engine) Raw() RawClient {
	return e.raw
}

func (e *Engine) do(ctx context.Context, actor Actor, model string, op Op, args Args) (Result, error) {
	return e.Do(ctx, actor, Invocation{Model: model, Op: op, Args: args})
}

// Find returns the first row matching the filter, or nil.
func (e *Engine) Find(ctx context.Context, actor Actor, model string, args Args) (Row, error) {
	res, err := e.do(ctx, actor, model, OpFind, args)
	if err != nil {
		return nil, err
	}
	return res.First(), nil
}

// FindMany returns every row matching the filter.
func (e *Engine) FindMany(ctx context.Context, actor Actor, model string, args Args) ([]Row, error) {
	res, err := e.do(ctx, actor, model, OpFindMany, args)
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Count returns the number of rows matching the filter.
func (e *Engine) Count(ctx context.Context, actor Actor, model string, where Filter) (int64, error) {
	res, err := e.do(ctx, actor, model, OpCount, Args{Where: where})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// GroupBy returns one row per distinct combination of the given columns,
// each carrying a "count" column.
func (e *Engine) GroupBy(ctx context.Context, actor Actor, model string, by []string, where Filter) ([]Row, error) {
	res, err := e.do(ctx, actor, model, OpGroupBy, Args{Where: where, By: by})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Create inserts one row (plus any nested writes) and returns it.
func (e *Engine) Create(ctx context.Context, actor Actor, model string, data *Create) (Row, error) {
	res, err := e.do(ctx, actor, model, OpCreate, Args{Data: data})
	if err != nil {
		return nil, err
	}
	return res.First(), nil
}

// CreateMany inserts a batch of rows and returns how many were written.
func (e *Engine) CreateMany(ctx context.Context, actor Actor, model string, data *CreateMany) (int64, error) {
	res, err := e.do(ctx, actor, model, OpCreateMany, Args{Data: data})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Update applies the mutation to the rows matching the filter.
func (e *Engine) Update(ctx context.Context, actor Actor, model string, where Filter, data *Update) (Result, error) {
	return e.do(ctx, actor, model, OpUpdate, Args{Where: where, Data: data})
}

// UpdateMany applies one assignment to every row matching the filter.
func (e *Engine) UpdateMany(ctx context.Context, actor Actor, model string, where Filter, data *Update) (int64, error) {
	res, err := e.do(ctx, actor, model, OpUpdateMany, Args{Where: where, Data: data})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Delete removes the rows matching the filter. For models under soft
// deletion this stamps the deletion marker instead of removing anything.
func (e *Engine) Delete(ctx context.Context, actor Actor, model string, where Filter) (Result, error) {
	return e.do(ctx, actor, model, OpDelete, Args{Where: where})
}

// DeleteMany is Delete over a bulk filter.
func (e *Engine) DeleteMany(ctx context.Context, actor Actor, model string, where Filter) (int64, error) {
	res, err := e.do(ctx, actor, model, OpDeleteMany, Args{Where: where})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}
