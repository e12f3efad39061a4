// Package schema declares the relationship map the policy engine uses to
// rewrite write payloads generically. The map is a plain, hand-declared data
// structure checked at startup; nothing is discovered by reflection at
// runtime.
package schema

import (
	"fmt"
	"sort"
)

// Relation describes a single relation field on a model.
//
// A relation that holds its key locally (ForeignKey != "") points at exactly
// one row of the target model. A relation with no local key is a child
// collection: the rows of the target model reference this model from their
// side.
type Relation struct {
	Target     string // model name of the other side
	ForeignKey string // local scalar column holding the key, "" for child collections
}

// Model is the schema entry for one model.
type Model struct {
	Name      string
	IDPrefix  string              // prefix for generated row ids, e.g. "note"
	Scalars   map[string]string   // column name -> type hint ("text", "timestamptz", "int", "bool", "jsonb")
	Relations map[string]Relation // relation field name -> relation
}

// HasScalar reports whether the model declares the given scalar column.
func (m *Model) HasScalar(name string) bool {
	_, ok := m.Scalars[name]
	return ok
}

// RelationByForeignKey returns the relation field whose local key is the
// given scalar column, if any.
func (m *Model) RelationByForeignKey(fk string) (string, Relation, bool) {
	names := make([]string, 0, len(m.Relations))
	for name := range m.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rel := m.Relations[name]
		if rel.ForeignKey == fk {
			return name, rel, true
		}
	}
	return "", Relation{}, false
}

// ForeignKeyTo returns the local scalar column referencing the given parent
// model, resolving which column a nested child row is linked through.
func (m *Model) ForeignKeyTo(parent string) (string, bool) {
	names := make([]string, 0, len(m.Relations))
	for name := range m.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rel := m.Relations[name]
		if rel.Target == parent && rel.ForeignKey != "" {
			return rel.ForeignKey, true
		}
	}
	return "", false
}

// ChildRelations returns the relation field names that are child collections,
// in stable order.
func (m *Model) ChildRelations() []string {
	var names []string
	for name, rel := range m.Relations {
		if rel.ForeignKey == "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Registry holds every model entry, keyed by model name.
type Registry struct {
	models map[string]*Model
}

// NewRegistry builds a registry from the given models and validates that
// every relation points at a declared model and every foreign key at a
// declared scalar. Validation errors are programmer errors and abort startup.
func NewRegistry(models []*Model) (*Registry, error) {
	reg := &Registry{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		if _, dup := reg.models[m.Name]; dup {
			return nil, fmt.Errorf("schema: duplicate model %q", m.Name)
		}
		reg.models[m.Name] = m
	}
	for _, m := range models {
		for field, rel := range m.Relations {
			if _, ok := reg.models[rel.Target]; !ok {
				return nil, fmt.Errorf("schema: model %q relation %q targets unknown model %q", m.Name, field, rel.Target)
			}
			if rel.ForeignKey != "" && !m.HasScalar(rel.ForeignKey) {
				return nil, fmt.Errorf("schema: model %q relation %q names unknown foreign key %q", m.Name, field, rel.ForeignKey)
			}
		}
	}
	return reg, nil
}

// Model returns the entry for the named model. An unknown name means the
// caller is operating on a model the schema does not describe; every policy
// downstream depends on this map, so the lookup fails instead of returning
// an empty entry.
func (r *Registry) Model(name string) (*Model, error) {
	m, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("schema: unknown model %q", name)
	}
	return m, nil
}

// ModelNames returns all registered model names in stable order.
func (r *Registry) ModelNames() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
