package schema

import "testing"

func TestDefaultRegistryValidates(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	for _, name := range []string{"tenants", "users", "folders", "notes", "tags", "note_tags", "attachments", "ingest_events", "auth_tokens", "audit_logs"} {
		if _, err := reg.Model(name); err != nil {
			t.Fatalf("model %s: %v", name, err)
		}
	}
}

func TestUnknownModelFails(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	if _, err := reg.Model("widgets"); err == nil {
		t.Fatal("expected error for unknown model")
	}
}

func TestRegistryRejectsDanglingRelation(t *testing.T) {
	_, err := NewRegistry([]*Model{
		{
			Name:    "posts",
			Scalars: map[string]string{"id": "text"},
			Relations: map[string]Relation{
				"author": {Target: "users", ForeignKey: "author_id"},
			},
		},
	})
	if err == nil {
		t.Fatal("expected error for relation targeting an undeclared model")
	}
}

func TestRegistryRejectsUnknownForeignKey(t *testing.T) {
	_, err := NewRegistry([]*Model{
		{Name: "users", Scalars: map[string]string{"id": "text"}},
		{
			Name:    "posts",
			Scalars: map[string]string{"id": "text"},
			Relations: map[string]Relation{
				"author": {Target: "users", ForeignKey: "author_id"},
			},
		},
	})
	if err == nil {
		t.Fatal("expected error for foreign key missing from scalars")
	}
}

func TestRelationLookups(t *testing.T) {
	reg, err := Default()
	if err != nil {
		t.Fatalf("default registry: %v", err)
	}
	notes, _ := reg.Model("notes")

	field, rel, ok := notes.RelationByForeignKey("tenant_id")
	if !ok || field != "tenant" || rel.Target != "tenants" {
		t.Fatalf("RelationByForeignKey(tenant_id) = %q %v %v", field, rel, ok)
	}

	links, _ := reg.Model("note_tags")
	fk, ok := links.ForeignKeyTo("notes")
	if !ok || fk != "note_id" {
		t.Fatalf("ForeignKeyTo(notes) = %q %v", fk, ok)
	}

	children := notes.ChildRelations()
	want := []string{"attachments", "note_tags"}
	if len(children) != len(want) {
		t.Fatalf("ChildRelations = %v, want %v", children, want)
	}
	for i := range want {
		if children[i] != want[i] {
			t.Fatalf("ChildRelations = %v, want %v", children, want)
		}
	}
}
