package store

import (
	"encoding/json"
	"time"

	"jotlog/api/internal/engine"
)

type Tenant struct {
	ID        string
	Name      string
	Slug      string
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type User struct {
	ID           string
	TenantID     string
	Email        string
	DisplayName  string
	PasswordHash string
	Role         string
	IsVerified   bool
	DeletedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Folder struct {
	ID        string
	TenantID  string
	Name      string
	ParentID  *string
	CreatedBy string
	UpdatedBy string
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Note struct {
	ID        string
	TenantID  string
	FolderID  *string
	Title     string
	Body      string
	Pinned    bool
	Source    string
	CreatedBy string
	UpdatedBy string
	DeletedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time

	Tags        []NoteTag
	Attachments []Attachment
}

type Tag struct {
	ID        string
	TenantID  string
	Name      string
	Color     string
	CreatedBy string
	DeletedAt *time.Time
	CreatedAt time.Time
}

type NoteTag struct {
	ID        string
	TenantID  string
	NoteID    string
	TagID     string
	CreatedBy string
	CreatedAt time.Time
}

type Attachment struct {
	ID          string
	TenantID    string
	NoteID      string
	ObjectKey   string
	Filename    string
	ContentType string
	SizeBytes   int64
	CreatedBy   string
	DeletedAt   *time.Time
	CreatedAt   time.Time
}

type AuditRecord struct {
	ID          string
	TenantID    string
	EntityType  string
	EntityID    string
	Action      string
	EventStatus string
	Payload     map[string]any
	CreatedBy   string
	CreatedAt   time.Time
}

type IngestEvent struct {
	ID        string
	TenantID  string
	Channel   string
	Payload   map[string]any
	NoteID    *string
	CreatedAt time.Time
}

func TenantFromRow(row engine.Row) Tenant {
	return Tenant{
		ID:        str(row, "id"),
		Name:      str(row, "name"),
		Slug:      str(row, "slug"),
		DeletedAt: timePtr(row, "deleted_at"),
		CreatedAt: timeVal(row, "created_at"),
		UpdatedAt: timeVal(row, "updated_at"),
	}
}

func UserFromRow(row engine.Row) User {
	return User{
		ID:           str(row, "id"),
		TenantID:     str(row, "tenant_id"),
		Email:        str(row, "email"),
		DisplayName:  str(row, "display_name"),
		PasswordHash: str(row, "password_hash"),
		Role:         str(row, "role"),
		IsVerified:   boolVal(row, "is_verified"),
		DeletedAt:    timePtr(row, "deleted_at"),
		CreatedAt:    timeVal(row, "created_at"),
		UpdatedAt:    timeVal(row, "updated_at"),
	}
}

func FolderFromRow(row engine.Row) Folder {
	return Folder{
		ID:        str(row, "id"),
		TenantID:  str(row, "tenant_id"),
		Name:      str(row, "name"),
		ParentID:  strPtr(row, "parent_id"),
		CreatedBy: str(row, "created_by"),
		UpdatedBy: str(row, "updated_by"),
		DeletedAt: timePtr(row, "deleted_at"),
		CreatedAt: timeVal(row, "created_at"),
		UpdatedAt: timeVal(row, "updated_at"),
	}
}

func NoteFromRow(row engine.Row) Note {
	note := Note{
		ID:        str(row, "id"),
		TenantID:  str(row, "tenant_id"),
		FolderID:  strPtr(row, "folder_id"),
		Title:     str(row, "title"),
		Body:      str(row, "body"),
		Pinned:    boolVal(row, "pinned"),
		Source:    str(row, "source"),
		CreatedBy: str(row, "created_by"),
		UpdatedBy: str(row, "updated_by"),
		DeletedAt: timePtr(row, "deleted_at"),
		CreatedAt: timeVal(row, "created_at"),
		UpdatedAt: timeVal(row, "updated_at"),
	}
	if children, ok := row["note_tags"].([]engine.Row); ok {
		for _, child := range children {
			note.Tags = append(note.Tags, NoteTagFromRow(child))
		}
	}
	if children, ok := row["attachments"].([]engine.Row); ok {
		for _, child := range children {
			note.Attachments = append(note.Attachments, AttachmentFromRow(child))
		}
	}
	return note
}

func TagFromRow(row engine.Row) Tag {
	return Tag{
		ID:        str(row, "id"),
		TenantID:  str(row, "tenant_id"),
		Name:      str(row, "name"),
		Color:     str(row, "color"),
		CreatedBy: str(row, "created_by"),
		DeletedAt: timePtr(row, "deleted_at"),
		CreatedAt: timeVal(row, "created_at"),
	}
}

func NoteTagFromRow(row engine.Row) NoteTag {
	return NoteTag{
		ID:        str(row, "id"),
		TenantID:  str(row, "tenant_id"),
		NoteID:    str(row, "note_id"),
		TagID:     str(row, "tag_id"),
		CreatedBy: str(row, "created_by"),
		CreatedAt: timeVal(row, "created_at"),
	}
}

func AttachmentFromRow(row engine.Row) Attachment {
	return Attachment{
		ID:          str(row, "id"),
		TenantID:    str(row, "tenant_id"),
		NoteID:      str(row, "note_id"),
		ObjectKey:   str(row, "object_key"),
		Filename:    str(row, "filename"),
		ContentType: str(row, "content_type"),
		SizeBytes:   int64Val(row, "size_bytes"),
		CreatedBy:   str(row, "created_by"),
		DeletedAt:   timePtr(row, "deleted_at"),
		CreatedAt:   timeVal(row, "created_at"),
	}
}

func AuditRecordFromRow(row engine.Row) AuditRecord {
	return AuditRecord{
		ID:          str(row, "id"),
		TenantID:    str(row, "tenant_id"),
		EntityType:  str(row, "entity_type"),
		EntityID:    str(row, "entity_id"),
		Action:      str(row, "action"),
		EventStatus: str(row, "event_status"),
		Payload:     jsonVal(row, "payload"),
		CreatedBy:   str(row, "created_by"),
		CreatedAt:   timeVal(row, "created_at"),
	}
}

func IngestEventFromRow(row engine.Row) IngestEvent {
	return IngestEvent{
		ID:        str(row, "id"),
		TenantID:  str(row, "tenant_id"),
		Channel:   str(row, "channel"),
		Payload:   jsonVal(row, "payload"),
		NoteID:    strPtr(row, "note_id"),
		CreatedAt: timeVal(row, "created_at"),
	}
}

func str(row engine.Row, col string) string {
	s, _ := row[col].(string)
	return s
}

func strPtr(row engine.Row, col string) *string {
	if s, ok := row[col].(string); ok && s != "" {
		return &s
	}
	return nil
}

func boolVal(row engine.Row, col string) bool {
	b, _ := row[col].(bool)
	return b
}

func int64Val(row engine.Row, col string) int64 {
	switch v := row[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

func timeVal(row engine.Row, col string) time.Time {
	t, _ := row[col].(time.Time)
	return t
}

func timePtr(row engine.Row, col string) *time.Time {
	if t, ok := row[col].(time.Time); ok {
		return &t
	}
	return nil
}

// jsonVal decodes a jsonb column, which arrives as a string from Postgres
// and as a live map from the in-memory client.
func jsonVal(row engine.Row, col string) map[string]any {
	switch v := row[col].(type) {
	case map[string]any:
		return v
	case string:
		var out map[string]any
		if err := json.Unmarshal([]byte(v), &out); err == nil {
			return out
		}
	case []byte:
		var out map[string]any
		if err := json.Unmarshal(v, &out); err == nil {
			return out
		}
	}
	return nil
}
