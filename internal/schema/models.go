package schema

// Default returns the registry for the jotlog schema. The declarations here
// must stay in lockstep with db/migrations; the registry is the single
// source of truth the engine consults when rewriting payloads.
func Default() (*Registry, error) {
	return NewRegistry([]*Model{
		{
			Name:     "tenants",
			IDPrefix: "ten",
			Scalars: map[string]string{
				"id":         "text",
				"name":       "text",
				"slug":       "text",
				"deleted_at": "timestamptz",
				"updated_by": "text",
				"created_at": "timestamptz",
				"updated_at": "timestamptz",
			},
			Relations: map[string]Relation{
				"users":   {Target: "users"},
				"notes":   {Target: "notes"},
				"folders": {Target: "folders"},
				"tags":    {Target: "tags"},
			},
		},
		{
			Name:     "users",
			IDPrefix: "usr",
			Scalars: map[string]string{
				"id":            "text",
				"tenant_id":     "text",
				"email":         "text",
				"display_name":  "text",
				"password_hash": "text",
				"role":          "text",
				"is_verified":   "bool",
				"created_by":    "text",
				"updated_by":    "text",
				"deleted_at":    "timestamptz",
				"created_at":    "timestamptz",
				"updated_at":    "timestamptz",
			},
			Relations: map[string]Relation{
				"tenant": {Target: "tenants", ForeignKey: "tenant_id"},
				"notes":  {Target: "notes"},
			},
		},
		{
			Name:     "folders",
			IDPrefix: "fld",
			Scalars: map[string]string{
				"id":         "text",
				"tenant_id":  "text",
				"name":       "text",
				"parent_id":  "text",
				"created_by": "text",
				"updated_by": "text",
				"deleted_at": "timestamptz",
				"created_at": "timestamptz",
				"updated_at": "timestamptz",
			},
			Relations: map[string]Relation{
				"tenant":   {Target: "tenants", ForeignKey: "tenant_id"},
				"parent":   {Target: "folders", ForeignKey: "parent_id"},
				"children": {Target: "folders"},
				"notes":    {Target: "notes"},
			},
		},
		{
			Name:     "notes",
			IDPrefix: "note",
			Scalars: map[string]string{
				"id":         "text",
				"tenant_id":  "text",
				"folder_id":  "text",
				"title":      "text",
				"body":       "text",
				"pinned":     "bool",
				"source":     "text",
				"created_by": "text",
				"updated_by": "text",
				"deleted_at": "timestamptz",
				"created_at": "timestamptz",
				"updated_at": "timestamptz",
			},
			Relations: map[string]Relation{
				"tenant":      {Target: "tenants", ForeignKey: "tenant_id"},
				"folder":      {Target: "folders", ForeignKey: "folder_id"},
				"note_tags":   {Target: "note_tags"},
				"attachments": {Target: "attachments"},
			},
		},
		{
			Name:     "tags",
			IDPrefix: "tag",
			Scalars: map[string]string{
				"id":         "text",
				"tenant_id":  "text",
				"name":       "text",
				"color":      "text",
				"created_by": "text",
				"updated_by": "text",
				"deleted_at": "timestamptz",
				"created_at": "timestamptz",
				"updated_at": "timestamptz",
			},
			Relations: map[string]Relation{
				"tenant":    {Target: "tenants", ForeignKey: "tenant_id"},
				"note_tags": {Target: "note_tags"},
			},
		},
		{
			Name:     "note_tags",
			IDPrefix: "ntag",
			Scalars: map[string]string{
				"id":         "text",
				"tenant_id":  "text",
				"note_id":    "text",
				"tag_id":     "text",
				"created_by": "text",
				"created_at": "timestamptz",
			},
			Relations: map[string]Relation{
				"tenant": {Target: "tenants", ForeignKey: "tenant_id"},
				"note":   {Target: "notes", ForeignKey: "note_id"},
				"tag":    {Target: "tags", ForeignKey: "tag_id"},
			},
		},
		{
			Name:     "attachments",
			IDPrefix: "att",
			Scalars: map[string]string{
				"id":           "text",
				"tenant_id":    "text",
				"note_id":      "text",
				"object_key":   "text",
				"filename":     "text",
				"content_type": "text",
				"size_bytes":   "int",
				"created_by":   "text",
				"updated_by":   "text",
				"deleted_at":   "timestamptz",
				"created_at":   "timestamptz",
				"updated_at":   "timestamptz",
			},
			Relations: map[string]Relation{
				"tenant": {Target: "tenants", ForeignKey: "tenant_id"},
				"note":   {Target: "notes", ForeignKey: "note_id"},
			},
		},
		{
			Name:     "ingest_events",
			IDPrefix: "ing",
			Scalars: map[string]string{
				"id":         "text",
				"tenant_id":  "text",
				"channel":    "text",
				"payload":    "jsonb",
				"note_id":    "text",
				"created_at": "timestamptz",
			},
			Relations: map[string]Relation{
				"tenant": {Target: "tenants", ForeignKey: "tenant_id"},
				"note":   {Target: "notes", ForeignKey: "note_id"},
			},
		},
		{
			Name:     "auth_tokens",
			IDPrefix: "atk",
			Scalars: map[string]string{
				"id":         "text",
				"user_id":    "text",
				"purpose":    "text",
				"token":      "text",
				"expires_at": "timestamptz",
				"used_at":    "timestamptz",
				"created_at": "timestamptz",
			},
			Relations: map[string]Relation{
				"user": {Target: "users", ForeignKey: "user_id"},
			},
		},
		{
			Name:     "audit_logs",
			IDPrefix: "aud",
			Scalars: map[string]string{
				"id":           "text",
				"tenant_id":    "text",
				"entity_type":  "text",
				"entity_id":    "text",
				"action":       "text",
				"event_status": "text",
				"payload":      "jsonb",
				"created_by":   "text",
				"created_at":   "timestamptz",
			},
			Relations: map[string]Relation{},
		},
	})
}
