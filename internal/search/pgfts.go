package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across notes and tags using
// plainto_tsquery and ts_rank, with ts_headline for snippets. Soft-deleted
// rows are excluded and every sub-query is pinned to the tenant.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	if q.TenantID == "" {
		return nil, 0, fmt.Errorf("search: query without tenant")
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.TenantID}
	argN := 3

	var subQueries []string

	// Notes sub-query
	if q.FilterType == "" || q.FilterType == ResultNote {
		noteWhere := "n.fts @@ " + tsQuery + " AND n.tenant_id = $2 AND n.deleted_at IS NULL"
		if q.FilterFolderID != "" {
			noteWhere += fmt.Sprintf(" AND n.folder_id = $%d", argN)
			args = append(args, q.FilterFolderID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'note'::text AS type, n.id, n.title,
				ts_headline('english', coalesce(n.body, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(n.folder_id, '') AS folder_id, n.tenant_id,
				ts_rank(n.fts, %s) AS rank
			FROM notes n
			WHERE %s`, tsQuery, tsQuery, noteWhere))
	}

	// Tags sub-query
	if q.FilterType == "" || q.FilterType == ResultTag {
		tagWhere := "t.fts @@ " + tsQuery + " AND t.tenant_id = $2 AND t.deleted_at IS NULL"
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'tag'::text AS type, t.id, t.name AS title,
				''::text AS snippet,
				''::text AS folder_id, t.tenant_id,
				ts_rank(t.fts, %s) AS rank
			FROM tags t
			WHERE %s`, tsQuery, tagWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, folder_id, tenant_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.FolderID, &r.TenantID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all live searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]NoteRecord, []TagRecord, error) {
	noteRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, body, coalesce(folder_id, ''), tenant_id, source
		FROM notes
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load notes: %w", err)
	}
	defer noteRows.Close()

	notes := make([]NoteRecord, 0)
	for noteRows.Next() {
		var n NoteRecord
		if err := noteRows.Scan(&n.ID, &n.Title, &n.Body, &n.FolderID, &n.TenantID, &n.Source); err != nil {
			return nil, nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	if err := noteRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate notes: %w", err)
	}

	tagRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, tenant_id
		FROM tags
		WHERE deleted_at IS NULL
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load tags: %w", err)
	}
	defer tagRows.Close()

	tags := make([]TagRecord, 0)
	for tagRows.Next() {
		var t TagRecord
		if err := tagRows.Scan(&t.ID, &t.Name, &t.TenantID); err != nil {
			return nil, nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	if err := tagRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tags: %w", err)
	}

	return notes, tags, nil
}
