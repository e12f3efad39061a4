package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultNote ResultType = "note"
	ResultTag  ResultType = "tag"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	FolderID string     `json:"folderId,omitempty"`
	TenantID string     `json:"tenantId"`
}

// Query describes a search request. TenantID is mandatory: the indexes are
// shared across tenants, so every query carries a tenant filter.
type Query struct {
	Text           string
	TenantID       string
	FilterType     ResultType // empty = all types
	FilterFolderID string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexNote(n NoteRecord) error
	IndexTag(t TagRecord) error
	DeleteNote(id string) error
	DeleteTag(id string) error
}

// NoteRecord is the data we index for a note.
type NoteRecord struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	FolderID string `json:"folderId"`
	TenantID string `json:"tenantId"`
	Source   string `json:"source"`
}

// TagRecord is the data we index for a tag.
type TagRecord struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	TenantID string `json:"tenantId"`
}
