package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultProject    ResultType = "project"
	ResultSession    ResultType = "session"
	ResultValidation ResultType = "validation"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type      ResultType `json:"type"`
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Snippet   string     `json:"snippet"`
	ProjectID string     `json:"projectId"`
	SessionID string     `json:"sessionId,omitempty"`
	OrgID     string     `json:"-"`
}

// Query describes a search request. OrgID is mandatory: results never
// cross tenant boundaries.
type Query struct {
	Text            string
	OrgID           string
	FilterType      ResultType // empty = all types
	FilterProjectID string
	Limit           int
	Offset          int
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
	IndexProject(p ProjectRecord) error
	IndexSession(s SessionRecord) error
	IndexValidation(v ValidationRecord) error
	DeleteProject(id string) error
	DeleteSession(id string) error
}

// ProjectRecord is the data we index for a project.
type ProjectRecord struct {
	ID          string `json:"id"`
	OrgID       string `json:"orgId"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// SessionRecord is the data we index for an extraction session.
type SessionRecord struct {
	ID             string `json:"id"`
	OrgID          string `json:"orgId"`
	ProjectID      string `json:"projectId"`
	Name           string `json:"name"`
	Status         string `json:"status"`
	SubmitterEmail string `json:"submitterEmail"`
}

// ValidationRecord is the data we index for a field validation.
type ValidationRecord struct {
	ID             string `json:"id"`
	OrgID          string `json:"orgId"`
	ProjectID      string `json:"projectId"`
	SessionID      string `json:"sessionId"`
	ValueName      string `json:"valueName"`
	ExtractedValue string `json:"extractedValue"`
	Reasoning      string `json:"reasoning"`
	Status         string `json:"status"`
}
