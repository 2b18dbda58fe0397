package search

// Kind identifies the kind of entity in a search result.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Kind     Kind    `json:"kind"`
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Snippet  string  `json:"snippet"`
	FolderID *string `json:"folderId"`
}

// Query describes a search request. Results are always limited to one owner.
type Query struct {
	UserID string
	Text   string
	Limit  int
	Offset int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Record is what we index for a file or folder.
type Record struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	FolderID string `json:"folderId"`
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return 20
	}
	if q.Limit > 100 {
		return 100
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}
