package search

// Result is a single comment hit returned to the caller.
type Result struct {
	ID         string `json:"id"`
	VersionID  string `json:"versionId"`
	ArtifactID string `json:"artifactId"`
	Snippet    string `json:"snippet"`
	Author     string `json:"author"`
}

// Query describes a search request.
type Query struct {
	Text             string
	FilterArtifactID string
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search over comments.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push comments into a search index.
type Indexer interface {
	IndexComment(c CommentRecord) error
	DeleteComment(id string) error
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID         string `json:"id"`
	VersionID  string `json:"versionId"`
	ArtifactID string `json:"artifactId"`
	Content    string `json:"content"`
	Author     string `json:"author"`
}
