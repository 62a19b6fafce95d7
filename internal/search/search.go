// Package search provides group discovery: Meilisearch when available, a
// plain store scan otherwise.
package search

// GroupRecord is the indexed shape of a group.
type GroupRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Purpose     string   `json:"purpose"`
	Properties  []string `json:"properties,omitempty"`
	Status      string   `json:"status"`
}

// Query describes one search request.
type Query struct {
	Text   string
	Limit  int
	Offset int
	// ActiveOnly restricts results to groups still open for joining.
	ActiveOnly bool
}

// Result is one search hit.
type Result struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Snippet string `json:"snippet"`
	Status  string `json:"status"`
}

// Response is a full search response.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}
