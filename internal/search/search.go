// Package search provides full-text task search backed by Meilisearch with a
// document store regex fallback.
package search

// TaskRecord is the task projection pushed to the search index.
type TaskRecord struct {
	ID          string   `json:"id"`
	TaskID      string   `json:"taskId"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    string   `json:"priority"`
	AssignedTo  string   `json:"assignedTo"`
	Tags        []string `json:"tags"`
	IsArchived  bool     `json:"isArchived"`
}

// Query is a search request.
type Query struct {
	Text       string
	Status     string
	Priority   string
	AssignedTo string
	Limit      int64
	Offset     int64
}

// Response is a page of matches.
type Response struct {
	Results []TaskRecord `json:"results"`
	Total   int64        `json:"total"`
	Query   string       `json:"query"`
}
