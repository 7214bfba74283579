// Package search narrows the admin session list by free text. Meilisearch is
// the primary engine; PostgreSQL full-text search is the fallback.
package search

import "context"

// SessionRecord is the document indexed for a chat session. Status and
// category are the effective values.
type SessionRecord struct {
	ID          string `json:"id"`
	Summary     string `json:"summary"`
	ProjectCode string `json:"projCode"`
	Status      string `json:"status"`
	Category    string `json:"category"`
	OwnerName   string `json:"ownerName"`
}

type Query struct {
	Text  string
	Limit int
}

// Searcher returns the IDs of sessions matching a query, best match first.
type Searcher interface {
	SearchSessionIDs(ctx context.Context, q Query) ([]string, error)
	Healthy() bool
}

// Indexer pushes session records into an index.
type Indexer interface {
	IndexSessions(records []SessionRecord) error
}

// MaxHits caps the IDs a single query resolves to. Callers treat a full
// result as truncated.
const MaxHits = 1000
