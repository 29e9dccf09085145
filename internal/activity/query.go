// Package activity keeps a bounded in-memory log of recent pipeline runs,
// fed from the event bus and served by the HTTP API.
package activity

import "time"

// QueryOptions controls filtering and pagination of the run log.
type QueryOptions struct {
	Collection string     // filter to one collection
	Path       string     // "sql" or "fallback"
	Since      *time.Time // only runs at or after Since
	Limit      int        // max results (default: 100, max: 500)
	Cursor     string     // At of the last run of the previous page
}

// DefaultQueryOptions returns QueryOptions with sensible defaults.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{Limit: 100}
}
