// Package cursorcache is a lightweight fast-path store for the latest cursor
// per subject. It is an optimization only: the fetch-state store already
// carries the cursor, so every operation here is best-effort.
package cursorcache

import "time"

// Entry is the cached continuation position for one subject.
type Entry struct {
	Cursor      string    `json:"cursor"`
	LastUpdated time.Time `json:"last_updated"`
}

// Cache stores cursors keyed by normalized subject. Implementations swallow
// their own errors; a miss and a failure look the same to callers.
type Cache interface {
	SaveCursor(key, cursor string)
	GetCursor(key string) (string, bool)
	ClearCursor(key string)
}

// Noop discards everything. Used when no redis is configured.
type Noop struct{}

func (Noop) SaveCursor(string, string) {}
func (Noop) GetCursor(string) (string, bool) { return "", false }
func (Noop) ClearCursor(string) {}
