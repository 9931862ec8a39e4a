// Package timeline folds extractor batches into the accumulated result.
package timeline

import "magpie/internal/model"

// Merge appends to existing every element of incoming whose TweetID is not
// already present in existing, preserving incoming's order. Dedup keys on
// TweetID alone, so entries of the same tweet arriving within one batch are
// all kept (multi-media tweets come back in a single page), while a tweet
// re-sent on a later page is dropped wholesale.
//
// Callers must always pass the full accumulated timeline as existing;
// merging into a partial slice re-admits entries dropped earlier.
func Merge(existing, incoming []model.TimelineEntry) []model.TimelineEntry {
	seen := make(map[string]struct{}, len(existing))
	for _, e := range existing {
		seen[e.TweetID] = struct{}{}
	}
	out := existing
	for _, e := range incoming {
		if _, ok := seen[e.TweetID]; ok {
			continue
		}
		out = append(out, e)
	}
	return out
}

// CountByType tallies entries per media type for display.
func CountByType(entries []model.TimelineEntry) map[string]int {
	counts := make(map[string]int)
	for _, e := range entries {
		counts[e.Type]++
	}
	return counts
}
