package fetcher

import (
	"context"

	"magpie/internal/logging"
	"magpie/internal/model"
)

// BulkSubject names one subject for a bulk run.
type BulkSubject struct {
	Username     string
	TimelineType string
	MediaType    string
	Retweets     bool
}

// BulkResult is the per-subject status of a bulk run.
type BulkResult struct {
	Subject string
	Result  Result
	Err     error
}

// FetchAll runs the batch loop for each subject in order, one at a time.
// Sequencing keeps extractor rate limits honest and progress coherent. A
// cancelled context stops between subjects, and a Stop() ends the whole run:
// the subject in flight finishes through the loop's own stop handling and no
// further subjects are started.
func (r *Runner) FetchAll(ctx context.Context, subjects []BulkSubject, authToken string) []BulkResult {
	results := make([]BulkResult, 0, len(subjects))
	for _, sub := range subjects {
		if ctx.Err() != nil || r.stop.Load() {
			break
		}
		key := model.SubjectKey(sub.Username, sub.TimelineType)
		res, err := r.Run(ctx, Options{
			Username:     sub.Username,
			AuthToken:    authToken,
			TimelineType: sub.TimelineType,
			MediaType:    sub.MediaType,
			Retweets:     sub.Retweets,
		})
		results = append(results, BulkResult{Subject: key, Result: res, Err: err})
		if err != nil {
			logging.Warn("bulk_subject_failed", map[string]any{"subject": key, "error": err.Error()})
			continue
		}
		logging.Info("bulk_subject_done", map[string]any{"subject": key, "outcome": res.Outcome.String(), "items": res.Total})
		if res.Outcome == Stopped {
			logging.Info("bulk_stopped", map[string]any{"subjects_done": len(results), "subjects_total": len(subjects)})
			break
		}
	}
	return results
}
