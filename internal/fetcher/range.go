package fetcher

import (
	"context"

	"magpie/internal/logging"
	"magpie/internal/metrics"
	"magpie/internal/model"
)

// Range performs a single-shot date-bounded fetch for a public subject.
// Exactly one extractor call; no cursor, no checkpoint, nothing to resume.
func (r *Runner) Range(ctx context.Context, opts RangeOptions) (*model.Response, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer r.busy.Store(false)

	username := model.CleanUsername(opts.Username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	if opts.AuthToken == "" {
		return nil, ErrAuthRequired
	}
	if opts.StartDate == "" || opts.EndDate == "" {
		return nil, ErrDatesRequired
	}
	if opts.MediaType == "" {
		opts.MediaType = model.MediaAll
	}

	metrics.FetchRuns.Inc()
	resp, err := r.Extractor.ExtractRange(ctx, model.DateRangeRequest{
		Username:    username,
		AuthToken:   opts.AuthToken,
		StartDate:   opts.StartDate,
		EndDate:     opts.EndDate,
		MediaFilter: opts.MediaType,
		Retweets:    opts.Retweets,
	})
	if err != nil {
		metrics.FetchErrors.Inc()
		logging.Error("range_failed", map[string]any{"subject": username, "error": err.Error()})
		return nil, err
	}
	resp.Completed = true
	resp.TotalURLs = len(resp.Timeline)
	r.archiveUpsert(ctx, opts.MediaType, model.TimelineDefault, &resp)
	logging.Info("range_completed", map[string]any{"subject": username, "items": len(resp.Timeline)})
	return &resp, nil
}
