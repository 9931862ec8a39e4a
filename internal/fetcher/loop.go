package fetcher

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"magpie/internal/cursorcache"
	"magpie/internal/extractor"
	"magpie/internal/fetchstate"
	"magpie/internal/logging"
	"magpie/internal/metrics"
	"magpie/internal/model"
	"magpie/internal/timeline"
)

// Runner drives fetch sessions. One session at a time; Run returns ErrBusy
// while another session is active.
type Runner struct {
	Extractor extractor.Extractor
	States    *fetchstate.Store
	Archive   Archiver
	Cursors   cursorcache.Cache
	BatchSize int
	SaveEvery int // persist every N batches, plus the final/stopping batch
	Progress  ProgressFunc

	busy atomic.Bool
	stop atomic.Bool
}

// NewRunner wires a runner with defaults.
func NewRunner(ext extractor.Extractor, states *fetchstate.Store, arch Archiver, cursors cursorcache.Cache) *Runner {
	if arch == nil {
		arch = NoopArchiver{}
	}
	if cursors == nil {
		cursors = cursorcache.Noop{}
	}
	return &Runner{Extractor: ext, States: states, Archive: arch, Cursors: cursors, BatchSize: 200, SaveEvery: 3}
}

// Stop requests a cooperative stop. The in-flight page is allowed to finish;
// the loop exits before the next one. Leftover extractor workers are cleaned
// up best-effort.
func (r *Runner) Stop() {
	r.stop.Store(true)
	r.cleanup()
}

func (r *Runner) stopRequested(ctx context.Context) bool {
	return r.stop.Load() || ctx.Err() != nil
}

func (r *Runner) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := r.Extractor.Cleanup(ctx); err != nil {
		logging.Warn("extractor_cleanup", map[string]any{"error": err.Error()})
	}
}

func (r *Runner) saveEvery() int {
	if r.SaveEvery > 0 {
		return r.SaveEvery
	}
	return 3
}

func (r *Runner) batchSize() int {
	if r.BatchSize > 0 {
		return r.BatchSize
	}
	return 200
}

func (r *Runner) publish(s Snapshot) {
	if r.Progress != nil {
		r.Progress(s)
	}
}

func validate(opts Options) error {
	if opts.TimelineType != model.TimelineBookmarks && model.CleanUsername(opts.Username) == "" {
		return ErrUsernameRequired
	}
	if opts.AuthToken == "" {
		return ErrAuthRequired
	}
	return nil
}

// Run executes one batch-fetch session until the cursor is exhausted, a stop
// is requested, or the extractor fails. Validation and resume-eligibility
// errors are returned before any network call.
func (r *Runner) Run(ctx context.Context, opts Options) (Result, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return Result{}, ErrBusy
	}
	defer r.busy.Store(false)
	r.stop.Store(false)

	if err := validate(opts); err != nil {
		return Result{}, err
	}
	if opts.TimelineType == "" {
		opts.TimelineType = model.TimelineDefault
	}
	if opts.MediaType == "" {
		opts.MediaType = model.MediaAll
	}
	key := model.SubjectKey(opts.Username, opts.TimelineType)

	var (
		cursor      string
		accumulated []model.TimelineEntry
		accountInfo *model.AccountInfo
	)

	if opts.Resume {
		st := r.States.Get(key)
		if st == nil || st.Cursor == "" || st.Completed {
			return Result{}, ErrNothingToResume
		}
		cursor = st.Cursor
		accumulated = st.Timeline
		accountInfo = st.AccountInfo
		logging.Info("fetch_resume", map[string]any{"subject": key, "items": len(accumulated)})
		if accountInfo != nil {
			r.publish(Snapshot{
				Response: model.Response{
					AccountInfo: *accountInfo,
					Timeline:    accumulated,
					TotalURLs:   len(accumulated),
					Metadata:    model.BatchMetadata{HasMore: true},
				},
				HasMore: true,
			})
		}
	} else {
		// Fresh fetch forgets any prior checkpoint before the first request.
		r.States.Clear(key)
		r.Cursors.ClearCursor(key)
		logging.Info("fetch_start", map[string]any{"subject": key, "type": opts.TimelineType})
	}

	metrics.FetchRuns.Inc()
	started := time.Now()
	defer metrics.ObserveFetchDuration(started)

	// Clean up workers left over from an earlier session.
	r.cleanup()

	username := model.CleanUsername(opts.Username)
	if opts.TimelineType == model.TimelineBookmarks {
		username = ""
	}

	hasMore := true
	stopping := false
	page := 0
	for hasMore && !stopping {
		if r.stopRequested(ctx) {
			break
		}
		resp, err := r.Extractor.ExtractPage(ctx, model.TimelineRequest{
			Username:     username,
			AuthToken:    opts.AuthToken,
			TimelineType: opts.TimelineType,
			BatchSize:    r.batchSize(),
			Page:         page,
			MediaType:    opts.MediaType,
			Retweets:     opts.Retweets,
			Cursor:       cursor,
		})
		if err != nil {
			return r.failWith(ctx, key, opts, err)
		}
		metrics.FetchBatches.Inc()

		// Capture account metadata once, from the first batch that has it.
		if accountInfo == nil && resp.AccountInfo != (model.AccountInfo{}) {
			ai := resp.AccountInfo
			if opts.TimelineType == model.TimelineBookmarks {
				ai.Name = model.BookmarksSubject
				ai.Nick = model.BookmarksDisplay
			}
			accountInfo = &ai
		}

		newEntries := len(resp.Timeline)
		accumulated = timeline.Merge(accumulated, resp.Timeline)
		cursor = resp.Cursor
		hasMore = resp.Cursor != "" && !resp.Completed
		page++

		if accountInfo != nil {
			r.publish(Snapshot{
				Response:   r.snapshot(*accountInfo, accumulated, cursor, page, newEntries, hasMore),
				Page:       page,
				NewEntries: newEntries,
				HasMore:    hasMore,
			})
		}
		logging.Info("fetch_batch", map[string]any{"subject": key, "page": page, "total": len(accumulated)})

		// Lightweight cursor checkpoint every batch; the full state below is
		// throttled to bound write amplification on large timelines.
		r.Cursors.SaveCursor(key, cursor)

		stopping = r.stopRequested(ctx)
		if page%r.saveEvery() == 0 || !hasMore || stopping {
			r.persist(ctx, key, opts, cursor, accumulated, accountInfo, !hasMore, page, newEntries)
		}
	}

	if r.stopRequested(ctx) {
		logging.Info("fetch_stopped", map[string]any{"subject": key, "items": len(accumulated)})
		var resp *model.Response
		if accountInfo != nil {
			s := r.snapshot(*accountInfo, accumulated, cursor, page, 0, false)
			s.Completed = false
			s.Metadata.Completed = false
			resp = &s
		}
		return Result{Outcome: Stopped, Response: resp, Total: len(accumulated), Resumable: true}, nil
	}

	// Natural completion: the checkpoint is no longer needed.
	r.States.Clear(key)
	r.Cursors.ClearCursor(key)

	var final *model.Response
	if accountInfo != nil {
		s := r.snapshot(*accountInfo, accumulated, cursor, page, len(accumulated), false)
		final = &s
		r.archiveUpsert(ctx, opts.MediaType, opts.TimelineType, final)
	}
	logging.Info("fetch_completed", map[string]any{"subject": key, "items": len(accumulated)})
	return Result{Outcome: Completed, Response: final, Total: len(accumulated)}, nil
}

// snapshot builds the accumulated response for one point in the session.
func (r *Runner) snapshot(ai model.AccountInfo, entries []model.TimelineEntry, cursor string, page, newEntries int, hasMore bool) model.Response {
	return model.Response{
		AccountInfo: ai,
		Timeline:    entries,
		TotalURLs:   len(entries),
		Metadata: model.BatchMetadata{
			NewEntries: newEntries,
			Page:       page,
			BatchSize:  r.batchSize(),
			HasMore:    hasMore,
			Cursor:     cursor,
			Completed:  !hasMore,
		},
		Cursor:    cursor,
		Completed: !hasMore,
	}
}

// persist checkpoints the session to the state store and mirrors it into the
// durable archive. Both writes are best-effort.
func (r *Runner) persist(ctx context.Context, key string, opts Options, cursor string, entries []model.TimelineEntry, ai *model.AccountInfo, completed bool, page, newEntries int) {
	total := len(entries)
	r.States.Save(key, fetchstate.Update{
		Cursor:       cursor,
		Timeline:     entries,
		AccountInfo:  ai,
		TotalFetched: &total,
		Completed:    completed,
		AuthToken:    opts.AuthToken,
		MediaType:    opts.MediaType,
		Retweets:     &opts.Retweets,
		TimelineType: opts.TimelineType,
	})
	if ai != nil {
		s := r.snapshot(*ai, entries, cursor, page, newEntries, !completed)
		r.archiveUpsert(ctx, opts.MediaType, opts.TimelineType, &s)
	}
}

// archiveUpsert mirrors a snapshot into the durable archive. The likes feed
// is archived under its sentinel identity, not the caller's handle; the
// published snapshots keep the real account metadata.
func (r *Runner) archiveUpsert(ctx context.Context, mediaType, timelineType string, resp *model.Response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		logging.Error("archive_marshal", map[string]any{"error": err.Error()})
		return
	}
	rec := ArchiveRecord{
		Username:     resp.AccountInfo.Name,
		Name:         resp.AccountInfo.Nick,
		ProfileImage: resp.AccountInfo.ProfileImage,
		TotalMedia:   resp.TotalURLs,
		ResponseJSON: string(raw),
		MediaType:    mediaType,
		Cursor:       resp.Cursor,
		Completed:    resp.Completed,
	}
	if timelineType == model.TimelineLikes {
		rec.Username = model.LikesSubject
		rec.Name = model.LikesDisplay
	}
	if err := r.Archive.Upsert(ctx, rec); err != nil {
		logging.Warn("archive_upsert", map[string]any{"subject": rec.Username, "error": err.Error()})
	}
}

// failWith recovers whatever checkpoint survived and reports the failure.
func (r *Runner) failWith(ctx context.Context, key string, opts Options, cause error) (Result, error) {
	metrics.FetchErrors.Inc()
	logging.Error("fetch_failed", map[string]any{"subject": key, "error": cause.Error()})

	st := r.States.Get(key)
	if st == nil || len(st.Timeline) == 0 {
		return Result{Outcome: Failed}, cause
	}
	partial := st.ToResponse()
	if partial != nil {
		partial.Completed = false
		partial.Metadata.Completed = false
		r.archiveUpsert(ctx, opts.MediaType, opts.TimelineType, partial)
	}
	return Result{Outcome: Failed, Response: partial, Total: len(st.Timeline), Resumable: st.Cursor != ""}, cause
}
