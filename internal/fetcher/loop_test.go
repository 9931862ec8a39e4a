package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"magpie/internal/fetchstate"
	"magpie/internal/model"
)

// scriptedExtractor serves a fixed sequence of pages.
type scriptedExtractor struct {
	pages     []model.Response
	errAt     int // 1-based call number that fails; 0 = never
	reqs      []model.TimelineRequest
	rangeResp model.Response
	rangeReqs []model.DateRangeRequest
	afterPage func(page int)
	cleanups  int
}

func (f *scriptedExtractor) ExtractPage(ctx context.Context, req model.TimelineRequest) (model.Response, error) {
	f.reqs = append(f.reqs, req)
	n := len(f.reqs)
	if f.errAt != 0 && n == f.errAt {
		return model.Response{}, errors.New("extractor status 429: rate limited")
	}
	var resp model.Response
	if n <= len(f.pages) {
		resp = f.pages[n-1]
	}
	if f.afterPage != nil {
		f.afterPage(n)
	}
	return resp, nil
}

func (f *scriptedExtractor) ExtractRange(ctx context.Context, req model.DateRangeRequest) (model.Response, error) {
	f.rangeReqs = append(f.rangeReqs, req)
	return f.rangeResp, nil
}

func (f *scriptedExtractor) Cleanup(ctx context.Context) error {
	f.cleanups++
	return nil
}

// recordingArchiver captures every upsert.
type recordingArchiver struct{ recs []ArchiveRecord }

func (a *recordingArchiver) Upsert(ctx context.Context, rec ArchiveRecord) error {
	a.recs = append(a.recs, rec)
	return nil
}

// spyBackend records the accumulated timeline length for a key at each
// persisted write.
type spyBackend struct {
	inner  *fetchstate.MemoryBackend
	key    string
	totals []int
}

func (s *spyBackend) Load() ([]byte, error) { return s.inner.Load() }

func (s *spyBackend) Store(b []byte) error {
	var all map[string]fetchstate.FetchState
	if err := json.Unmarshal(b, &all); err == nil {
		if st, ok := all[s.key]; ok {
			s.totals = append(s.totals, len(st.Timeline))
		}
	}
	return s.inner.Store(b)
}

func page(n, count int, cursor string, withAccount bool) model.Response {
	entries := make([]model.TimelineEntry, 0, count)
	for i := 0; i < count; i++ {
		entries = append(entries, model.TimelineEntry{
			TweetID: fmt.Sprintf("p%d-%d", n, i),
			URL:     fmt.Sprintf("https://pbs.twimg.com/media/p%d-%d.jpg", n, i),
			Type:    "photo",
		})
	}
	resp := model.Response{Timeline: entries, Cursor: cursor}
	if withAccount {
		resp.AccountInfo = model.AccountInfo{Name: "alice", Nick: "Alice", ProfileImage: "https://pbs.twimg.com/alice.jpg", FollowersCount: 42}
	}
	return resp
}

func threePages() []model.Response {
	return []model.Response{
		page(1, 200, "c1", true),
		page(2, 200, "c2", false),
		page(3, 50, "", false),
	}
}

func newTestRunner(ext *scriptedExtractor) (*Runner, *fetchstate.Store, *recordingArchiver) {
	states := fetchstate.NewStore(fetchstate.NewMemoryBackend())
	arch := &recordingArchiver{}
	r := NewRunner(ext, states, arch, nil)
	return r, states, arch
}

func alice(resume bool) Options {
	return Options{Username: "alice", AuthToken: "tok", Resume: resume}
}

func TestFreshFetchCompletes(t *testing.T) {
	ext := &scriptedExtractor{pages: threePages()}
	r, states, arch := newTestRunner(ext)

	res, err := r.Run(context.Background(), alice(false))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Completed || res.Total != 450 {
		t.Fatalf("expected completed with 450 items, got %s/%d", res.Outcome, res.Total)
	}
	if res.Response == nil || res.Response.TotalURLs != 450 || !res.Response.Completed {
		t.Fatalf("unexpected final response: %+v", res.Response)
	}

	// Cursor progression across requests.
	if len(ext.reqs) != 3 {
		t.Fatalf("expected 3 pages, got %d", len(ext.reqs))
	}
	if ext.reqs[0].Cursor != "" || ext.reqs[1].Cursor != "c1" || ext.reqs[2].Cursor != "c2" {
		t.Fatalf("cursor progression wrong: %q %q %q", ext.reqs[0].Cursor, ext.reqs[1].Cursor, ext.reqs[2].Cursor)
	}
	if ext.reqs[0].Page != 0 || ext.reqs[2].Page != 2 {
		t.Fatalf("page counter wrong: %d..%d", ext.reqs[0].Page, ext.reqs[2].Page)
	}

	// Natural completion leaves nothing to resume.
	if states.Get("alice") != nil {
		t.Fatal("completed fetch should clear its checkpoint")
	}
	if states.ResumableInfo("alice").CanResume {
		t.Fatal("completed fetch must not be resumable")
	}

	last := arch.recs[len(arch.recs)-1]
	if !last.Completed || last.TotalMedia != 450 || last.Username != "alice" {
		t.Fatalf("final archive record wrong: %+v", last)
	}
}

func TestStopAfterSecondPage(t *testing.T) {
	ext := &scriptedExtractor{pages: threePages()}
	r, states, _ := newTestRunner(ext)
	ext.afterPage = func(p int) {
		if p == 2 {
			r.Stop()
		}
	}

	res, err := r.Run(context.Background(), alice(false))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Stopped || res.Total != 400 || !res.Resumable {
		t.Fatalf("expected stopped at 400 resumable, got %+v", res)
	}
	if len(ext.reqs) != 2 {
		t.Fatalf("expected 2 pages before stop, got %d", len(ext.reqs))
	}

	st := states.Get("alice")
	if st == nil || st.Cursor != "c2" || st.Completed {
		t.Fatalf("checkpoint wrong after stop: %+v", st)
	}
	info := states.ResumableInfo("alice")
	if !info.CanResume || info.MediaCount != 400 {
		t.Fatalf("expected resumable with 400 items, got %+v", info)
	}
	if ext.cleanups == 0 {
		t.Fatal("stop should trigger extractor cleanup")
	}
}

func TestPersistenceCadence(t *testing.T) {
	var pages []model.Response
	for i := 1; i <= 10; i++ {
		cursor := fmt.Sprintf("c%d", i)
		if i == 10 {
			cursor = ""
		}
		pages = append(pages, page(i, 200, cursor, i == 1))
	}
	ext := &scriptedExtractor{pages: pages}
	backend := &spyBackend{inner: fetchstate.NewMemoryBackend(), key: "alice"}
	r := NewRunner(ext, fetchstate.NewStore(backend), &recordingArchiver{}, nil)
	res, err := r.Run(context.Background(), alice(false))
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 2000 {
		t.Fatalf("expected 2000 items, got %d", res.Total)
	}

	// Saves land after batches 3, 6, 9 and the final batch only.
	want := []int{600, 1200, 1800, 2000}
	if len(backend.totals) != len(want) {
		t.Fatalf("expected %d state saves, got %d (%v)", len(want), len(backend.totals), backend.totals)
	}
	for i, n := range want {
		if backend.totals[i] != n {
			t.Fatalf("save %d persisted %d items, want %d", i, backend.totals[i], n)
		}
	}
}

func TestFreshStartClearsPriorState(t *testing.T) {
	ext := &scriptedExtractor{pages: []model.Response{page(1, 10, "", true)}}
	r, states, _ := newTestRunner(ext)

	states.Save("alice", fetchstate.Update{Cursor: "stale", Timeline: page(9, 5, "", false).Timeline})

	res, err := r.Run(context.Background(), alice(false))
	if err != nil {
		t.Fatal(err)
	}
	if ext.reqs[0].Cursor != "" {
		t.Fatalf("fresh start must not reuse the stale cursor, sent %q", ext.reqs[0].Cursor)
	}
	if res.Total != 10 {
		t.Fatalf("stale entries leaked into result: %d", res.Total)
	}
}

func TestResumeContinuesFromCursor(t *testing.T) {
	ext := &scriptedExtractor{pages: []model.Response{page(3, 50, "", false)}}
	r, states, _ := newTestRunner(ext)

	prior := append(page(1, 200, "", false).Timeline, page(2, 200, "", false).Timeline...)
	states.Save("alice", fetchstate.Update{
		Cursor:      "c2",
		Timeline:    prior,
		AccountInfo: &model.AccountInfo{Name: "alice", Nick: "Alice"},
	})

	res, err := r.Run(context.Background(), alice(true))
	if err != nil {
		t.Fatal(err)
	}
	if ext.reqs[0].Cursor != "c2" {
		t.Fatalf("resume must continue from saved cursor, sent %q", ext.reqs[0].Cursor)
	}
	if res.Outcome != Completed || res.Total != 450 {
		t.Fatalf("expected completion with 450 items, got %s/%d", res.Outcome, res.Total)
	}
	if states.Get("alice") != nil {
		t.Fatal("completed resume should clear the checkpoint")
	}
}

func TestResumeWithoutStateFailsFast(t *testing.T) {
	ext := &scriptedExtractor{}
	r, states, _ := newTestRunner(ext)

	if _, err := r.Run(context.Background(), alice(true)); !errors.Is(err, ErrNothingToResume) {
		t.Fatalf("expected ErrNothingToResume, got %v", err)
	}

	// A completed record is equally non-resumable.
	states.Save("alice", fetchstate.Update{Cursor: "", Completed: true})
	if _, err := r.Run(context.Background(), alice(true)); !errors.Is(err, ErrNothingToResume) {
		t.Fatalf("expected ErrNothingToResume, got %v", err)
	}
	if len(ext.reqs) != 0 {
		t.Fatalf("no network call may happen before resume validation, got %d", len(ext.reqs))
	}
}

func TestValidationBeforeLoop(t *testing.T) {
	ext := &scriptedExtractor{}
	r, _, _ := newTestRunner(ext)

	if _, err := r.Run(context.Background(), Options{Username: "alice"}); !errors.Is(err, ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
	if _, err := r.Run(context.Background(), Options{AuthToken: "tok"}); !errors.Is(err, ErrUsernameRequired) {
		t.Fatalf("expected ErrUsernameRequired, got %v", err)
	}
	if len(ext.reqs) != 0 {
		t.Fatal("validation failures must not reach the extractor")
	}
}

func TestBookmarksNeedNoUsernameAndGetSentinelIdentity(t *testing.T) {
	ext := &scriptedExtractor{pages: []model.Response{page(1, 5, "", true)}}
	r, _, arch := newTestRunner(ext)

	res, err := r.Run(context.Background(), Options{AuthToken: "tok", TimelineType: model.TimelineBookmarks})
	if err != nil {
		t.Fatal(err)
	}
	if ext.reqs[0].Username != "" {
		t.Fatalf("bookmarks request must not carry a username, got %q", ext.reqs[0].Username)
	}
	ai := res.Response.AccountInfo
	if ai.Name != model.BookmarksSubject || ai.Nick != model.BookmarksDisplay {
		t.Fatalf("sentinel identity not applied: %+v", ai)
	}
	if arch.recs[len(arch.recs)-1].Username != model.BookmarksSubject {
		t.Fatal("archive should be keyed by the bookmarks sentinel")
	}
}

func TestLikesArchivedUnderSentinelIdentity(t *testing.T) {
	ext := &scriptedExtractor{pages: []model.Response{page(1, 5, "", true)}}
	r, states, arch := newTestRunner(ext)

	res, err := r.Run(context.Background(), Options{
		Username:     "alice",
		AuthToken:    "tok",
		TimelineType: model.TimelineLikes,
	})
	if err != nil {
		t.Fatal(err)
	}
	last := arch.recs[len(arch.recs)-1]
	if last.Username != model.LikesSubject || last.Name != model.LikesDisplay {
		t.Fatalf("likes should be archived under the sentinel, got %+v", last)
	}
	// Published snapshots keep the real account metadata.
	if res.Response.AccountInfo.Name != "alice" {
		t.Fatalf("snapshot identity overridden: %+v", res.Response.AccountInfo)
	}
	// The checkpoint is keyed by the caller's handle.
	if states.Get("alice") != nil {
		t.Fatal("completed likes fetch should clear its checkpoint")
	}
}

func TestExtractorFailureSurfacesPartialResult(t *testing.T) {
	var pages []model.Response
	for i := 1; i <= 3; i++ {
		pages = append(pages, page(i, 200, fmt.Sprintf("c%d", i), i == 1))
	}
	ext := &scriptedExtractor{pages: pages, errAt: 4}
	r, states, arch := newTestRunner(ext)

	res, err := r.Run(context.Background(), alice(false))
	if err == nil {
		t.Fatal("expected the extractor error to surface")
	}
	if res.Outcome != Failed {
		t.Fatalf("expected failed outcome, got %s", res.Outcome)
	}
	// The page-3 checkpoint carries 600 items; they come back as a partial.
	if res.Total != 600 || !res.Resumable || res.Response == nil || res.Response.Completed {
		t.Fatalf("partial recovery wrong: %+v", res)
	}
	last := arch.recs[len(arch.recs)-1]
	if last.Completed || last.TotalMedia != 600 {
		t.Fatalf("partial archive record wrong: %+v", last)
	}
	if !states.ResumableInfo("alice").CanResume {
		t.Fatal("failed fetch with checkpoint should remain resumable")
	}
}

func TestExtractorFailureWithoutCheckpoint(t *testing.T) {
	ext := &scriptedExtractor{errAt: 1}
	r, _, _ := newTestRunner(ext)
	res, err := r.Run(context.Background(), alice(false))
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Response != nil || res.Total != 0 || res.Resumable {
		t.Fatalf("expected empty failed result, got %+v", res)
	}
}

func TestSnapshotsNeverShrink(t *testing.T) {
	ext := &scriptedExtractor{pages: threePages()}
	r, _, _ := newTestRunner(ext)
	var totals []int
	r.Progress = func(s Snapshot) { totals = append(totals, s.Response.TotalURLs) }

	if _, err := r.Run(context.Background(), alice(false)); err != nil {
		t.Fatal(err)
	}
	if len(totals) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(totals))
	}
	for i := 1; i < len(totals); i++ {
		if totals[i] < totals[i-1] {
			t.Fatalf("snapshot totals shrank: %v", totals)
		}
	}
}

func TestRunIsExclusive(t *testing.T) {
	ext := &scriptedExtractor{pages: []model.Response{page(1, 1, "", true)}}
	r, _, _ := newTestRunner(ext)
	var busyErr error
	ext.afterPage = func(int) {
		_, busyErr = r.Run(context.Background(), alice(false))
	}
	if _, err := r.Run(context.Background(), alice(false)); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(busyErr, ErrBusy) {
		t.Fatalf("expected ErrBusy for overlapping session, got %v", busyErr)
	}
}

func TestContextCancelStopsLoop(t *testing.T) {
	ext := &scriptedExtractor{pages: threePages()}
	r, states, _ := newTestRunner(ext)
	ctx, cancel := context.WithCancel(context.Background())
	ext.afterPage = func(p int) {
		if p == 1 {
			cancel()
		}
	}

	res, err := r.Run(ctx, alice(false))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Stopped || res.Total != 200 {
		t.Fatalf("expected stop at 200, got %s/%d", res.Outcome, res.Total)
	}
	if st := states.Get("alice"); st == nil || st.Cursor != "c1" {
		t.Fatalf("checkpoint missing after cancel: %+v", st)
	}
}
