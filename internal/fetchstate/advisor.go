package fetchstate

import (
	"time"

	"magpie/internal/model"
)

// ResumableInfo reports whether a subject's prior fetch can be continued.
type ResumableInfo struct {
	CanResume   bool
	MediaCount  int
	LastUpdated time.Time
}

// ResumableInfo derives resume eligibility for key: a record must exist,
// be incomplete, and still hold a cursor. Pure read.
func (s *Store) ResumableInfo(key string) ResumableInfo {
	st := s.Get(key)
	if st == nil || st.Completed || st.Cursor == "" {
		return ResumableInfo{}
	}
	return ResumableInfo{CanResume: true, MediaCount: len(st.Timeline), LastUpdated: st.LastUpdated}
}

// HasResumable additionally requires at least one accumulated entry, so an
// empty checkpoint is not offered as a resume.
func (s *Store) HasResumable(key string) bool {
	st := s.Get(key)
	return st != nil && st.Cursor != "" && !st.Completed && len(st.Timeline) > 0
}

// ToResponse converts a checkpoint into the extractor's response shape, for
// surfacing partial results. Returns nil when no account metadata was ever
// captured.
func (st *FetchState) ToResponse() *model.Response {
	if st == nil || st.AccountInfo == nil {
		return nil
	}
	return &model.Response{
		AccountInfo: *st.AccountInfo,
		TotalURLs:   len(st.Timeline),
		Timeline:    st.Timeline,
		Metadata: model.BatchMetadata{
			NewEntries: len(st.Timeline),
			HasMore:    !st.Completed,
			Cursor:     st.Cursor,
			Completed:  st.Completed,
		},
		Cursor:    st.Cursor,
		Completed: st.Completed,
	}
}
