// Package fetchstate persists resumable fetch progress per subject.
package fetchstate

import (
	"encoding/json"
	"strings"
	"time"

	"magpie/internal/logging"
	"magpie/internal/metrics"
	"magpie/internal/model"
)

// FetchState is the resumable unit for one subject: where the fetch stands
// and everything needed to continue it after a stop, crash, or restart.
type FetchState struct {
	Username     string                `json:"username"`
	Cursor       string                `json:"cursor"`
	Timeline     []model.TimelineEntry `json:"timeline"`
	AccountInfo  *model.AccountInfo    `json:"account_info"`
	TotalFetched int                   `json:"total_fetched"`
	Completed    bool                  `json:"completed"`
	LastUpdated  time.Time             `json:"last_updated"` // display only
	AuthToken    string                `json:"auth_token"`
	MediaType    string                `json:"media_type"`
	Retweets     bool                  `json:"retweets"`
	TimelineType string                `json:"timeline_type"`
}

// Update is a partial state write. Cursor and Completed always overwrite
// (zero value included); slices, strings, and pointer fields fall back to
// the prior record when unset.
type Update struct {
	Cursor       string
	Timeline     []model.TimelineEntry
	AccountInfo  *model.AccountInfo
	TotalFetched *int
	Completed    bool
	AuthToken    string
	MediaType    string
	Retweets     *bool
	TimelineType string
}

// Store manages the mapping from subject key to FetchState over an injected
// blob backend. All persistence failures in Save and the clear operations
// are logged and swallowed: losing a checkpoint must never kill a fetch.
type Store struct {
	backend Backend
}

func NewStore(b Backend) *Store { return &Store{backend: b} }

func normalize(key string) string { return strings.ToLower(strings.TrimSpace(key)) }

// Save applies a partial update on top of the existing record for key and
// writes the whole mapping back, stamping LastUpdated.
func (s *Store) Save(key string, u Update) {
	k := normalize(key)
	all := s.loadAll()
	prev := all[k]

	st := FetchState{
		Username:     k,
		Cursor:       u.Cursor,
		Completed:    u.Completed,
		LastUpdated:  time.Now().UTC(),
		Timeline:     u.Timeline,
		MediaType:    u.MediaType,
		AuthToken:    u.AuthToken,
		TimelineType: u.TimelineType,
		AccountInfo:  u.AccountInfo,
	}
	if st.Timeline == nil && prev != nil {
		st.Timeline = prev.Timeline
	}
	if st.AccountInfo == nil && prev != nil {
		st.AccountInfo = prev.AccountInfo
	}
	if u.TotalFetched != nil {
		st.TotalFetched = *u.TotalFetched
	} else if prev != nil {
		st.TotalFetched = prev.TotalFetched
	}
	if st.AuthToken == "" && prev != nil {
		st.AuthToken = prev.AuthToken
	}
	if st.MediaType == "" {
		if prev != nil && prev.MediaType != "" {
			st.MediaType = prev.MediaType
		} else {
			st.MediaType = model.MediaAll
		}
	}
	if u.Retweets != nil {
		st.Retweets = *u.Retweets
	} else if prev != nil {
		st.Retweets = prev.Retweets
	}
	if st.TimelineType == "" {
		if prev != nil && prev.TimelineType != "" {
			st.TimelineType = prev.TimelineType
		} else {
			st.TimelineType = model.TimelineDefault
		}
	}

	all[k] = &st
	s.storeAll(all, "save_fetch_state")
	metrics.StateSaves.Inc()
}

// Get returns the record for key, or nil if absent or unreadable.
func (s *Store) Get(key string) *FetchState {
	return s.loadAll()[normalize(key)]
}

// Clear removes the record for key. No-op if absent.
func (s *Store) Clear(key string) {
	all := s.loadAll()
	k := normalize(key)
	if _, ok := all[k]; !ok {
		return
	}
	delete(all, k)
	s.storeAll(all, "clear_fetch_state")
}

// ClearAllIncomplete drops every record that never reached completion.
// Maintenance sweep, not part of the fetch path.
func (s *Store) ClearAllIncomplete() {
	all := s.loadAll()
	kept := make(map[string]*FetchState)
	for k, st := range all {
		if st.Completed {
			kept[k] = st
		}
	}
	s.storeAll(kept, "clear_incomplete_fetch_states")
}

// All returns the whole mapping, for inspection commands.
func (s *Store) All() map[string]*FetchState { return s.loadAll() }

func (s *Store) loadAll() map[string]*FetchState {
	b, err := s.backend.Load()
	if err != nil {
		logging.Error("load_fetch_state", map[string]any{"error": err.Error()})
		return map[string]*FetchState{}
	}
	if len(b) == 0 {
		return map[string]*FetchState{}
	}
	var all map[string]*FetchState
	if err := json.Unmarshal(b, &all); err != nil {
		logging.Error("parse_fetch_state", map[string]any{"error": err.Error()})
		return map[string]*FetchState{}
	}
	if all == nil {
		all = map[string]*FetchState{}
	}
	return all
}

func (s *Store) storeAll(all map[string]*FetchState, op string) {
	b, err := json.Marshal(all)
	if err != nil {
		logging.Error(op, map[string]any{"error": err.Error()})
		return
	}
	if err := s.backend.Store(b); err != nil {
		logging.Error(op, map[string]any{"error": err.Error()})
	}
}
