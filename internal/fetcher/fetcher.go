// Package fetcher runs the resumable batch-fetch loop against the extraction
// service, accumulating a subject's media timeline across pages.
package fetcher

import (
	"context"
	"errors"

	"magpie/internal/model"
)

// Validation and state errors reported before any network call is made.
var (
	ErrBusy             = errors.New("fetch already in progress")
	ErrUsernameRequired = errors.New("username is required")
	ErrAuthRequired     = errors.New("auth token is required")
	ErrNothingToResume  = errors.New("no resumable fetch found")
	ErrDatesRequired    = errors.New("start and end dates are required")
)

// Options configures one fetch session.
type Options struct {
	Username     string
	AuthToken    string
	TimelineType string // timeline, bookmarks, likes
	MediaType    string // all, image, video, gif, text
	Retweets     bool
	Resume       bool // continue from the saved checkpoint instead of starting over
}

// RangeOptions configures a single-shot date-bounded fetch. Public subjects
// only; no cursor, no resume.
type RangeOptions struct {
	Username  string
	AuthToken string
	StartDate string // YYYY-MM-DD
	EndDate   string
	MediaType string
	Retweets  bool
}

// Outcome is how a fetch session ended.
type Outcome int

const (
	Completed Outcome = iota // cursor exhausted naturally
	Stopped                  // user-requested stop, checkpoint kept
	Failed                   // extractor error, partial result surfaced if any
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Stopped:
		return "stopped"
	default:
		return "failed"
	}
}

// Result is the terminal report of one session.
type Result struct {
	Outcome   Outcome
	Response  *model.Response // final or partial snapshot; nil if nothing was fetched
	Total     int
	Resumable bool
}

// Snapshot is an incremental progress report published after each batch.
// Snapshots are published in batch order, so totals never shrink.
type Snapshot struct {
	Response   model.Response
	Page       int
	NewEntries int
	HasMore    bool
}

// ProgressFunc receives progress snapshots. May be nil.
type ProgressFunc func(Snapshot)

// ArchiveRecord is the durable snapshot handed to the account archiver.
type ArchiveRecord struct {
	Username     string
	Name         string
	ProfileImage string
	TotalMedia   int
	ResponseJSON string
	MediaType    string
	Cursor       string
	Completed    bool
}

// Archiver upserts a subject's latest snapshot into durable storage. Calls
// are best-effort from the loop's point of view: failures are logged and
// never alter the state machine.
type Archiver interface {
	Upsert(ctx context.Context, rec ArchiveRecord) error
}

// NoopArchiver discards snapshots.
type NoopArchiver struct{}

func (NoopArchiver) Upsert(context.Context, ArchiveRecord) error { return nil }
