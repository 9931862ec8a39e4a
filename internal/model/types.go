package model

// Timeline collection kinds accepted by the extraction service.
const (
	TimelineDefault   = "timeline"
	TimelineBookmarks = "bookmarks"
	TimelineLikes     = "likes"
)

// Media filters accepted by the extraction service.
const (
	MediaAll   = "all"
	MediaImage = "image"
	MediaVideo = "video"
	MediaGIF   = "gif"
	MediaText  = "text"
)

// Sentinel subjects for the caller's own private collections. Bookmarks and
// likes are not real accounts, so the archive and fetch state key them by
// these fixed handles.
const (
	BookmarksSubject = "bookmarks"
	BookmarksDisplay = "My Bookmarks"
	LikesSubject     = "likes"
	LikesDisplay     = "My Likes"
)

// AccountInfo is the subject metadata the extractor reports once per session,
// from the first non-empty batch.
type AccountInfo struct {
	Name           string `json:"name"` // handle
	Nick           string `json:"nick"` // display name
	Date           string `json:"date"` // join date
	FollowersCount int    `json:"followers_count"`
	FriendsCount   int    `json:"friends_count"`
	ProfileImage   string `json:"profile_image"`
	StatusesCount  int    `json:"statuses_count"`
}

// TimelineEntry is one media or text item belonging to a tweet. A tweet with
// several media produces several entries sharing the same TweetID.
type TimelineEntry struct {
	URL              string `json:"url"`
	Date             string `json:"date"`
	TweetID          string `json:"tweet_id"`
	Type             string `json:"type"` // photo, video, gif, text
	IsRetweet        bool   `json:"is_retweet"`
	Extension        string `json:"extension,omitempty"`
	Width            int    `json:"width,omitempty"`
	Height           int    `json:"height,omitempty"`
	Content          string `json:"content,omitempty"`
	ViewCount        int    `json:"view_count,omitempty"`
	BookmarkCount    int    `json:"bookmark_count,omitempty"`
	FavoriteCount    int    `json:"favorite_count,omitempty"`
	RetweetCount     int    `json:"retweet_count,omitempty"`
	ReplyCount       int    `json:"reply_count,omitempty"`
	Source           string `json:"source,omitempty"`
	Verified         bool   `json:"verified,omitempty"`
	OriginalFilename string `json:"original_filename,omitempty"`
	AuthorUsername   string `json:"author_username,omitempty"` // set for bookmarks and likes feeds
}

// BatchMetadata describes one page of results.
type BatchMetadata struct {
	NewEntries int    `json:"new_entries"`
	Page       int    `json:"page"`
	BatchSize  int    `json:"batch_size"`
	HasMore    bool   `json:"has_more"`
	Cursor     string `json:"cursor,omitempty"`
	Completed  bool   `json:"completed,omitempty"`
}

// Response is the extractor's result shape, also used for accumulated
// snapshots published to callers and archived to the database.
type Response struct {
	AccountInfo AccountInfo     `json:"account_info"`
	TotalURLs   int             `json:"total_urls"`
	Timeline    []TimelineEntry `json:"timeline"`
	Metadata    BatchMetadata   `json:"metadata"`
	Cursor      string          `json:"cursor,omitempty"`
	Completed   bool            `json:"completed,omitempty"`
}

// TimelineRequest asks the extraction service for one page.
type TimelineRequest struct {
	Username     string `json:"username"` // empty for bookmarks
	AuthToken    string `json:"auth_token"`
	TimelineType string `json:"timeline_type"`
	BatchSize    int    `json:"batch_size"`
	Page         int    `json:"page"` // zero-based page counter
	MediaType    string `json:"media_type"`
	Retweets     bool   `json:"retweets"`
	Cursor       string `json:"cursor,omitempty"` // resume position
}

// DateRangeRequest asks the extraction service for a complete result between
// two dates in one shot. No cursor, no resume.
type DateRangeRequest struct {
	Username    string `json:"username"`
	AuthToken   string `json:"auth_token"`
	StartDate   string `json:"start_date"` // YYYY-MM-DD
	EndDate     string `json:"end_date"`   // YYYY-MM-DD
	MediaFilter string `json:"media_filter"`
	Retweets    bool   `json:"retweets"`
}
