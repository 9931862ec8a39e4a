package model

import (
	"regexp"
	"strings"
)

var profileURLRe = regexp.MustCompile(`(?:x\.com|twitter\.com)/([^/?#]+)`)

// CleanUsername strips a leading @ and extracts the handle from x.com or
// twitter.com profile URLs pasted as input.
func CleanUsername(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "@")
	if strings.Contains(s, "x.com/") || strings.Contains(s, "twitter.com/") {
		if m := profileURLRe.FindStringSubmatch(s); m != nil {
			s = m[1]
		}
	}
	return s
}

// SubjectKey normalizes a subject identity for use as a state or archive key.
// Bookmarks ignore the username entirely.
func SubjectKey(username, timelineType string) string {
	if timelineType == TimelineBookmarks {
		return BookmarksSubject
	}
	return strings.ToLower(CleanUsername(username))
}
