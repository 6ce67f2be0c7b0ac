package view

import "rssreader/internal/feed"

// FeedView is the presentation record for one feed in the feed list.
type FeedView struct {
	ID               feed.FeedID    `json:"id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	URL              string         `json:"url"`
	PostCount        int            `json:"postCount"`
	UnreadCount      int            `json:"unreadCount"`
	PollState        string         `json:"pollState,omitempty"`
	LastPollDisplay  string         `json:"lastPoll,omitempty"`
	LastError        feed.ErrorKind `json:"lastError,omitempty"`
	LastErrorMessage string         `json:"lastErrorMessage,omitempty"`
}

// PostView is the presentation record for one post row.
type PostView struct {
	ID          feed.PostID `json:"id"`
	FeedID      feed.FeedID `json:"feedId"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Link        string      `json:"link"`
	IsRead      bool        `json:"isRead"`
	IsActive    bool        `json:"isActive"`
}

// FormView is the submission form as shown to the user.
type FormView struct {
	ProcessState string         `json:"processState"`
	Error        feed.ErrorKind `json:"error,omitempty"`
	Message      string         `json:"message,omitempty"`
}

// State is the full presentation snapshot.
type State struct {
	Seq          uint64        `json:"seq"`
	Feeds        []FeedView    `json:"feeds"`
	Posts        []PostView    `json:"posts"`
	Form         FormView      `json:"form"`
	ActivePostID feed.PostID   `json:"activePostId,omitempty"`
	ReadPostIDs  []feed.PostID `json:"readPostIds"`
}

// Change is one propagated region change in wire form.
type Change struct {
	Seq    uint64 `json:"seq"`
	Region string `json:"region"`
	Value  any    `json:"value"`
	Old    any    `json:"old"`
}
