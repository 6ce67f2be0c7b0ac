package store

import (
	"fmt"
	"slices"

	"rssreader/internal/feed"
)

// ProcessState is the submission form's lifecycle state.
type ProcessState string

const (
	Filling  ProcessState = "filling"
	Sending  ProcessState = "sending"
	Finished ProcessState = "finished"
	Failed   ProcessState = "failed"
)

// mustValidate panics on values outside the four known states: an unknown
// state is a programming error.
func (s ProcessState) mustValidate() {
	switch s {
	case Filling, Sending, Finished, Failed:
		return
	default:
		panic(fmt.Sprintf("store: unknown process state %q", string(s)))
	}
}

type FormState struct {
	ProcessState ProcessState   `json:"processState"`
	Error        feed.ErrorKind `json:"error"`
}

// UIState holds presentation-only state. ReadPostIDs is in the order posts
// were first marked read.
type UIState struct {
	ActivePostID feed.PostID   `json:"activePostId"`
	ReadPostIDs  []feed.PostID `json:"readPostIds"`
}

func (u UIState) IsRead(id feed.PostID) bool {
	return slices.Contains(u.ReadPostIDs, id)
}

// Snapshot is a consistent copy of the whole store.
type Snapshot struct {
	Seq   uint64      `json:"seq"`
	Feeds []feed.Feed `json:"feeds"`
	Posts []feed.Post `json:"posts"`
	Form  FormState   `json:"form"`
	UI    UIState     `json:"uiState"`
}
