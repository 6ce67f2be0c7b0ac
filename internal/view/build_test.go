package view

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rssreader/internal/feed"
	"rssreader/internal/poller"
	"rssreader/internal/store"
)

func sampleSnapshot() store.Snapshot {
	return store.Snapshot{
		Seq: 7,
		Feeds: []feed.Feed{
			{ID: "f1", URL: "https://a.example/rss", Title: "A", Description: "feed a"},
			{ID: "f2", URL: "https://b.example/rss", Title: "B", Description: "feed b"},
		},
		Posts: []feed.Post{
			{ID: "p3", FeedID: "f2", Title: "three", Link: "https://b.example/3"},
			{ID: "p1", FeedID: "f1", Title: "one", Link: "https://a.example/1"},
			{ID: "p2", FeedID: "f1", Title: "two", Link: "https://a.example/2"},
		},
		Form: store.FormState{ProcessState: store.Failed, Error: feed.KindNetwork},
		UI:   store.UIState{ActivePostID: "p1", ReadPostIDs: []feed.PostID{"p1"}},
	}
}

func TestBuildStateCountsAndFlags(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	statuses := []poller.FeedStatus{
		{FeedID: "f1", State: poller.StateIdle, LastPolled: now.Add(-90 * time.Second), LastError: feed.KindParse},
	}

	state := BuildState(sampleSnapshot(), statuses, now)

	assert.Equal(t, uint64(7), state.Seq)
	require.Len(t, state.Feeds, 2)
	assert.Equal(t, 2, state.Feeds[0].PostCount)
	assert.Equal(t, 1, state.Feeds[0].UnreadCount)
	assert.Equal(t, "1m", state.Feeds[0].LastPollDisplay)
	assert.Equal(t, feed.KindParse, state.Feeds[0].LastError)
	assert.Equal(t, "idle", state.Feeds[0].PollState)
	assert.Equal(t, 1, state.Feeds[1].UnreadCount)
	assert.Empty(t, state.Feeds[1].PollState)

	require.Len(t, state.Posts, 3)
	assert.Equal(t, feed.PostID("p3"), state.Posts[0].ID)
	assert.True(t, state.Posts[1].IsRead)
	assert.True(t, state.Posts[1].IsActive)
	assert.False(t, state.Posts[2].IsRead)

	assert.Equal(t, FormView{ProcessState: "failed", Error: feed.KindNetwork, Message: "Network error"}, state.Form)
	assert.Equal(t, []feed.PostID{"p1"}, state.ReadPostIDs)
}

func TestBuildStateEmptyStore(t *testing.T) {
	state := BuildState(store.New().Snapshot(), nil, time.Now())

	assert.Empty(t, state.Feeds)
	assert.Empty(t, state.Posts)
	assert.NotNil(t, state.ReadPostIDs)
	assert.Equal(t, "filling", state.Form.ProcessState)
}

func TestBuildChange(t *testing.T) {
	snap := sampleSnapshot()

	posts := BuildChange(store.Change{Seq: 3, Region: store.RegionPosts, Old: snap.Posts[1:], New: snap.Posts}, snap)
	assert.Equal(t, uint64(3), posts.Seq)
	assert.Equal(t, "posts", posts.Region)
	views, ok := posts.Value.([]PostView)
	require.True(t, ok)
	require.Len(t, views, 3)
	assert.False(t, views[0].IsRead)
	assert.True(t, views[1].IsRead)
	assert.True(t, views[1].IsActive)
	assert.Len(t, posts.Old, 2)

	feeds := BuildChange(store.Change{Seq: 4, Region: store.RegionFeeds, Old: snap.Feeds[:1], New: snap.Feeds}, snap)
	feedViews, ok := feeds.Value.([]FeedView)
	require.True(t, ok)
	require.Len(t, feedViews, 2)
	assert.Equal(t, 2, feedViews[0].PostCount)
	assert.Equal(t, 1, feedViews[0].UnreadCount)
	assert.Equal(t, 1, feedViews[1].PostCount)
	assert.Equal(t, 1, feedViews[1].UnreadCount)

	errChange := BuildChange(store.Change{Region: store.RegionFormError, Old: feed.KindNone, New: feed.KindDuplicateFeed}, snap)
	assert.Equal(t, FormView{Error: feed.KindDuplicateFeed, Message: "RSS already exists"}, errChange.Value)
	assert.Equal(t, FormView{}, errChange.Old)

	stateChange := BuildChange(store.Change{Region: store.RegionProcessState, Old: store.Filling, New: store.Sending}, snap)
	assert.Equal(t, store.Sending, stateChange.Value)
	assert.Equal(t, store.Filling, stateChange.Old)
}

func TestFormatRelativeShort(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		at   time.Time
		want string
	}{
		{time.Time{}, "na"},
		{now.Add(time.Minute), "0s"},
		{now.Add(-30 * time.Second), "30s"},
		{now.Add(-5 * time.Minute), "5m"},
		{now.Add(-3 * time.Hour), "3h"},
		{now.Add(-50 * time.Hour), "2d"},
	}
	for _, tt := range tests {
		if got := FormatRelativeShort(tt.at, now); got != tt.want {
			t.Fatalf("FormatRelativeShort(%v) = %q, want %q", tt.at, got, tt.want)
		}
	}
}
