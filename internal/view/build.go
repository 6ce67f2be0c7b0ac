package view

import (
	"fmt"
	"time"

	"github.com/samber/lo"

	"rssreader/internal/feed"
	"rssreader/internal/poller"
	"rssreader/internal/store"
)

// BuildState turns a store snapshot plus poll statuses into the
// presentation snapshot. statuses may be nil.
func BuildState(snap store.Snapshot, statuses []poller.FeedStatus, now time.Time) State {
	byFeed := lo.KeyBy(statuses, func(st poller.FeedStatus) feed.FeedID {
		return st.FeedID
	})

	posts := postViews(snap.Posts, snap.UI)
	feeds := lo.Map(feedViews(snap.Feeds, posts), func(fv FeedView, _ int) FeedView {
		if st, ok := byFeed[fv.ID]; ok {
			applyStatus(&fv, st, now)
		}
		return fv
	})

	return State{
		Seq:          snap.Seq,
		Feeds:        feeds,
		Posts:        posts,
		Form:         BuildFormView(snap.Form),
		ActivePostID: snap.UI.ActivePostID,
		ReadPostIDs:  append([]feed.PostID{}, snap.UI.ReadPostIDs...),
	}
}

func postViews(posts []feed.Post, ui store.UIState) []PostView {
	read := lo.SliceToMap(ui.ReadPostIDs, func(id feed.PostID) (feed.PostID, struct{}) {
		return id, struct{}{}
	})
	return lo.Map(posts, func(p feed.Post, _ int) PostView {
		_, isRead := read[p.ID]
		return BuildPostView(p, isRead, p.ID == ui.ActivePostID)
	})
}

// feedViews counts over posts, which must already carry read flags.
func feedViews(feeds []feed.Feed, posts []PostView) []FeedView {
	counts := lo.CountValuesBy(posts, func(p PostView) feed.FeedID { return p.FeedID })
	unread := lo.CountValuesBy(lo.Reject(posts, func(p PostView, _ int) bool { return p.IsRead }), func(p PostView) feed.FeedID {
		return p.FeedID
	})
	return lo.Map(feeds, func(f feed.Feed, _ int) FeedView {
		return BuildFeedView(f, counts[f.ID], unread[f.ID])
	})
}

func BuildFeedView(f feed.Feed, postCount, unreadCount int) FeedView {
	return FeedView{
		ID:          f.ID,
		Title:       f.Title,
		Description: f.Description,
		URL:         f.URL,
		PostCount:   postCount,
		UnreadCount: unreadCount,
	}
}

func BuildPostView(p feed.Post, isRead, isActive bool) PostView {
	return PostView{
		ID:          p.ID,
		FeedID:      p.FeedID,
		Title:       p.Title,
		Description: p.Description,
		Link:        p.Link,
		IsRead:      isRead,
		IsActive:    isActive,
	}
}

func BuildFormView(form store.FormState) FormView {
	return FormView{
		ProcessState: string(form.ProcessState),
		Error:        form.Error,
		Message:      form.Error.Message(),
	}
}

// BuildChange converts a store change into its wire form. Read and active
// flags and per-feed counts come from snap, taken while the change is
// delivered.
func BuildChange(c store.Change, snap store.Snapshot) Change {
	return Change{
		Seq:    c.Seq,
		Region: string(c.Region),
		Value:  changeValue(c.Region, c.New, snap),
		Old:    changeValue(c.Region, c.Old, snap),
	}
}

func changeValue(region store.Region, v any, snap store.Snapshot) any {
	switch region {
	case store.RegionFeeds:
		feeds, _ := v.([]feed.Feed)
		return feedViews(feeds, postViews(snap.Posts, snap.UI))
	case store.RegionPosts:
		posts, _ := v.([]feed.Post)
		return postViews(posts, snap.UI)
	case store.RegionFormError:
		kind, _ := v.(feed.ErrorKind)
		return FormView{Error: kind, Message: kind.Message()}
	case store.RegionReadPosts:
		ids, _ := v.([]feed.PostID)
		return append([]feed.PostID{}, ids...)
	default:
		return v
	}
}

func applyStatus(fv *FeedView, st poller.FeedStatus, now time.Time) {
	fv.PollState = string(st.State)
	fv.LastPollDisplay = "Never"
	if !st.LastPolled.IsZero() {
		fv.LastPollDisplay = FormatRelativeShort(st.LastPolled, now)
	}
	fv.LastError = st.LastError
	fv.LastErrorMessage = st.LastError.Message()
}

func FormatRelativeShort(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "na"
	}
	age := now.Sub(t)
	if age < 0 {
		age = 0
	}
	switch {
	case age < time.Minute:
		return fmt.Sprintf("%ds", int(age.Seconds()))
	case age < time.Hour:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	default:
		return fmt.Sprintf("%dd", int(age.Hours()/24))
	}
}
