package store

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rssreader/internal/feed"
)

func TestHandlersObserveCompletedMutation(t *testing.T) {
	s := New()
	f := testFeed("a")

	var postsSeen int
	unsubscribe := s.Subscribe(func(c Change) {
		if c.Region == RegionFeeds {
			postsSeen = len(s.Snapshot().Posts)
		}
	})
	defer unsubscribe()

	require.NoError(t, s.AddFeed(f, testPosts(f, "1", "2", "3")))
	assert.Equal(t, 3, postsSeen)
}

func TestReentrantMutationIsDeliveredAfterCurrentChange(t *testing.T) {
	s := New()
	f := testFeed("a")
	posts := testPosts(f, "1", "2")

	rec := &recorder{}
	defer s.Subscribe(func(c Change) {
		if c.Region == RegionPosts {
			require.NoError(t, s.MarkRead(posts[0].ID))
		}
	})()
	defer s.Subscribe(rec.handle)()

	require.NoError(t, s.AddFeed(f, posts))

	assert.Equal(t, []Region{RegionFeeds, RegionPosts, RegionReadPosts}, rec.regions())
	changes := rec.all()
	for i := 1; i < len(changes); i++ {
		assert.Greater(t, changes[i].Seq, changes[i-1].Seq)
	}
	assert.True(t, s.UI().IsRead(posts[0].ID))
}

func TestPanickingHandlerDoesNotStopDelivery(t *testing.T) {
	s := New()
	defer s.Subscribe(func(Change) { panic("boom") })()
	rec := &recorder{}
	defer s.Subscribe(rec.handle)()

	require.NoError(t, s.SetProcessState(Sending, feed.KindNone))
	require.NoError(t, s.SetProcessState(Finished, feed.KindNone))

	assert.Equal(t, []Region{RegionProcessState, RegionProcessState}, rec.regions())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := New()
	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.handle)

	require.NoError(t, s.SetProcessState(Sending, feed.KindNone))
	unsubscribe()
	unsubscribe()
	require.NoError(t, s.SetProcessState(Finished, feed.KindNone))

	assert.Len(t, rec.all(), 1)
}

func TestChangesCarryOldAndNewValues(t *testing.T) {
	s, rec := newRecordedStore(t)

	require.NoError(t, s.SetProcessState(Failed, feed.KindParse))

	changes := rec.all()
	require.Len(t, changes, 2)
	assert.Equal(t, Filling, changes[0].Old)
	assert.Equal(t, Failed, changes[0].New)
	assert.Equal(t, feed.KindNone, changes[1].Old)
	assert.Equal(t, feed.KindParse, changes[1].New)
}

func TestConcurrentMutationsDeliverInSequence(t *testing.T) {
	s := New()
	f := testFeed("a")
	links := make([]string, 50)
	for i := range links {
		links[i] = fmt.Sprint(i)
	}
	posts := testPosts(f, links...)
	require.NoError(t, s.AddFeed(f, posts))

	rec := &recorder{}
	defer s.Subscribe(rec.handle)()

	var wg sync.WaitGroup
	for _, p := range posts {
		wg.Add(1)
		go func(id feed.PostID) {
			defer wg.Done()
			assert.NoError(t, s.MarkRead(id))
		}(p.ID)
	}
	wg.Wait()

	// A mutator may return while another goroutine is still draining.
	require.Eventually(t, func() bool {
		return len(rec.all()) == len(posts)
	}, time.Second, time.Millisecond)

	changes := rec.all()
	for i := 1; i < len(changes); i++ {
		assert.Equal(t, changes[i-1].Seq+1, changes[i].Seq)
		prev := changes[i-1].New.([]feed.PostID)
		assert.Equal(t, prev, changes[i].Old)
	}
	assert.Len(t, s.UI().ReadPostIDs, len(posts))
}
