package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rssreader/internal/feed"
	"rssreader/internal/store"
	"rssreader/internal/testutil"
)

type fixture struct {
	server  *testutil.FeedServer
	store   *store.Store
	parser  *feed.Parser
	fetcher *feed.Fetcher
	metrics *Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := testutil.NewFeedServer(t)
	fetcher, err := feed.NewFetcher(feed.FetcherConfig{}, feed.WithTransport(srv))
	require.NoError(t, err)
	return &fixture{
		server:  srv,
		store:   store.New(),
		parser:  feed.NewParser(testutil.SequentialIDs("id")),
		fetcher: fetcher,
		metrics: NewMetrics(prometheus.NewRegistry()),
	}
}

func (fx *fixture) subscribe(t *testing.T, name string, items []testutil.RSSItem) feed.Feed {
	t.Helper()
	feedURL := testutil.FeedURL(t, name)
	fx.server.SetFeedXML(feedURL, testutil.RSSXML(name, items))

	raw, err := fx.fetcher.Fetch(context.Background(), feedURL)
	require.NoError(t, err)
	parsed, err := fx.parser.Parse(raw, feedURL)
	require.NoError(t, err)
	parsed.Feed.URL = feedURL
	require.NoError(t, fx.store.AddFeed(parsed.Feed, parsed.Posts))
	return parsed.Feed
}

func (fx *fixture) poller(opts ...Option) *Poller {
	opts = append([]Option{WithMetrics(fx.metrics)}, opts...)
	return New(fx.store, fx.fetcher, fx.parser, Config{Interval: time.Second, Concurrency: 2}, opts...)
}

func postLinks(posts []feed.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Link)
	}
	return out
}

func TestRunRoundMergesNewPostsInFront(t *testing.T) {
	fx := newFixture(t)
	f := fx.subscribe(t, "news", testutil.Items("a", 3))
	fx.server.SetFeedXML(f.URL, testutil.RSSXML("news", append(testutil.Items("b", 2), testutil.Items("a", 3)...)))

	var regions []store.Region
	defer fx.store.Subscribe(func(c store.Change) { regions = append(regions, c.Region) })()

	result := fx.poller().RunRound(context.Background())

	assert.Equal(t, RoundResult{Polled: 1, Merged: 2}, result)
	assert.Equal(t, []store.Region{store.RegionPosts}, regions)
	assert.Equal(t, []string{
		"http://example.com/b-1",
		"http://example.com/b-2",
		"http://example.com/a-1",
		"http://example.com/a-2",
		"http://example.com/a-3",
	}, postLinks(fx.store.Posts()))
	for _, p := range fx.store.Posts() {
		assert.Equal(t, f.ID, p.FeedID)
	}
	assert.Equal(t, float64(2), promtest.ToFloat64(fx.metrics.postsMerged))
}

func TestRunRoundWithoutNewPostsChangesNothing(t *testing.T) {
	fx := newFixture(t)
	fx.subscribe(t, "news", testutil.Items("a", 3))
	before := fx.store.Snapshot()

	var changes atomic.Int32
	defer fx.store.Subscribe(func(store.Change) { changes.Add(1) })()

	p := fx.poller()
	p.RunRound(context.Background())
	result := p.RunRound(context.Background())

	assert.Equal(t, RoundResult{Polled: 1}, result)
	assert.Zero(t, changes.Load())
	assert.Equal(t, before, fx.store.Snapshot())
	assert.Equal(t, float64(2), promtest.ToFloat64(fx.metrics.rounds))
}

func TestRunRoundIsolatesFailingFeeds(t *testing.T) {
	fx := newFixture(t)
	broken := fx.subscribe(t, "broken", testutil.Items("x", 1))
	healthy := fx.subscribe(t, "healthy", testutil.Items("a", 1))
	fx.server.Fail(broken.URL)
	fx.server.SetFeedXML(healthy.URL, testutil.RSSXML("healthy", testutil.Items("a", 2)))

	result := fx.poller().RunRound(context.Background())

	assert.Equal(t, RoundResult{Polled: 2, Failed: 1, Merged: 1}, result)
	assert.Len(t, fx.store.PostsByFeed(healthy.ID), 2)
	assert.Equal(t, feed.KindNetwork, fx.store.Form().Error)
	assert.Equal(t, store.Filling, fx.store.Form().ProcessState)
	assert.Equal(t, float64(1), promtest.ToFloat64(fx.metrics.feedErrors.WithLabelValues(string(feed.KindNetwork))))
}

func TestRunRoundReportsParseErrors(t *testing.T) {
	fx := newFixture(t)
	f := fx.subscribe(t, "news", testutil.Items("a", 1))
	fx.server.SetFeedXML(f.URL, "<html><body>maintenance</body></html>")

	p := fx.poller()
	result := p.RunRound(context.Background())

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, feed.KindParse, fx.store.Form().Error)

	status := p.Status()
	require.Len(t, status, 1)
	assert.Equal(t, StateIdle, status[0].State)
	assert.Equal(t, feed.KindParse, status[0].LastError)
	assert.False(t, status[0].LastPolled.IsZero())
}

func TestRunRoundKeepsPollingFailedFeeds(t *testing.T) {
	fx := newFixture(t)
	f := fx.subscribe(t, "flaky", testutil.Items("a", 1))
	fx.server.Fail(f.URL)

	p := fx.poller()
	p.RunRound(context.Background())
	fx.server.SetFeedXML(f.URL, testutil.RSSXML("flaky", testutil.Items("a", 2)))
	result := p.RunRound(context.Background())

	assert.Equal(t, RoundResult{Polled: 1, Merged: 1}, result)
	assert.Empty(t, p.Status()[0].LastError)
}

func TestRecoveredFeedClearsReportedError(t *testing.T) {
	fx := newFixture(t)
	a := fx.subscribe(t, "a", testutil.Items("a", 1))
	b := fx.subscribe(t, "b", testutil.Items("b", 1))
	fx.server.Fail(a.URL)
	fx.server.Fail(b.URL)

	p := fx.poller()
	p.RunRound(context.Background())
	require.Equal(t, feed.KindNetwork, fx.store.Form().Error)

	fx.server.SetFeedXML(a.URL, testutil.RSSXML("a", testutil.Items("a", 1)))
	p.RunRound(context.Background())
	assert.Equal(t, feed.KindNetwork, fx.store.Form().Error, "b is still failing")

	fx.server.SetFeedXML(b.URL, testutil.RSSXML("b", testutil.Items("b", 1)))
	p.RunRound(context.Background())
	assert.Equal(t, feed.KindNone, fx.store.Form().Error)
}

type blockingFetcher struct {
	Fetcher
	block   string
	started chan struct{}
	release chan struct{}
}

func (b *blockingFetcher) Fetch(ctx context.Context, feedURL string) (string, error) {
	if feedURL == b.block {
		close(b.started)
		<-b.release
	}
	return b.Fetcher.Fetch(ctx, feedURL)
}

func TestRunRoundSkipsFeedStillInFlight(t *testing.T) {
	fx := newFixture(t)
	slow := fx.subscribe(t, "slow", testutil.Items("s", 1))
	fx.subscribe(t, "fast", testutil.Items("f", 1))

	fetcher := &blockingFetcher{
		Fetcher: fx.fetcher,
		block:   slow.URL,
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := New(fx.store, fetcher, fx.parser, Config{Concurrency: 4}, WithMetrics(fx.metrics))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.RunRound(context.Background())
	}()
	<-fetcher.started

	assert.Equal(t, StateFetching, p.Status()[0].State)
	second := p.RunRound(context.Background())
	assert.Equal(t, RoundResult{Polled: 1, Skipped: 1}, second)

	close(fetcher.release)
	wg.Wait()
	assert.Equal(t, StateIdle, p.Status()[0].State)
	assert.Equal(t, 2, fx.server.Requests(slow.URL), "one subscribe fetch and one poll")
}

type manualScheduler struct {
	mu       sync.Mutex
	interval time.Duration
	task     Task
	ctx      context.Context
	stopped  bool
}

func (m *manualScheduler) Repeat(ctx context.Context, interval time.Duration, task Task) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctx, m.interval, m.task = ctx, interval, task
	return m
}

func (m *manualScheduler) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
}

func (m *manualScheduler) Tick() bool {
	m.mu.Lock()
	task, ctx, stopped := m.task, m.ctx, m.stopped
	m.mu.Unlock()
	if task == nil || stopped {
		return false
	}
	task(ctx)
	return true
}

func TestStartSchedulesRoundsUntilStopped(t *testing.T) {
	fx := newFixture(t)
	f := fx.subscribe(t, "news", testutil.Items("a", 1))
	sched := &manualScheduler{}
	p := fx.poller(WithScheduler(sched))

	p.Start(context.Background())
	p.Start(context.Background())
	assert.Equal(t, time.Second, sched.interval)

	fx.server.SetFeedXML(f.URL, testutil.RSSXML("news", testutil.Items("a", 2)))
	require.True(t, sched.Tick())
	assert.Len(t, fx.store.Posts(), 2)

	p.Stop()
	fx.server.SetFeedXML(f.URL, testutil.RSSXML("news", testutil.Items("a", 3)))
	assert.False(t, sched.Tick())
	assert.Len(t, fx.store.Posts(), 2)
}

func TestPolledFeedsAddedMidwayJoinNextRound(t *testing.T) {
	fx := newFixture(t)
	p := fx.poller()

	assert.Equal(t, RoundResult{}, p.RunRound(context.Background()))

	f := fx.subscribe(t, "late", testutil.Items("a", 1))
	fx.server.SetFeedXML(f.URL, testutil.RSSXML("late", testutil.Items("a", 2)))

	assert.Equal(t, RoundResult{Polled: 1, Merged: 1}, p.RunRound(context.Background()))
}
