// Package poller re-fetches every subscribed feed on a fixed cadence and
// merges newly published posts into the store.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rssreader/internal/feed"
)

const (
	DefaultInterval    = 5 * time.Second
	DefaultConcurrency = 4
)

// FeedState is where one feed is in its poll cycle.
type FeedState string

const (
	StateIdle     FeedState = "idle"
	StateFetching FeedState = "fetching"
	StateMerging  FeedState = "merging"
)

type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (string, error)
}

type Parser interface {
	Parse(raw, sourceURL string) (*feed.Parsed, error)
}

// Store is the part of the aggregate the poller reads and writes.
type Store interface {
	Feeds() []feed.Feed
	PostsByFeed(id feed.FeedID) []feed.Post
	MergeNewPosts(posts []feed.Post) int
	ReportError(kind feed.ErrorKind)
	ClearError(kind feed.ErrorKind)
}

// FeedStatus describes the poll state of one feed.
type FeedStatus struct {
	FeedID     feed.FeedID    `json:"feedId"`
	URL        string         `json:"url"`
	State      FeedState      `json:"state"`
	LastError  feed.ErrorKind `json:"lastError,omitempty"`
	LastPolled time.Time      `json:"lastPolled"`
}

type RoundResult struct {
	Polled  int
	Skipped int
	Failed  int
	Merged  int
}

type Config struct {
	Interval    time.Duration
	Concurrency int
}

type Option func(*Poller)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) {
		p.log = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

func WithScheduler(s Scheduler) Option {
	return func(p *Poller) {
		p.scheduler = s
	}
}

// Poller runs poll rounds over the store's feeds.
type Poller struct {
	store     Store
	fetcher   Fetcher
	parser    Parser
	scheduler Scheduler
	metrics   *Metrics
	log       *slog.Logger

	interval    time.Duration
	concurrency int

	mu       sync.Mutex
	statuses map[feed.FeedID]*FeedStatus
	handle   Handle
}

func New(s Store, fetcher Fetcher, parser Parser, cfg Config, opts ...Option) *Poller {
	p := &Poller{
		store:       s,
		fetcher:     fetcher,
		parser:      parser,
		scheduler:   TimerScheduler{},
		log:         slog.Default(),
		interval:    cfg.Interval,
		concurrency: cfg.Concurrency,
		statuses:    make(map[feed.FeedID]*FeedStatus),
	}
	if p.interval <= 0 {
		p.interval = DefaultInterval
	}
	if p.concurrency <= 0 {
		p.concurrency = DefaultConcurrency
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	p.log = p.log.With("component", "poller")
	return p
}

// Start schedules rounds every interval after the previous round
// completes. Calling Start on a running poller does nothing.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.handle != nil {
		return
	}
	p.handle = p.scheduler.Repeat(ctx, p.interval, func(ctx context.Context) {
		p.RunRound(ctx)
	})
	p.log.Info("poller started", "interval", p.interval, "concurrency", p.concurrency)
}

// Stop cancels future rounds. A round already running completes first.
func (p *Poller) Stop() {
	p.mu.Lock()
	h := p.handle
	p.handle = nil
	p.mu.Unlock()

	if h != nil {
		h.Stop()
		p.log.Info("poller stopped")
	}
}

// RunRound polls every feed currently in the store once. Feeds whose
// previous poll is still in flight are skipped. A failing feed never
// affects the others.
func (p *Poller) RunRound(ctx context.Context) RoundResult {
	start := time.Now()
	feeds := p.store.Feeds()

	var (
		mu     sync.Mutex
		result RoundResult
	)

	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for _, f := range feeds {
		if !p.begin(f) {
			result.Skipped++
			continue
		}
		g.Go(func() error {
			merged, err := p.pollFeed(ctx, f)

			mu.Lock()
			defer mu.Unlock()
			result.Polled++
			result.Merged += merged
			if err != nil {
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	p.metrics.observeRound(elapsed)
	if len(feeds) > 0 {
		p.log.Debug(
			"poll round finished",
			"feeds", len(feeds),
			"merged", result.Merged,
			"failed", result.Failed,
			"skipped", result.Skipped,
			"duration_ms", elapsed.Milliseconds(),
		)
	}
	return result
}

// Status returns the poll state of every feed seen so far, in store order.
func (p *Poller) Status() []FeedStatus {
	feeds := p.store.Feeds()

	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]FeedStatus, 0, len(feeds))
	for _, f := range feeds {
		st, ok := p.statuses[f.ID]
		if !ok {
			out = append(out, FeedStatus{FeedID: f.ID, URL: f.URL, State: StateIdle})
			continue
		}
		out = append(out, *st)
	}
	return out
}

func (p *Poller) pollFeed(ctx context.Context, f feed.Feed) (int, error) {
	raw, err := p.fetcher.Fetch(ctx, f.URL)
	if err != nil {
		p.fail(f, err)
		return 0, err
	}

	parsed, err := p.parser.Parse(raw, f.URL)
	if err != nil {
		p.fail(f, err)
		return 0, err
	}
	parsed.Rebind(f.ID)

	p.setState(f.ID, StateMerging)
	fresh := feed.Diff(parsed.Posts, p.store.PostsByFeed(f.ID))
	merged := 0
	if len(fresh) > 0 {
		merged = p.store.MergeNewPosts(fresh)
		p.metrics.observeMerged(merged)
		p.log.Info("merged new posts", "feed_id", f.ID, "feed_url", f.URL, "posts", merged)
	}

	if kind := p.finish(f.ID, feed.KindNone); kind != feed.KindNone && !p.failing(kind) {
		p.store.ClearError(kind)
	}
	return merged, nil
}

// begin moves f to fetching unless a poll is already in flight.
func (p *Poller) begin(f feed.Feed) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	st, ok := p.statuses[f.ID]
	if !ok {
		st = &FeedStatus{FeedID: f.ID, URL: f.URL, State: StateIdle}
		p.statuses[f.ID] = st
	}
	if st.State != StateIdle {
		return false
	}
	st.State = StateFetching
	return true
}

func (p *Poller) setState(id feed.FeedID, state FeedState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.statuses[id]; ok {
		st.State = state
	}
}

// finish returns the feed's previous error.
func (p *Poller) finish(id feed.FeedID, kind feed.ErrorKind) feed.ErrorKind {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.statuses[id]
	if !ok {
		return feed.KindNone
	}
	prev := st.LastError
	st.State = StateIdle
	st.LastError = kind
	st.LastPolled = time.Now()
	return prev
}

func (p *Poller) failing(kind feed.ErrorKind) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, st := range p.statuses {
		if st.LastError == kind {
			return true
		}
	}
	return false
}

func (p *Poller) fail(f feed.Feed, err error) {
	kind := feed.KindOf(err)
	p.finish(f.ID, kind)
	p.metrics.observeError(kind)
	p.store.ReportError(kind)
	p.log.Warn("feed poll failed", "feed_id", f.ID, "feed_url", f.URL, "kind", kind, "err", err)
}
