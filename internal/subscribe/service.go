// Package subscribe runs the feed submission workflow: validate the URL,
// fetch and parse it, add the feed to the store and track the form state.
package subscribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"rssreader/internal/feed"
	"rssreader/internal/store"
)

// Fetcher retrieves raw feed documents.
type Fetcher interface {
	Fetch(ctx context.Context, feedURL string) (string, error)
}

// Parser normalises raw feed documents.
type Parser interface {
	Parse(raw, sourceURL string) (*feed.Parsed, error)
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.log = logger
	}
}

// WithURLPolicy replaces the default URL validation rules.
func WithURLPolicy(policy feed.URLPolicy) Option {
	return func(s *Service) {
		s.policy = policy
	}
}

// Service accepts feed submissions. The form state in the store reflects
// the most recent submission.
type Service struct {
	ctx     context.Context
	store   *store.Store
	fetcher Fetcher
	parser  Parser
	policy  feed.URLPolicy
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	wg      sync.WaitGroup
}

// New returns a Service. Background work inherits values from ctx but is
// not cancelled with it.
func New(ctx context.Context, s *store.Store, fetcher Fetcher, parser Parser, opts ...Option) *Service {
	svc := &Service{
		ctx:     context.WithoutCancel(ctx),
		store:   s,
		fetcher: fetcher,
		parser:  parser,
		log:     slog.Default(),
		pending: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.log = svc.log.With("component", "subscribe")
	return svc
}

// Submit starts subscribing to raw. Validation failures are returned and
// recorded on the form synchronously; the fetch runs in the background and
// its outcome is visible only through the form state.
func (s *Service) Submit(raw string) error {
	form := s.store.Form()
	if form.ProcessState == store.Finished || form.ProcessState == store.Failed {
		s.setState(store.Filling, feed.KindNone)
	}

	feedURL, err := s.policy.Normalize(raw)
	if err != nil {
		s.setState(store.Failed, feed.KindOf(err))
		s.log.Info("rejected feed url", "raw_url", raw, "err", err)
		return err
	}

	if err := s.reserve(feedURL); err != nil {
		s.setState(store.Failed, feed.KindDuplicateFeed)
		s.log.Info("rejected duplicate feed", "feed_url", feedURL)
		return err
	}

	s.setState(store.Sending, feed.KindNone)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(feedURL)
		s.load(feedURL)
	}()
	return nil
}

// Wait blocks until every submission in flight has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Pending reports whether a submission for feedURL is in flight.
func (s *Service) Pending(feedURL string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[feedURL]
	return ok
}

func (s *Service) load(feedURL string) {
	parsed, err := s.fetchAndParse(feedURL)
	if err == nil {
		err = s.store.AddFeed(parsed.Feed, parsed.Posts)
	}
	if err != nil {
		kind := feed.KindOf(err)
		s.setState(store.Failed, kind)
		s.log.Warn("subscribe failed", "feed_url", feedURL, "kind", kind, "err", err)
		return
	}

	s.setState(store.Finished, feed.KindNone)
	s.log.Info("subscribed", "feed_url", feedURL, "feed_id", parsed.Feed.ID, "posts", len(parsed.Posts))
}

func (s *Service) fetchAndParse(feedURL string) (*feed.Parsed, error) {
	raw, err := s.fetcher.Fetch(s.ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch feed: %w", err)
	}
	parsed, err := s.parser.Parse(raw, feedURL)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	parsed.Feed.URL = feedURL
	return parsed, nil
}

func (s *Service) reserve(feedURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[feedURL]; ok || s.store.HasFeedURL(feedURL) {
		return feed.DuplicateFeedError(feedURL)
	}
	s.pending[feedURL] = struct{}{}
	return nil
}

func (s *Service) release(feedURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, feedURL)
}

func (s *Service) setState(state store.ProcessState, kind feed.ErrorKind) {
	if err := s.store.SetProcessState(state, kind); err != nil {
		s.log.Error("invalid form transition", "state", state, "kind", kind, "err", err)
	}
}

// IsValidation reports whether err was produced by synchronous validation,
// as opposed to a failure to reach or read the feed.
func IsValidation(err error) bool {
	var ferr *feed.Error
	if !errors.As(err, &ferr) {
		return false
	}
	return ferr.Kind == feed.KindURLInvalid || ferr.Kind == feed.KindDuplicateFeed
}
