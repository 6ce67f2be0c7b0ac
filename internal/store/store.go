// Package store holds the in-memory aggregate of feeds, posts, form and UI
// state, and notifies subscribers of every change.
package store

import (
	"errors"
	"log/slog"
	"slices"
	"sync"

	"rssreader/internal/feed"
)

var (
	ErrPostNotFound = errors.New("post not found")
	ErrFeedNotFound = errors.New("feed not found")

	errKindRequired   = errors.New("failed state requires an error kind")
	errKindNotAllowed = errors.New("error kind is only allowed with the failed state")
)

// Store is the single source of truth. All mutation goes through its
// methods; each method applies its change atomically and then notifies
// subscribers once per region that changed.
type Store struct {
	mu sync.RWMutex

	feeds  []feed.Feed
	byURL  map[string]feed.FeedID
	posts  []feed.Post
	postIx map[feed.PostID]feed.FeedID
	links  map[feed.FeedID]map[string]struct{}

	form       FormState
	activePost feed.PostID
	readOrder  []feed.PostID
	read       map[feed.PostID]struct{}

	seq  uint64
	prop *propagator
	log  *slog.Logger
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.log = logger
	}
}

func New(opts ...Option) *Store {
	s := &Store{
		byURL:  make(map[string]feed.FeedID),
		postIx: make(map[feed.PostID]feed.FeedID),
		links:  make(map[feed.FeedID]map[string]struct{}),
		form:   FormState{ProcessState: Filling},
		read:   make(map[feed.PostID]struct{}),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "store")
	s.prop = newPropagator(s.log)
	return s
}

// Subscribe registers h for every future change and returns a func that
// removes it.
func (s *Store) Subscribe(h Handler) func() {
	return s.prop.subscribe(h)
}

// AddFeed inserts f and prepends its initial posts. It returns a
// KindDuplicateFeed error, leaving the store unchanged, when f.URL is
// already subscribed.
func (s *Store) AddFeed(f feed.Feed, initial []feed.Post) error {
	s.mu.Lock()

	if _, exists := s.byURL[f.URL]; exists {
		s.mu.Unlock()
		return feed.DuplicateFeedError(f.URL)
	}

	oldFeeds := slices.Clone(s.feeds)
	s.feeds = append(s.feeds, f)
	s.byURL[f.URL] = f.ID
	s.links[f.ID] = make(map[string]struct{})

	owned := make([]feed.Post, 0, len(initial))
	for _, p := range initial {
		p.FeedID = f.ID
		owned = append(owned, p)
	}

	changes := []Change{s.change(RegionFeeds, oldFeeds, slices.Clone(s.feeds))}
	if postChange, ok := s.prependLocked(owned); ok {
		changes = append(changes, postChange)
	}

	s.publishLocked(changes)
	s.log.Info("feed added", "feed_id", f.ID, "feed_url", f.URL, "posts", len(owned))
	return nil
}

// MergeNewPosts prepends posts, keeping their relative order. Posts for
// unknown feeds or with a link already known for their feed are skipped.
// Existing posts are never reordered or removed. It returns the number of
// posts merged.
func (s *Store) MergeNewPosts(posts []feed.Post) int {
	s.mu.Lock()

	accepted := make([]feed.Post, 0, len(posts))
	for _, p := range posts {
		if _, ok := s.links[p.FeedID]; !ok {
			s.log.Warn("dropping post for unknown feed", "feed_id", p.FeedID, "link", p.Link)
			continue
		}
		accepted = append(accepted, p)
	}

	change, ok := s.prependLocked(accepted)
	if !ok {
		s.mu.Unlock()
		return 0
	}
	merged := len(change.New.([]feed.Post)) - len(change.Old.([]feed.Post))

	s.publishLocked([]Change{change})
	return merged
}

// SetProcessState transitions the form. kind must be set iff state is
// Failed. Unknown states panic.
func (s *Store) SetProcessState(state ProcessState, kind feed.ErrorKind) error {
	state.mustValidate()
	if state == Failed && kind == feed.KindNone {
		return errKindRequired
	}
	if state != Failed && kind != feed.KindNone {
		return errKindNotAllowed
	}

	s.mu.Lock()

	var changes []Change
	if s.form.ProcessState != state {
		changes = append(changes, s.change(RegionProcessState, s.form.ProcessState, state))
		s.form.ProcessState = state
	}
	if s.form.Error != kind {
		changes = append(changes, s.change(RegionFormError, s.form.Error, kind))
		s.form.Error = kind
	}

	s.publishLocked(changes)
	return nil
}

// ReportError records kind on the form's error channel without touching
// the process state. Used for failures outside the submission workflow.
func (s *Store) ReportError(kind feed.ErrorKind) {
	s.mu.Lock()

	if s.form.Error == kind {
		s.mu.Unlock()
		return
	}
	change := s.change(RegionFormError, s.form.Error, kind)
	s.form.Error = kind

	s.publishLocked([]Change{change})
}

// ClearError resets the form error if it is still kind.
func (s *Store) ClearError(kind feed.ErrorKind) {
	s.mu.Lock()

	if kind == feed.KindNone || s.form.Error != kind {
		s.mu.Unlock()
		return
	}
	change := s.change(RegionFormError, kind, feed.KindNone)
	s.form.Error = feed.KindNone

	s.publishLocked([]Change{change})
}

func (s *Store) MarkRead(id feed.PostID) error {
	s.mu.Lock()

	if _, ok := s.postIx[id]; !ok {
		s.mu.Unlock()
		return ErrPostNotFound
	}

	var changes []Change
	if change, ok := s.markReadLocked([]feed.PostID{id}); ok {
		changes = append(changes, change)
	}

	s.publishLocked(changes)
	return nil
}

// MarkFeedRead marks every post of feedID read in one change.
func (s *Store) MarkFeedRead(feedID feed.FeedID) error {
	s.mu.Lock()

	if _, ok := s.links[feedID]; !ok {
		s.mu.Unlock()
		return ErrFeedNotFound
	}

	var ids []feed.PostID
	for _, p := range s.posts {
		if p.FeedID == feedID {
			ids = append(ids, p.ID)
		}
	}

	var changes []Change
	if change, ok := s.markReadLocked(ids); ok {
		changes = append(changes, change)
	}

	s.publishLocked(changes)
	return nil
}

// SetActivePost selects the post shown in detail. An empty id clears it.
func (s *Store) SetActivePost(id feed.PostID) error {
	s.mu.Lock()

	if id != "" {
		if _, ok := s.postIx[id]; !ok {
			s.mu.Unlock()
			return ErrPostNotFound
		}
	}

	var changes []Change
	if s.activePost != id {
		changes = append(changes, s.change(RegionActivePost, s.activePost, id))
		s.activePost = id
	}

	s.publishLocked(changes)
	return nil
}

// OpenPost makes id the active post and marks it read in one mutation.
func (s *Store) OpenPost(id feed.PostID) error {
	s.mu.Lock()

	if _, ok := s.postIx[id]; !ok {
		s.mu.Unlock()
		return ErrPostNotFound
	}

	var changes []Change
	if s.activePost != id {
		changes = append(changes, s.change(RegionActivePost, s.activePost, id))
		s.activePost = id
	}
	if change, ok := s.markReadLocked([]feed.PostID{id}); ok {
		changes = append(changes, change)
	}

	s.publishLocked(changes)
	return nil
}

func (s *Store) Feeds() []feed.Feed {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.feeds)
}

func (s *Store) FeedByURL(feedURL string) (feed.Feed, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byURL[feedURL]
	if !ok {
		return feed.Feed{}, false
	}
	for _, f := range s.feeds {
		if f.ID == id {
			return f, true
		}
	}
	return feed.Feed{}, false
}

func (s *Store) HasFeedURL(feedURL string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byURL[feedURL]
	return ok
}

func (s *Store) Posts() []feed.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.posts)
}

func (s *Store) PostsByFeed(feedID feed.FeedID) []feed.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []feed.Post
	for _, p := range s.posts {
		if p.FeedID == feedID {
			out = append(out, p)
		}
	}
	return out
}

func (s *Store) Post(id feed.PostID) (feed.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.postIx[id]; !ok {
		return feed.Post{}, false
	}
	for _, p := range s.posts {
		if p.ID == id {
			return p, true
		}
	}
	return feed.Post{}, false
}

func (s *Store) Form() FormState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.form
}

func (s *Store) UI() UIState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uiLocked()
}

// Snapshot returns a consistent copy of everything. Seq is the sequence
// number of the last change applied.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Seq:   s.seq,
		Feeds: slices.Clone(s.feeds),
		Posts: slices.Clone(s.posts),
		Form:  s.form,
		UI:    s.uiLocked(),
	}
}

func (s *Store) uiLocked() UIState {
	return UIState{
		ActivePostID: s.activePost,
		ReadPostIDs:  slices.Clone(s.readOrder),
	}
}

// prependLocked puts the unseen subset of posts in front of the collection.
func (s *Store) prependLocked(posts []feed.Post) (Change, bool) {
	fresh := make([]feed.Post, 0, len(posts))
	for _, p := range posts {
		known := s.links[p.FeedID]
		if _, dup := known[p.Link]; dup {
			continue
		}
		known[p.Link] = struct{}{}
		s.postIx[p.ID] = p.FeedID
		fresh = append(fresh, p)
	}
	if len(fresh) == 0 {
		return Change{}, false
	}

	old := s.posts
	s.posts = append(fresh, old...)
	return s.change(RegionPosts, slices.Clone(old), slices.Clone(s.posts)), true
}

func (s *Store) markReadLocked(ids []feed.PostID) (Change, bool) {
	old := slices.Clone(s.readOrder)
	added := false
	for _, id := range ids {
		if _, ok := s.read[id]; ok {
			continue
		}
		s.read[id] = struct{}{}
		s.readOrder = append(s.readOrder, id)
		added = true
	}
	if !added {
		return Change{}, false
	}
	return s.change(RegionReadPosts, old, slices.Clone(s.readOrder)), true
}

func (s *Store) change(region Region, old, next any) Change {
	s.seq++
	return Change{Seq: s.seq, Region: region, Old: old, New: next}
}

// publishLocked queues changes, releases the store lock and delivers them.
func (s *Store) publishLocked(changes []Change) {
	s.prop.enqueue(changes)
	s.mu.Unlock()
	s.prop.drain()
}
