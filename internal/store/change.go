package store

import (
	"log/slog"
	"slices"
	"sync"
)

// Region names a top-level part of the store for change notifications.
type Region string

const (
	RegionProcessState Region = "form.processState"
	RegionFormError    Region = "form.error"
	RegionFeeds        Region = "feeds"
	RegionPosts        Region = "posts"
	RegionActivePost   Region = "uiState.activePostId"
	RegionReadPosts    Region = "uiState.readPostIds"
)

// Regions lists every region in display order.
var Regions = []Region{
	RegionProcessState,
	RegionFormError,
	RegionFeeds,
	RegionPosts,
	RegionActivePost,
	RegionReadPosts,
}

// Change describes one region's transition. Old and New hold copies:
//
//	form.processState      ProcessState
//	form.error             feed.ErrorKind
//	feeds                  []feed.Feed
//	posts                  []feed.Post
//	uiState.activePostId   feed.PostID
//	uiState.readPostIds    []feed.PostID
type Change struct {
	Seq    uint64
	Region Region
	Old    any
	New    any
}

// Handler receives changes in the order mutations were applied.
type Handler func(Change)

type handlerEntry struct {
	id int
	h  Handler
}

// propagator delivers queued changes to handlers one at a time. Whichever
// goroutine finds the queue idle drains it; changes enqueued meanwhile,
// including from inside a handler, are delivered by that drainer in order.
type propagator struct {
	mu       sync.Mutex
	handlers []handlerEntry
	nextID   int
	queue    []Change
	draining bool
	log      *slog.Logger
}

func newPropagator(logger *slog.Logger) *propagator {
	return &propagator{log: logger}
}

func (p *propagator) subscribe(h Handler) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.handlers = append(p.handlers, handlerEntry{id: id, h: h})

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.handlers = slices.DeleteFunc(p.handlers, func(e handlerEntry) bool {
				return e.id == id
			})
		})
	}
}

// enqueue must be called while the store lock is held so queue order equals
// application order.
func (p *propagator) enqueue(changes []Change) {
	if len(changes) == 0 {
		return
	}
	p.mu.Lock()
	p.queue = append(p.queue, changes...)
	p.mu.Unlock()
}

// drain must be called without the store lock held.
func (p *propagator) drain() {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	p.draining = true

	for len(p.queue) > 0 {
		change := p.queue[0]
		p.queue[0] = Change{}
		p.queue = p.queue[1:]
		handlers := slices.Clone(p.handlers)
		p.mu.Unlock()

		for _, entry := range handlers {
			p.deliver(entry.h, change)
		}

		p.mu.Lock()
	}

	p.draining = false
	p.mu.Unlock()
}

func (p *propagator) deliver(h Handler, change Change) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("change handler panicked", "region", change.Region, "seq", change.Seq, "panic", r)
		}
	}()
	h(change)
}
