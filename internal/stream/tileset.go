package stream

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"tilestream.ai/internal/descriptor"
	"tilestream.ai/internal/geom"
)

// Tileset is a single-threaded streaming controller for one tile hierarchy.
// All state must be accessed only from the update goroutine; the only
// concurrency inside is the fetch pool, whose completions are delivered back
// on Update.
type Tileset struct {
	cfg Config

	fetcher  Fetcher
	cache    *LRUCache
	requests *RequestManager
	engine   *TraversalEngine

	frame atomic.Uint64

	root    *Tile
	loadErr error
	readyAt time.Time
	init    chan rootResult

	view     geom.View
	selected []*Tile
	stats    Statistics

	lastRemaining int
	allLoaded     bool
	sawWork       bool

	loadProgressFns []LoadProgressFunc
	allLoadedFns    []AllTilesLoadedFunc

	// Optional frame logger (may be nil). Implemented in internal/framelog.
	frameLog FrameLogger

	ctx    context.Context
	cancel context.CancelFunc
}

// FrameLogger receives one entry per Update for offline inspection and
// replay. Implemented in internal/framelog.
type FrameLogger interface {
	WriteFrame(entry FrameLogEntry) error
}

type FrameLogEntry struct {
	Frame  uint64     `json:"frame"`
	Stats  Statistics `json:"stats"`
	Events []Event    `json:"events,omitempty"`
}

type rootResult struct {
	doc *descriptor.Document
	err error
}

func New(cfg Config, fetcher Fetcher) (*Tileset, error) {
	cfg.applyDefaults()
	if cfg.RootURL == "" {
		return nil, fmt.Errorf("tileset: RootURL required")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("tileset: fetcher required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts := &Tileset{
		cfg:     cfg,
		fetcher: fetcher,
		cache:   NewLRUCache(cfg.CacheMaxSize),
		init:    make(chan rootResult, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	ts.requests = NewRequestManager(cfg.MaxConcurrentRequests)
	ts.engine = NewTraversalEngine(ts.cache, ts.requests, fetcher, cfg.ScreenSpaceErrorThreshold, ts.contentHandler)

	go ts.loadRoot()
	return ts, nil
}

// loadRoot fetches and parses the root descriptor off-thread. The result is
// adopted by the first Update that sees it.
func (ts *Tileset) loadRoot() {
	data, err := ts.fetcher.Fetch(ts.ctx, ts.cfg.RootURL)
	if err != nil {
		ts.init <- rootResult{err: fmt.Errorf("fetch root tileset: %w", err)}
		return
	}
	doc, err := descriptor.Parse(data)
	if err != nil {
		ts.init <- rootResult{err: fmt.Errorf("parse root tileset: %w", err)}
		return
	}
	ts.init <- rootResult{doc: doc}
}

func (ts *Tileset) adoptRoot(doc *descriptor.Document) {
	root, err := buildTree(doc, ts.cfg.RootURL)
	if err != nil {
		ts.loadErr = fmt.Errorf("build tile tree: %w", err)
		return
	}
	ts.root = root
	ts.readyAt = time.Now()
}

// Update runs one frame: adopt a finished root load, deliver fetch
// completions, traverse against the current view, start new fetches, then
// dispatch load events and write the frame log. Call from one goroutine.
func (ts *Tileset) Update() {
	if ts.root == nil && ts.loadErr == nil {
		select {
		case r := <-ts.init:
			if r.err != nil {
				ts.loadErr = r.err
			} else {
				ts.adoptRoot(r.doc)
			}
		default:
		}
	}

	frame := ts.frame.Add(1)
	ts.stats.reset(frame)
	ts.cache.BeginFrame(frame)

	ts.requests.Drain()

	if ts.root != nil {
		ts.selected = ts.engine.Run(ts.root, ts.view, frame, &ts.stats)
	} else {
		ts.selected = nil
	}

	ts.requests.Update(ts.ctx)

	ts.stats.QueuedRequests = ts.requests.QueueSize()
	ts.stats.InFlightRequests = ts.requests.RequestsInProgress()
	ts.stats.ResidentTiles = ts.cache.Len()
	ts.stats.Remaining = ts.stats.QueuedRequests + ts.stats.InFlightRequests

	events := ts.dispatchLoadEvents()

	if ts.frameLog != nil {
		_ = ts.frameLog.WriteFrame(FrameLogEntry{Frame: frame, Stats: ts.stats, Events: events})
	}
}

// dispatchLoadEvents compares this frame's outstanding work against the last
// frame and fires callbacks on the edges: every change of the remaining
// gauge, plus the transitions into and out of the fully-loaded state.
func (ts *Tileset) dispatchLoadEvents() []Event {
	remaining := ts.stats.Remaining
	var events []Event

	if remaining != ts.lastRemaining {
		ts.lastRemaining = remaining
		events = append(events, Event{Kind: EventLoadProgress, Remaining: remaining})
		for _, fn := range ts.loadProgressFns {
			fn(remaining)
		}
	}

	if remaining > 0 {
		ts.sawWork = true
		if ts.allLoaded {
			ts.allLoaded = false
			events = append(events, Event{Kind: EventLoadResumed})
			for _, fn := range ts.allLoadedFns {
				fn(false)
			}
		}
	} else if ts.sawWork && !ts.allLoaded {
		ts.allLoaded = true
		events = append(events, Event{Kind: EventAllTilesLoaded, Loaded: true})
		for _, fn := range ts.allLoadedFns {
			fn(true)
		}
	}
	return events
}

// contentHandler is the fetch completion sink, run on the update goroutine
// via RequestManager.Drain.
func (ts *Tileset) contentHandler(t *Tile, data []byte, err error) {
	if err != nil {
		t.state = ContentFailed
		t.content = nil
		ts.stats.Failed++
		return
	}
	if t.detached {
		// Pruned while the fetch was in flight.
		t.state = ContentUnloaded
		return
	}
	if t.external {
		if err := ts.spliceExternal(t, data); err != nil {
			t.state = ContentFailed
			ts.stats.Failed++
			return
		}
	} else {
		t.content = data
	}
	t.state = ContentLoaded
	ts.cache.Insert(t)
	ts.stats.Completed++
}

// spliceExternal parses an external tileset document and grafts its tree
// under t. The external root becomes a child of t; eviction prunes the graft
// and restores t to its inline shape.
func (ts *Tileset) spliceExternal(t *Tile, data []byte) error {
	doc, err := descriptor.Parse(data)
	if err != nil {
		return fmt.Errorf("external tileset: %w", err)
	}
	if err := spliceSubtree(t, doc, t.contentURI); err != nil {
		return fmt.Errorf("external tileset: %w", err)
	}
	return nil
}

// SetView replaces the camera used by subsequent frames. Zero fields are
// filled with defaults.
func (ts *Tileset) SetView(v geom.View) { ts.view = v.Normalized() }

// SetFrameLogger installs the per-frame log sink.
func (ts *Tileset) SetFrameLogger(l FrameLogger) { ts.frameLog = l }

// Selected returns the tiles chosen by the last Update, in visit order. The
// slice is only valid until the next Update.
func (ts *Tileset) Selected() []*Tile { return ts.selected }

// Ready reports whether the root descriptor has been loaded and adopted.
func (ts *Tileset) Ready() bool { return ts.root != nil }

// LoadError returns the fatal root-load error, if any. A tileset with a load
// error never becomes ready.
func (ts *Tileset) LoadError() error { return ts.loadErr }

// Stats returns the counters of the last completed frame.
func (ts *Tileset) Stats() Statistics { return ts.stats }

// Frame returns the current frame number. Safe from any goroutine.
func (ts *Tileset) Frame() uint64 { return ts.frame.Load() }

// TimeSinceLoad reports how long the tileset has been ready, zero before.
func (ts *Tileset) TimeSinceLoad() time.Duration {
	if ts.readyAt.IsZero() {
		return 0
	}
	return time.Since(ts.readyAt)
}

// MaxDepth returns the depth of the deepest attached tile.
func (ts *Tileset) MaxDepth() int { return treeMetrics(ts.root).maxDepth }

// TotalTiles returns the number of attached tiles, spliced subtrees included.
func (ts *Tileset) TotalTiles() int { return treeMetrics(ts.root).count }

// Evictions returns the lifetime cache eviction count.
func (ts *Tileset) Evictions() uint64 { return ts.cache.Evictions() }

// DebugBounds returns the bounding spheres of the selected tiles when
// DebugDrawBounds is enabled, for overlay rendering.
func (ts *Tileset) DebugBounds() []geom.Sphere {
	if !ts.cfg.DebugDrawBounds || len(ts.selected) == 0 {
		return nil
	}
	out := make([]geom.Sphere, 0, len(ts.selected))
	for _, t := range ts.selected {
		if s, ok := t.BoundingSphere(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Close cancels in-flight fetches. The tileset must not be updated after
// Close.
func (ts *Tileset) Close() { ts.cancel() }
