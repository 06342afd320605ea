package stream

import "container/list"

// LRUCache registers tiles holding resident content, most-recent first.
// maxSize is a soft limit in tiles: eviction skips tiles selected this frame
// or the one before, so content being displayed is never dropped even when
// that keeps the cache over budget. Accessed only from the tileset's update
// goroutine.
type LRUCache struct {
	maxSize int
	ll      *list.List // Front = most recently used
	items   map[*Tile]*list.Element
	frame   uint64

	evictions uint64
}

// NewLRUCache builds a cache holding at most maxSize resident tiles.
// maxSize <= 0 means unbounded.
func NewLRUCache(maxSize int) *LRUCache {
	return &LRUCache{
		maxSize: maxSize,
		ll:      list.New(),
		items:   map[*Tile]*list.Element{},
	}
}

// BeginFrame advances the in-use horizon. Frames start at 1; a tile whose
// last selection is this frame or the previous one counts as in use.
func (c *LRUCache) BeginFrame(frame uint64) { c.frame = frame }

func (c *LRUCache) Len() int { return c.ll.Len() }

// Evictions is the total number of content releases since construction.
func (c *LRUCache) Evictions() uint64 { return c.evictions }

func (c *LRUCache) Contains(t *Tile) bool {
	_, ok := c.items[t]
	return ok
}

// Touch marks t most recently used. Idempotent; a no-op for tiles that are
// not registered.
func (c *LRUCache) Touch(t *Tile) {
	if e, ok := c.items[t]; ok {
		c.ll.MoveToFront(e)
	}
}

// Insert registers a newly loaded tile and evicts past the budget. Inserting
// a registered tile only refreshes its recency.
func (c *LRUCache) Insert(t *Tile) {
	if e, ok := c.items[t]; ok {
		c.ll.MoveToFront(e)
		return
	}
	c.items[t] = c.ll.PushFront(t)
	c.enforceBudget()
}

// Remove evicts one tile: drops the registration, releases its content, and
// reverts it to UNLOADED. Evicting an external reference prunes the subtree
// it spliced in, releasing any resident descendants with it.
func (c *LRUCache) Remove(t *Tile) {
	e, ok := c.items[t]
	if !ok {
		return
	}
	c.ll.Remove(e)
	delete(c.items, t)
	c.evictions++
	t.releaseContent()

	if t.external {
		for _, n := range pruneSpliced(t) {
			if de, ok := c.items[n]; ok {
				c.ll.Remove(de)
				delete(c.items, n)
				c.evictions++
			}
			n.releaseContent()
		}
	}
}

func (c *LRUCache) inUse(t *Tile) bool {
	return t.lastSelectedFrame != 0 && c.frame-t.lastSelectedFrame <= 1
}

// enforceBudget evicts least-recent evictable entries until the cache fits.
// Each round rescans from the back: a Remove can prune other entries, so no
// iterator survives it.
func (c *LRUCache) enforceBudget() {
	if c.maxSize <= 0 {
		return
	}
	for c.ll.Len() > c.maxSize {
		var victim *Tile
		for e := c.ll.Back(); e != nil; e = e.Prev() {
			t := e.Value.(*Tile)
			if c.inUse(t) {
				continue
			}
			victim = t
			break
		}
		if victim == nil {
			return // everything in use: soft limit holds the overage
		}
		c.Remove(victim)
	}
}
