package stream

import (
	"container/heap"
	"context"
)

// Fetcher is the abstract downloader the engine delegates all transport to.
// Fetch blocks; the request manager runs it on a background goroutine.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchOp is one queued fetch, bound to its URL by the caller.
type FetchOp func(ctx context.Context) ([]byte, error)

// RequestManager bounds fetch concurrency and orders pending loads by
// priority. At most one request exists per tile at any time; completions are
// delivered by Drain on the update goroutine, never concurrently with
// traversal. Accessed only from the tileset's update goroutine (the fetch
// goroutines touch nothing but their own op and the done channel).
type RequestManager struct {
	maxConcurrent int

	pending requestHeap
	byTile  map[*Tile]*loadRequest
	active  int
	seq     uint64

	done chan completion
}

type loadRequest struct {
	tile     *Tile
	priority float64 // lower runs first
	depth    int
	seq      uint64 // enqueue order; FIFO inside a priority band
	op       FetchOp
	callback func(data []byte, err error)
}

type completion struct {
	req  *loadRequest
	data []byte
	err  error
}

func NewRequestManager(maxConcurrent int) *RequestManager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &RequestManager{
		maxConcurrent: maxConcurrent,
		byTile:        map[*Tile]*loadRequest{},
		// One slot per in-flight request: completion sends never block.
		done: make(chan completion, maxConcurrent),
	}
}

// Enqueue queues a load for a tile. A tile that already has a queued or
// in-flight request keeps it: the duplicate is silently dropped and Enqueue
// reports false. This is the dedup guarantee that makes repeated traversal
// visits cheap.
func (m *RequestManager) Enqueue(t *Tile, priority float64, op FetchOp, cb func(data []byte, err error)) bool {
	if t == nil || op == nil {
		return false
	}
	if _, ok := m.byTile[t]; ok {
		return false
	}
	m.seq++
	r := &loadRequest{
		tile:     t,
		priority: priority,
		depth:    t.depth,
		seq:      m.seq,
		op:       op,
		callback: cb,
	}
	m.byTile[t] = r
	heap.Push(&m.pending, r)
	return true
}

// Has reports whether t has a queued or in-flight request.
func (m *RequestManager) Has(t *Tile) bool {
	_, ok := m.byTile[t]
	return ok
}

// Update starts pending requests, highest priority first, while slots
// remain. Requests for tiles pruned out of the tree are discarded unstarted.
func (m *RequestManager) Update(ctx context.Context) {
	for m.active < m.maxConcurrent && m.pending.Len() > 0 {
		r := heap.Pop(&m.pending).(*loadRequest)
		if r.tile.detached {
			delete(m.byTile, r.tile)
			continue
		}
		r.tile.state = ContentLoading
		m.active++
		go m.run(ctx, r)
	}
}

func (m *RequestManager) run(ctx context.Context, r *loadRequest) {
	data, err := r.op(ctx)
	m.done <- completion{req: r, data: data, err: err}
}

// Drain delivers finished fetches on the caller's goroutine: each frees its
// concurrency slot, clears the dedup entry, and runs the stored callback
// exactly once. Returns the number of completions delivered.
func (m *RequestManager) Drain() int {
	n := 0
	for {
		select {
		case c := <-m.done:
			m.active--
			delete(m.byTile, c.req.tile)
			cb := c.req.callback
			c.req.callback = nil
			if cb != nil {
				cb(c.data, c.err)
			}
			n++
		default:
			return n
		}
	}
}

func (m *RequestManager) QueueSize() int          { return m.pending.Len() }
func (m *RequestManager) RequestsInProgress() int { return m.active }

// requestHeap orders by priority, then shallower depth, then enqueue order.
type requestHeap []*loadRequest

func (h requestHeap) Len() int { return len(h) }

func (h requestHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	if a.depth != b.depth {
		return a.depth < b.depth
	}
	return a.seq < b.seq
}

func (h requestHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *requestHeap) Push(x any) { *h = append(*h, x.(*loadRequest)) }

func (h *requestHeap) Pop() any {
	old := *h
	n := len(old)
	r := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return r
}
