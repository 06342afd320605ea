package stream

import (
	"context"

	"tilestream.ai/internal/geom"
)

// TraversalEngine walks the tile tree once per frame, culls against the view
// frustum, and decides per tile whether to select it for rendering, refine
// into its children, or both. Non-resident selected tiles are handed to the
// request manager. Run is idempotent for a fixed tree, view, and residency
// state: it mutates nothing but selection frames and the request queue, and
// the queue dedups.
type TraversalEngine struct {
	cache     *LRUCache
	requests  *RequestManager
	fetcher   Fetcher
	threshold float64

	// onContent receives every finished fetch for a tile selected by this
	// engine, on the update goroutine.
	onContent func(t *Tile, data []byte, err error)
}

func NewTraversalEngine(cache *LRUCache, requests *RequestManager, fetcher Fetcher, threshold float64, onContent func(*Tile, []byte, error)) *TraversalEngine {
	return &TraversalEngine{
		cache:     cache,
		requests:  requests,
		fetcher:   fetcher,
		threshold: threshold,
		onContent: onContent,
	}
}

// Run traverses the tree rooted at root and returns the tiles selected for
// this frame, in visit order.
func (e *TraversalEngine) Run(root *Tile, view geom.View, frame uint64, stats *Statistics) []*Tile {
	if root == nil {
		return nil
	}
	frustum := view.Frustum()
	var selected []*Tile

	stack := []*Tile{root}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stats.Visited++

		sphere, ok := t.BoundingSphere()
		if !ok {
			// The bounding volume can't be trusted, so neither culling nor
			// refinement can run. Fail open: select and keep descending
			// rather than blank out the subtree.
			stats.Anomalies++
			e.selectTile(t, 0, frame, stats, &selected)
			stack = pushChildren(stack, t)
			continue
		}
		if !frustum.IntersectsSphere(sphere) {
			stats.Culled++
			continue
		}

		sse := view.ScreenSpaceError(t.geometricError, sphere)
		if sse <= e.threshold || len(t.children) == 0 {
			e.selectTile(t, sse, frame, stats, &selected)
			continue
		}

		// Too coarse for this view: refine.
		if t.refine == RefineAdd {
			e.selectTile(t, sse, frame, stats, &selected)
		} else if !e.childrenResident(t) {
			// REPLACE keeps the parent on screen until every child that
			// carries content is resident, so refinement never flashes holes.
			e.selectTile(t, sse, frame, stats, &selected)
		}
		stack = pushChildren(stack, t)
	}
	return selected
}

// selectTile marks t selected for the frame and, when its content is not
// resident, queues a load at priority 1/(1+sse). Higher screen-space error
// sorts earlier, so the most under-resolved tiles load first.
func (e *TraversalEngine) selectTile(t *Tile, sse float64, frame uint64, stats *Statistics, out *[]*Tile) {
	t.lastSelectedFrame = frame
	stats.Selected++
	*out = append(*out, t)

	switch t.state {
	case ContentLoaded:
		e.cache.Touch(t)
	case ContentUnloaded, ContentFailed:
		if t.contentURI == "" {
			return
		}
		tile, url := t, t.contentURI
		op := func(ctx context.Context) ([]byte, error) {
			return e.fetcher.Fetch(ctx, url)
		}
		cb := func(data []byte, err error) {
			e.onContent(tile, data, err)
		}
		if e.requests.Enqueue(t, 1/(1+sse), op, cb) {
			stats.Enqueued++
		}
	}
}

// childrenResident reports whether every child that carries content is
// loaded. Contentless children count as resident; external tileset children
// count once their descriptor has been spliced in.
func (e *TraversalEngine) childrenResident(t *Tile) bool {
	for _, c := range t.children {
		if c.contentURI != "" && c.state != ContentLoaded {
			return false
		}
	}
	return true
}

func pushChildren(stack []*Tile, t *Tile) []*Tile {
	for i := len(t.children) - 1; i >= 0; i-- {
		stack = append(stack, t.children[i])
	}
	return stack
}
