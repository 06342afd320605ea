package stream

import (
	"container/heap"
	"context"
	"math"
	"testing"

	"tilestream.ai/internal/geom"
)

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

// testView looks down -Z with a 90 degree fov and a 1000 px viewport, so a
// tile at surface distance d has sse = geometricError * 500 / d.
func testView() geom.View {
	return geom.View{
		Forward:        geom.Vec3{X: 0, Y: 0, Z: -1},
		Up:             geom.Vec3{X: 0, Y: 1, Z: 0},
		FOVY:           math.Pi / 2,
		Aspect:         1,
		Near:           0.1,
		Far:            1e6,
		ViewportHeight: 1000,
	}.Normalized()
}

// testTile builds a tile with a precomputed bounding sphere, bypassing the
// descriptor layer.
func testTile(parent *Tile, center geom.Vec3, radius, ge float64, uri string) *Tile {
	t := &Tile{
		geometricError: ge,
		contentURI:     uri,
		refine:         RefineReplace,
		sphere:         geom.Sphere{Center: center, Radius: radius},
		sphereMemo:     true,
	}
	if parent != nil {
		t.parent = parent
		t.depth = parent.depth + 1
		t.refine = parent.refine
		parent.children = append(parent.children, t)
		parent.inlineChildren = len(parent.children)
	}
	return t
}

func newTestEngine(threshold float64) (*TraversalEngine, *LRUCache, *RequestManager) {
	cache := NewLRUCache(0)
	rm := NewRequestManager(4)
	fetch := fetchFunc(func(ctx context.Context, url string) ([]byte, error) { return nil, nil })
	eng := NewTraversalEngine(cache, rm, fetch, threshold, func(*Tile, []byte, error) {})
	return eng, cache, rm
}

var (
	nearCenter = geom.Vec3{X: 0, Y: 0, Z: -101} // surface distance 100
	farCenter  = geom.Vec3{X: 0, Y: 0, Z: -201} // surface distance 200
)

func TestTraversal_ReplaceFallback_SelectsParentAndChildren(t *testing.T) {
	eng, _, rm := newTestEngine(50)

	// sse: root 500 (refine), left 50 and right 25 (select).
	root := testTile(nil, nearCenter, 1, 100, "")
	left := testTile(root, nearCenter, 1, 10, "left.bin")
	right := testTile(root, farCenter, 1, 10, "right.bin")

	var stats Statistics
	sel := eng.Run(root, testView(), 1, &stats)

	want := []*Tile{root, left, right}
	if len(sel) != len(want) {
		t.Fatalf("selected %d tiles want %d", len(sel), len(want))
	}
	for i := range want {
		if sel[i] != want[i] {
			t.Fatalf("selected[%d]: got %q", i, sel[i].contentURI)
		}
	}
	if stats.Visited != 3 || stats.Selected != 3 || stats.Culled != 0 {
		t.Fatalf("stats: %+v", stats)
	}

	// Both children queue a load; the more under-resolved one runs first.
	if stats.Enqueued != 2 || rm.QueueSize() != 2 {
		t.Fatalf("enqueued=%d queue=%d want 2/2", stats.Enqueued, rm.QueueSize())
	}
	first := heap.Pop(&rm.pending).(*loadRequest)
	second := heap.Pop(&rm.pending).(*loadRequest)
	if first.tile != left || second.tile != right {
		t.Fatalf("request order: got %q, %q", first.tile.contentURI, second.tile.contentURI)
	}
	if first.priority >= second.priority {
		t.Fatalf("priorities not ascending: %v then %v", first.priority, second.priority)
	}
}

func TestTraversal_ReplaceWithResidentChildren_SkipsParent(t *testing.T) {
	eng, cache, _ := newTestEngine(50)

	root := testTile(nil, nearCenter, 1, 100, "")
	left := testTile(root, nearCenter, 1, 10, "left.bin")
	right := testTile(root, farCenter, 1, 10, "right.bin")
	for _, c := range []*Tile{left, right} {
		c.state = ContentLoaded
		c.content = []byte{1}
		cache.Insert(c)
	}

	var stats Statistics
	sel := eng.Run(root, testView(), 1, &stats)

	if len(sel) != 2 || sel[0] != left || sel[1] != right {
		t.Fatalf("selected: %v", selNames(sel))
	}
	if stats.Enqueued != 0 {
		t.Fatalf("enqueued: got %d want 0", stats.Enqueued)
	}
}

func TestTraversal_AddRefinement_KeepsParentSelected(t *testing.T) {
	eng, _, rm := newTestEngine(50)

	root := testTile(nil, nearCenter, 1, 100, "root.bin")
	root.refine = RefineAdd
	left := testTile(root, nearCenter, 1, 10, "left.bin")
	right := testTile(root, farCenter, 1, 10, "right.bin")

	var stats Statistics
	sel := eng.Run(root, testView(), 1, &stats)

	if len(sel) != 3 || sel[0] != root || sel[1] != left || sel[2] != right {
		t.Fatalf("selected: %v", selNames(sel))
	}
	if stats.Enqueued != 3 || rm.QueueSize() != 3 {
		t.Fatalf("enqueued=%d queue=%d want 3/3", stats.Enqueued, rm.QueueSize())
	}
}

func TestTraversal_ThresholdMet_StopsDescent(t *testing.T) {
	eng, _, rm := newTestEngine(50)

	root := testTile(nil, nearCenter, 1, 8, "root.bin") // sse 40
	testTile(root, nearCenter, 1, 2, "left.bin")
	testTile(root, farCenter, 1, 2, "right.bin")

	var stats Statistics
	sel := eng.Run(root, testView(), 1, &stats)

	if len(sel) != 1 || sel[0] != root {
		t.Fatalf("selected: %v", selNames(sel))
	}
	if stats.Visited != 1 {
		t.Fatalf("visited: got %d want 1", stats.Visited)
	}
	if rm.QueueSize() != 1 {
		t.Fatalf("queue: got %d want 1", rm.QueueSize())
	}
}

func TestTraversal_OutOfFrustum_Culled(t *testing.T) {
	eng, _, rm := newTestEngine(50)

	root := testTile(nil, nearCenter, 200, 100, "")
	aside := testTile(root, geom.Vec3{X: 1000, Y: 0, Z: -10}, 1, 10, "aside.bin")

	var stats Statistics
	sel := eng.Run(root, testView(), 1, &stats)

	if len(sel) != 1 || sel[0] != root {
		t.Fatalf("selected: %v", selNames(sel))
	}
	if stats.Culled != 1 {
		t.Fatalf("culled: got %d want 1", stats.Culled)
	}
	if rm.Has(aside) {
		t.Fatalf("culled tile was enqueued")
	}
}

func TestTraversal_RepeatRun_Idempotent(t *testing.T) {
	eng, _, rm := newTestEngine(50)

	root := testTile(nil, nearCenter, 1, 100, "")
	left := testTile(root, nearCenter, 1, 10, "left.bin")
	right := testTile(root, farCenter, 1, 10, "right.bin")

	var s1, s2 Statistics
	first := eng.Run(root, testView(), 1, &s1)
	second := eng.Run(root, testView(), 2, &s2)

	if len(first) != len(second) {
		t.Fatalf("selection drifted: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("selection[%d] drifted", i)
		}
	}
	if s2.Enqueued != 0 || rm.QueueSize() != 2 {
		t.Fatalf("repeat run enqueued=%d queue=%d want 0/2", s2.Enqueued, rm.QueueSize())
	}
	if left.lastSelectedFrame != 2 || right.lastSelectedFrame != 2 {
		t.Fatalf("selection frames not advanced: %d, %d", left.lastSelectedFrame, right.lastSelectedFrame)
	}
}

func TestTraversal_FailedTile_RequeuedOnSelection(t *testing.T) {
	eng, _, rm := newTestEngine(50)

	root := testTile(nil, nearCenter, 1, 2, "root.bin") // sse 10: select root only
	root.state = ContentFailed

	var stats Statistics
	eng.Run(root, testView(), 1, &stats)

	if stats.Enqueued != 1 || !rm.Has(root) {
		t.Fatalf("failed tile not requeued: enqueued=%d has=%v", stats.Enqueued, rm.Has(root))
	}
}

func TestTraversal_AnomalousVolume_FailsOpen(t *testing.T) {
	eng, _, rm := newTestEngine(50)

	root := testTile(nil, nearCenter, 1, 100, "")
	odd := testTile(root, geom.Vec3{}, 0, 10, "odd.bin")
	odd.sphereErr = true // malformed volume
	fine := testTile(odd, farCenter, 1, 10, "fine.bin")

	var stats Statistics
	sel := eng.Run(root, testView(), 1, &stats)

	if stats.Anomalies != 1 {
		t.Fatalf("anomalies: got %d want 1", stats.Anomalies)
	}
	if len(sel) != 3 || sel[1] != odd || sel[2] != fine {
		t.Fatalf("selected: %v", selNames(sel))
	}

	// The anomaly loads at the back of the band, behind measurable tiles.
	first := heap.Pop(&rm.pending).(*loadRequest)
	second := heap.Pop(&rm.pending).(*loadRequest)
	if first.tile != fine || second.tile != odd {
		t.Fatalf("request order: got %q, %q", first.tile.contentURI, second.tile.contentURI)
	}
	if second.priority != 1 {
		t.Fatalf("anomaly priority: got %v want 1", second.priority)
	}
}

func selNames(sel []*Tile) []string {
	names := make([]string, len(sel))
	for i, t := range sel {
		names[i] = t.contentURI
	}
	return names
}
