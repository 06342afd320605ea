package stream

import (
	"strings"

	"tilestream.ai/internal/geom"
)

// ContentState tracks a tile's payload through its load lifecycle.
type ContentState uint8

const (
	ContentUnloaded ContentState = iota
	ContentLoading
	ContentLoaded
	ContentFailed
)

func (s ContentState) String() string {
	switch s {
	case ContentLoading:
		return "LOADING"
	case ContentLoaded:
		return "LOADED"
	case ContentFailed:
		return "FAILED"
	default:
		return "UNLOADED"
	}
}

// RefineMode says whether a tile's children replace its content or add to it.
type RefineMode uint8

const (
	RefineReplace RefineMode = iota
	RefineAdd
)

func (m RefineMode) String() string {
	if m == RefineAdd {
		return "ADD"
	}
	return "REPLACE"
}

// parseRefine maps the descriptor's refine string; an absent or unknown value
// inherits from the parent (the document root inherits REPLACE).
func parseRefine(s string, inherited RefineMode) RefineMode {
	switch strings.ToUpper(s) {
	case "ADD":
		return RefineAdd
	case "REPLACE":
		return RefineReplace
	default:
		return inherited
	}
}

// Tile is one node of the streamed hierarchy. The tree owns children; the
// parent link is navigational only. Tiles are created during tree
// construction and mutated only on the tileset's update goroutine.
type Tile struct {
	parent   *Tile
	children []*Tile

	depth          int
	volume         geom.BoundingVolume
	geometricError float64
	refine         RefineMode

	// contentURI is resolved against the owning document's base URL; empty
	// for structural nodes. external marks a nested tileset reference.
	contentURI string
	external   bool

	state   ContentState
	content []byte

	// inlineChildren counts the children from the owning document; children
	// past that index were spliced from an external tileset and are pruned
	// when its content is evicted.
	inlineChildren int

	// detached marks a tile pruned out of the tree; late fetch completions
	// for it are discarded.
	detached bool

	// anomalous marks a malformed bounding volume or geometric error seen at
	// build time; traversal fails open on it.
	anomalous bool

	// lastSelectedFrame guards in-use tiles against eviction. Zero = never.
	lastSelectedFrame uint64

	sphere     geom.Sphere
	sphereErr  bool
	sphereMemo bool
}

func (t *Tile) Parent() *Tile               { return t.parent }
func (t *Tile) Children() []*Tile           { return t.children }
func (t *Tile) Depth() int                  { return t.depth }
func (t *Tile) GeometricError() float64     { return t.geometricError }
func (t *Tile) Refine() RefineMode          { return t.refine }
func (t *Tile) ContentURI() string          { return t.contentURI }
func (t *Tile) External() bool              { return t.external }
func (t *Tile) ContentState() ContentState  { return t.state }
func (t *Tile) Content() []byte             { return t.content }
func (t *Tile) Volume() geom.BoundingVolume { return t.volume }

// HasContent reports whether the tile references a payload to load.
func (t *Tile) HasContent() bool { return t.contentURI != "" }

// BoundingSphere reduces the tile's volume to its culling sphere. ok=false
// marks the fail-open anomaly path.
func (t *Tile) BoundingSphere() (geom.Sphere, bool) {
	if !t.sphereMemo {
		t.sphereMemo = true
		s, err := t.volume.Sphere()
		if err != nil || t.anomalous {
			t.sphereErr = true
		} else {
			t.sphere = s
		}
	}
	return t.sphere, !t.sphereErr
}

// releaseContent reverts the tile to UNLOADED and drops its payload. Spliced
// children are handled by the cache, which owns eviction.
func (t *Tile) releaseContent() {
	t.content = nil
	t.state = ContentUnloaded
}
