package stream

import (
	"fmt"
	"math"

	"tilestream.ai/internal/descriptor"
)

// buildTree constructs the tile tree for a parsed document. baseURL is the
// document's own URL; content references resolve against it.
func buildTree(doc *descriptor.Document, baseURL string) (*Tile, error) {
	return buildSubtree(doc.Root, nil, baseURL)
}

type buildItem struct {
	node   *descriptor.Node
	parent *Tile
}

// buildSubtree turns a descriptor node hierarchy into tiles under parent
// (nil for a document root). The walk uses an explicit stack so descriptor
// depth never translates into call-stack depth. Children attached to the
// passed-in parent do not count as its inline children: a splice must stay
// prunable.
func buildSubtree(rootNode *descriptor.Node, parent *Tile, baseURL string) (*Tile, error) {
	if rootNode == nil {
		return nil, fmt.Errorf("empty subtree root")
	}

	var built *Tile
	stack := []buildItem{{node: rootNode, parent: parent}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		t, err := makeTile(it.node, it.parent, baseURL)
		if err != nil {
			return nil, err
		}
		if it.parent != nil {
			it.parent.children = append(it.parent.children, t)
			if it.parent != parent {
				it.parent.inlineChildren = len(it.parent.children)
			}
		}
		if built == nil {
			built = t
		}

		// Reverse push keeps the document's child order after LIFO pops.
		for i := len(it.node.Children) - 1; i >= 0; i-- {
			if it.node.Children[i] == nil {
				continue
			}
			stack = append(stack, buildItem{node: it.node.Children[i], parent: t})
		}
	}
	return built, nil
}

func makeTile(node *descriptor.Node, parent *Tile, baseURL string) (*Tile, error) {
	t := &Tile{
		parent: parent,
		volume: node.BoundingVolume.Volume(),
	}
	if parent != nil {
		t.depth = parent.depth + 1
	}

	inherited := RefineReplace
	if parent != nil {
		inherited = parent.refine
	}
	t.refine = parseRefine(node.Refine, inherited)

	ge := node.GeometricError
	if math.IsNaN(ge) || math.IsInf(ge, 0) || ge < 0 {
		t.anomalous = true
		ge = 0
	}
	t.geometricError = ge

	if node.Content != nil && node.Content.URI != "" {
		resolved, err := descriptor.ResolveURI(baseURL, node.Content.URI)
		if err != nil {
			return nil, fmt.Errorf("tile content: %w", err)
		}
		t.contentURI = resolved
		t.external = descriptor.IsTilesetURI(resolved)
	}
	return t, nil
}

// spliceSubtree attaches an external document's root as a child of t. The
// spliced tiles take their depth and inherited refinement from t and resolve
// references against the external document's own URL.
func spliceSubtree(t *Tile, doc *descriptor.Document, docURL string) error {
	_, err := buildSubtree(doc.Root, t, docURL)
	return err
}

// pruneSpliced drops children spliced from an external document, leaving the
// tile's inline children intact. Returns the removed tiles so the caller can
// release any resident content; late completions for them are discarded via
// the detached mark.
func pruneSpliced(t *Tile) []*Tile {
	if len(t.children) <= t.inlineChildren {
		return nil
	}
	spliced := t.children[t.inlineChildren:]
	t.children = t.children[:t.inlineChildren]

	var removed []*Tile
	stack := append([]*Tile(nil), spliced...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		stack = append(stack, n.children...)
		n.children = nil
		n.parent = nil
		n.detached = true
		removed = append(removed, n)
	}
	return removed
}

// treeStats summarizes the tree's current shape. Spliced subtrees count
// while attached; pruned tiles do not.
type treeStats struct {
	maxDepth int
	count    int
}

func treeMetrics(root *Tile) treeStats {
	var st treeStats
	if root == nil {
		return st
	}
	stack := []*Tile{root}
	for len(stack) > 0 {
		t := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		st.count++
		if t.depth > st.maxDepth {
			st.maxDepth = t.depth
		}
		stack = append(stack, t.children...)
	}
	return st
}
