package asyncssr

import (
	"strings"

	"github.com/revskill10/react-async-ssr/internal/budget"
)

// NodeKind discriminates boundary tree nodes.
type NodeKind int

const (
	// NodeRoot is the single tree root holding top-level output.
	NodeRoot NodeKind = iota
	// NodeText holds a contiguous run of finished markup.
	NodeText
	// NodeBoundary groups the output of one Suspense boundary.
	NodeBoundary
	// NodePending marks a region whose content is deferred.
	NodePending
)

func (k NodeKind) String() string {
	switch k {
	case NodeRoot:
		return "root"
	case NodeText:
		return "text"
	case NodeBoundary:
		return "boundary"
	case NodePending:
		return "pending"
	default:
		return "unknown"
	}
}

// NodeID indexes a node within its Tree. IDs are dense, allocated in
// creation order, and never reused; a detached node keeps its ID but is
// unreachable from the root.
type NodeID int

const noNode NodeID = -1

type treeNode struct {
	kind     NodeKind
	parent   NodeID
	children []NodeID

	// text accumulates finished markup; only used by NodeText.
	text []byte

	// boundary fields
	fallback any
	frame    *Frame

	// pending fields
	element      *Element
	deferred     Deferred
	unresolvable bool
	grafted      *Tree

	snapshot      *ContextSnapshot
	isRootElement bool
	detached      bool
}

// Tree is the boundary tree one render pass produces: finished markup in
// Text nodes, Suspense regions as Boundary nodes, deferred regions as
// Pending nodes. The tree is immutable once the render pass finishes except
// for Graft, which attaches the result of resuming a Pending node.
type Tree struct {
	nodes   []treeNode
	pending []NodeID
}

func newTree() *Tree {
	t := &Tree{}
	t.nodes = append(t.nodes, treeNode{kind: NodeRoot, parent: noNode})
	return t
}

// Root returns the root node's ID.
func (t *Tree) Root() NodeID { return 0 }

func (t *Tree) node(id NodeID) *treeNode { return &t.nodes[id] }

// Kind reports the kind of node id.
func (t *Tree) Kind(id NodeID) NodeKind { return t.nodes[id].kind }

// Children returns a copy of id's child IDs in document order.
func (t *Tree) Children(id NodeID) []NodeID {
	src := t.nodes[id].children
	out := make([]NodeID, len(src))
	copy(out, src)
	return out
}

// Parent returns id's parent, or false for the root.
func (t *Tree) Parent(id NodeID) (NodeID, bool) {
	p := t.nodes[id].parent
	return p, p != noNode
}

// Text returns the markup accumulated in a Text node.
func (t *Tree) Text(id NodeID) string { return string(t.nodes[id].text) }

// Fallback returns a Boundary node's fallback element, which may be nil.
func (t *Tree) Fallback(id NodeID) any { return t.nodes[id].fallback }

// DeferredOf returns the deferred a Pending node waits on.
func (t *Tree) DeferredOf(id NodeID) Deferred { return t.nodes[id].deferred }

// Snapshot returns the ambient context captured when id was created.
func (t *Tree) Snapshot(id NodeID) *ContextSnapshot { return t.nodes[id].snapshot }

// IsRootElement reports whether content rendered for id sits at the logical
// document root, and so must carry the hydration root marker.
func (t *Tree) IsRootElement(id NodeID) bool { return t.nodes[id].isRootElement }

// Unresolvable reports whether id is the synthetic Pending node left behind
// when a render was abandoned outside any boundary. Its deferred will never
// be waited on.
func (t *Tree) Unresolvable(id NodeID) bool { return t.nodes[id].unresolvable }

// Pending returns the outstanding Pending nodes in creation order. Nodes
// leave the list when they resolve or when an enclosing boundary is
// abandoned.
func (t *Tree) Pending() []NodeID {
	out := make([]NodeID, len(t.pending))
	copy(out, t.pending)
	return out
}

// Grafted returns the tree attached to a resolved Pending node, or nil.
func (t *Tree) Grafted(id NodeID) *Tree { return t.nodes[id].grafted }

// Graft attaches sub as the resolved content of Pending node id and removes
// id from the pending list. Grafting is the one mutation allowed after a
// render pass completes; it is the driver's way of filling holes.
func (t *Tree) Graft(id NodeID, sub *Tree) {
	n := t.node(id)
	n.grafted = sub
	t.removePending(id)
}

// HTML flattens the tree to markup, descending into grafted subtrees.
// Unresolved Pending nodes contribute nothing.
func (t *Tree) HTML() string {
	var b strings.Builder
	t.writeNode(&b, t.Root())
	return b.String()
}

// NodeHTML flattens the subtree under id the same way. For a Boundary node
// this is the markup of the boundary's own region.
func (t *Tree) NodeHTML(id NodeID) string {
	var b strings.Builder
	t.writeNode(&b, id)
	return b.String()
}

func (t *Tree) writeNode(b *strings.Builder, id NodeID) {
	n := &t.nodes[id]
	switch n.kind {
	case NodeText:
		b.Write(n.text)
	case NodePending:
		if n.grafted != nil {
			n.grafted.writeNode(b, n.grafted.Root())
		}
	default:
		for _, c := range n.children {
			t.writeNode(b, c)
		}
	}
}

func (t *Tree) newNode(kind NodeKind, parent NodeID) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, treeNode{kind: kind, parent: parent})
	p := t.node(parent)
	p.children = append(p.children, id)
	return id
}

// appendText adds markup under parent, extending the last child when it is
// already a Text node so runs of finished output coalesce.
func (t *Tree) appendText(parent NodeID, s string) {
	p := t.node(parent)
	if n := len(p.children); n > 0 {
		last := p.children[n-1]
		if t.nodes[last].kind == NodeText {
			t.nodes[last].text = append(t.nodes[last].text, s...)
			return
		}
	}
	id := t.newNode(NodeText, parent)
	t.nodes[id].text = append(t.nodes[id].text, s...)
}

func (t *Tree) addPending(id NodeID) {
	t.pending = append(t.pending, id)
}

func (t *Tree) removePending(id NodeID) {
	for i, p := range t.pending {
		if p == id {
			t.pending = append(t.pending[:i], t.pending[i+1:]...)
			return
		}
	}
}

// collectPendings gathers the live Pending nodes in id's subtree, id
// included, in document order.
func (t *Tree) collectPendings(id NodeID) []NodeID {
	var out []NodeID
	var walk func(NodeID)
	walk = func(n NodeID) {
		node := &t.nodes[n]
		if node.detached {
			return
		}
		if node.kind == NodePending {
			out = append(out, n)
		}
		for _, c := range node.children {
			walk(c)
		}
	}
	walk(id)
	return out
}

// detachSubtree unlinks id from its parent and marks the whole subtree
// detached. Node IDs remain valid but the nodes become unreachable from the
// root.
func (t *Tree) detachSubtree(id NodeID) {
	n := t.node(id)
	if p := n.parent; p != noNode {
		parent := t.node(p)
		for i, c := range parent.children {
			if c == id {
				parent.children = append(parent.children[:i], parent.children[i+1:]...)
				break
			}
		}
	}
	var mark func(NodeID)
	mark = func(n NodeID) {
		node := &t.nodes[n]
		node.detached = true
		node.frame = nil
		for _, c := range node.children {
			mark(c)
		}
	}
	mark(id)
}

// resetForAbort discards everything rendered so far and leaves the tree as a
// single synthetic Pending node that can never resolve. Used when a render
// is abandoned outside any boundary.
func (t *Tree) resetForAbort(d Deferred, snap *ContextSnapshot) NodeID {
	root := t.node(t.Root())
	for _, c := range append([]NodeID(nil), root.children...) {
		t.detachSubtree(c)
	}
	id := t.newNode(NodePending, t.Root())
	n := t.node(id)
	n.deferred = d
	n.snapshot = snap
	n.unresolvable = true
	t.pending = []NodeID{id}
	return id
}

// walkState is the builder's position: the node receiving output and how
// many boundaries enclose it.
type walkState struct {
	cursor        NodeID
	boundaryDepth int
}

// treeBuilder owns the tree and walk position for one render pass.
type treeBuilder struct {
	tree          *Tree
	walk          walkState
	eng           Engine
	caps          capabilities
	logicallyRoot bool
	tracker       *budget.Tracker
}

func newTreeBuilder(eng Engine, caps capabilities, logicallyRoot bool, tracker *budget.Tracker) *treeBuilder {
	return &treeBuilder{
		tree:          newTree(),
		walk:          walkState{cursor: 0},
		eng:           eng,
		caps:          caps,
		logicallyRoot: logicallyRoot,
		tracker:       tracker,
	}
}

// createChild adds a Boundary or Pending node under the cursor, snapshots
// the ambient context into it, and moves the cursor inside. The root marker
// flag is computed here, before any frame for the node is pushed, from the
// invariant that at the logical root the stack holds exactly one frame per
// enclosing boundary plus the bottom frame.
func (b *treeBuilder) createChild(kind NodeKind, ctx LegacyContext, namespace string) (NodeID, error) {
	if b.tracker != nil {
		if err := b.tracker.AddNode(); err != nil {
			return noNode, err
		}
	}
	snap := captureSnapshot(b.eng, b.caps, ctx, namespace)
	isRoot := b.logicallyRoot && b.eng.Stack().Depth() == b.walk.boundaryDepth+1
	id := b.tree.newNode(kind, b.walk.cursor)
	n := b.tree.node(id)
	n.snapshot = snap
	n.isRootElement = isRoot
	b.walk.cursor = id
	if kind == NodeBoundary {
		b.walk.boundaryDepth++
	}
	b.eng.SetLastWasText(false)
	return id, nil
}

// appendOutput stores finished markup under the cursor.
func (b *treeBuilder) appendOutput(s string) {
	if s == "" {
		return
	}
	b.tree.appendText(b.walk.cursor, s)
}
