package asyncssr

// abortNoAsync abandons server rendering of the region around a Pending node
// whose deferred opted out of SSR. With an enclosing boundary the boundary's
// whole subtree is discarded and its fallback spliced in; with none, the
// entire render collapses to a single unresolvable Pending node. The
// operation is idempotent: a second call for the same node is a no-op.
func (ic *interceptor) abortNoAsync(id NodeID) {
	t := ic.builder.tree
	pn := t.node(id)
	if pn.detached {
		return
	}
	if ic.col != nil {
		ic.col.IncrementAborts()
	}

	boundaryID := noNode
	for cur := pn.parent; cur != noNode; cur = t.node(cur).parent {
		n := t.node(cur)
		if n.kind == NodeBoundary && !n.detached {
			boundaryID = cur
			break
		}
	}

	stack := ic.eng.Stack()
	if boundaryID == noNode {
		ic.abortTopLevel(id)
		return
	}

	bn := t.node(boundaryID)

	// Truncate every frame down to and including the boundary's own frame
	// so the engine unwinds them without rendering or emitting anything.
	// The boundary's frame position also locates the parent frame that
	// will receive the fallback.
	idx := -1
	for i := stack.Depth() - 1; i >= 0; i-- {
		f := stack.At(i)
		f.Children = nil
		f.ChildIndex = 0
		f.Footer = ""
		if f == bn.frame {
			idx = i
			break
		}
	}

	// Cancel every outstanding deferred under the boundary, the trigger
	// included, before the subtree disappears.
	for _, pid := range t.collectPendings(boundaryID) {
		abortDeferred(t.node(pid).deferred)
		t.removePending(pid)
	}

	if bn.fallback != nil && idx > 0 {
		pf := stack.At(idx - 1)
		pf.Children = insertChild(pf.Children, pf.ChildIndex, bn.fallback)
	}

	parent := bn.parent
	t.detachSubtree(boundaryID)
	ic.builder.walk.cursor = parent
	ic.builder.walk.boundaryDepth--
	ic.eng.SetLastWasText(false)
}

// abortTopLevel handles opt-out with no boundary anywhere above: nothing
// rendered so far can be used, and nothing can replace it.
func (ic *interceptor) abortTopLevel(id NodeID) {
	t := ic.builder.tree
	pn := t.node(id)
	stack := ic.eng.Stack()
	for i := stack.Depth() - 1; i >= 0; i-- {
		f := stack.At(i)
		f.Children = nil
		f.ChildIndex = 0
		f.Footer = ""
	}
	for _, pid := range t.collectPendings(t.Root()) {
		abortDeferred(t.node(pid).deferred)
		t.removePending(pid)
	}
	t.resetForAbort(pn.deferred, pn.snapshot)
	ic.builder.walk.cursor = t.Root()
	ic.builder.walk.boundaryDepth = 0
}

// abortDeferred cancels a deferred whose result will never be used.
// Cancellation is advisory: a panicking Abort must not break the render.
func abortDeferred(d Deferred) {
	a, ok := d.(Abortable)
	if !ok {
		return
	}
	defer func() {
		_ = recover()
	}()
	a.Abort()
}

func insertChild(children []any, at int, child any) []any {
	if at < 0 {
		at = 0
	}
	if at > len(children) {
		at = len(children)
	}
	out := make([]any, 0, len(children)+1)
	out = append(out, children[:at]...)
	out = append(out, child)
	out = append(out, children[at:]...)
	return out
}
