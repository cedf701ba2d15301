package asyncssr

import (
	"fmt"
	"strings"

	"github.com/revskill10/react-async-ssr/internal/metrics"
)

type signalKind int

const (
	sigNone signalKind = iota
	// sigBoundary: this render call entered a Suspense boundary.
	sigBoundary
	// sigPending: a component suspended during this render call.
	sigPending
)

// interceptor sits between the engine's read loop and RenderBase. It
// substitutes boundary and component elements before the engine sees them,
// observes frame pops, and files every piece of finished markup under the
// tree cursor. At most one signal is raised per intercepted render call:
// either a boundary was entered or a suspension occurred, never both.
type interceptor struct {
	eng     Engine
	builder *treeBuilder
	caps    capabilities
	col     *metrics.Collector

	curNS   string
	sig     signalKind
	sigNode NodeID
}

func newInterceptor(eng Engine, builder *treeBuilder, caps capabilities, col *metrics.Collector) *interceptor {
	ic := &interceptor{
		eng:     eng,
		builder: builder,
		caps:    caps,
		col:     col,
		sigNode: noNode,
	}
	eng.SetRenderHook(ic)
	eng.Stack().OnPop(ic.framePopped)
	return ic
}

// RenderElement implements RenderHook. It renders one child value through
// the engine and post-processes the outcome: boundary entries bind their
// frame, suspensions discard their synthetic frame and retreat the cursor,
// and plain output lands in the tree after root marker correction.
func (ic *interceptor) RenderElement(el any, ctx LegacyContext, namespace string) (string, error) {
	ic.sig = sigNone
	ic.sigNode = noNode
	ic.curNS = namespace
	depthBefore := ic.eng.Stack().Depth()

	sub, err := ic.substitute(el, ctx, namespace)
	if err != nil {
		return "", err
	}
	out, err := ic.eng.RenderBase(sub, ctx, namespace)
	if err != nil {
		return "", err
	}

	switch ic.sig {
	case sigBoundary:
		// The engine just pushed the boundary body's frame. Bind it to
		// the node and overwrite the snapshot's inherited values with
		// the frame's, which reflect the boundary's exact position.
		frame := ic.eng.Stack().Top()
		n := ic.builder.tree.node(ic.sigNode)
		n.snapshot.Legacy = cloneLegacy(frame.Context)
		n.snapshot.Namespace = frame.Namespace
		n.frame = frame

	case sigPending:
		// The empty substitute pushed one frame carrying the legacy
		// context and namespace of the failure point. Record them,
		// then drop the frame without notifying the pop observer: it
		// never represented real content.
		frame := ic.eng.Stack().Discard()
		n := ic.builder.tree.node(ic.sigNode)
		if frame != nil {
			n.snapshot.Legacy = cloneLegacy(frame.Context)
			n.snapshot.Namespace = frame.Namespace
		}
		if noSSRDeferred(n.deferred) {
			ic.abortNoAsync(ic.sigNode)
		} else if parent, ok := ic.builder.tree.Parent(ic.sigNode); ok {
			ic.builder.walk.cursor = parent
		}

	default:
		if out != "" {
			ic.builder.appendOutput(ic.fixRootMarker(out, depthBefore))
		}
	}
	return "", nil
}

// substitute rewrites boundary and component elements before the engine
// renders them. Suspense becomes a plain fragment with a Boundary node
// tracking it; components are wrapped so their result, or their suspension,
// passes back through the interceptor.
func (ic *interceptor) substitute(el any, ctx LegacyContext, namespace string) (any, error) {
	e, ok := el.(*Element)
	if !ok {
		return el, nil
	}
	switch t := e.Type.(type) {
	case suspenseType:
		id, err := ic.builder.createChild(NodeBoundary, ctx, namespace)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBudgetExceeded, err)
		}
		ic.builder.tree.node(id).fallback = e.Props["fallback"]
		ic.sig = sigBoundary
		ic.sigNode = id
		if ic.col != nil {
			ic.col.IncrementBoundariesEntered()
		}
		return &Element{Type: Fragment, Children: e.Children}, nil
	case Component:
		return ic.wrapComponent(e, t), nil
	case func(*Scope, Props) (any, error):
		return ic.wrapComponent(e, Component(t)), nil
	default:
		return el, nil
	}
}

// wrapComponent replaces a component element's type with a closure that runs
// the original and inspects the outcome. A suspension records a Pending node
// for the original element and substitutes nothing, so the engine completes
// the call with an empty frame. A successful result is substituted again, as
// it may itself be a boundary or another component.
func (ic *interceptor) wrapComponent(orig *Element, fn Component) *Element {
	wrapped := Component(func(s *Scope, props Props) (any, error) {
		res, err := fn(s, props)
		if err != nil {
			d, ok := suspended(err)
			if !ok {
				return nil, err
			}
			id, perr := ic.suspendNode(orig, d, s.legacy)
			if perr != nil {
				return nil, perr
			}
			ic.sig = sigPending
			ic.sigNode = id
			return &Element{Type: Fragment}, nil
		}
		return ic.substitute(res, s.legacy, ic.curNS)
	})
	return &Element{Type: wrapped, Props: orig.Props, Children: orig.Children}
}

func (ic *interceptor) suspendNode(orig *Element, d Deferred, ctx LegacyContext) (NodeID, error) {
	if ic.builder.tracker != nil {
		if err := ic.builder.tracker.AddPending(); err != nil {
			return noNode, fmt.Errorf("%w: %v", ErrBudgetExceeded, err)
		}
	}
	id, err := ic.builder.createChild(NodePending, ctx, ic.curNS)
	if err != nil {
		return noNode, fmt.Errorf("%w: %v", ErrBudgetExceeded, err)
	}
	n := ic.builder.tree.node(id)
	n.element = orig
	n.deferred = d
	ic.builder.tree.addPending(id)
	if ic.col != nil {
		ic.col.IncrementSuspensions()
	}
	return id, nil
}

// framePopped observes every ordinary frame pop. Completing the frame bound
// to the cursor's boundary closes that boundary; any other frame just has
// its footer flushed as output.
func (ic *interceptor) framePopped(f *Frame) {
	cur := ic.builder.tree.node(ic.builder.walk.cursor)
	if cur.kind == NodeBoundary && cur.frame == f {
		cur.frame = nil
		ic.builder.walk.cursor = cur.parent
		ic.builder.walk.boundaryDepth--
		return
	}
	if f.Footer != "" {
		ic.builder.appendOutput(f.Footer)
		ic.eng.SetLastWasText(false)
	}
}

// fixRootMarker corrects hydration root markers on host element output. The
// engine marks elements rendered with a single frame on the stack; that is
// wrong in both directions once renders nest. Nested renders are not the
// document root, so a marker at engine depth one is stripped; and inside a
// boundary at the logical root the stack is deeper than one, so the marker
// the engine withheld is injected.
func (ic *interceptor) fixRootMarker(out string, depthBefore int) string {
	if !ic.caps.RootMarkers || out == "" || out[0] != '<' {
		return out
	}
	if depthBefore == 1 && !ic.builder.logicallyRoot {
		return stripRootMarker(out)
	}
	if ic.builder.logicallyRoot && ic.builder.walk.boundaryDepth > 0 &&
		depthBefore == ic.builder.walk.boundaryDepth+1 {
		return injectRootMarker(out)
	}
	return out
}

const rootMarker = ` data-reactroot=""`

func stripRootMarker(out string) string {
	i := strings.Index(out, rootMarker)
	if i < 0 {
		return out
	}
	if j := strings.IndexByte(out, '>'); j >= 0 && i > j {
		// Marker text occurs past the first tag; leave it alone.
		return out
	}
	return out[:i] + out[i+len(rootMarker):]
}

func injectRootMarker(out string) string {
	i := 1
	for i < len(out) && out[i] != ' ' && out[i] != '>' && out[i] != '/' {
		i++
	}
	if j := strings.IndexByte(out, '>'); j >= 0 {
		if k := strings.Index(out[:j+1], rootMarker); k >= 0 {
			return out
		}
	}
	return out[:i] + rootMarker + out[i:]
}

func noSSRDeferred(d Deferred) bool {
	m, ok := d.(NoSSR)
	return ok && m.NoSSR()
}
