package asyncssr

import (
	"errors"
	"strings"
	"testing"
)

// asyncComp returns a component that suspends on p until it settles, then
// renders content. Settled failures surface as component errors.
func asyncComp(p *Promise, content any) Component {
	return func(s *Scope, props Props) (any, error) {
		if !p.Settled() {
			return nil, Suspend(p)
		}
		if _, err := p.Result(); err != nil {
			return nil, err
		}
		return content, nil
	}
}

func TestRenderTreeMatchesBareEngine(t *testing.T) {
	// Without boundaries or suspensions the intercepted render must produce
	// byte-identical markup to the bare engine, hydration artifacts included.
	theme := NewCtx("theme", "plain")
	show := Component(func(s *Scope, props Props) (any, error) {
		return E("b", nil, s.Use(theme).(string)), nil
	})

	tests := []struct {
		name string
		root any
	}{
		{"host nesting", E("div", Props{"class": "a"}, E("p", nil, "x"), E("p", nil, "y"))},
		{"text runs", E("div", nil, "a", "b", 3, E("i", nil, "z"), "c", "d")},
		{"fragments", E("div", nil, E(Fragment, nil, "a", E(Fragment, nil, "b")), "c")},
		{"components", E("div", nil, E(show, nil))},
		{"providers", theme.Provide("dark", E("div", nil, E(show, nil), E(show, nil)))},
		{"legacy context", LegacyValues(LegacyContext{"k": "v"}, E("div", nil, "x"))},
		{"select", E("select", Props{"value": "b"}, E("option", Props{"value": "b"}, "B"))},
		{"void elements", E("div", nil, E("br", nil), "t", E("img", Props{"src": "i"}))},
		{"svg", E("svg", nil, E("foreignObject", nil, E("DIV", nil, "h")))},
	}

	r := New(WithMetrics(false))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want, err := NewSyncRenderer(tt.root, EngineConfig{}).Read()
			if err != nil {
				t.Fatalf("bare engine failed: %v", err)
			}
			tree, err := r.RenderTree(tt.root)
			if err != nil {
				t.Fatalf("RenderTree failed: %v", err)
			}
			checkTreeDeep(t, tree)
			if got := tree.HTML(); got != want {
				t.Errorf("intercepted render diverged:\ngot  %s\nwant %s", got, want)
			}
			if n := len(tree.Pending()); n != 0 {
				t.Errorf("sync render left %d pending nodes", n)
			}
		})
	}
}

func TestRenderTreeBoundaryStructure(t *testing.T) {
	root := E("div", nil,
		"before",
		E(Suspense, Props{"fallback": "..."}, E("p", nil, "inside")),
		"after",
	)
	r := New(WithMetrics(false), WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	checkTreeDeep(t, tree)

	kids := tree.Children(tree.Root())
	if len(kids) != 3 {
		t.Fatalf("root children = %d, want text,boundary,text: %v", len(kids), kids)
	}
	if tree.Kind(kids[0]) != NodeText || tree.Kind(kids[1]) != NodeBoundary || tree.Kind(kids[2]) != NodeText {
		t.Fatalf("kinds = %v %v %v", tree.Kind(kids[0]), tree.Kind(kids[1]), tree.Kind(kids[2]))
	}

	bn := kids[1]
	if fb := tree.Fallback(bn); fb != "..." {
		t.Errorf("Fallback = %v, want ...", fb)
	}
	if got := tree.NodeHTML(bn); got != "<p>inside</p>" {
		t.Errorf("boundary markup = %q", got)
	}
	if got := tree.HTML(); got != "<div>before<p>inside</p>after</div>" {
		t.Errorf("HTML = %q", got)
	}
}

func TestRenderTreeSuspension(t *testing.T) {
	p := NewPromise()
	root := E("div", nil,
		E(Suspense, Props{"fallback": "..."},
			E(asyncComp(p, E("p", nil, "late")), nil),
			"tail",
		),
	)
	r := New()
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	checkTreeDeep(t, tree)

	ids := tree.Pending()
	if len(ids) != 1 {
		t.Fatalf("Pending = %v, want one node", ids)
	}
	pn := ids[0]
	if tree.Kind(pn) != NodePending {
		t.Fatalf("kind = %v, want pending", tree.Kind(pn))
	}
	if tree.DeferredOf(pn) != Deferred(p) {
		t.Error("pending node holds a different deferred")
	}

	// The pending sits inside its boundary; content after the suspension
	// still rendered into the boundary.
	parent, ok := tree.Parent(pn)
	if !ok || tree.Kind(parent) != NodeBoundary {
		t.Fatalf("pending parent = %v (%v), want a boundary", parent, tree.Kind(parent))
	}
	bkids := tree.Children(parent)
	if len(bkids) != 2 || bkids[0] != pn || tree.Kind(bkids[1]) != NodeText {
		t.Fatalf("boundary children = %v, want [pending text]", bkids)
	}
	if got := tree.Text(bkids[1]); got != "tail" {
		t.Errorf("post-suspension text = %q, want tail", got)
	}

	// The hole contributes nothing until grafted.
	if got := tree.HTML(); got != `<div data-reactroot="">tail</div>` {
		t.Errorf("HTML with open hole = %q", got)
	}

	st := r.Stats()
	if st.BoundariesEntered != 1 || st.Suspensions != 1 {
		t.Errorf("stats = %+v, want 1 boundary and 1 suspension", st)
	}
}

func TestResumeAndGraft(t *testing.T) {
	p := NewPromise()
	root := E("div", nil,
		E(Suspense, nil, E(asyncComp(p, E("p", nil, "late")), nil)),
	)
	r := New(WithMetrics(false))
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	pn := tree.Pending()[0]

	p.Resolve(nil)
	sub, err := r.Resume(tree, pn)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	// Resumed content is not the document root: no hydration marker.
	if got := sub.HTML(); got != "<p>late</p>" {
		t.Errorf("resumed markup = %q, want <p>late</p>", got)
	}

	tree.Graft(pn, sub)
	checkTreeDeep(t, tree)
	if got := tree.HTML(); got != `<div data-reactroot=""><p>late</p></div>` {
		t.Errorf("HTML after graft = %q", got)
	}
	if len(tree.Pending()) != 0 {
		t.Errorf("Pending after graft = %v", tree.Pending())
	}
}

func TestResumeOnNonPendingNode(t *testing.T) {
	r := New(WithMetrics(false))
	tree, err := r.RenderTree(E(Suspense, nil, "x"))
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	bn := tree.Children(tree.Root())[0]
	if tree.Kind(bn) != NodeBoundary {
		t.Fatalf("expected boundary, got %v", tree.Kind(bn))
	}
	if _, err := r.Resume(tree, bn); err == nil {
		t.Error("Resume on a boundary node succeeded")
	}
}

func TestRootMarkerInsideRootBoundary(t *testing.T) {
	// A host element directly inside a top-level boundary is the logical
	// document root; the engine cannot see that so the marker is injected.
	root := E(Suspense, nil, E("main", Props{"id": "m"}, "x"))
	r := New(WithMetrics(false))
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	want := `<main data-reactroot="" id="m">x</main>`
	if got := tree.HTML(); got != want {
		t.Errorf("got  %s\nwant %s", got, want)
	}
}

func TestRootMarkerOnResumedRootElement(t *testing.T) {
	// Suspending at the very top of the document: the resumed pass renders
	// the logical root, so its marker is kept.
	p := NewPromise()
	r := New(WithMetrics(false))
	tree, err := r.RenderTree(E(asyncComp(p, E("section", nil, "x")), nil))
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	pn := tree.Pending()[0]
	if !tree.IsRootElement(pn) {
		t.Fatal("top-level pending not flagged as root element")
	}

	p.Resolve(nil)
	sub, err := r.Resume(tree, pn)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	tree.Graft(pn, sub)
	if got := tree.HTML(); got != `<section data-reactroot="">x</section>` {
		t.Errorf("HTML = %q", got)
	}
}

func TestRootMarkerStrippedInNestedResume(t *testing.T) {
	p := NewPromise()
	r := New(WithMetrics(false))
	tree, err := r.RenderTree(
		E("div", nil, E(Suspense, nil, E(asyncComp(p, E("p", nil, "x")), nil))),
	)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	pn := tree.Pending()[0]
	if tree.IsRootElement(pn) {
		t.Fatal("nested pending flagged as root element")
	}

	p.Resolve(nil)
	sub, err := r.Resume(tree, pn)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if strings.Contains(sub.HTML(), "data-reactroot") {
		t.Errorf("nested resume carries root marker: %s", sub.HTML())
	}
}

func TestSnapshotSeedsResumedRender(t *testing.T) {
	theme := NewCtx("theme", "light")
	p := NewPromise()

	reader := asyncComp(p, nil)
	display := Component(func(s *Scope, props Props) (any, error) {
		if _, err := reader(s, props); err != nil {
			return nil, err
		}
		return E("p", nil,
			s.Use(theme).(string), " / ", s.Legacy("user").(string),
		), nil
	})

	root := theme.Provide("dark",
		LegacyValues(LegacyContext{"user": "ada"},
			E("div", nil, E(Suspense, nil, E(display, nil))),
		),
	)
	r := New(WithMetrics(false), WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	pn := tree.Pending()[0]

	snap := tree.Snapshot(pn)
	if snap == nil {
		t.Fatal("pending node has no snapshot")
	}
	if len(snap.Providers) != 1 || snap.Providers[0].Value != "dark" {
		t.Errorf("snapshot providers = %+v", snap.Providers)
	}
	if snap.Legacy["user"] != "ada" {
		t.Errorf("snapshot legacy = %v", snap.Legacy)
	}

	p.Resolve(nil)
	sub, err := r.Resume(tree, pn)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := sub.HTML(); got != "<p>dark / ada</p>" {
		t.Errorf("resumed markup = %q, want context values restored", got)
	}
}

func TestSnapshotCarriesSelectValue(t *testing.T) {
	p := NewPromise()
	root := E("select", Props{"value": "b"},
		E(Suspense, nil,
			E(asyncComp(p, E("option", Props{"value": "b"}, "B")), nil),
		),
	)
	r := New(WithMetrics(false), WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	pn := tree.Pending()[0]
	if sv := tree.Snapshot(pn).SelectValue; sv != "b" {
		t.Fatalf("snapshot select value = %v, want b", sv)
	}

	p.Resolve(nil)
	sub, err := r.Resume(tree, pn)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if got := sub.HTML(); got != `<option value="b" selected="">B</option>` {
		t.Errorf("resumed option = %q, want it selected", got)
	}
}

func TestSnapshotCarriesNamespace(t *testing.T) {
	p := NewPromise()
	root := E("svg", nil,
		E(Suspense, nil,
			E(asyncComp(p, E("clipPath", Props{"id": "c"})), nil),
		),
	)
	r := New(WithMetrics(false), WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	pn := tree.Pending()[0]
	if ns := tree.Snapshot(pn).Namespace; ns != NamespaceSVG {
		t.Fatalf("snapshot namespace = %q, want svg", ns)
	}

	p.Resolve(nil)
	sub, err := r.Resume(tree, pn)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	// Case preserved: the resumed pass renders in the SVG namespace.
	if got := sub.HTML(); got != `<clipPath id="c"></clipPath>` {
		t.Errorf("resumed svg markup = %q", got)
	}
}

func TestNoSSRFallsBackToBoundaryFallback(t *testing.T) {
	p := NewPromise().MarkNoSSR()
	root := E("div", nil,
		E(Suspense, Props{"fallback": E("span", nil, "fb")},
			E("section", nil, "partial ", E(asyncComp(p, "never"), nil)),
		),
	)
	r := New(WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	checkTreeDeep(t, tree)

	if got := tree.HTML(); got != "<div><span>fb</span></div>" {
		t.Errorf("HTML = %q, want partial output replaced by fallback", got)
	}
	if n := len(tree.Pending()); n != 0 {
		t.Errorf("Pending = %d, want none after opt-out", n)
	}
	if !p.Aborted() {
		t.Error("opted-out deferred was not aborted")
	}
	if st := r.Stats(); st.Aborts != 1 {
		t.Errorf("Aborts = %d, want 1", st.Aborts)
	}
}

func TestNoSSRWithNilFallbackRendersNothing(t *testing.T) {
	p := NewPromise().MarkNoSSR()
	root := E("div", nil,
		"a",
		E(Suspense, nil, E(asyncComp(p, "never"), nil)),
		"b",
	)
	r := New(WithMetrics(false), WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	checkTreeDeep(t, tree)
	if got := tree.HTML(); got != "<div>ab</div>" {
		t.Errorf("HTML = %q, want boundary to vanish", got)
	}
}

func TestNoSSRAbortsSiblingWorkInBoundary(t *testing.T) {
	// Work already pending inside the same boundary is cancelled when the
	// boundary gives up.
	sibling := NewPromise()
	opt := NewPromise().MarkNoSSR()
	root := E(Suspense, Props{"fallback": "fb"},
		E(asyncComp(sibling, "s"), nil),
		E(asyncComp(opt, "o"), nil),
	)
	r := New(WithMetrics(false), WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	if got := tree.HTML(); got != "fb" {
		t.Errorf("HTML = %q, want fb", got)
	}
	if !sibling.Aborted() {
		t.Error("sibling deferred not aborted with its boundary")
	}
	if !opt.Aborted() {
		t.Error("trigger deferred not aborted")
	}
	if len(tree.Pending()) != 0 {
		t.Errorf("Pending = %v, want empty", tree.Pending())
	}
}

func TestNoSSRInnerBoundaryOnly(t *testing.T) {
	// Only the nearest boundary falls back; an outer boundary's own pending
	// work continues.
	outer := NewPromise()
	opt := NewPromise().MarkNoSSR()
	root := E(Suspense, Props{"fallback": "outer-fb"},
		E(asyncComp(outer, E("p", nil, "outer done")), nil),
		E(Suspense, Props{"fallback": E("i", nil, "inner-fb")},
			E(asyncComp(opt, "never"), nil),
		),
	)
	r := New(WithMetrics(false), WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	checkTreeDeep(t, tree)

	if outer.Aborted() {
		t.Fatal("outer pending aborted by inner opt-out")
	}
	ids := tree.Pending()
	if len(ids) != 1 || tree.DeferredOf(ids[0]) != Deferred(outer) {
		t.Fatalf("Pending = %v, want only the outer region", ids)
	}

	outer.Resolve(nil)
	sub, err := r.Resume(tree, ids[0])
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	tree.Graft(ids[0], sub)
	if got := tree.HTML(); got != "<p>outer done</p><i>inner-fb</i>" {
		t.Errorf("HTML = %q", got)
	}
}

func TestNoSSRTopLevelCollapsesRender(t *testing.T) {
	inflight := NewPromise()
	opt := NewPromise().MarkNoSSR()
	root := E("div", nil,
		E(asyncComp(inflight, "x"), nil),
		E(asyncComp(opt, "y"), nil),
	)
	r := New(WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	checkTreeDeep(t, tree)

	if got := tree.HTML(); got != "" {
		t.Errorf("HTML = %q, want everything discarded", got)
	}
	ids := tree.Pending()
	if len(ids) != 1 || !tree.Unresolvable(ids[0]) {
		t.Fatalf("Pending = %v, want a single unresolvable node", ids)
	}
	if !inflight.Aborted() {
		t.Error("in-flight sibling not aborted")
	}
	if _, err := r.Resume(tree, ids[0]); !errors.Is(err, ErrAborted) {
		t.Errorf("Resume err = %v, want ErrAborted", err)
	}
}

func TestBudgetLimitsPendingRegions(t *testing.T) {
	mk := func() *Element {
		return E("div", nil,
			E(asyncComp(NewPromise(), "a"), nil),
			E(asyncComp(NewPromise(), "b"), nil),
		)
	}

	if _, err := New(WithMetrics(false)).RenderTree(mk()); err != nil {
		t.Fatalf("default budget rejected a small render: %v", err)
	}

	r := New(WithMetrics(false), WithMaxPending(1))
	_, err := r.RenderTree(mk())
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("err = %v, want ErrBudgetExceeded", err)
	}
}

func TestBudgetLimitsTreeNodes(t *testing.T) {
	root := E("div", nil,
		E(Suspense, nil, "a"),
		E(Suspense, nil, "b"),
	)
	r := New(WithMetrics(false), WithMaxNodes(1))
	_, err := r.RenderTree(root)
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("err = %v, want ErrBudgetExceeded", err)
	}
}

func TestSeparatorStateResetsAcrossNodes(t *testing.T) {
	// Text on both sides of an async hole belongs to different nodes, so no
	// comment separator joins them, before or after resolution.
	p := NewPromise()
	root := E("div", nil, "a", E(asyncComp(p, "b"), nil), "c")
	r := New(WithMetrics(false))
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	if got := tree.HTML(); got != `<div data-reactroot="">ac</div>` {
		t.Errorf("HTML with hole = %q", got)
	}

	p.Resolve(nil)
	pn := tree.Pending()[0]
	sub, err := r.Resume(tree, pn)
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	tree.Graft(pn, sub)
	if got := tree.HTML(); got != `<div data-reactroot="">abc</div>` {
		t.Errorf("HTML after graft = %q", got)
	}
}

func TestSuspensionOutsideBoundaryIsAllowed(t *testing.T) {
	// Suspending without any boundary is fine as long as the deferred is
	// worth waiting for; only NoSSR opt-outs need a boundary.
	p := NewPromise()
	r := New(WithMetrics(false), WithStaticMarkup())
	tree, err := r.RenderTree(E("div", nil, E(asyncComp(p, "x"), nil)))
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	if len(tree.Pending()) != 1 {
		t.Fatalf("Pending = %v, want one node", tree.Pending())
	}
	p.Resolve(nil)
	sub, err := r.Resume(tree, tree.Pending()[0])
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	tree.Graft(tree.Pending()[0], sub)
	if got := tree.HTML(); got != "<div>x</div>" {
		t.Errorf("HTML = %q", got)
	}
}

func TestSettlementDoesNotMutateBuiltTree(t *testing.T) {
	// Settling a deferred after the walk must not touch the tree; content
	// arrives only through an explicit Resume and Graft.
	ok := NewPromise()
	bad := NewPromise()
	root := E("div", nil,
		"a",
		E(asyncComp(ok, "x"), nil),
		E(asyncComp(bad, "y"), nil),
		"b",
	)
	r := New(WithMetrics(false), WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	before := tree.HTML()
	pends := tree.Pending()
	if len(pends) != 2 {
		t.Fatalf("Pending = %v, want two nodes", pends)
	}

	ok.Resolve("x")
	bad.Reject(errors.New("boom"))

	if got := tree.HTML(); got != before {
		t.Errorf("settlement changed markup: %q -> %q", before, got)
	}
	after := tree.Pending()
	if len(after) != 2 || after[0] != pends[0] || after[1] != pends[1] {
		t.Errorf("settlement changed pending list: %v -> %v", pends, after)
	}
	for _, id := range after {
		if tree.Kind(id) != NodePending {
			t.Errorf("node %d kind = %v, want pending", id, tree.Kind(id))
		}
	}
	checkTreeDeep(t, tree)
}

// countingDeferred records every Abort call; unlike Promise it is not
// idempotent, so it exposes repeated cancellation of the same computation.
type countingDeferred struct {
	aborts int
}

func (d *countingDeferred) Subscribe(func(any), func(error)) {}

func (d *countingDeferred) Abort() { d.aborts++ }

func TestSecondOptOutSignalCancelsOnce(t *testing.T) {
	// A boundary abort followed by a top-level abort in the same walk must
	// not re-cancel work that already went down with the boundary.
	cd := &countingDeferred{}
	inBoundary := Component(func(s *Scope, props Props) (any, error) {
		return nil, Suspend(cd)
	})
	trigger1 := NewPromise().MarkNoSSR()
	trigger2 := NewPromise().MarkNoSSR()
	root := E("div", nil,
		E(Suspense, Props{"fallback": "fb"},
			E(inBoundary, nil),
			E(asyncComp(trigger1, "x"), nil),
		),
		E(asyncComp(trigger2, "y"), nil),
	)

	r := New(WithMetrics(false), WithStaticMarkup())
	tree, err := r.RenderTree(root)
	if err != nil {
		t.Fatalf("RenderTree failed: %v", err)
	}
	checkTreeDeep(t, tree)

	if cd.aborts != 1 {
		t.Errorf("deferred aborted %d times, want exactly once", cd.aborts)
	}
	if !trigger1.Aborted() || !trigger2.Aborted() {
		t.Error("opt-out triggers not aborted")
	}
	ids := tree.Pending()
	if len(ids) != 1 || !tree.Unresolvable(ids[0]) {
		t.Fatalf("Pending = %v, want the single unresolvable node", ids)
	}
	if got := tree.HTML(); got != "" {
		t.Errorf("HTML = %q, want empty after top-level abort", got)
	}
}
