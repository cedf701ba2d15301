//go:build property

package asyncssr

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// syncOnlyBytes remaps generator opcodes so the builder never emits an
// async region, keeping the generated tree fully synchronous.
func syncOnlyBytes(raw []int) []byte {
	out := make([]byte, len(raw))
	for i, v := range raw {
		b := byte(v)
		if b%8 == 7 {
			b = 3
		}
		out[i] = b
	}
	return out
}

// TestRenderProperties validates structural properties of the interception
// layer against randomly generated element trees.
func TestRenderProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(1729)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Property: with no async regions the intercepted render must match the
	// bare engine byte for byte.
	properties.Property("interception is invisible for synchronous trees", prop.ForAll(
		func(raw []int) bool {
			fb := &fuzzBuilder{data: syncOnlyBytes(raw)}
			root := E("div", nil, fb.build(0))
			if fb.sawAsync {
				return true
			}

			tree, err := New(WithMetrics(false)).RenderTree(root)
			if err != nil {
				return false
			}
			if err := checkTreeInvariants(tree); err != nil {
				return false
			}

			want, err := NewSyncRenderer(root, EngineConfig{}).Read()
			return err == nil && tree.HTML() == want
		},
		gen.SliceOfN(24, gen.IntRange(0, 255)),
	))

	// Property: the final document depends only on where regions sit in the
	// tree, never on the order their promises settle.
	properties.Property("settlement order does not affect the final document", prop.ForAll(
		func(regions int, seed int64) bool {
			if regions < 2 || regions > 6 {
				return true
			}

			build := func() (*Renderer, *Tree, error) {
				kids := make([]any, 0, regions)
				for i := 0; i < regions; i++ {
					p := NewPromise()
					content := E("p", Props{"data-i": i}, "region")
					kids = append(kids, E(Suspense, Props{"fallback": E("em", nil, "loading")},
						E(asyncComp(p, content), nil)))
				}
				r := New(WithMetrics(false))
				tree, err := r.RenderTree(E("div", nil, kids...))
				return r, tree, err
			}

			settle := func(r *Renderer, tree *Tree, order []int) bool {
				ids := tree.Pending()
				if len(ids) != regions {
					return false
				}
				for _, k := range order {
					id := ids[k]
					tree.DeferredOf(id).(*Promise).Resolve(nil)
					sub, err := r.Resume(tree, id)
					if err != nil {
						return false
					}
					tree.Graft(id, sub)
				}
				return len(tree.Pending()) == 0 && checkTreeInvariants(tree) == nil
			}

			ra, ta, err := build()
			if err != nil {
				return false
			}
			rb, tb, err := build()
			if err != nil {
				return false
			}

			inOrder := make([]int, regions)
			for i := range inOrder {
				inOrder[i] = i
			}
			if !settle(ra, ta, inOrder) {
				return false
			}
			if !settle(rb, tb, rand.New(rand.NewSource(seed)).Perm(regions)) {
				return false
			}
			if ta.HTML() != tb.HTML() {
				return false
			}

			// The resolved document must equal a plain synchronous render of
			// the same content.
			plain := make([]any, 0, regions)
			for i := 0; i < regions; i++ {
				plain = append(plain, E("p", Props{"data-i": i}, "region"))
			}
			want, err := NewSyncRenderer(E("div", nil, plain...), EngineConfig{}).Read()
			return err == nil && ta.HTML() == want
		},
		gen.IntRange(2, 6),
		gen.Int64Range(0, 1<<31),
	))

	// Property: text content is always escaped, so markup characters never
	// leak out of a text child.
	properties.Property("rendered text never leaks markup characters", prop.ForAll(
		func(s string) bool {
			tree, err := New(WithMetrics(false)).RenderTree(E("div", nil, s))
			if err != nil {
				return false
			}
			body := strings.TrimSuffix(strings.TrimPrefix(tree.HTML(), `<div data-reactroot="">`), "</div>")
			return !strings.ContainsAny(body, `<>"`)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

// TestBudgetProperties validates that render caps fail loudly instead of
// silently truncating output.
func TestBudgetProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(8128)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Property: a capped render either fails with ErrBudgetExceeded or
	// produces a tree within the cap. Only boundary and pending nodes are
	// structural; text runs are free.
	properties.Property("node budget either fails loudly or holds", prop.ForAll(
		func(raw []int, maxNodes int) bool {
			if maxNodes < 1 || maxNodes > 48 {
				return true
			}

			fb := &fuzzBuilder{data: syncOnlyBytes(raw)}
			root := E("div", nil, fb.build(0))

			r := New(WithMetrics(false), WithMaxNodes(maxNodes))
			tree, err := r.RenderTree(root)
			if err != nil {
				return errors.Is(err, ErrBudgetExceeded)
			}

			var structural func(id NodeID) int
			structural = func(id NodeID) int {
				n := 0
				for _, c := range tree.Children(id) {
					if k := tree.Kind(c); k == NodeBoundary || k == NodePending {
						n++
					}
					n += structural(c)
				}
				return n
			}
			return structural(tree.Root()) <= maxNodes
		},
		gen.SliceOfN(16, gen.IntRange(0, 255)),
		gen.IntRange(1, 32),
	))

	properties.TestingRun(t)
}
