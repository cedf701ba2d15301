// Package asyncssr renders component element trees to HTML on the server,
// with support for asynchronous regions. Components may suspend on deferred
// work; Suspense boundaries group such regions and decide, per region,
// whether the server waits for the result or ships the boundary's fallback.
//
// A render produces a boundary Tree: finished markup interleaved with
// Boundary and Pending nodes. The Renderer's own driver resolves Pending
// nodes round by round and flattens the tree to a string, but the Tree is a
// public structure so alternative drivers (streaming, progressive delivery)
// can make their own scheduling decisions.
package asyncssr

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/revskill10/react-async-ssr/internal/budget"
	"github.com/revskill10/react-async-ssr/internal/metrics"
)

// EngineFactory builds the synchronous engine a render pass runs on. The
// default factory returns a SyncRenderer.
type EngineFactory func(root any, cfg EngineConfig) Engine

// Config holds renderer settings. Use DefaultConfig and the With* options
// rather than constructing it directly.
type Config struct {
	// StaticMarkup renders without hydration artifacts: no root markers
	// and no comment separators between adjacent text nodes.
	StaticMarkup bool

	// Minify runs RenderToString output through an HTML minifier that
	// preserves hydration-relevant comments and closing tags.
	Minify bool

	// ConcurrencyLimit caps how many deferred settlements one render
	// waits on concurrently. Zero means no limit.
	ConcurrencyLimit int

	// MetricsEnabled collects render counters, readable via Stats.
	MetricsEnabled bool

	// MaxPending and MaxNodes cap outstanding async regions and
	// structural tree nodes per render. Zero disables the cap.
	MaxPending int
	MaxNodes   int

	// EngineFactory overrides the synchronous engine.
	EngineFactory EngineFactory
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		ConcurrencyLimit: 64,
		MetricsEnabled:   true,
		MaxPending:       1024,
		MaxNodes:         1 << 20,
	}
}

// Option adjusts renderer configuration.
type Option func(*Config)

// WithStaticMarkup renders plain markup with no hydration artifacts.
func WithStaticMarkup() Option {
	return func(c *Config) { c.StaticMarkup = true }
}

// WithMinify minifies RenderToString output.
func WithMinify() Option {
	return func(c *Config) { c.Minify = true }
}

// WithConcurrencyLimit caps concurrent settlement waits per render.
func WithConcurrencyLimit(n int) Option {
	return func(c *Config) { c.ConcurrencyLimit = n }
}

// WithMetrics enables or disables counter collection.
func WithMetrics(enabled bool) Option {
	return func(c *Config) { c.MetricsEnabled = enabled }
}

// WithMaxPending caps outstanding async regions per render.
func WithMaxPending(n int) Option {
	return func(c *Config) { c.MaxPending = n }
}

// WithMaxNodes caps structural tree nodes per render.
func WithMaxNodes(n int) Option {
	return func(c *Config) { c.MaxNodes = n }
}

// WithEngineFactory substitutes the synchronous engine. Optional engine
// capabilities are probed once, here, not per element.
func WithEngineFactory(f EngineFactory) Option {
	return func(c *Config) { c.EngineFactory = f }
}

// Renderer renders element trees with async support. It is safe for
// concurrent use; each render gets its own engine and tree.
type Renderer struct {
	config *Config
	caps   capabilities
	col    *metrics.Collector
}

// New builds a Renderer.
func New(opts ...Option) *Renderer {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	if cfg.EngineFactory == nil {
		cfg.EngineFactory = func(root any, ec EngineConfig) Engine {
			return NewSyncRenderer(root, ec)
		}
	}
	r := &Renderer{config: cfg}
	probe := cfg.EngineFactory(nil, EngineConfig{StaticMarkup: cfg.StaticMarkup})
	r.caps = probeCapabilities(probe)
	if cfg.MetricsEnabled {
		r.col = metrics.NewCollector()
	}
	return r
}

func (r *Renderer) newTracker() *budget.Tracker {
	if r.config.MaxPending <= 0 && r.config.MaxNodes <= 0 {
		return nil
	}
	return budget.NewTracker(budget.Config{
		MaxPending: r.config.MaxPending,
		MaxNodes:   r.config.MaxNodes,
	})
}

// renderPass runs one synchronous pass over el and returns its boundary
// tree. A snapshot, when given, seeds the pass with the ambient context of
// the position being resumed.
func (r *Renderer) renderPass(el any, snap *ContextSnapshot, logicallyRoot bool, tracker *budget.Tracker) (*Tree, error) {
	ec := EngineConfig{StaticMarkup: r.config.StaticMarkup}
	if snap != nil {
		ec.Context = snap.Legacy
		ec.Namespace = snap.Namespace
	}
	eng := r.config.EngineFactory(el, ec)
	if snap != nil {
		snap.Restore(eng)
	}
	builder := newTreeBuilder(eng, r.caps, logicallyRoot, tracker)
	newInterceptor(eng, builder, r.caps, r.col)
	if _, err := eng.Read(); err != nil {
		return nil, err
	}
	return builder.tree, nil
}

// RenderTree runs one render pass over el and returns the resulting
// boundary tree without waiting for any deferred work. Callers drive
// resolution themselves via Tree.Pending, Resume and Tree.Graft.
func (r *Renderer) RenderTree(el any) (*Tree, error) {
	if r.col != nil {
		r.col.RenderStarted()
		defer r.col.RenderFinished()
	}
	tree, err := r.renderPass(el, nil, true, r.newTracker())
	if err != nil {
		if r.col != nil {
			r.col.IncrementRendersFailed()
		}
		return nil, err
	}
	if r.col != nil {
		r.col.IncrementRendersCompleted()
	}
	return tree, nil
}

// Resume re-renders the interrupted element of Pending node id, seeded from
// the ambient context captured when the node was created, and returns the
// resulting subtree. The caller grafts it with Tree.Graft.
func (r *Renderer) Resume(t *Tree, id NodeID) (*Tree, error) {
	return r.resume(t, id, r.newTracker())
}

func (r *Renderer) resume(t *Tree, id NodeID, tracker *budget.Tracker) (*Tree, error) {
	n := t.node(id)
	if n.kind != NodePending {
		return nil, fmt.Errorf("asyncssr: node %d is a %s node, not pending", id, n.kind)
	}
	if n.unresolvable {
		return nil, ErrAborted
	}
	return r.renderPass(n.element, n.snapshot, n.isRootElement, tracker)
}

// RenderToString renders el to a complete HTML string, waiting for every
// async region to settle. Deferred failures, top-level opt-outs and budget
// overruns fail the whole render; ctx cancellation aborts outstanding work.
func (r *Renderer) RenderToString(ctx context.Context, el any) (string, error) {
	if r.col != nil {
		r.col.RenderStarted()
		defer r.col.RenderFinished()
	}
	tracker := r.newTracker()
	tree, err := r.renderPass(el, nil, true, tracker)
	if err != nil {
		if r.col != nil {
			r.col.IncrementRendersFailed()
		}
		return "", err
	}
	if err := r.resolveAll(ctx, tree, tracker, nil); err != nil {
		if r.col != nil {
			r.col.IncrementRendersFailed()
		}
		return "", err
	}
	out := tree.HTML()
	if r.config.Minify {
		out = minifyHTML(out)
	}
	if r.col != nil {
		r.col.IncrementRendersCompleted()
	}
	return out, nil
}

// RenderTo streams el to w as async regions settle: after each resolution
// round the maximal ready prefix of the document is flushed. Output is never
// minified, chunk boundaries fall where rendering blocked.
func (r *Renderer) RenderTo(ctx context.Context, w io.Writer, el any) error {
	if r.col != nil {
		r.col.RenderStarted()
		defer r.col.RenderFinished()
	}
	tracker := r.newTracker()
	tree, err := r.renderPass(el, nil, true, tracker)
	if err != nil {
		if r.col != nil {
			r.col.IncrementRendersFailed()
		}
		return err
	}
	written := 0
	flush := func() error {
		out := readyPrefix(tree)
		if len(out) > written {
			if _, werr := io.WriteString(w, out[written:]); werr != nil {
				return werr
			}
			written = len(out)
		}
		return nil
	}
	if err := flush(); err != nil {
		if r.col != nil {
			r.col.IncrementRendersFailed()
		}
		return err
	}
	if err := r.resolveAll(ctx, tree, tracker, flush); err != nil {
		if r.col != nil {
			r.col.IncrementRendersFailed()
		}
		return err
	}
	if err := flush(); err != nil {
		if r.col != nil {
			r.col.IncrementRendersFailed()
		}
		return err
	}
	if r.col != nil {
		r.col.IncrementRendersCompleted()
	}
	return nil
}

type renderJob struct {
	tree *Tree
	id   NodeID
}

func pendingJobs(t *Tree) []renderJob {
	ids := t.Pending()
	jobs := make([]renderJob, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, renderJob{tree: t, id: id})
	}
	return jobs
}

// resolveAll drives resolution rounds until no Pending node remains. Each
// round waits for every outstanding deferred concurrently, then re-renders
// and grafts serially in creation order so tree mutations stay single
// threaded. Resumed renders may suspend again; their pendings feed the next
// round.
func (r *Renderer) resolveAll(ctx context.Context, root *Tree, tracker *budget.Tracker, onRound func() error) error {
	queue := pendingJobs(root)
	for len(queue) > 0 {
		for _, j := range queue {
			if j.tree.Unresolvable(j.id) {
				r.abortJobs(queue)
				return ErrAborted
			}
		}
		if r.col != nil {
			r.col.IncrementResolutionRounds()
			r.col.ObservePendingCount(int64(len(queue)))
		}

		g, gctx := errgroup.WithContext(ctx)
		if lim := r.config.ConcurrencyLimit; lim > 0 {
			g.SetLimit(lim)
		}
		for _, j := range queue {
			j := j
			g.Go(func() error {
				return awaitDeferred(gctx, j.tree.DeferredOf(j.id))
			})
		}
		if err := g.Wait(); err != nil {
			r.abortJobs(queue)
			return err
		}

		var next []renderJob
		for i, j := range queue {
			sub, err := r.resume(j.tree, j.id, tracker)
			if err != nil {
				r.abortJobs(queue[i+1:])
				r.abortJobs(next)
				return err
			}
			j.tree.Graft(j.id, sub)
			if r.col != nil {
				r.col.AddPendingResolved(1)
			}
			next = append(next, pendingJobs(sub)...)
		}
		queue = next
		if onRound != nil {
			if err := onRound(); err != nil {
				r.abortJobs(queue)
				return err
			}
		}
	}
	return nil
}

// abortJobs cancels deferreds whose results will never be used and clears
// their pending entries.
func (r *Renderer) abortJobs(jobs []renderJob) {
	for _, j := range jobs {
		abortDeferred(j.tree.DeferredOf(j.id))
		j.tree.removePending(j.id)
	}
}

// awaitDeferred blocks until d settles or ctx is done. Rejection surfaces as
// an error; the resolved value is discarded, resumed components re-read it
// from their own sources.
func awaitDeferred(ctx context.Context, d Deferred) error {
	done := make(chan error, 1)
	d.Subscribe(
		func(any) {
			select {
			case done <- nil:
			default:
			}
		},
		func(err error) {
			select {
			case done <- fmt.Errorf("asyncssr: async component failed: %w", err):
			default:
			}
		},
	)
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readyPrefix flattens the maximal leading run of the tree that no
// unresolved Pending node precedes.
func readyPrefix(t *Tree) string {
	var b strings.Builder
	prefixWalk(&b, t, t.Root())
	return b.String()
}

func prefixWalk(b *strings.Builder, t *Tree, id NodeID) bool {
	n := &t.nodes[id]
	switch n.kind {
	case NodeText:
		b.Write(n.text)
		return true
	case NodePending:
		if n.grafted == nil {
			return false
		}
		return prefixWalk(b, n.grafted, n.grafted.Root())
	default:
		for _, c := range n.children {
			if !prefixWalk(b, t, c) {
				return false
			}
		}
		return true
	}
}

// RenderToString renders el with a throwaway Renderer. For repeated renders
// construct one Renderer and reuse it.
func RenderToString(ctx context.Context, el any, opts ...Option) (string, error) {
	return New(opts...).RenderToString(ctx, el)
}

// Stats is a point-in-time copy of the renderer's counters.
type Stats struct {
	RendersStarted    int64
	RendersCompleted  int64
	RendersFailed     int64
	ActiveRenders     int64
	BoundariesEntered int64
	Suspensions       int64
	Aborts            int64
	ResolutionRounds  int64
	PendingResolved   int64
	MaxPendingSeen    int64
}

// Stats returns current counters. All zeros when metrics are disabled.
func (r *Renderer) Stats() Stats {
	if r.col == nil {
		return Stats{}
	}
	m := r.col.GetMetrics()
	return Stats{
		RendersStarted:    m.RendersStarted,
		RendersCompleted:  m.RendersCompleted,
		RendersFailed:     m.RendersFailed,
		ActiveRenders:     m.ActiveRenders,
		BoundariesEntered: m.BoundariesEntered,
		Suspensions:       m.Suspensions,
		Aborts:            m.Aborts,
		ResolutionRounds:  m.ResolutionRounds,
		PendingResolved:   m.PendingResolved,
		MaxPendingSeen:    m.MaxPendingSeen,
	}
}

// ResetStats zeroes the counters.
func (r *Renderer) ResetStats() {
	if r.col != nil {
		r.col.Reset()
	}
}
