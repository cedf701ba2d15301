// Package live delivers async renders progressively: the page ships
// immediately with fallbacks in place of unsettled regions, and a websocket
// streams each region's real markup as its deferred work completes.
//
// Only boundaries of the initial render pass become streamed regions.
// Content that suspends outside any boundary, or inside an already streamed
// region, is resolved fully before it is sent.
package live

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/html"

	asyncssr "github.com/revskill10/react-async-ssr"
	"github.com/revskill10/react-async-ssr/internal/metrics"
)

// Config holds broker settings.
type Config struct {
	// SessionTTL expires delivery sessions whose socket never attached.
	SessionTTL time.Duration

	// CleanupInterval is how often expired sessions are swept.
	CleanupInterval time.Duration

	// WriteTimeout bounds each websocket write.
	WriteTimeout time.Duration

	// WSPath is the websocket endpoint the injected client script dials.
	WSPath string

	// ResolveTimeout bounds how long one region may stay unsettled.
	ResolveTimeout time.Duration

	// Logger receives delivery errors. Defaults to stderr.
	Logger *log.Logger

	// Metrics, when set, receives live delivery counters.
	Metrics *metrics.Collector
}

// DefaultConfig returns production defaults.
func DefaultConfig() *Config {
	return &Config{
		SessionTTL:      5 * time.Minute,
		CleanupInterval: time.Minute,
		WriteTimeout:    10 * time.Second,
		WSPath:          "/assr/ws",
		ResolveTimeout:  30 * time.Second,
	}
}

// Broker renders pages fallback-first and streams region updates to the
// client.
type Broker struct {
	renderer  *asyncssr.Renderer
	fallbacks *asyncssr.Renderer
	config    *Config
	sessions  *registry
	upgrader  websocket.Upgrader
	logger    *log.Logger
	done      chan struct{}
	closeOnce sync.Once
}

// NewBroker wraps renderer for progressive delivery. Fallback markup is
// rendered statically, it never hydrates.
func NewBroker(renderer *asyncssr.Renderer, config *Config) *Broker {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "live: ", log.LstdFlags)
	}
	b := &Broker{
		renderer:  renderer,
		fallbacks: asyncssr.New(asyncssr.WithStaticMarkup(), asyncssr.WithMetrics(false)),
		config:    config,
		sessions:  newRegistry(config.SessionTTL),
		upgrader:  websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 4096},
		logger:    logger,
		done:      make(chan struct{}),
	}
	go b.janitor()
	return b
}

// Close stops the broker's background cleanup.
func (b *Broker) Close() {
	b.closeOnce.Do(func() { close(b.done) })
}

func (b *Broker) janitor() {
	interval := b.config.CleanupInterval
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.done:
			return
		case <-ticker.C:
			if n := b.sessions.cleanupExpired(); n > 0 && b.config.Metrics != nil {
				for i := 0; i < n; i++ {
					b.config.Metrics.IncrementCustomCounter("live_sessions_expired")
				}
			}
		}
	}
}

// PageHandler serves a full HTML document for the element build returns.
// Regions still waiting on async work render their fallback wrapped in a
// marker element; a script dials the websocket and swaps them as updates
// arrive.
func (b *Broker) PageHandler(title string, build func(*http.Request) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		el, err := build(req)
		if err != nil {
			b.logger.Printf("page build failed: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		tree, err := b.renderer.RenderTree(el)
		if err != nil {
			b.logger.Printf("render failed: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		// Anything pending outside a boundary has no fallback to show;
		// the shell waits for it.
		if err := b.resolveBare(req.Context(), tree); err != nil {
			b.logger.Printf("render failed: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		regions := b.pendingBoundaries(tree)
		sess, err := b.sessions.create(len(regions))
		if err != nil {
			b.logger.Printf("session create failed: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if b.config.Metrics != nil {
			b.config.Metrics.IncrementCustomCounter("live_sessions_created")
		}

		var graftMu sync.Mutex
		shell, err := b.writeShell(req.Context(), tree, regions)
		if err != nil {
			b.logger.Printf("shell render failed: %v", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		for _, boundary := range regions {
			go b.resolveRegion(sess, tree, boundary, &graftMu)
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, pageTemplate,
			html.EscapeString(title), shell, b.config.WSPath, sess.ID)
	})
}

const pageTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body>
<div id="assr-root">%s</div>
<script>
(function(){
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "%s?s=%s");
  ws.onmessage = function(ev){
    var m = JSON.parse(ev.data);
    if (m.done) {
      document.documentElement.setAttribute("data-assr-done", "");
      ws.close();
      return;
    }
    var el = document.querySelector('[data-assr="' + m.id + '"]');
    if (el) { el.innerHTML = m.html; }
  };
})();
</script>
</body>
</html>
`

// WSHandler streams region updates for a session. Buffered updates are
// replayed first, so attaching late loses nothing.
func (b *Broker) WSHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		sess, ok := b.sessions.get(req.URL.Query().Get("s"))
		if !ok {
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}
		conn, err := b.upgrader.Upgrade(w, req, nil)
		if err != nil {
			b.logger.Printf("websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		replay, updates := sess.attach()
		for _, r := range replay {
			if err := b.writeRegion(conn, r); err != nil {
				return
			}
		}
		if updates == nil {
			b.sessions.delete(sess.ID)
			return
		}
		for r := range updates {
			if err := b.writeRegion(conn, r); err != nil {
				return
			}
		}
		b.sessions.delete(sess.ID)
	})
}

func (b *Broker) writeRegion(conn *websocket.Conn, r Region) error {
	if b.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(b.config.WriteTimeout))
	}
	if err := conn.WriteJSON(r); err != nil {
		b.logger.Printf("websocket write failed: %v", err)
		return err
	}
	if b.config.Metrics != nil && !r.Done {
		b.config.Metrics.IncrementCustomCounter("live_regions_pushed")
	}
	return nil
}

// pendingBoundaries returns the boundaries of t that still contain
// unresolved pending nodes, outermost first. Nested pending boundaries
// resolve within their ancestor's region.
func (b *Broker) pendingBoundaries(t *asyncssr.Tree) []asyncssr.NodeID {
	seen := make(map[asyncssr.NodeID]bool)
	var out []asyncssr.NodeID
	for _, pid := range t.Pending() {
		boundary, ok := enclosingBoundary(t, pid)
		if !ok {
			continue
		}
		if outer, ok := enclosingBoundary(t, boundary); ok {
			// Attribute nested boundaries to their outermost
			// pending ancestor.
			for {
				next, more := enclosingBoundary(t, outer)
				if !more {
					break
				}
				outer = next
			}
			boundary = outer
		}
		if !seen[boundary] {
			seen[boundary] = true
			out = append(out, boundary)
		}
	}
	return out
}

func enclosingBoundary(t *asyncssr.Tree, id asyncssr.NodeID) (asyncssr.NodeID, bool) {
	cur := id
	for {
		parent, ok := t.Parent(cur)
		if !ok {
			return 0, false
		}
		if t.Kind(parent) == asyncssr.NodeBoundary {
			return parent, true
		}
		cur = parent
	}
}

// resolveBare fully resolves pending nodes that sit outside every boundary.
func (b *Broker) resolveBare(ctx context.Context, t *asyncssr.Tree) error {
	for {
		progressed := false
		for _, pid := range t.Pending() {
			if _, ok := enclosingBoundary(t, pid); ok {
				continue
			}
			sub, err := b.resolveSubtree(ctx, t, pid)
			if err != nil {
				return err
			}
			t.Graft(pid, sub)
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

// resolveSubtree waits for one pending node, resumes it and fully resolves
// everything the resumed render suspends on.
func (b *Broker) resolveSubtree(ctx context.Context, t *asyncssr.Tree, id asyncssr.NodeID) (*asyncssr.Tree, error) {
	if err := awaitSettle(ctx, t.DeferredOf(id)); err != nil {
		return nil, err
	}
	sub, err := b.renderer.Resume(t, id)
	if err != nil {
		return nil, err
	}
	for _, pid := range sub.Pending() {
		nested, err := b.resolveSubtree(ctx, sub, pid)
		if err != nil {
			return nil, err
		}
		sub.Graft(pid, nested)
	}
	return sub, nil
}

// resolveRegion settles everything under one boundary, then pushes the
// region's final markup to the session. On failure the fallback is pushed
// again so the client keeps something coherent.
func (b *Broker) resolveRegion(sess *Session, t *asyncssr.Tree, boundary asyncssr.NodeID, graftMu *sync.Mutex) {
	ctx := context.Background()
	if b.config.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.config.ResolveTimeout)
		defer cancel()
	}
	regionID := fmt.Sprintf("b%d", boundary)

	err := func() error {
		for {
			var mine []asyncssr.NodeID
			for _, pid := range t.Pending() {
				if within(t, pid, boundary) {
					mine = append(mine, pid)
				}
			}
			if len(mine) == 0 {
				return nil
			}
			for _, pid := range mine {
				sub, rerr := b.resolveSubtree(ctx, t, pid)
				if rerr != nil {
					return rerr
				}
				graftMu.Lock()
				t.Graft(pid, sub)
				graftMu.Unlock()
			}
		}
	}()
	if err != nil {
		b.logger.Printf("region %s failed: %v", regionID, err)
		fb, fberr := b.fallbackHTML(context.Background(), t, boundary)
		if fberr != nil {
			fb = ""
		}
		sess.push(Region{ID: regionID, HTML: fb})
		return
	}

	graftMu.Lock()
	markup := t.NodeHTML(boundary)
	graftMu.Unlock()
	sess.push(Region{ID: regionID, HTML: markup})
}

func within(t *asyncssr.Tree, id, ancestor asyncssr.NodeID) bool {
	cur := id
	for {
		parent, ok := t.Parent(cur)
		if !ok {
			return false
		}
		if parent == ancestor {
			return true
		}
		cur = parent
	}
}

// writeShell flattens the tree with pending boundaries replaced by their
// wrapped fallbacks.
func (b *Broker) writeShell(ctx context.Context, t *asyncssr.Tree, regions []asyncssr.NodeID) (string, error) {
	pending := make(map[asyncssr.NodeID]bool, len(regions))
	for _, id := range regions {
		pending[id] = true
	}
	var write func(id asyncssr.NodeID) (string, error)
	write = func(id asyncssr.NodeID) (string, error) {
		switch t.Kind(id) {
		case asyncssr.NodeText:
			return t.Text(id), nil
		case asyncssr.NodeBoundary:
			if pending[id] {
				fb, err := b.fallbackHTML(ctx, t, id)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf(`<div data-assr="b%d">%s</div>`, id, fb), nil
			}
		case asyncssr.NodePending:
			if sub := t.Grafted(id); sub != nil {
				return sub.HTML(), nil
			}
			return "", nil
		}
		var out string
		for _, c := range t.Children(id) {
			s, err := write(c)
			if err != nil {
				return "", err
			}
			out += s
		}
		return out, nil
	}
	return write(t.Root())
}

func (b *Broker) fallbackHTML(ctx context.Context, t *asyncssr.Tree, boundary asyncssr.NodeID) (string, error) {
	fb := t.Fallback(boundary)
	if fb == nil {
		return "", nil
	}
	return b.fallbacks.RenderToString(ctx, fb)
}

// awaitSettle blocks until d settles or ctx is done. The settled value is
// discarded; resumed components re-read it themselves.
func awaitSettle(ctx context.Context, d asyncssr.Deferred) error {
	ch := make(chan error, 1)
	d.Subscribe(
		func(any) {
			select {
			case ch <- nil:
			default:
			}
		},
		func(err error) {
			select {
			case ch <- err:
			default:
			}
		},
	)
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
