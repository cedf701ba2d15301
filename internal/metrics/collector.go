package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides simple built-in metrics collection with no external
// dependencies.
type Collector struct {
	renderMetrics     *RenderMetrics
	operationCounters map[string]*int64
	mu                sync.RWMutex
	startTime         time.Time
}

// RenderMetrics tracks renderer-level performance data.
type RenderMetrics struct {
	// Render lifecycle
	RendersStarted       int64 `json:"renders_started"`
	RendersCompleted     int64 `json:"renders_completed"`
	RendersFailed        int64 `json:"renders_failed"`
	ActiveRenders        int64 `json:"active_renders"`
	MaxConcurrentRenders int64 `json:"max_concurrent_renders"`

	// Async regions
	BoundariesEntered int64 `json:"boundaries_entered"`
	Suspensions       int64 `json:"suspensions"`
	Aborts            int64 `json:"aborts"`

	// Resolution
	ResolutionRounds int64 `json:"resolution_rounds"`
	PendingResolved  int64 `json:"pending_resolved"`
	MaxPendingSeen   int64 `json:"max_pending_seen"`

	// Uptime
	StartTime time.Time     `json:"start_time"`
	Uptime    time.Duration `json:"uptime"`
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		renderMetrics: &RenderMetrics{
			StartTime: time.Now(),
		},
		operationCounters: make(map[string]*int64),
		startTime:         time.Now(),
	}
}

// RenderStarted records a render beginning and tracks concurrency.
func (c *Collector) RenderStarted() {
	atomic.AddInt64(&c.renderMetrics.RendersStarted, 1)
	currentActive := atomic.AddInt64(&c.renderMetrics.ActiveRenders, 1)

	for {
		max := atomic.LoadInt64(&c.renderMetrics.MaxConcurrentRenders)
		if currentActive <= max {
			break
		}
		if atomic.CompareAndSwapInt64(&c.renderMetrics.MaxConcurrentRenders, max, currentActive) {
			break
		}
	}
}

// RenderFinished records a render leaving the active set, regardless of
// outcome.
func (c *Collector) RenderFinished() {
	atomic.AddInt64(&c.renderMetrics.ActiveRenders, -1)
}

// IncrementRendersCompleted records a successful render.
func (c *Collector) IncrementRendersCompleted() {
	atomic.AddInt64(&c.renderMetrics.RendersCompleted, 1)
}

// IncrementRendersFailed records a failed render.
func (c *Collector) IncrementRendersFailed() {
	atomic.AddInt64(&c.renderMetrics.RendersFailed, 1)
}

// IncrementBoundariesEntered records one Suspense boundary entered.
func (c *Collector) IncrementBoundariesEntered() {
	atomic.AddInt64(&c.renderMetrics.BoundariesEntered, 1)
}

// IncrementSuspensions records one component suspension.
func (c *Collector) IncrementSuspensions() {
	atomic.AddInt64(&c.renderMetrics.Suspensions, 1)
}

// IncrementAborts records one abandoned region.
func (c *Collector) IncrementAborts() {
	atomic.AddInt64(&c.renderMetrics.Aborts, 1)
}

// IncrementResolutionRounds records one driver resolution round.
func (c *Collector) IncrementResolutionRounds() {
	atomic.AddInt64(&c.renderMetrics.ResolutionRounds, 1)
}

// AddPendingResolved records n async regions resolved.
func (c *Collector) AddPendingResolved(n int64) {
	atomic.AddInt64(&c.renderMetrics.PendingResolved, n)
}

// ObservePendingCount updates the high-water mark of simultaneously
// outstanding async regions.
func (c *Collector) ObservePendingCount(n int64) {
	for {
		max := atomic.LoadInt64(&c.renderMetrics.MaxPendingSeen)
		if n <= max {
			break
		}
		if atomic.CompareAndSwapInt64(&c.renderMetrics.MaxPendingSeen, max, n) {
			break
		}
	}
}

// IncrementCustomCounter increments a custom named counter.
func (c *Collector) IncrementCustomCounter(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if counter, exists := c.operationCounters[name]; exists {
		atomic.AddInt64(counter, 1)
	} else {
		var newCounter int64 = 1
		c.operationCounters[name] = &newCounter
	}
}

// GetMetrics returns a copy of the current render metrics.
func (c *Collector) GetMetrics() RenderMetrics {
	return RenderMetrics{
		RendersStarted:       atomic.LoadInt64(&c.renderMetrics.RendersStarted),
		RendersCompleted:     atomic.LoadInt64(&c.renderMetrics.RendersCompleted),
		RendersFailed:        atomic.LoadInt64(&c.renderMetrics.RendersFailed),
		ActiveRenders:        atomic.LoadInt64(&c.renderMetrics.ActiveRenders),
		MaxConcurrentRenders: atomic.LoadInt64(&c.renderMetrics.MaxConcurrentRenders),
		BoundariesEntered:    atomic.LoadInt64(&c.renderMetrics.BoundariesEntered),
		Suspensions:          atomic.LoadInt64(&c.renderMetrics.Suspensions),
		Aborts:               atomic.LoadInt64(&c.renderMetrics.Aborts),
		ResolutionRounds:     atomic.LoadInt64(&c.renderMetrics.ResolutionRounds),
		PendingResolved:      atomic.LoadInt64(&c.renderMetrics.PendingResolved),
		MaxPendingSeen:       atomic.LoadInt64(&c.renderMetrics.MaxPendingSeen),
		StartTime:            c.renderMetrics.StartTime,
		Uptime:               time.Since(c.startTime),
	}
}

// GetCustomCounters returns all custom counters.
func (c *Collector) GetCustomCounters() map[string]int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]int64)
	for name, counter := range c.operationCounters {
		result[name] = atomic.LoadInt64(counter)
	}
	return result
}

// Reset resets all metrics to zero.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	atomic.StoreInt64(&c.renderMetrics.RendersStarted, 0)
	atomic.StoreInt64(&c.renderMetrics.RendersCompleted, 0)
	atomic.StoreInt64(&c.renderMetrics.RendersFailed, 0)
	atomic.StoreInt64(&c.renderMetrics.ActiveRenders, 0)
	atomic.StoreInt64(&c.renderMetrics.MaxConcurrentRenders, 0)
	atomic.StoreInt64(&c.renderMetrics.BoundariesEntered, 0)
	atomic.StoreInt64(&c.renderMetrics.Suspensions, 0)
	atomic.StoreInt64(&c.renderMetrics.Aborts, 0)
	atomic.StoreInt64(&c.renderMetrics.ResolutionRounds, 0)
	atomic.StoreInt64(&c.renderMetrics.PendingResolved, 0)
	atomic.StoreInt64(&c.renderMetrics.MaxPendingSeen, 0)

	c.operationCounters = make(map[string]*int64)

	c.startTime = time.Now()
	c.renderMetrics.StartTime = time.Now()
}

// GetFailureRate returns the percentage of renders that failed.
func (c *Collector) GetFailureRate() float64 {
	completed := atomic.LoadInt64(&c.renderMetrics.RendersCompleted)
	failed := atomic.LoadInt64(&c.renderMetrics.RendersFailed)

	total := completed + failed
	if total == 0 {
		return 0.0
	}

	return float64(failed) / float64(total) * 100.0
}
