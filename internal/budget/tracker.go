// Package budget guards individual renders against runaway recursion:
// a component that keeps suspending, or keeps emitting boundaries, grows its
// tree without bound. A Tracker counts the structural nodes and async
// regions one render creates and fails the render when a cap is crossed.
package budget

import (
	"fmt"
	"sync/atomic"
)

// Config defines the per-render caps. Zero disables a cap.
type Config struct {
	// MaxPending caps async regions created across the whole render,
	// resumed passes included.
	MaxPending int

	// MaxNodes caps structural tree nodes (boundaries and pending
	// regions) across the whole render.
	MaxNodes int

	// WarningThresholdPct marks Status as WARNING past this percentage
	// of either cap.
	WarningThresholdPct int
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxPending:          1024,
		MaxNodes:            1 << 20,
		WarningThresholdPct: 75,
	}
}

// Tracker counts one render's structural growth. One tracker spans the
// initial pass and every resumed pass of the same render, so resumed
// suspensions cannot escape the caps. Counters are atomic; resolution rounds
// re-render concurrently settled regions serially but a custom driver may
// not.
type Tracker struct {
	config   Config
	pendings int64
	nodes    int64
}

// NewTracker creates a tracker for one render.
func NewTracker(config Config) *Tracker {
	if config.WarningThresholdPct == 0 {
		config.WarningThresholdPct = DefaultConfig().WarningThresholdPct
	}
	return &Tracker{config: config}
}

// AddNode records one structural node, failing when the cap is crossed.
func (t *Tracker) AddNode() error {
	n := atomic.AddInt64(&t.nodes, 1)
	if max := int64(t.config.MaxNodes); max > 0 && n > max {
		return fmt.Errorf("tree nodes exceed limit: %d > %d", n, max)
	}
	return nil
}

// AddPending records one async region, failing when the cap is crossed.
func (t *Tracker) AddPending() error {
	n := atomic.AddInt64(&t.pendings, 1)
	if max := int64(t.config.MaxPending); max > 0 && n > max {
		return fmt.Errorf("async regions exceed limit: %d > %d", n, max)
	}
	return nil
}

// Nodes returns the structural nodes counted so far.
func (t *Tracker) Nodes() int64 { return atomic.LoadInt64(&t.nodes) }

// Pendings returns the async regions counted so far.
func (t *Tracker) Pendings() int64 { return atomic.LoadInt64(&t.pendings) }

// Status describes how close the render is to its caps.
type Status struct {
	Nodes          int64   `json:"nodes"`
	MaxNodes       int64   `json:"max_nodes"`
	Pendings       int64   `json:"pendings"`
	MaxPendings    int64   `json:"max_pendings"`
	NodesPct       float64 `json:"nodes_pct"`
	PendingsPct    float64 `json:"pendings_pct"`
	Level          string  `json:"level"` // "OK", "WARNING", "CRITICAL"
	WarningPctUsed int     `json:"warning_pct_used"`
}

// GetStatus reports current usage against the caps.
func (t *Tracker) GetStatus() Status {
	nodes := atomic.LoadInt64(&t.nodes)
	pendings := atomic.LoadInt64(&t.pendings)

	s := Status{
		Nodes:          nodes,
		MaxNodes:       int64(t.config.MaxNodes),
		Pendings:       pendings,
		MaxPendings:    int64(t.config.MaxPending),
		Level:          "OK",
		WarningPctUsed: t.config.WarningThresholdPct,
	}
	if s.MaxNodes > 0 {
		s.NodesPct = float64(nodes) / float64(s.MaxNodes) * 100
	}
	if s.MaxPendings > 0 {
		s.PendingsPct = float64(pendings) / float64(s.MaxPendings) * 100
	}

	warn := float64(t.config.WarningThresholdPct)
	switch {
	case (s.MaxNodes > 0 && nodes >= s.MaxNodes) || (s.MaxPendings > 0 && pendings >= s.MaxPendings):
		s.Level = "CRITICAL"
	case s.NodesPct >= warn || s.PendingsPct >= warn:
		s.Level = "WARNING"
	}
	return s
}

// Remaining returns how many more async regions the render may create, or a
// negative number when the cap is disabled.
func (t *Tracker) Remaining() int64 {
	max := int64(t.config.MaxPending)
	if max <= 0 {
		return -1
	}
	rem := max - atomic.LoadInt64(&t.pendings)
	if rem < 0 {
		return 0
	}
	return rem
}

// Reset zeroes the counters, for trackers reused across renders in tests.
func (t *Tracker) Reset() {
	atomic.StoreInt64(&t.nodes, 0)
	atomic.StoreInt64(&t.pendings, 0)
}
