package metrics

import (
	"sync"
	"testing"
)

func TestNewCollector(t *testing.T) {
	collector := NewCollector()

	if collector == nil {
		t.Fatal("NewCollector() returned nil")
	}
	if collector.renderMetrics == nil {
		t.Fatal("renderMetrics not initialized")
	}
	if collector.operationCounters == nil {
		t.Fatal("operationCounters not initialized")
	}

	m := collector.GetMetrics()
	if m.RendersStarted != 0 || m.ActiveRenders != 0 {
		t.Errorf("Expected zeroed counters, got started=%d active=%d", m.RendersStarted, m.ActiveRenders)
	}
	if m.StartTime.IsZero() {
		t.Error("StartTime not set")
	}
}

func TestRenderLifecycleMetrics(t *testing.T) {
	collector := NewCollector()

	collector.RenderStarted()
	collector.RenderStarted()
	collector.RenderStarted()

	m := collector.GetMetrics()
	if m.RendersStarted != 3 {
		t.Errorf("Expected 3 renders started, got %d", m.RendersStarted)
	}
	if m.ActiveRenders != 3 {
		t.Errorf("Expected 3 active renders, got %d", m.ActiveRenders)
	}
	if m.MaxConcurrentRenders != 3 {
		t.Errorf("Expected max concurrent renders 3, got %d", m.MaxConcurrentRenders)
	}

	collector.RenderFinished()
	collector.IncrementRendersCompleted()

	m = collector.GetMetrics()
	if m.ActiveRenders != 2 {
		t.Errorf("Expected 2 active renders after one finished, got %d", m.ActiveRenders)
	}
	if m.RendersCompleted != 1 {
		t.Errorf("Expected 1 render completed, got %d", m.RendersCompleted)
	}
	// High-water mark keeps the peak.
	if m.MaxConcurrentRenders != 3 {
		t.Errorf("Expected max concurrent renders to remain 3, got %d", m.MaxConcurrentRenders)
	}
}

func TestRegionMetrics(t *testing.T) {
	collector := NewCollector()

	collector.IncrementBoundariesEntered()
	collector.IncrementBoundariesEntered()
	collector.IncrementSuspensions()
	collector.IncrementAborts()
	collector.IncrementResolutionRounds()
	collector.AddPendingResolved(3)

	m := collector.GetMetrics()
	if m.BoundariesEntered != 2 {
		t.Errorf("Expected 2 boundaries entered, got %d", m.BoundariesEntered)
	}
	if m.Suspensions != 1 {
		t.Errorf("Expected 1 suspension, got %d", m.Suspensions)
	}
	if m.Aborts != 1 {
		t.Errorf("Expected 1 abort, got %d", m.Aborts)
	}
	if m.ResolutionRounds != 1 {
		t.Errorf("Expected 1 resolution round, got %d", m.ResolutionRounds)
	}
	if m.PendingResolved != 3 {
		t.Errorf("Expected 3 pendings resolved, got %d", m.PendingResolved)
	}
}

func TestObservePendingCountKeepsHighWaterMark(t *testing.T) {
	collector := NewCollector()

	collector.ObservePendingCount(4)
	collector.ObservePendingCount(9)
	collector.ObservePendingCount(2)

	if m := collector.GetMetrics(); m.MaxPendingSeen != 9 {
		t.Errorf("Expected max pending seen 9, got %d", m.MaxPendingSeen)
	}
}

func TestCustomCounters(t *testing.T) {
	collector := NewCollector()

	collector.IncrementCustomCounter("live_sessions_created")
	collector.IncrementCustomCounter("live_sessions_created")
	collector.IncrementCustomCounter("live_regions_pushed")

	counters := collector.GetCustomCounters()
	if counters["live_sessions_created"] != 2 {
		t.Errorf("Expected counter 2, got %d", counters["live_sessions_created"])
	}
	if counters["live_regions_pushed"] != 1 {
		t.Errorf("Expected counter 1, got %d", counters["live_regions_pushed"])
	}
	if len(counters) != 2 {
		t.Errorf("Expected 2 counters, got %d", len(counters))
	}
}

func TestGetFailureRate(t *testing.T) {
	collector := NewCollector()

	if rate := collector.GetFailureRate(); rate != 0.0 {
		t.Errorf("Expected 0%% failure rate with no renders, got %.1f%%", rate)
	}

	collector.IncrementRendersCompleted()
	collector.IncrementRendersCompleted()
	collector.IncrementRendersCompleted()
	collector.IncrementRendersFailed()

	if rate := collector.GetFailureRate(); rate != 25.0 {
		t.Errorf("Expected 25%% failure rate, got %.1f%%", rate)
	}
}

func TestReset(t *testing.T) {
	collector := NewCollector()

	collector.RenderStarted()
	collector.IncrementSuspensions()
	collector.ObservePendingCount(5)
	collector.IncrementCustomCounter("live_regions_pushed")

	collector.Reset()

	m := collector.GetMetrics()
	if m.RendersStarted != 0 || m.Suspensions != 0 || m.MaxPendingSeen != 0 || m.ActiveRenders != 0 {
		t.Errorf("Expected zeroed metrics after reset, got %+v", m)
	}
	if counters := collector.GetCustomCounters(); len(counters) != 0 {
		t.Errorf("Expected no custom counters after reset, got %v", counters)
	}
}

func TestUptimeAdvances(t *testing.T) {
	collector := NewCollector()
	if m := collector.GetMetrics(); m.Uptime < 0 {
		t.Errorf("Expected non-negative uptime, got %v", m.Uptime)
	}
}

func TestCollectorConcurrentAccess(t *testing.T) {
	collector := NewCollector()

	const workers = 10
	const opsPerWorker = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < opsPerWorker; i++ {
				collector.RenderStarted()
				collector.IncrementSuspensions()
				collector.AddPendingResolved(1)
				collector.IncrementCustomCounter("live_regions_pushed")
				collector.RenderFinished()
				collector.IncrementRendersCompleted()
			}
		}()
	}
	wg.Wait()

	m := collector.GetMetrics()
	total := int64(workers * opsPerWorker)
	if m.RendersStarted != total {
		t.Errorf("Expected %d renders started, got %d", total, m.RendersStarted)
	}
	if m.RendersCompleted != total {
		t.Errorf("Expected %d renders completed, got %d", total, m.RendersCompleted)
	}
	if m.ActiveRenders != 0 {
		t.Errorf("Expected 0 active renders after all finished, got %d", m.ActiveRenders)
	}
	if m.Suspensions != total || m.PendingResolved != total {
		t.Errorf("Expected %d suspensions/resolved, got %d/%d", total, m.Suspensions, m.PendingResolved)
	}
	if counters := collector.GetCustomCounters(); counters["live_regions_pushed"] != total {
		t.Errorf("Expected custom counter %d, got %d", total, counters["live_regions_pushed"])
	}
	if m.MaxConcurrentRenders < 1 || m.MaxConcurrentRenders > int64(workers) {
		t.Errorf("MaxConcurrentRenders = %d, want between 1 and %d", m.MaxConcurrentRenders, workers)
	}
}
