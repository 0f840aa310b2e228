package stats

import (
	"context"
	"testing"

	"ratelimit-gateway/internal/ratelimit/domain"
)

func TestMemoryStatsStore_TracksTotalsAndRoutes(t *testing.T) {
	s := NewMemoryStatsStore()
	ctx := context.Background()

	_ = s.Record(ctx, domain.DecisionEvent{RuleID: "api", Allowed: true, Method: "GET", Path: "/api/data"})
	_ = s.Record(ctx, domain.DecisionEvent{RuleID: "api", Allowed: false, Method: "GET", Path: "/api/data"})
	_ = s.Record(ctx, domain.DecisionEvent{RuleID: "auth", Allowed: false, Method: "POST", Path: "/auth/login"})

	total := s.Total()
	if total.Allowed != 1 || total.Denied != 2 {
		t.Fatalf("expected 1 allowed / 2 denied, got %+v", total)
	}

	routes := s.ByRoute()
	if routes["GET /api/data"].Allowed != 1 || routes["GET /api/data"].Denied != 1 {
		t.Fatalf("unexpected route counters: %+v", routes["GET /api/data"])
	}
	if routes["POST /auth/login"].Denied != 1 {
		t.Fatalf("unexpected route counters: %+v", routes["POST /auth/login"])
	}
}

func TestMemoryStatsStore_TracksKeysOnlyWhenEnabled(t *testing.T) {
	s := NewMemoryStatsStore()
	ctx := context.Background()
	_ = s.Record(ctx, domain.DecisionEvent{Key: "client-a", Allowed: true})

	if len(s.ByKey()) != 0 {
		t.Fatalf("expected key tracking disabled by default")
	}

	tracked := NewMemoryStatsStore(WithTrackKeys(true))
	_ = tracked.Record(ctx, domain.DecisionEvent{Key: "client-a", Allowed: true})
	if tracked.ByKey()["client-a"].Allowed != 1 {
		t.Fatalf("expected client-a tracked, got %+v", tracked.ByKey())
	}
}

func TestMemoryStatsStore_RecordQueueDepthKeepsLatestSnapshot(t *testing.T) {
	s := NewMemoryStatsStore()
	ctx := context.Background()

	_ = s.RecordQueueDepth(ctx, domain.QueueDepth{Name: "operations", Waiting: 3, Active: 1})
	_ = s.RecordQueueDepth(ctx, domain.QueueDepth{Name: "operations", Waiting: 5, Active: 2})

	queues := s.Queues()
	if queues["operations"].Waiting != 5 || queues["operations"].Active != 2 {
		t.Fatalf("expected latest snapshot to win, got %+v", queues["operations"])
	}
}
