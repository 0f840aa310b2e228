package application

import (
	"testing"

	"ratelimit-gateway/internal/ratelimit/domain"
)

func TestCompose_FirstDenialInOrderWins(t *testing.T) {
	admitted := Result{Decision: domain.Decision{Allowed: true, Rule: domain.Rule{ID: "global", MaxRequests: 100}}}
	deniedFirst := Result{Decision: domain.Decision{Allowed: false, Rule: domain.Rule{ID: "burst", MaxRequests: 10}}}
	deniedSecond := Result{Decision: domain.Decision{Allowed: false, Rule: domain.Rule{ID: "endpoint", MaxRequests: 5}}}

	got := Compose([]Result{admitted, deniedFirst, deniedSecond})
	if got.Decision.Allowed || got.Decision.Rule.ID != "burst" {
		t.Fatalf("expected first configured denial (burst) to win, got %+v", got)
	}
}

func TestCompose_TightestBoundWinsAmongAdmissions(t *testing.T) {
	loose := Result{Decision: domain.Decision{Allowed: true, Rule: domain.Rule{ID: "global", MaxRequests: 1000}}}
	tight := Result{Decision: domain.Decision{Allowed: true, Rule: domain.Rule{ID: "endpoint", MaxRequests: 50}}}
	middling := Result{Decision: domain.Decision{Allowed: true, Rule: domain.Rule{ID: "auth", MaxRequests: 200}}}

	got := Compose([]Result{loose, middling, tight})
	if !got.Decision.Allowed || got.Decision.Rule.ID != "endpoint" {
		t.Fatalf("expected tightest bound (endpoint, max=50) to win, got %+v", got)
	}
}

func TestCompose_NoResultsYieldsZeroValue(t *testing.T) {
	got := Compose(nil)
	if !got.Inert() {
		t.Fatalf("expected inert zero-value result for empty input")
	}
}
