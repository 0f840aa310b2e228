package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ratelimit-gateway/internal/ratelimit/domain"
	"ratelimit-gateway/internal/ratelimit/infra/breaker"
	"ratelimit-gateway/internal/ratelimit/infra/cache"
	"ratelimit-gateway/internal/ratelimit/infra/memstore"
	"ratelimit-gateway/internal/ratelimit/infra/throttle"
	"ratelimit-gateway/internal/ratelimit/keyspace"
)

func newTestHandler() (*Handler, domain.Rule) {
	fallback := memstore.New(time.Minute)
	c := cache.New(breaker.New(), memstore.New(time.Minute), fallback, cache.WithFallbackEnabled(true))
	rule := domain.Rule{ID: "api", Window: time.Minute, MaxRequests: 1, Algorithm: domain.Fixed}
	th := throttle.New(time.Second, 1)
	return New(c, fallback, []domain.Rule{rule}, nil, nil, th, nil), rule
}

func TestStats_ReportsRuleIDsAndUptime(t *testing.T) {
	h, _ := newTestHandler()

	r := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	w := httptest.NewRecorder()
	h.Stats(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp statsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Rules) != 1 || resp.Rules[0] != "api" {
		t.Fatalf("expected rule ids [api], got %+v", resp.Rules)
	}
}

func TestReset_RejectsMissingIdentifier(t *testing.T) {
	h, _ := newTestHandler()

	r := httptest.NewRequest(http.MethodPost, "/admin/reset-rate-limit", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	h.Reset(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestReset_RejectsUnknownRuleID(t *testing.T) {
	h, _ := newTestHandler()

	body, _ := json.Marshal(resetRequest{Identifier: "10.0.0.1", RuleID: "nonexistent"})
	r := httptest.NewRequest(http.MethodPost, "/admin/reset-rate-limit", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Reset(w, r)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestReset_ClearsCounterAndAllowsAgain(t *testing.T) {
	h, rule := newTestHandler()
	ctx := context.Background()

	ruleHash := keyspace.RuleHash(rule.ID, rule.Window.Nanoseconds(), rule.MaxRequests)
	key := keyspace.Build(rule.ID, ruleHash, "10.0.0.1")

	if decision, err := h.Cache.Check(ctx, key, rule); err != nil || !decision.Allowed {
		t.Fatalf("expected first admission to succeed: decision=%+v err=%v", decision, err)
	}
	if decision, err := h.Cache.Check(ctx, key, rule); err != nil || decision.Allowed {
		t.Fatalf("expected second request to be denied before reset")
	}

	body, _ := json.Marshal(resetRequest{Identifier: "10.0.0.1"})
	r := httptest.NewRequest(http.MethodPost, "/admin/reset-rate-limit", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.Reset(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	decision, err := h.Cache.Check(ctx, key, rule)
	if err != nil || !decision.Allowed {
		t.Fatalf("expected admission after reset: allowed=%v err=%v", decision, err)
	}
}
