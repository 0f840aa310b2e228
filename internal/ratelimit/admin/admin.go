// Package admin implements the administrative HTTP surface: a stats
// endpoint reporting process and queue health, and a reset endpoint that
// clears a client's counters.
//
// Handler is a struct holding its dependencies with methods registered
// directly as http.HandlerFunc, no router-specific glue required.
package admin

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ratelimit-gateway/internal/ratelimit/domain"
	"ratelimit-gateway/internal/ratelimit/infra/memstore"
	"ratelimit-gateway/internal/ratelimit/infra/queue"
	"ratelimit-gateway/internal/ratelimit/infra/throttle"
	"ratelimit-gateway/internal/ratelimit/keyspace"
)

// Handler serves the administrative endpoints.
type Handler struct {
	Cache      domain.Cache
	Fallback   *memstore.Store
	Rules      []domain.Rule
	Started    time.Time
	Operations *queue.Operations
	Periodic   *queue.Periodic
	Throttle   *throttle.Throttle
	Logger     *zap.Logger
}

// New creates an admin Handler. thr may be nil when local throttling is
// disabled.
func New(cache domain.Cache, fallback *memstore.Store, rules []domain.Rule, ops *queue.Operations, periodic *queue.Periodic, thr *throttle.Throttle, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Cache:      cache,
		Fallback:   fallback,
		Rules:      rules,
		Started:    time.Now(),
		Operations: ops,
		Periodic:   periodic,
		Throttle:   thr,
		Logger:     logger,
	}
}

type statsResponse struct {
	UptimeSeconds  int64                    `json:"uptimeSeconds"`
	LocalCacheSize int                      `json:"localCacheSize"`
	ActiveKeyCount int                      `json:"activeKeyCount"`
	Rules          []string                 `json:"rules"`
	QueueDepths    map[string]queueStatsDTO `json:"queues"`
}

type queueStatsDTO struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Stats reports process uptime, local cache size, and queue depths.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{
		UptimeSeconds:  int64(time.Since(h.Started).Seconds()),
		LocalCacheSize: h.Fallback.Len(),
		ActiveKeyCount: h.Fallback.Len(),
		QueueDepths:    make(map[string]queueStatsDTO),
	}
	for _, rule := range h.Rules {
		resp.Rules = append(resp.Rules, rule.ID)
	}

	if h.Operations != nil {
		if depth, err := h.Operations.Depth(r.Context()); err == nil {
			resp.QueueDepths["operations"] = queueStatsDTO{
				Waiting: depth.Waiting, Active: depth.Active,
				Completed: depth.Completed, Failed: depth.Failed,
			}
		}
	}
	if h.Periodic != nil {
		depth := h.Periodic.Depth()
		resp.QueueDepths["periodic-cleanup"] = queueStatsDTO{
			Completed: depth.Completed, Failed: depth.Failed,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type resetRequest struct {
	Identifier string `json:"identifier"`
	RuleID     string `json:"ruleId"`
}

type resetResponse struct {
	Reset []string `json:"reset"`
}

// Reset clears the given identifier's counter for ruleId, or for every
// configured rule when ruleId is omitted.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Identifier == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "identifier is required"})
		return
	}

	targets := h.Rules
	if req.RuleID != "" {
		targets = nil
		for _, rule := range h.Rules {
			if rule.ID == req.RuleID {
				targets = append(targets, rule)
			}
		}
		if len(targets) == 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unknown ruleId"})
			return
		}
	}

	var resetIDs []string
	for _, rule := range targets {
		ruleHash := keyspace.RuleHash(rule.ID, rule.Window.Nanoseconds(), rule.MaxRequests)
		key := keyspace.Build(rule.ID, ruleHash, req.Identifier)
		if err := h.Cache.Reset(r.Context(), key); err != nil {
			h.Logger.Error("reset failed", zap.String("rule", rule.ID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "store failure during reset"})
			return
		}
		resetIDs = append(resetIDs, rule.ID)
	}

	if h.Throttle != nil {
		h.Throttle.Forget(req.Identifier)
	}

	writeJSON(w, http.StatusOK, resetResponse{Reset: resetIDs})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
