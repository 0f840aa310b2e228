package ratelimit

import (
	"encoding/json"
	"net/http"
	"time"

	"ratelimit-gateway/internal/ratelimit/domain"
)

// denialBody is the JSON shape of a rate-limit denial response.
type denialBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RuleID     string `json:"ruleId"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetTime  int64  `json:"resetTime"`
	RetryAfter int    `json:"retryAfter"`
	Timestamp  int64  `json:"timestamp"`
}

// LimitReachedFunc produces the denial response for a blocked request. The
// default implementation writes denialBody as JSON with the rule's
// configured status code.
type LimitReachedFunc func(w http.ResponseWriter, r *http.Request, decision domain.Decision)

func defaultOnLimitReached(w http.ResponseWriter, _ *http.Request, decision domain.Decision) {
	body := denialBody{
		Error:      "Rate limit exceeded",
		Message:    decision.Rule.Message,
		RuleID:     decision.Rule.ID,
		Limit:      decision.Rule.MaxRequests,
		Remaining:  decision.RemainingRequests,
		ResetTime:  decision.ResetTime.Unix(),
		RetryAfter: retryAfterSeconds(decision),
		Timestamp:  time.Now().Unix(),
	}
	if body.Message == "" {
		body.Message = "Too many requests, please try again later."
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(decision.Rule.EffectiveStatusCode())

	// The status code is already written; a JSON encoding failure only
	// degrades the body.
	if err := json.NewEncoder(w).Encode(body); err != nil {
		_, _ = w.Write([]byte(`{"error":"Rate limit exceeded"}`))
	}
}
