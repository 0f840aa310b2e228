package ratelimit

import (
	"net/http"

	"ratelimit-gateway/internal/ratelimit/domain"
)

// setDecisionHeaders sets the legacy and/or standard advisory headers plus
// the graduated warning header for the winning decision.
func setDecisionHeaders(w http.ResponseWriter, decision domain.Decision, legacy, standard bool) {
	limit := decision.Rule.MaxRequests
	remaining := decision.RemainingRequests
	resetUnix := decision.ResetTime.Unix()
	windowSeconds := int(decision.Rule.Window.Seconds())

	if legacy {
		w.Header().Set("X-RateLimit-Limit", formatInt(limit))
		w.Header().Set("X-RateLimit-Remaining", formatInt(remaining))
		w.Header().Set("X-RateLimit-Reset", formatInt(int(resetUnix)))
		if !decision.Allowed {
			w.Header().Set("X-RateLimit-RetryAfter", formatInt(retryAfterSeconds(decision)))
		}
	}

	if standard {
		w.Header().Set("RateLimit-Limit", formatInt(limit))
		w.Header().Set("RateLimit-Remaining", formatInt(remaining))
		w.Header().Set("RateLimit-Reset", formatInt(int(resetUnix)))
		w.Header().Set("RateLimit-Policy", ratelimitPolicyHeader(limit, windowSeconds))
		if !decision.Allowed {
			w.Header().Set("Retry-After", formatInt(retryAfterSeconds(decision)))
		}
	}

	if limit > 0 {
		ratio := float64(remaining) / float64(limit)
		switch {
		case remaining == 0:
			w.Header().Set("X-RateLimit-Warning", "Rate limit nearly exceeded")
		case ratio <= 0.20:
			w.Header().Set("X-RateLimit-Warning", "Approaching rate limit")
		}
	}
}

// setDefensiveHeaders sets the hardening headers applied once per response
// regardless of the rate-limit outcome.
func setDefensiveHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-XSS-Protection", "1; mode=block")
	h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
}

func retryAfterSeconds(decision domain.Decision) int {
	seconds := int(decision.RetryAfter.Seconds())
	if decision.RetryAfter%1_000_000_000 != 0 {
		seconds++ // round up to the ceiling second
	}
	if seconds < 0 {
		seconds = 0
	}
	return seconds
}

func ratelimitPolicyHeader(limit, windowSeconds int) string {
	return "\"" + formatInt(limit) + "\";w=" + formatInt(windowSeconds)
}
