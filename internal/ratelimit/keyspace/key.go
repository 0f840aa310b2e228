// Package keyspace builds the persisted store key for a (rule, client) pair:
// rl:{rule_id}:{rule_hash}:{sanitized_identifier}.
//
// rule_hash folds (id, window, max_requests) into a short digest so that
// changing a rule's limits can never reuse counter state left over from a
// prior configuration.
package keyspace

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const allowedChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789._-"

// RuleHash computes the short deterministic digest used as the middle
// segment of a counter key. window is passed in nanoseconds to keep the hash
// stable across process restarts without depending on time.Duration's String
// formatting (which could theoretically change across Go versions).
func RuleHash(id string, windowNanos int64, maxRequests int) string {
	h := xxhash.New()
	_, _ = h.WriteString(id)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.FormatInt(windowNanos, 10))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(strconv.Itoa(maxRequests))
	return strconv.FormatUint(h.Sum64(), 36)
}

// Sanitize restricts identifier to the [A-Za-z0-9._-] character class,
// substituting any other byte with '_'. The extractor package already
// produces clean identifiers for the common case; this is a second,
// independent line of defense at the point the key is actually built.
func Sanitize(identifier string) string {
	var b strings.Builder
	b.Grow(len(identifier))
	for i := 0; i < len(identifier); i++ {
		c := identifier[i]
		if strings.IndexByte(allowedChars, c) >= 0 {
			b.WriteByte(c)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Build assembles the full store key for ruleID/ruleHash/identifier.
func Build(ruleID, ruleHash, identifier string) string {
	return "rl:" + ruleID + ":" + ruleHash + ":" + Sanitize(identifier)
}
