package keyspace

import "testing"

func TestRuleHash_ChangesWhenMaxRequestsChanges(t *testing.T) {
	a := RuleHash("api", int64(60), 100)
	b := RuleHash("api", int64(60), 50)
	if a == b {
		t.Fatalf("expected different hashes for different max_requests")
	}
}

func TestRuleHash_SameInputsSameHash(t *testing.T) {
	a := RuleHash("api", int64(60), 100)
	b := RuleHash("api", int64(60), 100)
	if a != b {
		t.Fatalf("expected deterministic hash, got %q != %q", a, b)
	}
}

func TestRuleHash_DifferentIDsNeverCollideEvenWithSameLimits(t *testing.T) {
	a := RuleHash("api", int64(60), 100)
	b := RuleHash("auth", int64(60), 100)
	if a == b {
		t.Fatalf("expected distinct hashes for distinct rule ids")
	}
}

func TestSanitize_ReplacesDisallowedCharacters(t *testing.T) {
	got := Sanitize("1.2.3.4\r\n:8080")
	for _, c := range got {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '.' || c == '_' || c == '-') {
			t.Fatalf("sanitized identifier %q contains disallowed char %q", got, c)
		}
	}
}

func TestBuild_FormatsKeyWithAllThreeSegments(t *testing.T) {
	got := Build("api", "abc123", "1.2.3.4")
	want := "rl:api:abc123:1.2.3.4"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
