package filter

import "testing"

func TestCompile_WildcardSemantics(t *testing.T) {
	tests := []struct {
		pattern   string
		candidate string
		want      bool
	}{
		// Anchored literal match.
		{"rewrite_rules", "rewrite_rules", true},
		{"rewrite_rules", "my_rewrite_rules", false},
		{"rewrite_rules", "rewrite_rules_v2", false},

		// Leading-anchored prefix pattern: must match extensions of the
		// prefix but not names that merely contain it.
		{"_transient_*", "_transient_timeout_x", true},
		{"_transient_*", "_transient_", true},
		{"_transient_*", "my_transient_x", false},
		{"_transient_*", "transient", false},

		// Star anywhere.
		{"*_transient*", "wp_transient_foo", true},
		{"*_transient*", "_transient", true},
		{"*_transient*", "transient", false},

		// Star matches the empty string.
		{"a*b", "ab", true},
		{"a*b", "aXXb", true},
		{"a*b", "aXXbc", false},

		// Multiple stars.
		{"*_cache_*", "object_cache_state", true},
		{"*_cache_*", "cache", false},

		// Case-sensitive.
		{"Cron", "cron", false},

		// Only * is a metacharacter; dots are stripped by sanitization so a
		// pattern containing them cannot accidentally act as regex.
		{"a.c", "abc", false},
		{"a.c", "ac", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.candidate, func(t *testing.T) {
			if got := Compile(tt.pattern).Matches(tt.candidate); got != tt.want {
				t.Errorf("Compile(%q).Matches(%q) = %v, want %v", tt.pattern, tt.candidate, got, tt.want)
			}
		})
	}
}

func TestCompile_EmptyPatternNeverMatches(t *testing.T) {
	for _, p := range []string{"", "   ", "!!!", "()"} {
		c := Compile(p)
		if c.Matches("") || c.Matches("anything") {
			t.Errorf("Compile(%q) should never match", p)
		}
	}
}

func TestCompile_IsPure(t *testing.T) {
	a := Compile("*_session_*")
	b := Compile("*_session_*")
	for _, s := range []string{"user_session_token", "session", "_session_"} {
		if a.Matches(s) != b.Matches(s) {
			t.Errorf("equal patterns disagree on %q", s)
		}
	}
}

func TestCompileAll_SkipsEmptyEntries(t *testing.T) {
	compiled := CompileAll([]string{"cron", "", "  ", "*_tmp_*"})
	if len(compiled) != 2 {
		t.Fatalf("len = %d, want 2", len(compiled))
	}
	if !compiled[0].Matches("cron") || !compiled[1].Matches("a_tmp_b") {
		t.Error("surviving patterns lost their semantics")
	}
}

func TestCompile_DefaultPatternSetBehaviour(t *testing.T) {
	// Spot checks against the shipped default exclusions.
	tests := []struct {
		pattern   string
		candidate string
		want      bool
	}{
		{"*hit_count*", "post_hit_count_42", true},
		{"*hit_count*", "hit_counter", true},
		{"*_user_roles", "site_user_roles", true},
		{"*_user_roles", "user_roles", false},
		{"__*_asset_version", "__elementor_asset_version", true},
	}
	for _, tt := range tests {
		if got := Compile(tt.pattern).Matches(tt.candidate); got != tt.want {
			t.Errorf("Compile(%q).Matches(%q) = %v, want %v", tt.pattern, tt.candidate, got, tt.want)
		}
	}
}
