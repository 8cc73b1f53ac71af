package filter

import (
	"testing"

	"github.com/changetrail/changetrail/internal/config"
)

func auditCfg(mutate ...func(*config.AuditConfig)) *config.AuditConfig {
	cfg := &config.AuditConfig{
		RolesOptionKey:   "user_roles",
		OptionExclusions: config.DefaultOptionExclusions(),
	}
	for _, m := range mutate {
		m(cfg)
	}
	return cfg
}

func TestShouldRecord_PlainOptionRecords(t *testing.T) {
	f := NewOptionFilter(auditCfg())
	if !f.ShouldRecord("site_timezone", nil, nil) {
		t.Error("site_timezone should record")
	}
	if !f.ShouldRecord("blogname", nil, nil) {
		t.Error("blogname should record")
	}
}

func TestShouldRecord_BuiltinNoiseSuppressedUnconditionally(t *testing.T) {
	// Even with no configured exclusions at all, the built-in prefixes hold.
	f := NewOptionFilter(auditCfg(func(c *config.AuditConfig) {
		c.OptionExclusions = nil
	}))
	for _, key := range []string{"doing_cron", "cron", "_transient_timeout_x", "_site_transient_update_core"} {
		if f.ShouldRecord(key, nil, nil) {
			t.Errorf("%q should be suppressed by built-in skip set", key)
		}
	}
}

func TestShouldRecord_AllowlistBeatsExclusions(t *testing.T) {
	f := NewOptionFilter(auditCfg(func(c *config.AuditConfig) {
		c.OptionAllowlist = []string{"blogname"}
		c.OptionExclusions = append(c.OptionExclusions, "blog*")
	}))
	if !f.ShouldRecord("blogname", nil, nil) {
		t.Error("allowlisted blogname must record despite matching exclusion")
	}
	// Sibling name matching the same pattern is still excluded.
	if f.ShouldRecord("blogdescription", nil, nil) {
		t.Error("blogdescription should be excluded by blog*")
	}
}

func TestShouldRecord_AllowlistBeatsBuiltinSkipSet(t *testing.T) {
	f := NewOptionFilter(auditCfg(func(c *config.AuditConfig) {
		c.OptionAllowlist = []string{"doing_cron"}
	}))
	if !f.ShouldRecord("doing_cron", nil, nil) {
		t.Error("explicitly allowlisted doing_cron must record")
	}
}

func TestShouldRecord_AllowlistOverrideVetoWins(t *testing.T) {
	veto := ShouldRecordFunc(func(key string, _, _ *string) bool {
		return key != "blogname"
	})
	f := NewOptionFilter(auditCfg(func(c *config.AuditConfig) {
		c.OptionAllowlist = []string{"blogname"}
	}), WithShouldRecordHook(veto))

	if f.ShouldRecord("blogname", nil, nil) {
		t.Error("override veto must win even for allowlisted names")
	}
	if !f.ShouldRecord("site_timezone", nil, nil) {
		t.Error("non-vetoed option should record")
	}
}

func TestShouldRecord_RoleDefinitionsToggle(t *testing.T) {
	off := NewOptionFilter(auditCfg(func(c *config.AuditConfig) {
		c.OptionExclusions = nil // isolate the toggle from the default patterns
	}))
	if off.ShouldRecord("user_roles", nil, nil) {
		t.Error("role definitions suppressed while toggle is off")
	}

	on := NewOptionFilter(auditCfg(func(c *config.AuditConfig) {
		c.OptionExclusions = nil
		c.LogRoleDefinitions = true
	}))
	if !on.ShouldRecord("user_roles", nil, nil) {
		t.Error("role definitions should record when toggle is on")
	}
}

func TestShouldRecord_ConfiguredExclusionPatterns(t *testing.T) {
	f := NewOptionFilter(auditCfg())
	for _, key := range []string{
		"page_hit_count", "daily_visitor_count_cache",
		"woo_session_abc", "elementor_cache_state",
		"rewrite_rules", "plugin_doing_migration",
	} {
		if f.ShouldRecord(key, nil, nil) {
			t.Errorf("%q should match a default exclusion pattern", key)
		}
	}
}

func TestShouldRecord_ExtraExclusionsHook(t *testing.T) {
	f := NewOptionFilter(auditCfg(), WithExclusionsHook(ExclusionsFunc(func() []string {
		return []string{"my_plugin_state"}
	})))
	if f.ShouldRecord("my_plugin_state", nil, nil) {
		t.Error("hook-supplied exclusion should suppress")
	}
	if !f.ShouldRecord("my_plugin_settings", nil, nil) {
		t.Error("hook exclusions are exact-name, not patterns")
	}
}

func TestShouldRecord_UserPatternsCheckedBeforeHooks(t *testing.T) {
	hookCalls := 0
	f := NewOptionFilter(auditCfg(), WithShouldRecordHook(ShouldRecordFunc(func(string, *string, *string) bool {
		hookCalls++
		return true
	})))

	// Excluded by configured pattern: the hook must not even be consulted.
	f.ShouldRecord("rewrite_rules", nil, nil)
	if hookCalls != 0 {
		t.Errorf("hook consulted %d times for pattern-excluded option, want 0", hookCalls)
	}

	f.ShouldRecord("site_timezone", nil, nil)
	if hookCalls != 1 {
		t.Errorf("hook consulted %d times for surviving option, want 1", hookCalls)
	}
}
