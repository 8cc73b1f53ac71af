package filter

import (
	"strings"

	"github.com/changetrail/changetrail/internal/config"
)

// builtinSkipPrefixes are option-name prefixes that are suppressed regardless
// of user configuration. These keys change on nearly every request and would
// flood the log; the only way past this check is an explicit allowlist entry,
// which is evaluated first.
var builtinSkipPrefixes = []string{"cron", "doing_cron", "_transient", "_site_transient"}

// ShouldRecordHook lets integrators veto (or confirm) recording of a single
// option change. It receives the option name and the old/new values as the
// event source reported them (nil when absent). Returning false vetoes the
// record; the default is permissive.
type ShouldRecordHook interface {
	ShouldRecord(key string, oldValue, newValue *string) bool
}

// ShouldRecordFunc adapts a plain function to ShouldRecordHook.
type ShouldRecordFunc func(key string, oldValue, newValue *string) bool

// ShouldRecord implements ShouldRecordHook.
func (f ShouldRecordFunc) ShouldRecord(key string, oldValue, newValue *string) bool {
	return f(key, oldValue, newValue)
}

// ExclusionsHook lets integrators contribute additional exact-name exclusions
// programmatically, on top of the configured wildcard patterns.
type ExclusionsHook interface {
	AdditionalExclusions() []string
}

// ExclusionsFunc adapts a plain function to ExclusionsHook.
type ExclusionsFunc func() []string

// AdditionalExclusions implements ExclusionsHook.
func (f ExclusionsFunc) AdditionalExclusions() []string { return f() }

// OptionFilter decides whether a named option change is recorded. It is
// built once from configuration and is immutable afterwards; per-event
// matching only runs precompiled predicates.
type OptionFilter struct {
	allowlist     map[string]struct{}
	exclusions    []Pattern
	rolesKey      string
	logRoles      bool
	shouldRecord  ShouldRecordHook
	extraExcluded ExclusionsHook
}

// Option customizes an OptionFilter at construction time.
type Option func(*OptionFilter)

// WithShouldRecordHook installs an integrator override consulted for
// allowlisted names (veto only) and for names that survive every exclusion.
func WithShouldRecordHook(h ShouldRecordHook) Option {
	return func(f *OptionFilter) { f.shouldRecord = h }
}

// WithExclusionsHook installs an integrator-supplied exact-name exclusion set.
func WithExclusionsHook(h ExclusionsHook) Option {
	return func(f *OptionFilter) { f.extraExcluded = h }
}

// NewOptionFilter compiles the configured exclusion patterns and allowlist
// into an OptionFilter.
func NewOptionFilter(cfg *config.AuditConfig, opts ...Option) *OptionFilter {
	allow := make(map[string]struct{}, len(cfg.OptionAllowlist))
	for _, name := range cfg.OptionAllowlist {
		name = strings.TrimSpace(name)
		if name != "" {
			allow[name] = struct{}{}
		}
	}

	f := &OptionFilter{
		allowlist:  allow,
		exclusions: CompileAll(cfg.OptionExclusions),
		rolesKey:   cfg.RolesOptionKey,
		logRoles:   cfg.LogRoleDefinitions,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ShouldRecord reports whether a change to the named option should produce a
// log entry. Precedence, first applicable rule wins:
//
//  1. allowlisted names always record, unless the override hook vetoes;
//  2. the role-definitions option is suppressed while its toggle is off;
//  3. built-in noise prefixes are suppressed unconditionally;
//  4. configured exclusion patterns suppress;
//  5. the override hook and the additional-exclusions hook get the last word.
//
// The allowlist outranks everything below it so site-specific configuration
// always wins over both the shipped noise suppression and generic
// integrator code.
func (f *OptionFilter) ShouldRecord(key string, oldValue, newValue *string) bool {
	if _, ok := f.allowlist[key]; ok {
		if f.shouldRecord != nil && !f.shouldRecord.ShouldRecord(key, oldValue, newValue) {
			return false
		}
		return true
	}

	if key == f.rolesKey && !f.logRoles {
		return false
	}

	for _, prefix := range builtinSkipPrefixes {
		if strings.HasPrefix(key, prefix) {
			return false
		}
	}

	for _, p := range f.exclusions {
		if p.Matches(key) {
			return false
		}
	}

	if f.shouldRecord != nil && !f.shouldRecord.ShouldRecord(key, oldValue, newValue) {
		return false
	}
	if f.extraExcluded != nil {
		for _, name := range f.extraExcluded.AdditionalExclusions() {
			if name == key {
				return false
			}
		}
	}

	return true
}
