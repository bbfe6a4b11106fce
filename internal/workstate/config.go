package workstate

// Config controls persistence backend selection and hook behavior for a
// Store.
type Config struct {
	// Backend selects the persistence implementation: "json" (lock-guarded
	// JSON file, atomic rename) or "bbolt" (embedded relational store).
	Backend string `json:"backend,omitempty"`

	// HooksEnabledNil distinguishes "unset" (defaults to true) from an
	// explicit false, following the kernel config convention for
	// non-false-default booleans.
	HooksEnabledNil *bool `json:"hooks_enabled,omitempty"`

	// UseGitWorktree attaches a git worktree to each hook directory when true.
	UseGitWorktree bool `json:"use_git_worktree,omitempty"`

	IDPrefix string `json:"id_prefix,omitempty"`
}

// HooksEnabled returns the effective hooks-enabled flag, defaulting to true
// when unset.
func (c *Config) HooksEnabled() bool {
	if c.HooksEnabledNil == nil {
		return true
	}
	return *c.HooksEnabledNil
}

// DefaultConfig returns the default workstate configuration.
func DefaultConfig() Config {
	return Config{
		Backend:  "json",
		IDPrefix: "sq",
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Backend != "" {
		c.Backend = source.Backend
	}
	if source.HooksEnabledNil != nil {
		c.HooksEnabledNil = source.HooksEnabledNil
	}
	if source.UseGitWorktree {
		c.UseGitWorktree = source.UseGitWorktree
	}
	if source.IDPrefix != "" {
		c.IDPrefix = source.IDPrefix
	}
}
