package api

// Config is the root of an arbor configuration file.
type Config struct {
	// Store selects where revisions are kept.
	Store Store `hcl:"store,block"`
	// Resource describes the resource served from the store.
	Resource *Resource `hcl:"resource,block"`
}

// Store selects a page store backend.
type Store struct {
	// Backend is "memory" or "sqlite".
	Backend string `hcl:"backend"`
	// Path of the SQLite database. Required for the sqlite backend.
	Path string `hcl:"path,optional"`
}

// Resource holds per-resource settings.
type Resource struct {
	Name string `hcl:"name"`
	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `hcl:"log_level,optional"`
	// Metrics enables Prometheus counters for snapshots and commits.
	Metrics bool `hcl:"metrics,optional"`
}
