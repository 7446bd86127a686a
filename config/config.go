// Package config loads strata configuration from TOML files and STRATA_*
// environment variables.
package config

// Config represents the core strata configuration
type Config struct {
	Store        StoreConfig        `mapstructure:"store" toml:"store"`
	Transactions TransactionsConfig `mapstructure:"transactions" toml:"transactions"`
	Main         MainConfig         `mapstructure:"main" toml:"main"`
	Log          LogConfig          `mapstructure:"log" toml:"log"`
}

// StoreConfig locates the durable store and the model it was written with.
// Options are passed to SQLite as PRAGMA statements (e.g. journal_mode = "MEMORY").
type StoreConfig struct {
	Path    string            `mapstructure:"path" toml:"path"`
	Schema  string            `mapstructure:"schema" toml:"schema"`
	Options map[string]string `mapstructure:"options" toml:"options"`
}

// TransactionsConfig configures transaction scheduling
type TransactionsConfig struct {
	DefaultSerial bool `mapstructure:"default_serial" toml:"default_serial"` // serial unless a call says otherwise
	Workers       int  `mapstructure:"workers" toml:"workers"`               // parallel pool size, 0 = goroutine per transaction
}

// MainConfig configures the main loop
type MainConfig struct {
	QueueSize int `mapstructure:"queue_size" toml:"queue_size"` // buffered closures before OnMain blocks
}

// LogConfig configures logging output
type LogConfig struct {
	JSON bool `mapstructure:"json" toml:"json"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
