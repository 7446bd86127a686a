package config

import (
	"github.com/spf13/viper"
)

// Default values referenced by SetDefaults and by callers that build a Config by hand
const (
	DefaultStorePath     = "strata.db"
	DefaultSchemaPath    = "strata.schema.yaml"
	DefaultWorkers       = 8
	DefaultMainQueueSize = 256
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Store defaults
	v.SetDefault("store.path", DefaultStorePath)
	v.SetDefault("store.schema", DefaultSchemaPath)
	v.SetDefault("store.options", map[string]string{})

	// Transaction scheduling defaults
	v.SetDefault("transactions.default_serial", false)
	v.SetDefault("transactions.workers", DefaultWorkers)

	// Main loop defaults
	v.SetDefault("main.queue_size", DefaultMainQueueSize)

	v.SetDefault("log.json", false)
}

// Default returns a Config populated with the defaults above.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Path:    DefaultStorePath,
			Schema:  DefaultSchemaPath,
			Options: map[string]string{},
		},
		Transactions: TransactionsConfig{
			Workers: DefaultWorkers,
		},
		Main: MainConfig{
			QueueSize: DefaultMainQueueSize,
		},
	}
}
