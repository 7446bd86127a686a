package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/strata/errors"
)

// ProjectConfigName is the file searched for from the working directory upward
const ProjectConfigName = "strata.toml"

// EnvPrefix prefixes environment overrides: STRATA_STORE_PATH sets store.path
const EnvPrefix = "STRATA"

var (
	mu     sync.Mutex
	cached *Config
	shared *viper.Viper
)

// Load returns the merged configuration, reading it on first use.
// Precedence, lowest first: defaults, /etc/strata/config.toml,
// ~/.strata/config.toml, the nearest strata.toml, STRATA_* env vars.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if cached != nil {
		return cached, nil
	}
	cfg, err := decode(viperLocked())
	if err != nil {
		return nil, err
	}
	cached = cfg
	return cached, nil
}

// GetViper exposes the merged settings behind Load.
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return viperLocked()
}

// LoadFromFile reads exactly one file over the defaults, ignoring env vars
// and the search path. The watcher and the CLI --config flag use it.
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}
	cfg, err := decode(v)
	return cfg, errors.Wrapf(err, "config file %s", configPath)
}

// Reset drops the cached configuration so the next Load reads again.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
	shared = nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &cfg, nil
}

func viperLocked() *viper.Viper {
	if shared != nil {
		return shared
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	for _, path := range ConfigPaths() {
		file := viper.New()
		file.SetConfigFile(path)
		file.SetConfigType("toml")
		if err := file.ReadInConfig(); err != nil {
			continue
		}
		// MergeConfigMap keeps env vars above file values; v.Set would not
		if err := v.MergeConfigMap(file.AllSettings()); err != nil {
			continue
		}
	}

	shared = v
	return v
}

// ConfigPaths returns the candidate config files in merge order. Missing
// files are skipped when merging.
func ConfigPaths() []string {
	paths := []string{"/etc/strata/config.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".strata", "config.toml"))
	}
	if project := findProjectConfig(); project != "" {
		paths = append(paths, project)
	}
	return paths
}

// findProjectConfig walks up from the working directory looking for strata.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ProjectConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
