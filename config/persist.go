package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/strata/errors"
)

// Save writes cfg as TOML to path, creating parent directories.
// An existing file is kept as path.back so a bad edit can be recovered.
func Save(cfg *Config, path string) error {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "refusing to save invalid config")
	}

	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", path)
	}

	if content, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".back", content, DefaultFilePermissions); err != nil {
			return errors.Wrap(err, "failed to create backup")
		}
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
